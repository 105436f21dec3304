package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/substratai/substrat/internal/config"
	"github.com/substratai/substrat/internal/debugserver"
	"github.com/substratai/substrat/internal/event"
	"github.com/substratai/substrat/internal/logging"
	"github.com/substratai/substrat/internal/orchestrator"
	"github.com/substratai/substrat/internal/rpcserver"
)

var (
	serveRoot       string
	serveSocket     string
	serveDebugAddr  string
	serveMaxSlots   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the substrat daemon",
	Long: `Start substratd as a long-running daemon: loads configuration, wires
the orchestrator, runs crash recovery, and accepts RPC connections on a
Unix domain socket plus read-only HTTP diagnostics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveRoot, "root", "", "Daemon root directory (default: project config's root, or cwd)")
	serveCmd.Flags().StringVar(&serveSocket, "socket", "", "Unix socket path (default: <root>/daemon.sock)")
	serveCmd.Flags().StringVar(&serveDebugAddr, "debug-addr", "127.0.0.1:4747", "Address for the read-only HTTP diagnostics server")
	serveCmd.Flags().IntVar(&serveMaxSlots, "max-slots", 0, "Override the configured multiplexer slot count")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveRoot)
	if err != nil {
		return err
	}

	logging.Info().Str("version", Version).Msg("Starting substratd")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(paths.Config, workDir)
	if err != nil {
		return err
	}
	if serveMaxSlots > 0 {
		cfg.MaxSlots = serveMaxSlots
	}
	socketPath := serveSocket
	if socketPath == "" {
		if cfg.Socket != "" {
			socketPath = cfg.Socket
		} else {
			socketPath = filepath.Join(cfg.Root, "daemon.sock")
		}
	}

	if showConfig {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	agentsDir := filepath.Join(cfg.Root, "agents")
	providers := buildProviderRegistry(cfg)
	roles := buildRoleRegistry(cfg)
	bus := event.NewBus()

	orch, err := orchestrator.New(agentsDir, cfg.MaxSlots, providers, roles, bus)
	if err != nil {
		return fmt.Errorf("substratd: build orchestrator: %w", err)
	}

	if err := orch.Recover(); err != nil {
		logging.Error().Err(err).Msg("substratd: recovery failed")
		return err
	}
	logging.Info().Msg("substratd: recovery complete")

	if err := writePIDFile(cfg.Root); err != nil {
		logging.Warn().Err(err).Msg("substratd: failed to write daemon.pid")
	}
	defer removePIDFile(cfg.Root)

	rpcSrv := rpcserver.New(socketPath, orch)

	dbgSrv, err := debugserver.New(agentsDir, orch, bus)
	if err != nil {
		return fmt.Errorf("substratd: build debug server: %w", err)
	}
	defer dbgSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logging.Info().Str("socket", socketPath).Msg("substratd: RPC server listening")
		if err := rpcSrv.Serve(ctx); err != nil {
			logging.Error().Err(err).Msg("substratd: RPC server error")
		}
	}()

	go func() {
		logging.Info().Str("addr", serveDebugAddr).Msg("substratd: debug server listening")
		if err := dbgSrv.ListenAndServe(serveDebugAddr); err != nil && err != http.ErrServerClosed {
			logging.Error().Err(err).Msg("substratd: debug server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("substratd: shutting down")
	cancel()
	_ = rpcSrv.Close()
	_ = dbgSrv.Close()

	logging.Info().Msg("substratd: stopped")
	return nil
}

func writePIDFile(root string) error {
	return os.WriteFile(filepath.Join(root, "daemon.pid"), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func removePIDFile(root string) {
	_ = os.Remove(filepath.Join(root, "daemon.pid"))
}
