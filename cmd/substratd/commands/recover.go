package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/substratai/substrat/internal/config"
	"github.com/substratai/substrat/internal/event"
	"github.com/substratai/substrat/internal/logging"
	"github.com/substratai/substrat/internal/orchestrator"
)

var recoverRoot string

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run crash recovery and print a report, without serving",
	Long: `Loads configuration, runs the same seven-step crash-recovery
procedure serve would run on startup, and prints a summary of the
sessions it found instead of starting the RPC and debug servers.`,
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().StringVar(&recoverRoot, "root", "", "Daemon root directory (default: project config's root, or cwd)")
}

func runRecover(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(recoverRoot)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	cfg, err := config.Load(paths.Config, workDir)
	if err != nil {
		return err
	}

	agentsDir := filepath.Join(cfg.Root, "agents")
	providers := buildProviderRegistry(cfg)
	roles := buildRoleRegistry(cfg)

	orch, err := orchestrator.New(agentsDir, cfg.MaxSlots, providers, roles, event.NewBus())
	if err != nil {
		return fmt.Errorf("substratd: build orchestrator: %w", err)
	}

	if err := orch.Recover(); err != nil {
		return fmt.Errorf("substratd: recovery failed: %w", err)
	}

	sessions, err := orch.ListSessions()
	if err != nil {
		return err
	}

	logging.Info().Int("sessions", len(sessions)).Msg("substratd: recovery complete")
	fmt.Printf("recovered %d session(s)\n", len(sessions))
	for _, s := range sessions {
		fmt.Printf("  %s  state=%s  provider=%s  model=%s\n", s.ID, s.State, s.ProviderName, s.Model)
	}
	return nil
}
