package commands

import (
	"fmt"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/substratai/substrat/internal/config"
	"github.com/substratai/substrat/internal/event"
	"github.com/substratai/substrat/internal/logging"
	"github.com/substratai/substrat/internal/mcpserver"
	"github.com/substratai/substrat/internal/orchestrator"
	"github.com/substratai/substrat/pkg/types"
)

var (
	mcpServeRoot  string
	mcpServeAgent string
)

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve",
	Short: "Serve one agent's tool surface over MCP on stdio",
	Long: `Attaches to a daemon's agents directory, runs the same recovery
procedure serve does to rebuild the agent tree, then exposes the named
agent's send_message/broadcast/check_inbox/spawn_agent/inspect_agent tools
as an MCP server over stdio (spec §2, §4.8).

This is the external entry point an MCP-speaking provider subprocess
(for example, one launched by the cli provider) execs to reach the
daemon's tool surface without going through the RPC socket.`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().StringVar(&mcpServeRoot, "root", "", "Daemon root directory (default: project config's root, or cwd)")
	mcpServeCmd.Flags().StringVar(&mcpServeAgent, "agent", "", "ID of the agent whose tool surface to expose (required)")
	mcpServeCmd.MarkFlagRequired("agent")
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(mcpServeRoot)
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

	callerID := types.ID(mcpServeAgent)
	if _, err := orch.Tree().Get(callerID); err != nil {
		return fmt.Errorf("substratd: mcp-serve: %w", err)
	}

	logging.Info().Str("agent_id", mcpServeAgent).Msg("substratd: serving MCP tool surface on stdio")
	s := mcpserver.New(orch.Tools(), callerID)
	return server.ServeStdio(s)
}
