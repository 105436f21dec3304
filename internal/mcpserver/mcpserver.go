// Package mcpserver exposes the daemon's five inter-agent tools
// (send_message, broadcast, check_inbox, spawn_agent, inspect_agent —
// spec §4.8) as an MCP tool server, so any MCP-speaking provider or
// client can call them directly instead of going through the subprocess
// or HTTP wire contracts.
//
// Directly grounded on pkg/mcpserver/calculator/calculator.go: the same
// server.NewMCPServer/mcp.NewTool/s.AddTool construction, generalized
// from one stateless "sum" tool to five tools that close over a
// toolhandler.ToolHandler and a caller agent id.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/substratai/substrat/internal/toolhandler"
	"github.com/substratai/substrat/pkg/types"
)

// maxTools is the hard limit on tools this server will register (spec §9's
// open question on an MCP tool-server tool-count ceiling): this daemon
// exposes a fixed set of five, well under any client-side catalog limit,
// so the ceiling is enforced defensively rather than reached in practice.
const maxTools = 40

// New builds an MCP server exposing the five ToolHandler operations,
// acting on behalf of callerID (the agent the hosting provider session
// belongs to).
func New(handler *toolhandler.ToolHandler, callerID types.ID) *server.MCPServer {
	s := server.NewMCPServer(
		"substrat-agent-tools",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	registered := 0
	add := func(tool mcp.Tool, h server.ToolHandlerFunc) {
		if registered >= maxTools {
			return
		}
		s.AddTool(tool, h)
		registered++
	}

	add(mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to a named neighbor (parent, child, or sibling); returns immediately"),
		mcp.WithString("recipient", mcp.Required(), mcp.Description("Name of the recipient agent")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message body")),
		mcp.WithBoolean("wait_for_reply", mcp.Description("Mark the message as a synchronous request; the call still returns immediately and the recipient's reply arrives later in the caller's inbox")),
	), sendMessageHandler(handler, callerID))

	add(mcp.NewTool("broadcast",
		mcp.WithDescription("Send a message to every member of the caller's team (its siblings)"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message body")),
	), broadcastHandler(handler, callerID))

	add(mcp.NewTool("check_inbox",
		mcp.WithDescription("Drain and return every message currently waiting in the caller's inbox"),
	), checkInboxHandler(handler, callerID))

	add(mcp.NewTool("spawn_agent",
		mcp.WithDescription("Spawn a new child agent under the caller"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name for the new agent, unique among the caller's children")),
		mcp.WithString("instructions", mcp.Required(), mcp.Description("System instructions for the new agent")),
		mcp.WithString("role", mcp.Description("Role name gating the new agent's tool access (default: worker)")),
	), spawnAgentHandler(handler, callerID))

	add(mcp.NewTool("inspect_agent",
		mcp.WithDescription("Inspect a named child's state and recent message history"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name of the caller's child to inspect")),
	), inspectAgentHandler(handler, callerID))

	return s
}

func sendMessageHandler(h *toolhandler.ToolHandler, callerID types.ID) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		recipient, _ := args["recipient"].(string)
		text, _ := args["text"].(string)
		wait, _ := args["wait_for_reply"].(bool)
		if recipient == "" || text == "" {
			return mcp.NewToolResultError("recipient and text are required"), nil
		}

		result, err := h.SendMessage(ctx, callerID, recipient, text, wait)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("status=%s message_id=%s waiting_for_reply=%v", result.Status, result.MessageID, result.WaitingForReply)), nil
	}
}

func broadcastHandler(h *toolhandler.ToolHandler, callerID types.ID) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, _ := req.GetArguments()["text"].(string)
		if text == "" {
			return mcp.NewToolResultError("text is required"), nil
		}

		result, err := h.Broadcast(ctx, callerID, text)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("status=%s message_id=%s recipient_count=%d", result.Status, result.MessageID, result.RecipientCount)), nil
	}
}

func checkInboxHandler(h *toolhandler.ToolHandler, callerID types.ID) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := h.CheckInbox(ctx, callerID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%d message(s)", len(result.Messages))), nil
	}
}

func spawnAgentHandler(h *toolhandler.ToolHandler, callerID types.ID) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		name, _ := args["name"].(string)
		instructions, _ := args["instructions"].(string)
		role, _ := args["role"].(string)
		if name == "" || instructions == "" {
			return mcp.NewToolResultError("name and instructions are required"), nil
		}

		result, err := h.SpawnAgent(ctx, callerID, name, instructions, role)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("status=%s agent_id=%s name=%s", result.Status, result.AgentID, result.Name)), nil
	}
}

func inspectAgentHandler(h *toolhandler.ToolHandler, callerID types.ID) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, _ := req.GetArguments()["name"].(string)
		if name == "" {
			return mcp.NewToolResultError("name is required"), nil
		}

		result, err := h.InspectAgent(ctx, callerID, name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("state=%s recent_messages=%d", result.State, len(result.RecentMessages))), nil
	}
}
