// Package toolhandler implements the five non-blocking tools spec §4.8
// exposes to every agent: send_message, broadcast, check_inbox,
// spawn_agent, inspect_agent. Every call returns immediately; none may
// block on another agent's reply.
package toolhandler

import (
	"context"
	"fmt"

	"github.com/substratai/substrat/internal/agenttree"
	"github.com/substratai/substrat/internal/coreerr"
	"github.com/substratai/substrat/internal/event"
	"github.com/substratai/substrat/internal/inbox"
	"github.com/substratai/substrat/internal/logging"
	"github.com/substratai/substrat/internal/role"
	"github.com/substratai/substrat/internal/scheduler"
	"github.com/substratai/substrat/internal/sessionstore"
	"github.com/substratai/substrat/pkg/types"
)

// ToolHandler composes the tree, router, inboxes, role registry, and
// scheduler into the tool surface, enforcing SPEC_FULL §4.8a role gating
// ahead of every operation's spec'd behavior.
type ToolHandler struct {
	tree    *agenttree.Tree
	router  *agenttree.Router
	inboxes *inbox.Registry
	roles   *role.Registry
	sched   *scheduler.Scheduler
	store   *sessionstore.Store
	bus     *event.Bus
}

// New wires a ToolHandler. bus may be nil if the caller doesn't need
// agent.created notifications fanned out.
func New(tree *agenttree.Tree, router *agenttree.Router, inboxes *inbox.Registry, roles *role.Registry, sched *scheduler.Scheduler, store *sessionstore.Store, bus *event.Bus) *ToolHandler {
	return &ToolHandler{tree: tree, router: router, inboxes: inboxes, roles: roles, sched: sched, store: store, bus: bus}
}

func (h *ToolHandler) checkRole(callerID types.ID, tool string) error {
	node, err := h.tree.Get(callerID)
	if err != nil {
		return err
	}
	r, err := h.roles.Get(node.Role)
	if err != nil {
		return err
	}
	if !r.ToolEnabled(tool) {
		return coreerr.New(coreerr.RouteInvalid, fmt.Sprintf("role %q does not permit %s", node.Role, tool))
	}
	return nil
}

// envelopeLogData renders env the way message.enqueued persists it, so that
// recovery can reconstruct an identical envelope from the log alone.
func envelopeLogData(env *types.MessageEnvelope) map[string]any {
	data := map[string]any{
		"message_id": env.ID.String(),
		"sender":     env.Sender.String(),
		"kind":       string(env.Kind),
		"payload":    env.Payload,
		"timestamp":  env.Timestamp,
		"metadata":   env.Metadata,
	}
	if env.Recipient != nil {
		data["recipient"] = env.Recipient.String()
	}
	if env.ReplyTo != nil {
		data["reply_to"] = env.ReplyTo.String()
	}
	return data
}

// resolveNeighbor finds a name within callerID's one-hop neighborhood
// (parent, children, team), per send_message's name-resolution rule.
func (h *ToolHandler) resolveNeighbor(callerID types.ID, name string) (types.ID, error) {
	if parent, err := h.tree.Parent(callerID); err == nil && parent != nil && parent.Name == name {
		return parent.ID, nil
	}
	if children, err := h.tree.Children(callerID); err == nil {
		for _, child := range children {
			if child.Name == name {
				return child.ID, nil
			}
		}
	}
	if team, err := h.tree.Team(callerID); err == nil {
		for _, mate := range team {
			if mate.Name == name {
				return mate.ID, nil
			}
		}
	}
	return "", coreerr.New(coreerr.NotFound, fmt.Sprintf("no agent named %q in reach", name))
}

// SendMessageResult is send_message's immediate response.
type SendMessageResult struct {
	Status          string   `json:"status"`
	MessageID       types.ID `json:"message_id"`
	WaitingForReply bool     `json:"waiting_for_reply"`
}

// SendMessage resolves recipientName within callerID's one-hop
// neighborhood, validates the route, and delivers a REQUEST envelope.
func (h *ToolHandler) SendMessage(ctx context.Context, callerID types.ID, recipientName, text string, sync bool) (*SendMessageResult, error) {
	if err := h.checkRole(callerID, role.ToolSendMessage); err != nil {
		return nil, err
	}

	recipientID, err := h.resolveNeighbor(callerID, recipientName)
	if err != nil {
		return nil, err
	}
	if ok, reason := h.router.ValidateRoute(callerID, recipientID); !ok {
		return nil, coreerr.New(coreerr.RouteInvalid, reason)
	}

	recipientNode, err := h.tree.Get(recipientID)
	if err != nil {
		return nil, err
	}

	env := &types.MessageEnvelope{
		ID:        types.NewID(),
		Timestamp: types.Now(),
		Sender:    callerID,
		Recipient: &recipientID,
		Kind:      types.KindRequest,
		Payload:   text,
		Metadata:  map[string]string{},
	}
	if sync {
		env.Metadata["sync"] = "true"
	}

	if err := h.sched.LogFor(recipientNode.SessionID, types.EventMessageEnqueued, envelopeLogData(env)); err != nil {
		return nil, err
	}
	h.inboxes.Deliver(recipientID, env)

	return &SendMessageResult{Status: "sent", MessageID: env.ID, WaitingForReply: sync}, nil
}

// BroadcastResult is broadcast's immediate response.
type BroadcastResult struct {
	Status         string   `json:"status"`
	MessageID      types.ID `json:"message_id"`
	RecipientCount int      `json:"recipient_count"`
}

// Broadcast fans a MULTICAST envelope out to every member of callerID's
// team, sharing one message_id across deliveries so recipients can
// correlate the broadcast.
func (h *ToolHandler) Broadcast(ctx context.Context, callerID types.ID, text string) (*BroadcastResult, error) {
	if err := h.checkRole(callerID, role.ToolBroadcast); err != nil {
		return nil, err
	}

	recipients, err := h.router.ExpandMulticast(callerID)
	if err != nil {
		return nil, err
	}

	messageID := types.NewID()
	delivered := 0
	for _, recipientID := range recipients {
		node, err := h.tree.Get(recipientID)
		if err != nil {
			continue
		}
		env := &types.MessageEnvelope{
			ID:        messageID,
			Timestamp: types.Now(),
			Sender:    callerID,
			Recipient: &recipientID,
			Kind:      types.KindMulticast,
			Payload:   text,
			Metadata:  map[string]string{},
		}
		if err := h.sched.LogFor(node.SessionID, types.EventMessageEnqueued, envelopeLogData(env)); err != nil {
			return nil, err
		}
		h.inboxes.Deliver(recipientID, env)
		delivered++
	}

	return &BroadcastResult{Status: "sent", MessageID: messageID, RecipientCount: delivered}, nil
}

// InboxMessage is one drained envelope, reshaped for the tool response.
type InboxMessage struct {
	From      types.ID `json:"from"`
	Text      string   `json:"text"`
	MessageID types.ID `json:"message_id"`
}

// CheckInboxResult is check_inbox's immediate response.
type CheckInboxResult struct {
	Messages []InboxMessage `json:"messages"`
}

// CheckInbox drains callerID's inbox, logging message.delivered for each
// envelope to the caller's own EventLog.
func (h *ToolHandler) CheckInbox(ctx context.Context, callerID types.ID) (*CheckInboxResult, error) {
	if err := h.checkRole(callerID, role.ToolCheckInbox); err != nil {
		return nil, err
	}

	node, err := h.tree.Get(callerID)
	if err != nil {
		return nil, err
	}

	envelopes := h.inboxes.Collect(callerID)
	messages := make([]InboxMessage, 0, len(envelopes))
	for _, env := range envelopes {
		if err := h.sched.LogFor(node.SessionID, types.EventMessageDelivered, map[string]any{"message_id": env.ID.String()}); err != nil {
			return nil, err
		}
		messages = append(messages, InboxMessage{From: env.Sender, Text: env.Payload, MessageID: env.ID})
	}

	return &CheckInboxResult{Messages: messages}, nil
}

// SpawnAgentResult is spawn_agent's immediate response.
type SpawnAgentResult struct {
	Status  string   `json:"status"`
	AgentID types.ID `json:"agent_id"`
	Name    string   `json:"name"`
}

// SpawnAgent inserts a child node into the tree synchronously, then defers
// provider creation and agent.created logging to the scheduler's deferred
// queue so the child's slot isn't allocated while the parent's is still
// held. The child inherits the parent's provider and model.
func (h *ToolHandler) SpawnAgent(ctx context.Context, callerID types.ID, name, instructions, roleName string) (*SpawnAgentResult, error) {
	if err := h.checkRole(callerID, role.ToolSpawnAgent); err != nil {
		return nil, err
	}
	if roleName == "" {
		roleName = "worker"
	}
	if _, err := h.roles.Get(roleName); err != nil {
		return nil, err
	}
	if _, exists := h.tree.ByName(callerID, name); exists {
		return nil, coreerr.New(coreerr.NameConflict, fmt.Sprintf("name %q already used by a sibling", name))
	}

	callerNode, err := h.tree.Get(callerID)
	if err != nil {
		return nil, err
	}
	callerSession, err := h.store.Load(callerNode.SessionID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.IOFailure, "load caller session", err)
	}

	agentID := types.NewID()
	sessionID := types.NewID()
	node := &types.AgentNode{
		SessionID:    sessionID,
		ID:           agentID,
		Name:         name,
		ParentID:     &callerID,
		Instructions: instructions,
		Role:         roleName,
		State:        types.AgentIdle,
		CreatedAt:    types.Now(),
	}
	if err := h.tree.Add(node); err != nil {
		return nil, err
	}

	providerName, model := callerSession.ProviderName, callerSession.Model
	bus := h.bus
	sched := h.sched
	parentID := callerID

	sched.Defer(func(ctx context.Context) error {
		session, err := sched.CreateSessionWithID(ctx, sessionID, providerName, model, instructions)
		if err != nil {
			logging.Warn().Err(err).Str("agent_id", agentID.String()).Msg("toolhandler: deferred spawn provider creation failed")
			return err
		}
		if err := sched.LogFor(session.ID, types.EventAgentCreated, map[string]any{
			"agent_id":          agentID.String(),
			"name":              name,
			"role":              roleName,
			"parent_session_id": callerNode.SessionID.String(),
			"instructions":      instructions,
		}); err != nil {
			return err
		}
		if bus != nil {
			bus.Publish(event.Event{Type: event.AgentCreated, Data: event.AgentCreatedData{
				AgentID: agentID, ParentID: &parentID, Name: name, Role: roleName,
			}})
		}
		return nil
	})

	return &SpawnAgentResult{Status: "created", AgentID: agentID, Name: name}, nil
}

// AgentEventSummary is one EventLog entry, reshaped for inspect_agent.
type AgentEventSummary struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// InspectAgentResult is inspect_agent's immediate response.
type InspectAgentResult struct {
	State          types.AgentState    `json:"state"`
	RecentMessages []AgentEventSummary `json:"recent_messages"`
}

const inspectAgentHistoryLimit = 10

// InspectAgent returns a child's current state plus its most recent
// logged message events, by name within callerID's own children.
func (h *ToolHandler) InspectAgent(ctx context.Context, callerID types.ID, name string) (*InspectAgentResult, error) {
	if err := h.checkRole(callerID, role.ToolInspectAgent); err != nil {
		return nil, err
	}

	childID, ok := h.tree.ByName(callerID, name)
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, fmt.Sprintf("no child named %q", name))
	}
	child, err := h.tree.Get(childID)
	if err != nil {
		return nil, err
	}

	entries, err := h.sched.ReadLog(child.SessionID)
	if err != nil {
		return nil, err
	}

	var recent []AgentEventSummary
	for _, entry := range entries {
		if entry.Event != types.EventMessageEnqueued && entry.Event != types.EventMessageDelivered {
			continue
		}
		recent = append(recent, AgentEventSummary{Event: entry.Event, Data: entry.Data})
	}
	if len(recent) > inspectAgentHistoryLimit {
		recent = recent[len(recent)-inspectAgentHistoryLimit:]
	}

	return &InspectAgentResult{State: child.State, RecentMessages: recent}, nil
}
