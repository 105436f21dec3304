// Package orchestrator wires every lower-level primitive (providers,
// multiplexer, session store, scheduler, agent tree, inboxes, tool
// handler, event bus) into the daemon's end-to-end lifecycle (spec §4.9):
// create_root_agent, spawn_child, run_turn, terminate_agent, plus the
// startup recovery procedure.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/substratai/substrat/internal/agenttree"
	"github.com/substratai/substrat/internal/coreerr"
	"github.com/substratai/substrat/internal/event"
	"github.com/substratai/substrat/internal/inbox"
	"github.com/substratai/substrat/internal/logging"
	"github.com/substratai/substrat/internal/multiplexer"
	"github.com/substratai/substrat/internal/provider"
	"github.com/substratai/substrat/internal/role"
	"github.com/substratai/substrat/internal/scheduler"
	"github.com/substratai/substrat/internal/sessionstore"
	"github.com/substratai/substrat/internal/toolhandler"
	"github.com/substratai/substrat/pkg/types"
)

// Orchestrator is the daemon's composition root: every handle a caller at
// the RPC/CLI boundary needs lives here.
type Orchestrator struct {
	agentsDir string
	store     *sessionstore.Store
	mux       *multiplexer.Multiplexer
	providers *provider.Registry
	sched     *scheduler.Scheduler
	tree      *agenttree.Tree
	router    *agenttree.Router
	inboxes   *inbox.Registry
	roles     *role.Registry
	tools     *toolhandler.ToolHandler
	bus       *event.Bus

	pendingMu sync.Mutex
	// pendingSync tracks, per recipient agent, the most recent outstanding
	// sync request addressed to it, for reply injection (spec §4.8 "Reply
	// injection"). Populated by SendMessage, consumed by RunTurn.
	pendingSync map[types.ID]*types.MessageEnvelope
}

// New wires an Orchestrator rooted at agentsDir (<root>/agents), with
// maxSlots live multiplexer slots and providers/roles preloaded by the
// caller (daemon startup, per SPEC_FULL's configuration section).
func New(agentsDir string, maxSlots int, providers *provider.Registry, roles *role.Registry, bus *event.Bus) (*Orchestrator, error) {
	store, err := sessionstore.New(agentsDir)
	if err != nil {
		return nil, err
	}

	mux := multiplexer.New(maxSlots, store, nil)
	sched := scheduler.New(agentsDir, store, mux, providers)
	mux.SetLogger(sched)

	tree := agenttree.New()
	router := agenttree.NewRouter(tree)
	inboxes := inbox.New()
	tools := toolhandler.New(tree, router, inboxes, roles, sched, store, bus)

	return &Orchestrator{
		agentsDir:   agentsDir,
		store:       store,
		mux:         mux,
		providers:   providers,
		sched:       sched,
		tree:        tree,
		router:      router,
		inboxes:     inboxes,
		roles:       roles,
		tools:       tools,
		bus:         bus,
		pendingSync: make(map[types.ID]*types.MessageEnvelope),
	}, nil
}

// Tools exposes the five agent-facing tools for the MCP tool server.
func (o *Orchestrator) Tools() *toolhandler.ToolHandler { return o.tools }

// Tree exposes the live agent tree for read-only consumers (debug server,
// mcp-serve's caller lookup).
func (o *Orchestrator) Tree() *agenttree.Tree { return o.tree }

// Scheduler exposes the scheduler for read-only consumers that need a
// session's history through Scheduler.ReadLog.
func (o *Orchestrator) Scheduler() *scheduler.Scheduler { return o.sched }

// CreateRootAgentResult is create_root_agent's response.
type CreateRootAgentResult struct {
	AgentID   types.ID `json:"agent_id"`
	SessionID types.ID `json:"session_id"`
}

// CreateRootAgent starts a new tree with no parent: a live provider session
// is created synchronously (unlike spawn_agent's deferred children, a root
// has no parent slot to avoid holding), and agent.created is logged to its
// own EventLog before the call returns.
func (o *Orchestrator) CreateRootAgent(ctx context.Context, name, instructions, roleName, providerName, model string) (*CreateRootAgentResult, error) {
	if roleName == "" {
		roleName = "lead"
	}
	if _, err := o.roles.Get(roleName); err != nil {
		return nil, err
	}

	sessionID := types.NewID()
	session, err := o.sched.CreateSessionWithID(ctx, sessionID, providerName, model, instructions)
	if err != nil {
		return nil, err
	}

	agentID := types.NewID()
	node := &types.AgentNode{
		SessionID:    session.ID,
		ID:           agentID,
		Name:         name,
		Instructions: instructions,
		Role:         roleName,
		State:        types.AgentIdle,
		CreatedAt:    types.Now(),
	}
	if err := o.tree.Add(node); err != nil {
		return nil, err
	}

	if err := o.sched.LogFor(session.ID, types.EventAgentCreated, map[string]any{
		"agent_id":          agentID.String(),
		"name":              name,
		"role":              roleName,
		"instructions":      instructions,
		"parent_session_id": nil,
	}); err != nil {
		return nil, err
	}
	if o.bus != nil {
		o.bus.Publish(event.Event{Type: event.AgentCreated, Data: event.AgentCreatedData{
			AgentID: agentID, Name: name, Role: roleName,
		}})
	}

	return &CreateRootAgentResult{AgentID: agentID, SessionID: session.ID}, nil
}

// SendMessage delegates to the tool handler, additionally recording sync
// requests so the eventual reply can be injected into the sender's inbox
// once the recipient's turn completes.
func (o *Orchestrator) SendMessage(ctx context.Context, callerID types.ID, recipientName, text string, waitForReply bool) (*toolhandler.SendMessageResult, error) {
	result, err := o.tools.SendMessage(ctx, callerID, recipientName, text, waitForReply)
	if err != nil || !waitForReply {
		return result, err
	}

	recipientID, rerr := o.resolveSendTarget(callerID, recipientName)
	if rerr != nil {
		return result, nil
	}
	o.pendingMu.Lock()
	o.pendingSync[recipientID] = &types.MessageEnvelope{
		ID:     result.MessageID,
		Sender: callerID,
	}
	o.pendingMu.Unlock()
	return result, nil
}

// resolveSendTarget re-derives the recipient id SendMessage just resolved,
// for pending-sync bookkeeping only (the tool handler's own resolution is
// not reused directly to keep the two components decoupled).
func (o *Orchestrator) resolveSendTarget(callerID types.ID, name string) (types.ID, error) {
	if parent, err := o.tree.Parent(callerID); err == nil && parent != nil && parent.Name == name {
		return parent.ID, nil
	}
	if children, err := o.tree.Children(callerID); err == nil {
		for _, child := range children {
			if child.Name == name {
				return child.ID, nil
			}
		}
	}
	if team, err := o.tree.Team(callerID); err == nil {
		for _, mate := range team {
			if mate.Name == name {
				return mate.ID, nil
			}
		}
	}
	return "", coreerr.New(coreerr.NotFound, "recipient vanished after send")
}

// SpawnChild is spawn_agent's entry point for the orchestrator layer,
// delegating directly to the tool handler (the two are the same operation
// spec §4.9 and §4.8 describe from different vantage points).
func (o *Orchestrator) SpawnChild(ctx context.Context, parentID types.ID, name, instructions, roleName string) (*toolhandler.SpawnAgentResult, error) {
	return o.tools.SpawnAgent(ctx, parentID, name, instructions, roleName)
}

// RunTurn sends prompt as agentID's next turn, then performs reply
// injection (spec §4.8's daemon-side, non-tool behavior): if this turn's
// response is a reply to an outstanding synchronous request, a synthetic
// envelope carrying the response is delivered to the original sender's
// inbox instead of being handed back as a tool result only.
func (o *Orchestrator) RunTurn(ctx context.Context, agentID types.ID, prompt string) (string, error) {
	node, err := o.tree.Get(agentID)
	if err != nil {
		return "", err
	}

	response, err := o.sched.SendTurn(ctx, node.SessionID, prompt)
	if err != nil {
		return "", err
	}

	o.injectReplyIfPending(agentID, response)
	return response, nil
}

// injectReplyIfPending looks for the most recent undelivered sync request
// addressed to agentID and, if the just-completed turn looks like a
// response to it, delivers a synthetic RESPONSE envelope to the original
// sender. Classification is deliberately simple: any turn response while a
// sync request is outstanding counts as the reply (spec §9 leaves the
// classifier itself as policy).
func (o *Orchestrator) injectReplyIfPending(agentID types.ID, response string) {
	o.pendingMu.Lock()
	pending, ok := o.pendingSync[agentID]
	if ok {
		delete(o.pendingSync, agentID)
	}
	o.pendingMu.Unlock()
	if !ok {
		return
	}

	reply := &types.MessageEnvelope{
		ID:        types.NewID(),
		Timestamp: types.Now(),
		Sender:    agentID,
		Recipient: &pending.Sender,
		ReplyTo:   &pending.ID,
		Kind:      types.KindResponse,
		Payload:   response,
		Metadata:  map[string]string{},
	}

	senderNode, err := o.tree.Get(pending.Sender)
	if err != nil {
		logging.Warn().Err(err).Str("agent_id", pending.Sender.String()).Msg("orchestrator: reply injection target vanished")
		return
	}
	if err := o.sched.LogFor(senderNode.SessionID, types.EventMessageEnqueued, map[string]any{
		"message_id": reply.ID.String(),
		"sender":     reply.Sender.String(),
		"recipient":  pending.Sender.String(),
		"kind":       string(reply.Kind),
		"payload":    reply.Payload,
		"timestamp":  reply.Timestamp,
		"reply_to":   pending.ID.String(),
		"metadata":   reply.Metadata,
	}); err != nil {
		logging.Warn().Err(err).Msg("orchestrator: reply injection log failed")
		return
	}
	o.inboxes.Deliver(pending.Sender, reply)
}

// TerminateAgent logs agent.terminated to the agent's own EventLog before
// removing its tree entry and releasing its session from the multiplexer,
// per spec §4.9's write-before-remove ordering.
func (o *Orchestrator) TerminateAgent(agentID types.ID) error {
	node, err := o.tree.Get(agentID)
	if err != nil {
		return err
	}
	if len(node.Children) > 0 {
		return coreerr.New(coreerr.SessionState, "cannot terminate an agent with live children")
	}

	if err := o.sched.LogFor(node.SessionID, types.EventAgentTerminated, map[string]any{"agent_id": agentID.String()}); err != nil {
		return err
	}
	if err := o.sched.TerminateSession(node.SessionID); err != nil {
		return err
	}
	if err := o.tree.Remove(agentID); err != nil {
		return err
	}

	if o.bus != nil {
		o.bus.Publish(event.Event{Type: event.AgentTerminated, Data: event.AgentTerminatedData{AgentID: agentID}})
	}
	return nil
}

// ListSessions returns every session record on disk, for the RPC surface's
// session.list (spec §6) and the debug server's GET /sessions.
func (o *Orchestrator) ListSessions() ([]*types.Session, error) {
	return o.store.Scan()
}

// SuspendSession explicitly evicts sessionID's live ProviderSession outside
// the LRU path (the RPC surface's session.suspend), the same persistence
// and logging contract as an LRU eviction (spec §4.4).
func (o *Orchestrator) SuspendSession(ctx context.Context, sessionID types.ID) error {
	return o.mux.Suspend(ctx, sessionID)
}

// ResumeSession restores sessionID's ProviderSession into a held slot and
// marks it ACTIVE again (the RPC surface's session.resume). The session
// must currently be SUSPENDED.
func (o *Orchestrator) ResumeSession(ctx context.Context, sessionID types.ID) error {
	session, err := o.store.Load(sessionID)
	if err != nil {
		return err
	}
	if !types.CanTransition(session.State, types.SessionActive) {
		return coreerr.New(coreerr.SessionState, fmt.Sprintf("cannot resume session in state %s", session.State))
	}

	prov, err := o.providers.Get(session.ProviderName)
	if err != nil {
		return err
	}
	if _, err := o.mux.Acquire(ctx, session, prov); err != nil {
		return err
	}
	o.mux.Release(sessionID)

	session.State = types.SessionActive
	session.SuspendedAt = nil
	return o.store.Save(session)
}

// DeleteSession removes a TERMINATED session's on-disk record. Spec's
// Non-goals explicitly exclude server-side session storage guarantees
// beyond the daemon's own recovery needs, so deletion is only safe once a
// session can no longer participate in recovery.
func (o *Orchestrator) DeleteSession(sessionID types.ID) error {
	session, err := o.store.Load(sessionID)
	if err != nil {
		return err
	}
	if session.State != types.SessionTerminated {
		return coreerr.New(coreerr.SessionState, "cannot delete a session that is not TERMINATED")
	}
	return o.store.Delete(sessionID)
}

// recoveredAgent is the intermediate record recovery assembles per
// session before topologically inserting it into the tree.
type recoveredAgent struct {
	session         *types.Session
	agentID         types.ID
	name            string
	role            string
	instructions    string
	parentSessionID *types.ID
	enqueued        map[string]map[string]any
	delivered       map[string]bool
}

// Recover runs the seven-step startup procedure of spec §4.9: flip stale
// ACTIVE sessions to SUSPENDED, classify each session's log as orphan,
// terminated, or live, rebuild the tree in topological order, then replay
// undelivered messages into each recipient's inbox.
func (o *Orchestrator) Recover() error {
	sessions, err := o.store.Recover()
	if err != nil {
		return err
	}

	// Log replay is read-only per session and the sessions don't share
	// state, so the I/O-bound classification pass fans out across all
	// live sessions before the sequential orphan-marking and topological
	// insertion below, which do mutate shared state (the store, the tree).
	live := make([]*types.Session, 0, len(sessions))
	for _, session := range sessions {
		if session.State != types.SessionTerminated {
			live = append(live, session)
		}
	}

	classified := make([]*recoveredAgent, len(live))
	group, _ := errgroup.WithContext(context.Background())
	for i, session := range live {
		i, session := i, session
		group.Go(func() error {
			entries, err := o.sched.RecoverLog(session.ID)
			if err != nil {
				return err
			}
			classified[i] = classifyLog(session, entries)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	var recovered []*recoveredAgent
	for i, session := range live {
		rec := classified[i]
		if rec == nil {
			// Orphan: crash before agent.created was ever written, or the
			// agent was already terminated according to its log. The
			// session record is marked TERMINATED so it is never
			// reconstructed as a live agent.
			session.State = types.SessionTerminated
			if err := o.store.Save(session); err != nil {
				return err
			}
			logging.Info().Str("session_id", session.ID.String()).Msg("orchestrator: recovered orphan session, marked terminated")
			continue
		}
		recovered = append(recovered, rec)
	}

	index := make(map[types.ID]types.ID, len(recovered)) // session_id -> agent_id
	for _, rec := range recovered {
		index[rec.session.ID] = rec.agentID
	}

	for _, rec := range topologicalOrder(recovered, index) {
		var parentID *types.ID
		if rec.parentSessionID != nil {
			if pid, ok := index[*rec.parentSessionID]; ok {
				parentID = &pid
			}
		}
		node := &types.AgentNode{
			SessionID:    rec.session.ID,
			ID:           rec.agentID,
			Name:         rec.name,
			ParentID:     parentID,
			Instructions: rec.instructions,
			Role:         rec.role,
			State:        types.AgentIdle,
			CreatedAt:    rec.session.CreatedAt,
		}
		if err := o.tree.Add(node); err != nil {
			return fmt.Errorf("orchestrator: recover insert %s: %w", rec.agentID, err)
		}
	}

	for _, rec := range recovered {
		for msgID, data := range rec.enqueued {
			if rec.delivered[msgID] {
				continue
			}
			env := envelopeFromLogData(data)
			if env.Recipient == nil {
				continue
			}
			o.inboxes.Deliver(*env.Recipient, env)
		}
	}

	return nil
}

// classifyLog returns nil for orphans and terminated sessions (spec §4.9
// step 2), otherwise the recovered-agent record built from the session's
// agent.created entry.
func classifyLog(session *types.Session, entries []types.LogEntry) *recoveredAgent {
	var created map[string]any
	terminated := false
	enqueued := make(map[string]map[string]any)
	delivered := make(map[string]bool)

	for _, entry := range entries {
		switch entry.Event {
		case types.EventAgentCreated:
			created = entry.Data
		case types.EventAgentTerminated:
			terminated = true
		case types.EventMessageEnqueued:
			if id, ok := entry.Data["message_id"].(string); ok {
				enqueued[id] = entry.Data
			}
		case types.EventMessageDelivered:
			if id, ok := entry.Data["message_id"].(string); ok {
				delivered[id] = true
			}
		}
	}

	if created == nil || terminated {
		return nil
	}

	rec := &recoveredAgent{
		session:   session,
		enqueued:  enqueued,
		delivered: delivered,
	}
	if v, ok := created["agent_id"].(string); ok {
		rec.agentID = types.ID(v)
	}
	if v, ok := created["name"].(string); ok {
		rec.name = v
	}
	if v, ok := created["role"].(string); ok {
		rec.role = v
	}
	if v, ok := created["instructions"].(string); ok {
		rec.instructions = v
	}
	if v, ok := created["parent_session_id"].(string); ok && v != "" {
		pid := types.ID(v)
		rec.parentSessionID = &pid
	}
	return rec
}

// topologicalOrder sorts recovered agents roots-first, so each is inserted
// only after its parent already exists in the tree.
func topologicalOrder(recovered []*recoveredAgent, index map[types.ID]types.ID) []*recoveredAgent {
	byAgentID := make(map[types.ID]*recoveredAgent, len(recovered))
	for _, rec := range recovered {
		byAgentID[rec.agentID] = rec
	}

	depth := func(rec *recoveredAgent) int {
		d := 0
		cur := rec
		for d < len(recovered)+1 {
			if cur.parentSessionID == nil {
				return d
			}
			parentAgentID, ok := index[*cur.parentSessionID]
			if !ok {
				return d
			}
			parent, ok := byAgentID[parentAgentID]
			if !ok {
				return d
			}
			cur = parent
			d++
		}
		return d
	}

	ordered := append([]*recoveredAgent(nil), recovered...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return depth(ordered[i]) < depth(ordered[j])
	})
	return ordered
}

// envelopeFromLogData reconstructs a MessageEnvelope from a message.enqueued
// entry's payload, the inverse of toolhandler's envelopeLogData.
func envelopeFromLogData(data map[string]any) *types.MessageEnvelope {
	env := &types.MessageEnvelope{Metadata: map[string]string{}}
	if v, ok := data["message_id"].(string); ok {
		env.ID = types.ID(v)
	}
	if v, ok := data["sender"].(string); ok {
		env.Sender = types.ID(v)
	}
	if v, ok := data["recipient"].(string); ok {
		id := types.ID(v)
		env.Recipient = &id
	}
	if v, ok := data["reply_to"].(string); ok {
		id := types.ID(v)
		env.ReplyTo = &id
	}
	if v, ok := data["kind"].(string); ok {
		env.Kind = types.MessageKind(v)
	}
	if v, ok := data["payload"].(string); ok {
		env.Payload = v
	}
	if m, ok := data["metadata"].(map[string]string); ok {
		env.Metadata = m
	} else if m, ok := data["metadata"].(map[string]any); ok {
		for k, v := range m {
			if s, ok := v.(string); ok {
				env.Metadata[k] = s
			}
		}
	}
	return env
}
