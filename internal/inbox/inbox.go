// Package inbox implements the per-agent FIFO mailbox of spec §4.7: deliver
// appends, collect drains in delivery order. Inboxes are not persisted —
// on recovery they are rebuilt from event-log events (spec §4.9 step 6).
package inbox

import (
	"sync"

	"github.com/substratai/substrat/pkg/types"
)

// Registry holds one FIFO queue per agent, keyed by agent id.
//
// Grounded on the same guarded-map-of-small-values shape as
// internal/provider's Registry and internal/agenttree's Tree — the corpus
// has no direct mailbox equivalent, so this generalizes the pattern
// already used throughout the daemon for per-id in-memory state.
type Registry struct {
	mu     sync.Mutex
	queues map[types.ID][]*types.MessageEnvelope
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{queues: make(map[types.ID][]*types.MessageEnvelope)}
}

// Deliver appends env to recipientID's inbox.
func (r *Registry) Deliver(recipientID types.ID, env *types.MessageEnvelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[recipientID] = append(r.queues[recipientID], env)
}

// Collect drains agentID's inbox and returns its contents in delivery
// order. The inbox is empty after this call.
func (r *Registry) Collect(agentID types.ID) []*types.MessageEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := r.queues[agentID]
	delete(r.queues, agentID)
	return items
}

// Peek reports the number of undrained messages waiting for agentID,
// without draining them.
func (r *Registry) Peek(agentID types.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues[agentID])
}

// Drop discards agentID's queue entirely, e.g. on agent termination.
func (r *Registry) Drop(agentID types.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, agentID)
}
