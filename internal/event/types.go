package event

import "github.com/substratai/substrat/pkg/types"

// AgentCreatedData is the data for agent.created events.
type AgentCreatedData struct {
	AgentID  types.ID `json:"agent_id"`
	ParentID *types.ID `json:"parent_id,omitempty"`
	Name     string   `json:"name"`
	Role     string   `json:"role"`
}

// AgentTerminatedData is the data for agent.terminated events.
type AgentTerminatedData struct {
	AgentID types.ID `json:"agent_id"`
}

// SessionSuspendedData is the data for session.suspended events.
type SessionSuspendedData struct {
	SessionID types.ID `json:"session_id"`
	StateSize int      `json:"state_size"`
}

// SessionRestoredData is the data for session.restored events.
type SessionRestoredData struct {
	SessionID types.ID `json:"session_id"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
}

// SlotEvictedData is the data for slot.evicted events, published alongside
// SessionSuspendedData when the multiplexer frees a slot under pressure.
type SlotEvictedData struct {
	SessionID types.ID `json:"session_id"`
}
