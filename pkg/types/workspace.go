package types

// Workspace is the opaque handle spec §1 hands to sandboxing: the core only
// ever needs an id and a root directory, never what lives inside it.
type Workspace struct {
	ID        ID        `json:"id"`
	Root      string    `json:"root"`
	CreatedAt Timestamp `json:"created_at"`
}
