package types

// Config is the daemon's on-disk configuration (opencode.jsonc-style, loaded
// by internal/config.Load).
type Config struct {
	Root       string                     `json:"root,omitempty"`
	Socket     string                     `json:"socket,omitempty"`
	MaxSlots   int                        `json:"max_slots,omitempty"`
	Provider   map[string]ProviderConfig  `json:"provider,omitempty"`
	Role       map[string]RoleConfig      `json:"role,omitempty"`
	MCP        map[string]MCPConfig       `json:"mcp,omitempty"`
}

// ProviderConfig configures one named AgentProvider instance.
type ProviderConfig struct {
	Kind      string `json:"kind"` // "mock" | "cli" | "anthropic"
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseURL,omitempty"`
	Model     string `json:"model,omitempty"`
	Command   []string `json:"command,omitempty"` // cli provider argv
	Disable   bool   `json:"disable,omitempty"`
}

// RoleConfig configures a named Role (see internal/role).
type RoleConfig struct {
	Tools map[string]bool `json:"tools,omitempty"`
}

// MCPConfig describes one MCP tool-server endpoint the daemon's tool
// surface may be exposed through, or an external MCP server it consumes.
type MCPConfig struct {
	Type        string            `json:"type,omitempty"` // "local"|"remote"
	Command     []string          `json:"command,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Timeout     int               `json:"timeout,omitempty"`
}
