// Package role gates which of the five ToolHandler tools a spawned agent
// may call (spec §4.8, SPEC_FULL §2/§4.8a), adapted from the teacher's
// internal/agent package: same wildcard tool-table shape, permission
// concepts (edit/bash/webfetch actions) dropped since this daemon has no
// file-editing or shell-execution tools to gate.
package role

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Tool names recognized by internal/toolhandler.
const (
	ToolSendMessage  = "send_message"
	ToolBroadcast    = "broadcast"
	ToolCheckInbox   = "check_inbox"
	ToolSpawnAgent   = "spawn_agent"
	ToolInspectAgent = "inspect_agent"
)

// Role gates tool availability for an agent via an exact-or-wildcard tool
// table, mirroring the teacher's Agent.ToolEnabled mechanism.
type Role struct {
	Name  string          `json:"name"`
	Tools map[string]bool `json:"tools"`
}

// ToolEnabled reports whether toolName is permitted, checking an exact
// entry first, then wildcard patterns, defaulting to enabled when the
// table names neither (the teacher's own default for an unlisted tool).
func (r *Role) ToolEnabled(toolName string) bool {
	if r == nil {
		return true
	}
	if enabled, ok := r.Tools[toolName]; ok {
		return enabled
	}
	for pattern, enabled := range r.Tools {
		if matchWildcard(pattern, toolName) {
			return enabled
		}
	}
	return true
}

// Clone returns a deep copy.
func (r *Role) Clone() *Role {
	clone := &Role{Name: r.Name}
	if r.Tools != nil {
		clone.Tools = make(map[string]bool, len(r.Tools))
		for k, v := range r.Tools {
			clone.Tools[k] = v
		}
	}
	return clone
}

// matchWildcard mirrors the teacher's internal/agent wildcard matcher:
// simple prefix/suffix globs handled directly, anything with "**" or a
// mid-string "*" delegated to doublestar.
func matchWildcard(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	if strings.Contains(pattern, "**") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}
	if strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*") {
		return strings.HasPrefix(s, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*") {
		return strings.HasSuffix(s, strings.TrimPrefix(pattern, "*"))
	}
	if strings.Contains(pattern, "*") {
		matched, _ := doublestar.Match(pattern, s)
		return matched
	}
	return pattern == s
}

// BuiltInRoles returns the daemon's three built-in roles (SPEC_FULL §2):
// worker (all five tools), observer (every tool but spawn_agent), and
// lead (all tools, the default for root agents).
func BuiltInRoles() map[string]*Role {
	return map[string]*Role{
		"worker": {
			Name:  "worker",
			Tools: map[string]bool{"*": true},
		},
		"observer": {
			Name: "observer",
			Tools: map[string]bool{
				"*":            true,
				ToolSpawnAgent: false,
			},
		},
		"lead": {
			Name:  "lead",
			Tools: map[string]bool{"*": true},
		},
	}
}
