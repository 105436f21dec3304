// Package types holds the data model shared by every layer of the daemon:
// sessions, agent-tree nodes, message envelopes, and event-log entries.
package types

import (
	"strings"

	"github.com/google/uuid"
)

// ID is a 32-char lowercase hex uuid with no dashes, the wire format
// mandated for every identifier in the daemon.
type ID string

// NewID allocates a fresh random ID.
func NewID() ID {
	return ID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// SYSTEM is the sentinel sender/recipient for daemon-originated messages.
var SYSTEM = ID(strings.Repeat("0", 32))

// USER is the sentinel sender/recipient for the human operator.
var USER = ID(strings.Repeat("0", 31) + "1")

// IsSentinel reports whether id is SYSTEM or USER.
func IsSentinel(id ID) bool {
	return id == SYSTEM || id == USER
}

func (id ID) String() string { return string(id) }
