// Package coreerr defines the error kinds shared by every core component
// (spec §7). Operations return these as structured results rather than raw
// wrapped errors, so callers at the RPC/tool boundary can switch on Kind
// without string-matching.
package coreerr

import "fmt"

// Kind is one of the eight error kinds spec §7 enumerates.
type Kind string

const (
	SessionState    Kind = "session-state"
	NotFound        Kind = "not-found"
	SlotsExhausted  Kind = "slots-exhausted"
	RouteInvalid    Kind = "route-invalid"
	NameConflict    Kind = "name-conflict"
	ProviderFailure Kind = "provider-failure"
	IOFailure       Kind = "io-failure"
	CorruptLog      Kind = "corrupt-log"
)

// Error pairs a Kind with a human-readable reason and an optional
// underlying cause.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*Error)
	return ok && ce.Kind == kind
}
