// Package provider defines the ProviderSession/AgentProvider abstraction
// (spec §4.3): a polymorphic LLM backend that knows nothing about
// sessions, trees, logs, or messaging.
package provider

import "context"

// ProviderSession is a single live conversation with a backing model or
// subprocess. Send is single-consumer: the returned channel is closed once
// the response is complete or ctx is cancelled.
type ProviderSession interface {
	// Send streams response chunks for prompt. The channel is finite.
	Send(ctx context.Context, prompt string) (<-chan string, error)

	// Suspend serializes the session's state to opaque bytes. It does not
	// release live resources; Stop does (the session must not be used
	// again after this returns, except via AgentProvider.Restore).
	Suspend(ctx context.Context) ([]byte, error)

	// Stop releases resources without attempting to serialize state.
	Stop() error
}

// AgentProvider is a stable, named factory for ProviderSessions.
type AgentProvider interface {
	// Name is the provider's registry key.
	Name() string

	// Create starts a fresh session for model with the given system prompt.
	Create(ctx context.Context, model, systemPrompt string) (ProviderSession, error)

	// Restore resumes a session from bytes previously returned by Suspend.
	Restore(ctx context.Context, state []byte) (ProviderSession, error)
}
