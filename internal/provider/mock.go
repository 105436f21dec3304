package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// MockProvider is a deterministic in-memory provider used by tests and by
// the daemon when no real backend is configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Create(ctx context.Context, model, systemPrompt string) (ProviderSession, error) {
	return &mockSession{model: model, systemPrompt: systemPrompt}, nil
}

func (p *MockProvider) Restore(ctx context.Context, state []byte) (ProviderSession, error) {
	var s mockState
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("mockprovider: restore: %w", err)
	}
	return &mockSession{model: s.Model, systemPrompt: s.SystemPrompt, turns: s.Turns}, nil
}

type mockState struct {
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt"`
	Turns        []string `json:"turns"`
}

// mockSession echoes the prompt back as a single "echo: " chunk, and tracks
// every prompt it has seen so Suspend/Restore round-trips observably.
type mockSession struct {
	model        string
	systemPrompt string
	turns        []string
	stopped      bool
}

func (s *mockSession) Send(ctx context.Context, prompt string) (<-chan string, error) {
	if s.stopped {
		return nil, fmt.Errorf("mockprovider: session stopped")
	}
	s.turns = append(s.turns, prompt)

	out := make(chan string, 2)
	response := "echo: " + prompt
	go func() {
		defer close(out)
		select {
		case out <- response:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (s *mockSession) Suspend(ctx context.Context) ([]byte, error) {
	return json.Marshal(mockState{Model: s.model, SystemPrompt: s.systemPrompt, Turns: s.turns})
}

func (s *mockSession) Stop() error {
	s.stopped = true
	return nil
}
