package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/substratai/substrat/internal/logging"
)

// AnthropicProvider is a bare LLM HTTP client: it serializes the full
// message history as its provider_state (spec §4.3's "bare LLM HTTP
// client" variant), rather than delegating state storage to a subprocess.
//
// Generalized from the teacher's internal/provider/anthropic.go, trimmed
// to the ProviderSession/AgentProvider contract and Bedrock options this
// daemon doesn't need.
type AnthropicProvider struct {
	apiKey  string
	baseURL string
}

// AnthropicConfig configures the provider. APIKey falls back to
// ANTHROPIC_API_KEY if empty.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return &AnthropicProvider{apiKey: apiKey, baseURL: cfg.BaseURL}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Create(ctx context.Context, modelID, systemPrompt string) (ProviderSession, error) {
	chatModel, err := p.newChatModel(ctx, modelID)
	if err != nil {
		return nil, err
	}

	var history []*schema.Message
	if systemPrompt != "" {
		history = append(history, &schema.Message{Role: schema.System, Content: systemPrompt})
	}

	return &anthropicSession{chatModel: chatModel, model: modelID, systemPrompt: systemPrompt, history: history}, nil
}

func (p *AnthropicProvider) Restore(ctx context.Context, state []byte) (ProviderSession, error) {
	var s anthropicState
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("anthropicprovider: restore: %w", err)
	}

	chatModel, err := p.newChatModel(ctx, s.Model)
	if err != nil {
		return nil, err
	}

	history := make([]*schema.Message, 0, len(s.History))
	for _, m := range s.History {
		history = append(history, &schema.Message{Role: schema.RoleType(m.Role), Content: m.Content})
	}

	return &anthropicSession{chatModel: chatModel, model: s.Model, systemPrompt: s.SystemPrompt, history: history}, nil
}

func (p *AnthropicProvider) newChatModel(ctx context.Context, modelID string) (model.ToolCallingChatModel, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("anthropicprovider: ANTHROPIC_API_KEY not set")
	}
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}

	cfg := &claude.Config{APIKey: p.apiKey, Model: modelID, MaxTokens: 8192}
	if p.baseURL != "" {
		cfg.BaseURL = &p.baseURL
	}

	var chatModel model.ToolCallingChatModel
	operation := func() error {
		cm, err := claude.NewChatModel(ctx, cfg)
		if err != nil {
			return err
		}
		chatModel = cm
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(operation, policy); err != nil {
		logging.Error().Err(err).Str("model", modelID).Msg("anthropicprovider: failed to dial")
		return nil, fmt.Errorf("anthropicprovider: create chat model: %w", err)
	}
	return chatModel, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicState struct {
	Model        string             `json:"model"`
	SystemPrompt string             `json:"system_prompt"`
	History      []anthropicMessage `json:"history"`
}

type anthropicSession struct {
	mu           sync.Mutex
	chatModel    model.ToolCallingChatModel
	model        string
	systemPrompt string
	history      []*schema.Message
	stopped      bool
}

func (s *anthropicSession) Send(ctx context.Context, prompt string) (<-chan string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, fmt.Errorf("anthropicprovider: session stopped")
	}

	s.history = append(s.history, &schema.Message{Role: schema.User, Content: prompt})

	stream, err := s.chatModel.Stream(ctx, s.history)
	if err != nil {
		return nil, fmt.Errorf("anthropicprovider: stream: %w", err)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		defer stream.Close()
		var full string
		for {
			chunk, err := stream.Recv()
			if err != nil {
				break
			}
			full += chunk.Content
			select {
			case out <- chunk.Content:
			case <-ctx.Done():
				return
			}
		}
		s.mu.Lock()
		s.history = append(s.history, &schema.Message{Role: schema.Assistant, Content: full})
		s.mu.Unlock()
	}()
	return out, nil
}

func (s *anthropicSession) Suspend(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]anthropicMessage, 0, len(s.history))
	for _, m := range s.history {
		history = append(history, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	return json.Marshal(anthropicState{Model: s.model, SystemPrompt: s.systemPrompt, History: history})
}

func (s *anthropicSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
