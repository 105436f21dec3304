package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/substratai/substrat/internal/logging"
)

// CLIProvider spawns a subprocess per session and speaks the newline-
// delimited JSON wire contract of SPEC_FULL §4.3a: write the prompt as one
// JSON line to stdin, read response-chunk JSON lines from stdout until a
// terminal {"done":true}.
//
// Grounded on the teacher's internal/mcp.Client subprocess transport
// (exec.Command construction, environment passthrough) and
// internal/headless.Runner's subprocess-lifecycle shape, generalized from
// an MCP session to an agentic CLI session.
type CLIProvider struct {
	command []string
	env     map[string]string
}

// NewCLIProvider returns a provider that spawns command (argv[0] plus
// args) for every session, with env merged over the parent environment.
func NewCLIProvider(command []string, env map[string]string) *CLIProvider {
	return &CLIProvider{command: command, env: env}
}

func (p *CLIProvider) Name() string { return "cli" }

func (p *CLIProvider) Create(ctx context.Context, model, systemPrompt string) (ProviderSession, error) {
	return p.spawn(ctx, model, systemPrompt, "")
}

func (p *CLIProvider) Restore(ctx context.Context, state []byte) (ProviderSession, error) {
	var s cliState
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("cliprovider: restore: %w", err)
	}
	return p.spawn(ctx, s.Model, s.SystemPrompt, s.TranscriptPath)
}

type cliState struct {
	Model          string `json:"model"`
	SystemPrompt   string `json:"system_prompt"`
	TranscriptPath string `json:"transcript_path"`
}

type cliRequest struct {
	Prompt         string `json:"prompt,omitempty"`
	Model          string `json:"model,omitempty"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	Suspend        bool   `json:"suspend,omitempty"`
}

type cliChunk struct {
	Chunk     string `json:"chunk"`
	Done      bool   `json:"done"`
	Suspended bool   `json:"suspended"`
}

type cliSession struct {
	mu             sync.Mutex
	cmd            *exec.Cmd
	stdin          *json.Encoder
	stdout         *bufio.Scanner
	model          string
	systemPrompt   string
	transcriptPath string
	stopped        bool
}

func (p *CLIProvider) spawn(ctx context.Context, model, systemPrompt, transcriptPath string) (ProviderSession, error) {
	if len(p.command) == 0 {
		return nil, fmt.Errorf("cliprovider: empty command")
	}

	var session *cliSession
	operation := func() error {
		cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range p.env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("cliprovider: stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("cliprovider: stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("cliprovider: start: %w", err)
		}

		session = &cliSession{
			cmd:            cmd,
			stdin:          json.NewEncoder(stdin),
			stdout:         bufio.NewScanner(stdout),
			model:          model,
			systemPrompt:   systemPrompt,
			transcriptPath: transcriptPath,
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(operation, policy); err != nil {
		logging.Error().Err(err).Strs("command", p.command).Msg("cliprovider: failed to spawn subprocess")
		return nil, fmt.Errorf("cliprovider: spawn: %w", err)
	}

	session.stdout.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return session, nil
}

func (s *cliSession) Send(ctx context.Context, prompt string) (<-chan string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, fmt.Errorf("cliprovider: session stopped")
	}

	req := cliRequest{
		Prompt:         prompt,
		Model:          s.model,
		SystemPrompt:   s.systemPrompt,
		TranscriptPath: s.transcriptPath,
	}
	if err := s.stdin.Encode(req); err != nil {
		return nil, fmt.Errorf("cliprovider: write request: %w", err)
	}

	out := make(chan string, 16)
	go func() {
		defer close(out)
		for s.stdout.Scan() {
			var chunk cliChunk
			if err := json.Unmarshal(s.stdout.Bytes(), &chunk); err != nil {
				logging.Warn().Err(err).Msg("cliprovider: malformed response chunk")
				return
			}
			if chunk.Done {
				return
			}
			select {
			case out <- chunk.Chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Suspend asks the live subprocess to serialize its state to transcriptPath
// and blocks for its {"suspended":true} ack before returning, over the same
// stdin/stdout JSON-line protocol Send uses.
func (s *cliSession) Suspend(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, fmt.Errorf("cliprovider: session stopped")
	}

	transcriptPath := s.transcriptPath
	if transcriptPath == "" {
		transcriptPath = fmt.Sprintf("/tmp/substrat-cli-transcript-%d.json", time.Now().UnixNano())
	}

	req := cliRequest{Suspend: true, TranscriptPath: transcriptPath}
	if err := s.stdin.Encode(req); err != nil {
		return nil, fmt.Errorf("cliprovider: write suspend request: %w", err)
	}

	acked := make(chan error, 1)
	go func() {
		for s.stdout.Scan() {
			var chunk cliChunk
			if err := json.Unmarshal(s.stdout.Bytes(), &chunk); err != nil {
				acked <- fmt.Errorf("cliprovider: malformed suspend ack: %w", err)
				return
			}
			if chunk.Suspended {
				acked <- nil
				return
			}
		}
		if err := s.stdout.Err(); err != nil {
			acked <- fmt.Errorf("cliprovider: suspend ack read: %w", err)
			return
		}
		acked <- fmt.Errorf("cliprovider: subprocess closed stdout before acking suspend")
	}()

	select {
	case err := <-acked:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.transcriptPath = transcriptPath
	return json.Marshal(cliState{
		Model:          s.model,
		SystemPrompt:   s.systemPrompt,
		TranscriptPath: transcriptPath,
	})
}

func (s *cliSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}
