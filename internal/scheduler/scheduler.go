// Package scheduler implements the TurnScheduler (spec §4.5): it composes
// the session store, the provider registry, the multiplexer, and each
// session's own EventLog into the exact seven-step turn lifecycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/substratai/substrat/internal/coreerr"
	"github.com/substratai/substrat/internal/eventlog"
	"github.com/substratai/substrat/internal/logging"
	"github.com/substratai/substrat/internal/multiplexer"
	"github.com/substratai/substrat/internal/provider"
	"github.com/substratai/substrat/internal/sessionstore"
	"github.com/substratai/substrat/pkg/types"
)

// DeferredFunc is zero-argument work enqueued by Defer and drained in FIFO
// order after a turn's slot release.
type DeferredFunc func(ctx context.Context) error

// Scheduler composes SessionStore, the provider registry, the Multiplexer,
// and per-session EventLogs, caching Session snapshots in memory to avoid
// re-reading the store on every turn.
type Scheduler struct {
	mu        sync.Mutex
	agentsDir string
	store     *sessionstore.Store
	mux       *multiplexer.Multiplexer
	registry  *provider.Registry
	cache     map[types.ID]*types.Session
	logs      map[types.ID]*eventlog.EventLog
	deferred  []DeferredFunc
}

// New wires a Scheduler. agentsDir is the root each session's own directory
// (and EventLog) is created under.
func New(agentsDir string, store *sessionstore.Store, mux *multiplexer.Multiplexer, registry *provider.Registry) *Scheduler {
	return &Scheduler{
		agentsDir: agentsDir,
		store:     store,
		mux:       mux,
		registry:  registry,
		cache:     make(map[types.ID]*types.Session),
		logs:      make(map[types.ID]*eventlog.EventLog),
	}
}

// LogFor implements multiplexer.EventLogger, letting the multiplexer append
// suspend.result / session.restored entries to a session's own log without
// owning that log's lifecycle.
func (s *Scheduler) LogFor(sessionID types.ID, event string, data map[string]any) error {
	log, err := s.logFor(sessionID)
	if err != nil {
		return err
	}
	return log.Log(event, data)
}

// ReadLog returns every entry logged for sessionID so far, for read-only
// consumers (inspect_agent) that need history without
// taking part in the write path.
func (s *Scheduler) ReadLog(sessionID types.ID) ([]types.LogEntry, error) {
	log, err := s.logFor(sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := log.ReadAll()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CorruptLog, "read event log", err)
	}
	return entries, nil
}

// RecoverLog runs RecoverPending then ReadAll for sessionID's EventLog, the
// per-session half of the startup recovery procedure (spec §4.9 step 2).
func (s *Scheduler) RecoverLog(sessionID types.ID) ([]types.LogEntry, error) {
	log, err := s.logFor(sessionID)
	if err != nil {
		return nil, err
	}
	if err := log.RecoverPending(); err != nil {
		return nil, coreerr.Wrap(coreerr.IOFailure, "recover pending log write", err)
	}
	entries, err := log.ReadAll()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.CorruptLog, "read event log", err)
	}
	return entries, nil
}

func (s *Scheduler) logFor(sessionID types.ID) (*eventlog.EventLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log, ok := s.logs[sessionID]; ok {
		return log, nil
	}
	dir := filepath.Join(s.agentsDir, sessionID.String())
	log, err := eventlog.New(dir, map[string]any{"session_id": sessionID.String()})
	if err != nil {
		return nil, coreerr.Wrap(coreerr.IOFailure, "open event log", err)
	}
	s.logs[sessionID] = log
	return log, nil
}

// CreateSession allocates a session record, its EventLog, and a live
// ProviderSession, transitioning CREATED -> ACTIVE.
func (s *Scheduler) CreateSession(ctx context.Context, providerName, model, systemPrompt string) (*types.Session, error) {
	return s.CreateSessionWithID(ctx, types.NewID(), providerName, model, systemPrompt)
}

// CreateSessionWithID is CreateSession with a caller-supplied id, used by
// spawn_agent's deferred provider creation where the AgentNode's
// session_id must be known before the provider session actually exists.
func (s *Scheduler) CreateSessionWithID(ctx context.Context, id types.ID, providerName, model, systemPrompt string) (*types.Session, error) {
	prov, err := s.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	session := &types.Session{
		ID:           id,
		State:        types.SessionCreated,
		ProviderName: providerName,
		Model:        model,
		CreatedAt:    types.Now(),
	}
	if err := s.store.Save(session); err != nil {
		return nil, coreerr.Wrap(coreerr.IOFailure, "save new session", err)
	}
	if _, err := s.logFor(session.ID); err != nil {
		return nil, err
	}

	ps, err := prov.Create(ctx, model, systemPrompt)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.ProviderFailure, "create provider session", err)
	}
	if err := s.mux.Put(ctx, session.ID, ps); err != nil {
		return nil, err
	}

	session.State = types.SessionActive
	if err := s.store.Save(session); err != nil {
		return nil, coreerr.Wrap(coreerr.IOFailure, "activate new session", err)
	}

	s.mu.Lock()
	s.cache[session.ID] = session
	s.mu.Unlock()

	return session, nil
}

// SendTurn runs the turn lifecycle of spec §4.5 exactly: resolve, log
// turn.start, acquire, collect, always release, and on success only log
// turn.complete and drain deferred work.
func (s *Scheduler) SendTurn(ctx context.Context, sessionID types.ID, prompt string) (string, error) {
	session, err := s.resolveSession(sessionID)
	if err != nil {
		return "", err
	}

	log, err := s.logFor(session.ID)
	if err != nil {
		return "", err
	}
	if err := log.Log(types.EventTurnStart, map[string]any{"prompt": prompt}); err != nil {
		return "", coreerr.Wrap(coreerr.IOFailure, "log turn.start", err)
	}

	prov, err := s.registry.Get(session.ProviderName)
	if err != nil {
		return "", err
	}

	ps, err := s.mux.Acquire(ctx, session, prov)
	if err != nil {
		return "", err
	}

	released := false
	release := func() {
		if !released {
			s.mux.Release(session.ID)
			released = true
		}
	}
	defer release()

	chunks, err := ps.Send(ctx, prompt)
	if err != nil {
		return "", coreerr.Wrap(coreerr.ProviderFailure, "send failed", err)
	}

	var sb strings.Builder
	for chunk := range chunks {
		sb.WriteString(chunk)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	response := sb.String()
	release()

	if err := log.Log(types.EventTurnComplete, map[string]any{"response": response}); err != nil {
		return "", coreerr.Wrap(coreerr.IOFailure, "log turn.complete", err)
	}

	s.drainDeferred(ctx)
	return response, nil
}

// TerminateSession removes the session from the multiplexer (without
// persisting provider state) and marks the record TERMINATED.
func (s *Scheduler) TerminateSession(sessionID types.ID) error {
	if err := s.mux.Remove(sessionID); err != nil {
		return err
	}

	session, err := s.resolveSession(sessionID)
	if err != nil {
		return err
	}
	session.State = types.SessionTerminated
	if err := s.store.Save(session); err != nil {
		return coreerr.Wrap(coreerr.IOFailure, "save terminated session", err)
	}
	return nil
}

// Defer enqueues zero-argument work to run after the current turn's slot
// has been released, in FIFO order; a callback may itself enqueue further
// work, which runs in the same drain.
func (s *Scheduler) Defer(fn DeferredFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferred = append(s.deferred, fn)
}

func (s *Scheduler) drainDeferred(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.deferred) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.deferred[0]
		s.deferred = s.deferred[1:]
		s.mu.Unlock()

		if err := fn(ctx); err != nil {
			logging.Warn().Err(err).Msg("scheduler: deferred callback failed")
		}
	}
}

// resolveSession returns the cached Session, reloading from the store when
// the cache is empty for this id or the multiplexer has evicted an ACTIVE
// session behind the cache's back (spec §9's background-eviction hazard).
func (s *Scheduler) resolveSession(id types.ID) (*types.Session, error) {
	s.mu.Lock()
	cached, ok := s.cache[id]
	s.mu.Unlock()

	if ok && !(cached.State == types.SessionActive && !s.mux.Contains(id)) {
		return cached, nil
	}
	return s.reloadSession(id)
}

func (s *Scheduler) reloadSession(id types.ID) (*types.Session, error) {
	session, err := s.store.Load(id)
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			return nil, coreerr.Wrap(coreerr.NotFound, fmt.Sprintf("session %s", id), err)
		}
		return nil, coreerr.Wrap(coreerr.IOFailure, "reload session", err)
	}

	s.mu.Lock()
	s.cache[id] = session
	s.mu.Unlock()
	return session, nil
}
