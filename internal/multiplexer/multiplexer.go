// Package multiplexer implements the fixed-slot SessionMultiplexer (spec
// §4.4): a bounded LRU cache of live ProviderSessions, partitioned into
// held (mid-turn) and released (evictable) entries.
//
// No teacher package holds an equivalent structure, so this is grounded on
// spec's own LRU/eviction rules; the guarded-map shape follows the same
// registry pattern used throughout the corpus (internal/provider/registry.go).
package multiplexer

import (
	"container/list"
	"context"
	"sync"

	"github.com/substratai/substrat/internal/coreerr"
	"github.com/substratai/substrat/internal/logging"
	"github.com/substratai/substrat/internal/provider"
	"github.com/substratai/substrat/internal/sessionstore"
	"github.com/substratai/substrat/pkg/types"
)

type slot struct {
	sessionID types.ID
	session   provider.ProviderSession
	held      bool
	elem      *list.Element // position in the released LRU list, nil when held
}

// EventLogger lets the multiplexer append to a session's own EventLog for
// the suspend.result and session.restored events spec §3 assigns to
// multiplexer operations, without the multiplexer owning EventLog
// lifecycle itself (that stays with the TurnScheduler, per spec §4.5).
type EventLogger interface {
	LogFor(sessionID types.ID, event string, data map[string]any) error
}

// Multiplexer bounds the number of live ProviderSessions to maxSlots.
type Multiplexer struct {
	mu       sync.Mutex
	maxSlots int
	slots    map[types.ID]*slot
	released *list.List // front = least-recently-released (eviction target)
	store    *sessionstore.Store
	logger   EventLogger
}

func New(maxSlots int, store *sessionstore.Store, logger EventLogger) *Multiplexer {
	if maxSlots <= 0 {
		maxSlots = 4
	}
	return &Multiplexer{
		maxSlots: maxSlots,
		slots:    make(map[types.ID]*slot),
		released: list.New(),
		store:    store,
		logger:   logger,
	}
}

// Put inserts a freshly-created session into the held set, evicting the LRU
// released session first if the slot budget is exceeded.
func (m *Multiplexer) Put(ctx context.Context, sessionID types.ID, ps provider.ProviderSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.slots) >= m.maxSlots {
		if err := m.evictOneLocked(ctx); err != nil {
			return err
		}
	}

	m.slots[sessionID] = &slot{sessionID: sessionID, session: ps, held: true}
	return nil
}

// Acquire returns the cached session for session.ID, moving it to held. If
// absent, evicts the LRU released entry if full, restores from
// session.ProviderState via prov, and marks held.
func (m *Multiplexer) Acquire(ctx context.Context, session *types.Session, prov provider.AgentProvider) (provider.ProviderSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.slots[session.ID]; ok {
		if !s.held {
			m.released.Remove(s.elem)
			s.elem = nil
			s.held = true
		}
		return s.session, nil
	}

	if len(m.slots) >= m.maxSlots {
		if err := m.evictOneLocked(ctx); err != nil {
			return nil, err
		}
	}

	ps, err := prov.Restore(ctx, session.ProviderState)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.ProviderFailure, "restore failed", err)
	}

	if m.logger != nil {
		_ = m.logger.LogFor(session.ID, types.EventSessionRestored, map[string]any{
			"provider": prov.Name(),
			"model":    session.Model,
		})
	}

	m.slots[session.ID] = &slot{sessionID: session.ID, session: ps, held: true}
	return ps, nil
}

// Release moves session_id to the released set, at the most-recently-
// released end of the LRU list.
func (m *Multiplexer) Release(sessionID types.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[sessionID]
	if !ok || !s.held {
		return
	}
	s.held = false
	s.elem = m.released.PushBack(sessionID)
}

// Remove stops session_id's ProviderSession and drops it without saving
// state.
func (m *Multiplexer) Remove(sessionID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(sessionID)
}

func (m *Multiplexer) removeLocked(sessionID types.ID) error {
	s, ok := m.slots[sessionID]
	if !ok {
		return nil
	}
	if s.elem != nil {
		m.released.Remove(s.elem)
	}
	delete(m.slots, sessionID)
	if err := s.session.Stop(); err != nil {
		return coreerr.Wrap(coreerr.ProviderFailure, "stop failed", err)
	}
	return nil
}

// SetLogger wires the EventLogger after construction, for callers (the
// scheduler) that must exist before they can be handed to New as the
// logger argument.
func (m *Multiplexer) SetLogger(logger EventLogger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// Contains reports whether session_id currently occupies a slot.
func (m *Multiplexer) Contains(sessionID types.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.slots[sessionID]
	return ok
}

// evictOneLocked evicts the least-recently-released entry: suspend it,
// persist provider_state, mark SUSPENDED, and drop its slot. Must be
// called with m.mu held.
func (m *Multiplexer) evictOneLocked(ctx context.Context) error {
	front := m.released.Front()
	if front == nil {
		return coreerr.New(coreerr.SlotsExhausted, "no evictable slot: all slots held")
	}
	victimID := front.Value.(types.ID)
	return m.suspendLocked(ctx, victimID, front)
}

// Suspend explicitly suspends sessionID outside the LRU eviction path (the
// RPC surface's session.suspend), same persistence and logging contract as
// an LRU eviction. Fails with not-found if the session is held or absent.
func (m *Multiplexer) Suspend(ctx context.Context, sessionID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[sessionID]
	if !ok || s.held {
		return coreerr.New(coreerr.NotFound, "session not suspendable: not present or currently held")
	}
	return m.suspendLocked(ctx, sessionID, s.elem)
}

// suspendLocked suspends the released slot at elem. Must be called with
// m.mu held; elem must be victimID's current position in m.released.
func (m *Multiplexer) suspendLocked(ctx context.Context, victimID types.ID, elem *list.Element) error {
	victim := m.slots[victimID]

	state, err := victim.session.Suspend(ctx)
	if err != nil {
		return coreerr.Wrap(coreerr.ProviderFailure, "suspend failed", err)
	}

	if m.store != nil {
		session, loadErr := m.store.Load(victimID)
		if loadErr != nil {
			return coreerr.Wrap(coreerr.IOFailure, "load session during suspend", loadErr)
		}
		session.State = types.SessionSuspended
		session.SuspendedAt = timestampPtr(types.Now())
		session.ProviderState = state
		if err := m.store.Save(session); err != nil {
			return coreerr.Wrap(coreerr.IOFailure, "save session during suspend", err)
		}
	}

	m.released.Remove(elem)
	delete(m.slots, victimID)

	if m.logger != nil {
		_ = m.logger.LogFor(victimID, types.EventSuspendResult, map[string]any{"state_size": len(state)})
	}
	logging.Info().Str("session_id", victimID.String()).Int("state_size", len(state)).Msg("multiplexer: suspended session")
	return nil
}

func timestampPtr(t types.Timestamp) *types.Timestamp { return &t }
