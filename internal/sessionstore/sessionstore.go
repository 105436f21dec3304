// Package sessionstore provides the atomic on-disk snapshot of Session
// records: one session.json per agent directory under <root>/agents/<uuid>/.
//
// The write path follows the same temp-file-then-rename discipline as the
// teacher's internal/storage package, with an explicit fsync of the temp
// file added before the rename, and file locking dropped — a session.json
// is only ever written by the single goroutine that owns its session.
package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/substratai/substrat/internal/logging"
	"github.com/substratai/substrat/pkg/types"
)

// ErrNotFound is returned by Load when no session.json exists for the id.
var ErrNotFound = errors.New("sessionstore: not found")

const sessionFileName = "session.json"

// Store persists Session snapshots under <root>/agents/<id>/session.json.
type Store struct {
	root string
}

// New returns a Store rooted at agentsDir (e.g. <root>/agents), created if
// absent.
func New(agentsDir string) (*Store, error) {
	if err := os.MkdirAll(agentsDir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionstore: mkdir %s: %w", agentsDir, err)
	}
	return &Store{root: agentsDir}, nil
}

func (s *Store) dir(id types.ID) string {
	return filepath.Join(s.root, string(id))
}

func (s *Store) path(id types.ID) string {
	return filepath.Join(s.dir(id), sessionFileName)
}

// Save atomically snapshots session to disk: write <path>.tmp, fsync, rename
// over the target.
func (s *Store) Save(session *types.Session) error {
	dir := s.dir(session.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sessionstore: mkdir %s: %w", dir, err)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal: %w", err)
	}

	path := s.path(session.ID)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("sessionstore: create temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sessionstore: write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sessionstore: fsync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sessionstore: close temp: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sessionstore: rename: %w", err)
	}
	return nil
}

// Load parses the session.json for id. Returns ErrNotFound if absent.
func (s *Store) Load(id types.ID) (*types.Session, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessionstore: read %s: %w", id, err)
	}
	var session types.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("sessionstore: unmarshal %s: %w", id, err)
	}
	return &session, nil
}

// Scan enumerates every agents/<id> subdirectory and loads its session.json,
// skipping entries without one (a directory may exist for other artifacts
// before its session is first saved).
func (s *Store) Scan() ([]*types.Session, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessionstore: readdir %s: %w", s.root, err)
	}

	var sessions []*types.Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := types.ID(entry.Name())
		session, err := s.Load(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// Recover runs Scan and rewrites any ACTIVE session as SUSPENDED, since the
// daemon was not running and no provider for it is alive. Stray .tmp files
// left by an interrupted Save are removed without inspection.
func (s *Store) Recover() ([]*types.Session, error) {
	if err := s.cleanStrayTemps(); err != nil {
		return nil, err
	}

	sessions, err := s.Scan()
	if err != nil {
		return nil, err
	}

	for _, session := range sessions {
		if session.State != types.SessionActive {
			continue
		}
		session.State = types.SessionSuspended
		if err := s.Save(session); err != nil {
			return nil, fmt.Errorf("sessionstore: recover save %s: %w", session.ID, err)
		}
		logging.Info().Str("session_id", session.ID.String()).Msg("sessionstore: recovered ACTIVE session as SUSPENDED")
	}
	return sessions, nil
}

// Delete removes a session's entire agents/<id> directory (session.json,
// event log, and any other per-session artifacts). Callers must ensure the
// session is TERMINATED first.
func (s *Store) Delete(id types.ID) error {
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return fmt.Errorf("sessionstore: delete %s: %w", id, err)
	}
	return nil
}

// cleanStrayTemps deletes any session.json.tmp left behind by a crash
// mid-Save, per the atomic-write contract.
func (s *Store) cleanStrayTemps() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sessionstore: readdir %s: %w", s.root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, entry.Name())
		sub, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range sub {
			if strings.HasSuffix(f.Name(), ".tmp") {
				os.Remove(filepath.Join(dir, f.Name()))
			}
		}
	}
	return nil
}
