// Package eventlog provides the per-agent crash-safe append-only JSONL log.
//
// The write path mirrors the atomic-replace discipline of the teacher's
// internal/storage package (temp file, fsync, rename) but adds the
// pending-file write-ahead log spec §4.1/§6 requires for a log that is
// appended to, not replaced wholesale.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/substratai/substrat/internal/logging"
	"github.com/substratai/substrat/pkg/types"
)

const (
	logFileName     = "events.jsonl"
	pendingFileName = "events.pending"
)

// EventLog is a single agent's append-only event log.
type EventLog struct {
	mu      sync.Mutex
	dir     string
	context map[string]any
}

// New returns an EventLog rooted at dir (created if absent), whose entries
// all carry the given context fields (at minimum session_id).
func New(dir string, context map[string]any) (*EventLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: mkdir %s: %w", dir, err)
	}
	ctxCopy := make(map[string]any, len(context))
	for k, v := range context {
		ctxCopy[k] = v
	}
	return &EventLog{dir: dir, context: ctxCopy}, nil
}

func (l *EventLog) logPath() string     { return filepath.Join(l.dir, logFileName) }
func (l *EventLog) pendingPath() string { return filepath.Join(l.dir, pendingFileName) }

// Log appends one entry: serialize to one JSON line, write it through the
// pending-file WAL, then append it to events.jsonl. Each step fsyncs before
// the next begins, so a crash at any point leaves an append-only prefix.
func (l *EventLog) Log(event string, data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := types.LogEntry{Ts: types.Now(), Event: event, Data: data}
	line, err := marshalEntry(l.context, entry)
	if err != nil {
		return fmt.Errorf("eventlog: marshal: %w", err)
	}

	if err := writeFileSync(l.pendingPath(), line); err != nil {
		return fmt.Errorf("eventlog: write pending: %w", err)
	}
	if err := appendFileSync(l.logPath(), line); err != nil {
		return fmt.Errorf("eventlog: append: %w", err)
	}
	if err := os.Remove(l.pendingPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("eventlog: unlink pending: %w", err)
	}
	return nil
}

// ReadAll parses the log, truncating any partial trailing line left by a
// crash mid-append.
func (l *EventLog) ReadAll() ([]types.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := truncatePartialTrailingLine(l.logPath()); err != nil {
		return nil, fmt.Errorf("eventlog: truncate trailing: %w", err)
	}
	return readAllLocked(l.logPath())
}

func readAllLocked(path string) ([]types.LogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: read %s: %w", path, err)
	}

	lines := splitCompleteLines(data)
	entries := make([]types.LogEntry, 0, len(lines))
	for _, line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry types.LogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return entries, fmt.Errorf("eventlog: corrupt-log: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RecoverPending runs the startup reconciliation of spec §4.1: if
// events.pending exists, make sure its content is the last line of
// events.jsonl (appending it if needed, after truncating any partial
// trailing line), then remove the pending file.
func (l *EventLog) RecoverPending() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending, err := os.ReadFile(l.pendingPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("eventlog: read pending: %w", err)
	}

	if err := truncatePartialTrailingLine(l.logPath()); err != nil {
		return fmt.Errorf("eventlog: truncate trailing: %w", err)
	}

	already, err := lastLineEquals(l.logPath(), pending)
	if err != nil {
		return fmt.Errorf("eventlog: check last line: %w", err)
	}
	if !already {
		if err := appendFileSync(l.logPath(), pending); err != nil {
			return fmt.Errorf("eventlog: recover append: %w", err)
		}
	}

	if err := os.Remove(l.pendingPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("eventlog: unlink pending: %w", err)
	}
	logging.Debug().Str("dir", l.dir).Bool("replayed", !already).Msg("eventlog: recovered pending write")
	return nil
}

// writeFileSync truncates and writes data to path, fsyncing before return.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// appendFileSync appends data to path (creating it if absent), fsyncing
// before return.
func appendFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// marshalEntry renders one JSONL line: context fields merged with
// {ts, event, data}, newline-terminated.
func marshalEntry(context map[string]any, entry types.LogEntry) ([]byte, error) {
	obj := make(map[string]any, len(context)+3)
	for k, v := range context {
		obj[k] = v
	}
	obj["ts"] = entry.Ts
	obj["event"] = entry.Event
	if entry.Data == nil {
		obj["data"] = map[string]any{}
	} else {
		obj["data"] = entry.Data
	}
	line, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}

// splitCompleteLines returns every newline-terminated line in data,
// discarding a final partial line (no trailing newline) as a crash
// artifact.
func splitCompleteLines(data []byte) [][]byte {
	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	endsWithNewline := len(data) > 0 && data[len(data)-1] == '\n'
	for scanner.Scan() {
		lines = append(lines, append([]byte(nil), scanner.Bytes()...))
	}
	if !endsWithNewline && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// truncatePartialTrailingLine rewrites path dropping any trailing line that
// isn't newline-terminated (a crash mid-append).
func truncatePartialTrailingLine(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return nil
	}
	idx := bytes.LastIndexByte(data, '\n')
	truncated := data[:idx+1]
	return writeFileSync(path, truncated)
}

// lastLineEquals reports whether path's last complete line equals want
// (want is expected to include its trailing newline).
func lastLineEquals(path string, want []byte) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	trimmedWant := bytes.TrimRight(want, "\n")
	lines := splitCompleteLines(data)
	if len(lines) == 0 {
		return false, nil
	}
	return bytes.Equal(lines[len(lines)-1], trimmedWant), nil
}
