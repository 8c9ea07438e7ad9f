package terminal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
)

const registryFileName = "active_terminals.json"

// RegistryEntry is one terminal's advisory presence record (spec.md
// §4.9). It is informational only — the per-terminal Lock is the
// authoritative owner, never this file.
type RegistryEntry struct {
	TerminalID  string `json:"terminal_id"`
	PID         int    `json:"pid"`
	StartedAtNs int64  `json:"started_at_ns"`
}

// Registry is the shared coordination file every terminal lock
// acquisition registers itself in, at <root>/shared/coordination/
// active_terminals.json. Mutation is guarded by a short-lived flock on
// a sibling ".lock" file, held only for the duration of the read-modify-
// write, never across a caller's terminal session.
type Registry struct {
	path     string
	lockPath string
}

// OpenRegistry returns a Registry rooted at the given coordination
// directory, creating it if necessary.
func OpenRegistry(coordinationDir string) (*Registry, error) {
	if err := os.MkdirAll(coordinationDir, 0o755); err != nil {
		return nil, fmt.Errorf("terminal: creating coordination dir: %w", err)
	}
	return &Registry{
		path:     filepath.Join(coordinationDir, registryFileName),
		lockPath: filepath.Join(coordinationDir, registryFileName+".lock"),
	}, nil
}

// Upsert adds or updates a terminal's entry. Called once a Lock has
// been acquired.
func (r *Registry) Upsert(entry RegistryEntry) error {
	return r.withLock(func(entries []RegistryEntry) []RegistryEntry {
		for i, e := range entries {
			if e.TerminalID == entry.TerminalID {
				entries[i] = entry
				return entries
			}
		}
		return append(entries, entry)
	})
}

// Remove deletes a terminal's entry. Called on graceful Lock release.
func (r *Registry) Remove(terminalID string) error {
	return r.withLock(func(entries []RegistryEntry) []RegistryEntry {
		out := entries[:0]
		for _, e := range entries {
			if e.TerminalID != terminalID {
				out = append(out, e)
			}
		}
		return out
	})
}

// List returns every currently registered terminal, sorted by terminal
// ID for deterministic output.
func (r *Registry) List() ([]RegistryEntry, error) {
	fl := flock.New(r.lockPath)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("terminal: locking registry: %w", err)
	}
	defer fl.Unlock()

	entries, err := r.readLocked()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TerminalID < entries[j].TerminalID })
	return entries, nil
}

func (r *Registry) withLock(mutate func([]RegistryEntry) []RegistryEntry) error {
	fl := flock.New(r.lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("terminal: locking registry: %w", err)
	}
	defer fl.Unlock()

	entries, err := r.readLocked()
	if err != nil {
		return err
	}
	entries = mutate(entries)
	return r.writeLocked(entries)
}

func (r *Registry) readLocked() ([]RegistryEntry, error) {
	body, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("terminal: reading registry: %w", err)
	}
	if len(body) == 0 {
		return nil, nil
	}
	var entries []RegistryEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("terminal: decoding registry: %w", err)
	}
	return entries, nil
}

func (r *Registry) writeLocked(entries []RegistryEntry) error {
	body, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("terminal: encoding registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("terminal: writing registry tmp file: %w", err)
	}
	return os.Rename(tmp, r.path)
}
