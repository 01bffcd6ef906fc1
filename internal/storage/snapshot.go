// Package storage persists the full session collection as a single JSON
// snapshot file, overwritten wholesale on every save.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/mxfan/gemchat/backend/internal/model/chat"
)

// SnapshotStore reads and writes the session snapshot at a fixed path.
// It is best-effort by contract: the in-memory store stays authoritative and
// save failures are reported, never escalated to the caller's user.
type SnapshotStore struct {
	path string
}

// NewSnapshotStore prepares a store rooted at path, creating parent
// directories as needed.
func NewSnapshotStore(path string) (*SnapshotStore, error) {
	if path == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &SnapshotStore{path: path}, nil
}

// Save serializes the whole collection and replaces the snapshot atomically
// (temp file in the same directory, fsync, rename).
func (s *SnapshotStore) Save(sessions []chat.Session) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.writeAtomic(data)
}

// Load returns the previously saved collection. An absent file yields an
// empty collection. A corrupt or structurally invalid snapshot is cleared so
// subsequent loads do not fail again, and an empty collection is returned.
func (s *SnapshotStore) Load() []chat.Session {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[storage] failed to read snapshot: %v", err)
		}
		return nil
	}

	var sessions []chat.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		log.Printf("[storage] corrupt snapshot, clearing: %v", err)
		s.Clear()
		return nil
	}

	if err := validate(sessions); err != nil {
		log.Printf("[storage] invalid snapshot, clearing: %v", err)
		s.Clear()
		return nil
	}

	return sessions
}

// Clear removes all persisted state.
func (s *SnapshotStore) Clear() {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		log.Printf("[storage] failed to clear snapshot: %v", err)
	}
}

// validate checks that the decoded value is a sequence of Session-shaped
// objects: unique non-empty ids and recognized message roles.
func validate(sessions []chat.Session) error {
	seen := make(map[string]struct{}, len(sessions))
	for i, session := range sessions {
		if session.ID == "" {
			return fmt.Errorf("session %d has empty id", i)
		}
		if _, dup := seen[session.ID]; dup {
			return fmt.Errorf("duplicate session id %s", session.ID)
		}
		seen[session.ID] = struct{}{}
		for j, msg := range session.Messages {
			if msg.ID == "" {
				return fmt.Errorf("session %s message %d has empty id", session.ID, j)
			}
			if !msg.Role.Valid() {
				return fmt.Errorf("session %s message %d has invalid role %q", session.ID, j, msg.Role)
			}
		}
	}
	return nil
}

func (s *SnapshotStore) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	f, err := os.CreateTemp(dir, ".snapshot-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := f.Name()

	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	committed = true
	return nil
}
