// Package session holds the per-chat portal credentials. The whole store
// lives in one JSON file keyed by chat id (the layout of the original
// deployment's db.json) and is rewritten in full on every update.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Session is a chat's stored credential pair used to authenticate portal
// requests. A chat has at most one session; re-authentication overwrites it
// wholesale.
type Session struct {
	Token     string `json:"token"`
	StudentID string `json:"student_id"`
}

// Store is a process-wide map from chat id to Session, persisted
// synchronously on every write. Entries never expire.
type Store struct {
	mu       sync.Mutex
	path     string
	sessions map[string]Session
}

// Open loads the full store from path. A missing or corrupt file is an error:
// starting with a silently empty store would mask data loss, so the caller is
// expected to treat this as fatal. A fresh deployment seeds the file with {}.
func Open(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session store %s (seed a new deployment with an empty JSON object): %w", path, err)
	}
	sessions := map[string]Session{}
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("decode session store %s: %w", path, err)
	}
	return &Store{path: path, sessions: sessions}, nil
}

// Get returns the session for chatID, if any.
func (s *Store) Get(chatID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[chatID]
	return sess, ok
}

// Put overwrites the session for chatID and persists the whole store before
// returning. On a write failure the in-memory entry is still updated; the
// error tells the caller durability was not achieved.
func (s *Store) Put(chatID string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[chatID] = sess
	return s.persistLocked()
}

// Len reports the number of stored sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// persistLocked rewrites the backing file in full. A temp-file rename keeps
// readers of the path from ever observing a partially written store.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.sessions, "", "    ")
	if err != nil {
		return fmt.Errorf("encode session store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session store: %w", err)
	}
	return nil
}

// Seed creates an empty store file at path unless one already exists.
// Intended for first-run provisioning (meshbot --init-store).
func Seed(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("session store %s already exists", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create session store dir: %w", err)
		}
	}
	return os.WriteFile(path, []byte("{}\n"), 0o600)
}
