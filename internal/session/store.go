// Package session holds the current access credential. Stores are narrowly
// scoped objects injected into the API client; none of them performs network
// I/O. The durable backends let a restarted process reuse a login the same
// way a browser reload reuses the token kept in local storage.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Store is the full session store contract. The API client only needs the
// Token/SetToken/Clear subset; the CLI also reads and writes metadata.
type Store interface {
	Token() string
	SetToken(token string) error
	Clear() error
	Meta() map[string]string
	SetMeta(meta map[string]string) error
	Close() error
}

// Open returns the store for the named backend. path is ignored by the
// memory backend.
func Open(ctx context.Context, backend, path string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch backend {
	case BackendFile, "":
		return OpenFileStore(path, logger)
	case BackendSQLite:
		return OpenSQLiteStore(ctx, path, logger)
	case BackendMemory:
		return NewMemoryStore(""), nil
	default:
		return nil, fmt.Errorf("session: unknown backend %q", backend)
	}
}

// MemoryStore keeps the credential in process memory only.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
	meta  map[string]string
}

// NewMemoryStore creates a store, optionally seeded with a token.
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (s *MemoryStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token
}

func (s *MemoryStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token

	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.meta = nil

	return nil
}

func (s *MemoryStore) Meta() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyMeta(s.meta)
}

func (s *MemoryStore) SetMeta(meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta = copyMeta(meta)

	return nil
}

func (s *MemoryStore) Close() error { return nil }

func copyMeta(meta map[string]string) map[string]string {
	return maps.Clone(meta)
}
