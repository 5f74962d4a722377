package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/adminctl/internal/tokenfile"
)

// FileStore keeps the credential in a tokenfile on disk and caches it in
// memory. Reads never touch the disk.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	token string
	meta  map[string]string
}

// OpenFileStore loads the credential file at path. A missing file yields an
// empty store.
func OpenFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("session: file backend requires a path")
	}

	if logger == nil {
		logger = slog.Default()
	}

	s := &FileStore{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}

	return s, nil
}

// Path returns the credential file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token
}

func (s *FileStore) SetToken(token string) error {
	if token == "" {
		return s.Clear()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := tokenfile.Save(s.path, oauthToken(token), s.meta); err != nil {
		return fmt.Errorf("session: persisting credential: %w", err)
	}

	s.token = token

	s.logger.Debug("credential persisted", slog.String("path", s.path))

	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.meta = nil

	if err := tokenfile.Remove(s.path); err != nil {
		return fmt.Errorf("session: clearing credential: %w", err)
	}

	s.logger.Debug("credential cleared", slog.String("path", s.path))

	return nil
}

func (s *FileStore) Meta() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyMeta(s.meta)
}

// SetMeta replaces the metadata. Without a token there is nothing to attach
// it to, so it is only kept in memory until the next SetToken.
func (s *FileStore) SetMeta(meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta = copyMeta(meta)
	if s.token == "" {
		return nil
	}

	if err := tokenfile.Save(s.path, oauthToken(s.token), s.meta); err != nil {
		return fmt.Errorf("session: persisting metadata: %w", err)
	}

	return nil
}

func (s *FileStore) Close() error { return nil }

// Reload re-reads the credential file into memory.
func (s *FileStore) Reload() error {
	tok, meta, err := tokenfile.Load(s.path)
	if err != nil {
		return fmt.Errorf("session: loading credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tok == nil {
		s.token = ""
		s.meta = nil

		return nil
	}

	s.token = tok.AccessToken
	s.meta = meta

	return nil
}

// Watch reloads the cached credential whenever another process writes or
// removes the credential file, then calls onChange (if not nil) with the
// new token. Blocks until ctx is canceled.
func (s *FileStore) Watch(ctx context.Context, onChange func(token string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("session: creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: atomic saves replace the file, which would drop a
	// watch placed on the file itself.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("session: watching %s: %w", dir, err)
	}

	s.logger.Debug("watching credential file", slog.String("path", s.path))

	name := filepath.Base(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Base(ev.Name) != name || ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}

			if err := s.Reload(); err != nil {
				s.logger.Warn("credential reload failed",
					slog.String("path", s.path),
					slog.String("error", err.Error()),
				)

				continue
			}

			token := s.Token()

			s.logger.Info("credential changed on disk",
				slog.String("path", s.path),
				slog.Bool("logged_in", token != ""),
			)

			if onChange != nil {
				onChange(token)
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			s.logger.Warn("credential watcher error", slog.String("error", werr.Error()))
		}
	}
}
