package session

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps the credential in a single-row SQLite table. Useful when
// the credential should live next to other local state rather than in its
// own file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	mu    sync.RWMutex
	token string
	meta  map[string]string
}

// OpenSQLiteStore opens (creating if needed) the database at path, applies
// migrations and loads the stored credential.
func OpenSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("session: sqlite backend requires a path")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("session: creating directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite: %w", err)
	}

	// One connection serializes writers; the store is tiny.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("session: set pragma WAL mode: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.load(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// runMigrations applies pending schema migrations with the goose Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("session: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("session: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("session: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *SQLiteStore) load(ctx context.Context) error {
	var token string

	err := s.db.QueryRowContext(ctx, "SELECT access_token FROM credentials WHERE id = 1").Scan(&token)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session: reading credential: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM credential_meta")
	if err != nil {
		return fmt.Errorf("session: reading metadata: %w", err)
	}
	defer rows.Close()

	var meta map[string]string

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("session: scanning metadata: %w", err)
		}

		if meta == nil {
			meta = make(map[string]string)
		}

		meta[k] = v
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("session: reading metadata: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.meta = meta
	s.mu.Unlock()

	return nil
}

func (s *SQLiteStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token
}

func (s *SQLiteStore) SetToken(token string) error {
	if token == "" {
		return s.Clear()
	}

	tok := oauthToken(token)

	var expires sql.NullInt64
	if !tok.Expiry.IsZero() {
		expires = sql.NullInt64{Int64: tok.Expiry.Unix(), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO credentials (id, access_token, token_type, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			token_type   = excluded.token_type,
			expires_at   = excluded.expires_at,
			updated_at   = excluded.updated_at`,
		tok.AccessToken, tok.TokenType, expires, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("session: persisting credential: %w", err)
	}

	s.token = token

	return nil
}

func (s *SQLiteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.meta = nil

	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM credentials"); err != nil {
			return fmt.Errorf("session: clearing credential: %w", err)
		}

		if _, err := tx.Exec("DELETE FROM credential_meta"); err != nil {
			return fmt.Errorf("session: clearing metadata: %w", err)
		}

		return nil
	})
}

func (s *SQLiteStore) Meta() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return copyMeta(s.meta)
}

func (s *SQLiteStore) SetMeta(meta map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM credential_meta"); err != nil {
			return fmt.Errorf("session: replacing metadata: %w", err)
		}

		for k, v := range meta {
			if _, err := tx.Exec("INSERT INTO credential_meta (key, value) VALUES (?, ?)", k, v); err != nil {
				return fmt.Errorf("session: writing metadata %s: %w", k, err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.meta = copyMeta(meta)

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("session: begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("session: commit: %w", err)
	}

	return nil
}
