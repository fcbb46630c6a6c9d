// Package store persists completed summaries keyed by a hash of the
// sanitized article content, so re-opening an article does not re-bill an
// inference backend. Jobs themselves are never persisted; only terminal
// summaries are.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // Required by the library implementation.
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db    *sql.DB
	cache *summaryCache
	ttl   time.Duration
	log   *slog.Logger
}

// New opens the sqlite file and applies embedded migrations.
func New(ctx context.Context, dbPath string, ttl time.Duration, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open DB file: %w", err)
	}

	dbInstance, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("create DB instance: %w", err)
	}

	srcInstance, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create source instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcInstance, "sqlite3", dbInstance)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	if err = m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}

		log.InfoContext(ctx, "No migrations to apply",
			"dbPath", dbPath)
	} else {
		log.InfoContext(ctx, "DB is migrated",
			"dbPath", dbPath)
	}

	return &Store{
		db:    db,
		cache: newSummaryCache(cacheMaxEntries),
		ttl:   ttl,
		log:   log,
	}, nil
}

// Lookup returns the stored summary for identical content, if any is still
// fresh. Failures are logged and reported as a miss; a broken store must
// never fail a job.
func (s *Store) Lookup(ctx context.Context, content string) (string, bool) {
	key := contentKey(content)
	now := time.Now()

	if summary, ok := s.cache.get(key, now); ok {
		return summary, true
	}

	query := "select summary, expires_at from summaries where content_hash = ?"

	var summary string
	var expiresAt time.Time

	err := s.db.QueryRowContext(ctx, query, key).Scan(&summary, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false
	}
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to look up summary",
			"error", err,
			"contentHash", key)

		return "", false
	}

	if now.After(expiresAt) {
		return "", false
	}

	s.cache.set(key, summary, expiresAt, now)

	return summary, true
}

// Save upserts the summary for the given content. Failures are logged only.
func (s *Store) Save(ctx context.Context, content, summary string) {
	key := contentKey(content)
	now := time.Now()
	expiresAt := now.Add(s.ttl)

	query := "insert or replace into summaries (content_hash, summary, created_at, expires_at) " +
		"values (?, ?, ?, ?)"

	if _, err := s.db.ExecContext(ctx, query, key, summary, now, expiresAt); err != nil {
		s.log.ErrorContext(ctx, "Failed to save summary",
			"error", err,
			"contentHash", key)

		return
	}

	s.cache.set(key, summary, expiresAt, now)
}

// PurgeExpired removes rows past their expiry. Called from the probe
// schedule; a failed purge only logs.
func (s *Store) PurgeExpired(ctx context.Context) {
	query := "delete from summaries where expires_at < ?"

	result, err := s.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to purge expired summaries",
			"error", err)

		return
	}

	if purged, rowsErr := result.RowsAffected(); rowsErr == nil && purged > 0 {
		s.log.InfoContext(ctx, "Purged expired summaries",
			"count", purged)
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func contentKey(content string) string {
	sum := sha256.Sum256([]byte(content))

	return hex.EncodeToString(sum[:])
}
