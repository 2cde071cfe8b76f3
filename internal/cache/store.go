// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DirName is the directory under the data dir that holds the cache file.
	DirName = "cache"

	// FileName is the SQLite file name.
	FileName = "translations.sqlite3"

	// DefaultMaxConcurrent bounds how many cache operations touch the file at once.
	DefaultMaxConcurrent = 4

	// busyTimeoutMs makes concurrent writers wait for the lock instead of failing.
	busyTimeoutMs = 5000
)

const schema = `CREATE TABLE IF NOT EXISTS translations (
	key TEXT PRIMARY KEY,
	original TEXT NOT NULL,
	translation TEXT NOT NULL,
	created_at INTEGER NOT NULL
)`

// =============================================================================
// TYPES
// =============================================================================

// Entry is one cached translation.
type Entry struct {
	Key         string    `json:"key"`
	Original    string    `json:"original"`
	Translation string    `json:"translation"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the persistent translation cache. It holds no open connection;
// every operation opens the file, runs, and closes it again.
type Store struct {
	path   string
	sem    *semaphore.Weighted
	memo   *lru.Cache[string, string]
	logger *zap.Logger
	now    func() time.Time

	maxConcurrent int64
	memoSize      int
}

// Option configures a Store.
type Option func(*Store)

// WithMemo keeps up to size recent translations in memory in front of the
// file. A memo hit never re-reads the file, so writes by another Store or
// process and removal of the file are not seen. Use it only when this Store
// is the only writer. A size of zero or less disables the memo.
func WithMemo(size int) Option {
	return func(s *Store) { s.memoSize = size }
}

// WithMaxConcurrent sets how many operations may use the file at once.
func WithMaxConcurrent(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the timestamp source for new entries.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open resolves the cache file under dataDir, creating the cache directory if
// needed. The database itself is created lazily by the first operation.
func Open(dataDir string, opts ...Option) (*Store, error) {
	s := &Store{
		logger:        zap.NewNop(),
		now:           time.Now,
		maxConcurrent: DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("cache")

	dir := filepath.Join(dataDir, DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	s.path = filepath.Join(dir, FileName)
	s.sem = semaphore.NewWeighted(s.maxConcurrent)

	if s.memoSize > 0 {
		memo, err := lru.New[string, string](s.memoSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache memo: %w", err)
		}
		s.memo = memo
	}

	return s, nil
}

// Path returns the SQLite file path.
func (s *Store) Path() string {
	return s.path
}

// Key returns the content-hash key for text: the 64-bit xxHash as 16
// lowercase hex digits.
func Key(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Get returns the cached translation for text. ok is false when text has
// never been stored.
func (s *Store) Get(ctx context.Context, text string) (translation string, ok bool, err error) {
	key := Key(text)
	if s.memo != nil {
		if v, hit := s.memo.Get(key); hit {
			return v, true, nil
		}
	}

	entry, ok, err := s.lookup(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	if s.memo != nil {
		s.memo.Add(key, entry.Translation)
	}
	return entry.Translation, true, nil
}

// Entry returns the full cache row for text, bypassing the memo.
func (s *Store) Entry(ctx context.Context, text string) (Entry, bool, error) {
	return s.lookup(ctx, Key(text))
}

// Put stores translation for text, replacing any previous value. A blank
// translation is ignored and leaves an existing entry untouched.
func (s *Store) Put(ctx context.Context, text, translation string) error {
	if strings.TrimSpace(translation) == "" {
		return nil
	}
	key := Key(text)

	err := s.withDB(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT OR REPLACE INTO translations (key, original, translation, created_at) VALUES (?, ?, ?, ?)`,
			key, text, translation, s.now().Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("store translation: %w", err)
	}

	if s.memo != nil {
		s.memo.Add(key, translation)
	}
	s.logger.Debug("CACHE_PUT", zap.String("key", key), zap.Int("bytes", len(translation)))
	return nil
}

// Count returns the number of cached translations.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.withDB(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translations`).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count translations: %w", err)
	}
	return n, nil
}

func (s *Store) lookup(ctx context.Context, key string) (Entry, bool, error) {
	var (
		entry   Entry
		created int64
		found   bool
	)
	err := s.withDB(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx,
			`SELECT key, original, translation, created_at FROM translations WHERE key = ? LIMIT 1`, key)
		err := row.Scan(&entry.Key, &entry.Original, &entry.Translation, &created)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup translation: %w", err)
	}
	if !found {
		return Entry{}, false, nil
	}
	entry.CreatedAt = time.Unix(created, 0)
	return entry, true, nil
}

// withDB opens a short-lived handle on the cache file, makes sure the table
// exists, and runs fn. Callers beyond the concurrency bound wait for a slot
// or for ctx.
func (s *Store) withDB(ctx context.Context, fn func(db *sql.DB) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMs),
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return fn(db)
}
