// Package progcache stores compiled program blobs in a sqlite database keyed
// by source content and binding table fingerprint.
package progcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zurustar/missionscript/pkg/logger"
)

// ErrNotFound indicates no blob is cached under the key.
var ErrNotFound = errors.New("progcache: not found")

// Entry is one cached program.
type Entry struct {
	Key     string
	Name    string
	Blob    []byte
	Created time.Time
}

// Cache is a sqlite-backed program cache. It is safe for concurrent use.
type Cache struct {
	db   *sql.DB
	path string
	log  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// Key returns the cache key for source compiled against tables with the
// given fingerprint.
func Key(source []byte, fingerprint [32]byte) string {
	h := sha256.New()
	h.Write(source)
	h.Write(fingerprint[:])
	return hex.EncodeToString(h.Sum(nil))
}

// busyTimeout is how long a writer waits for a locked database, in ms.
const busyTimeout = 5000

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, busyTimeout)
}

// Open opens or creates the cache database at path.
func Open(path string, opts ...Option) (*Cache, error) {
	c := &Cache{path: path, log: logger.GetLogger()}
	for _, opt := range opts {
		opt(c)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("progcache: creating directory: %w", err)
		}
	}

	// The pragma in the DSN is applied to every pooled connection.
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("progcache: opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS programs (
		key TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		blob BLOB NOT NULL,
		created INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("progcache: creating table: %w", err)
	}

	c.db = db
	c.log.Debug("program cache opened", "path", path)
	return c, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the database path.
func (c *Cache) Path() string { return c.path }

// Get returns the entry stored under key.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, error) {
	e := &Entry{Key: key}
	var created int64
	err := c.db.QueryRowContext(ctx,
		"SELECT name, blob, created FROM programs WHERE key = ?", key,
	).Scan(&e.Name, &e.Blob, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("progcache: querying %s: %w", key, err)
	}
	e.Created = time.Unix(created, 0)
	return e, nil
}

// Put stores blob under key, replacing any earlier entry.
func (c *Cache) Put(ctx context.Context, key, name string, blob []byte) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO programs (key, name, blob, created) VALUES (?, ?, ?, ?)",
		key, name, blob, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("progcache: saving %s: %w", name, err)
	}
	c.log.Debug("program cached", "program", name, "key", key, "bytes", len(blob))
	return nil
}

// Delete removes the entry stored under key. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM programs WHERE key = ?", key); err != nil {
		return fmt.Errorf("progcache: deleting %s: %w", key, err)
	}
	return nil
}

// Purge removes every entry created before the given time and returns how
// many were removed. A zero time removes everything.
func (c *Cache) Purge(ctx context.Context, before time.Time) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if before.IsZero() {
		res, err = c.db.ExecContext(ctx, "DELETE FROM programs")
	} else {
		res, err = c.db.ExecContext(ctx, "DELETE FROM programs WHERE created < ?", before.Unix())
	}
	if err != nil {
		return 0, fmt.Errorf("progcache: purging: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("progcache: purging: %w", err)
	}
	c.log.Info("program cache purged", "removed", n)
	return n, nil
}

// Len returns the number of cached programs.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM programs").Scan(&n); err != nil {
		return 0, fmt.Errorf("progcache: counting: %w", err)
	}
	return n, nil
}
