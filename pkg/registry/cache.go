package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/cratewatch/cratewatch/pkg/errors"
	"github.com/cratewatch/cratewatch/pkg/graph"
)

// DefaultCacheTTL is how long cached registry metadata stays fresh.
// Published crate metadata is immutable, but yanked versions and fixed
// indexes make a bounded lifetime safer.
const DefaultCacheTTL = 24 * time.Hour

// Cache is a SQLite-backed store of fetched crate metadata, keyed by
// "name@version". Safe for concurrent use.
type Cache struct {
	db  *sql.DB
	mu  sync.RWMutex
	ttl time.Duration

	// now is swappable for expiry tests.
	now func() time.Time
}

// CacheOption configures the cache.
type CacheOption func(*Cache)

// WithTTL overrides the freshness window.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// OpenCache opens or creates the cache database at path.
func OpenCache(path string, opts ...CacheOption) (*Cache, error) {
	const op = "registry.OpenCache"

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &errors.Error{Kind: errors.KindInternal, Op: op, Message: "create cache directory", Input: path, Err: err}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &errors.Error{Kind: errors.KindInternal, Op: op, Message: "open cache database", Input: path, Err: err}
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &errors.Error{Kind: errors.KindInternal, Op: op, Message: "set pragma", Err: err}
		}
	}

	c := &Cache{db: db, ttl: DefaultCacheTTL, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, &errors.Error{Kind: errors.KindInternal, Op: op, Message: "init cache schema", Err: err}
	}
	return c, nil
}

func (c *Cache) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crate_metadata (
		key TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		fetched_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_crate_metadata_fetched_at ON crate_metadata(fetched_at);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Get returns the cached dependency list for key, or ok=false on a miss or
// a stale entry.
func (c *Cache) Get(ctx context.Context, key string) ([]graph.DeclaredDep, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var payload string
	var fetchedAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, fetched_at FROM crate_metadata WHERE key = ?`, key,
	).Scan(&payload, &fetchedAt)
	if err != nil {
		return nil, false
	}

	if c.now().Sub(time.Unix(fetchedAt, 0)) > c.ttl {
		return nil, false
	}

	var deps []graph.DeclaredDep
	if err := json.Unmarshal([]byte(payload), &deps); err != nil {
		return nil, false
	}
	return deps, true
}

// Put stores a dependency list under key, replacing any prior entry.
func (c *Cache) Put(ctx context.Context, key string, deps []graph.DeclaredDep) error {
	const op = "registry.CachePut"

	payload, err := json.Marshal(deps)
	if err != nil {
		return &errors.Error{Kind: errors.KindInternal, Op: op, Message: "encode cache payload", Input: key, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO crate_metadata (key, payload, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at
	`, key, string(payload), c.now().Unix())
	if err != nil {
		return &errors.Error{Kind: errors.KindInternal, Op: op, Message: "write cache entry", Input: key, Err: err}
	}
	return nil
}

// Prune deletes entries older than the TTL and returns how many went.
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	const op = "registry.CachePrune"

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl).Unix()
	res, err := c.db.ExecContext(ctx, `DELETE FROM crate_metadata WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, &errors.Error{Kind: errors.KindInternal, Op: op, Message: "prune cache", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
