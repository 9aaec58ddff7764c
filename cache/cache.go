// Package cache stores analysis summaries in SQLite, keyed by the
// content hash of the analyzed function. A function whose bytecode has
// not changed gets its summary back without re-running the analysis,
// across process restarts.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chazu/alioth/wire"
)

// ErrNotFound indicates no summary is cached for the requested hash.
var ErrNotFound = errors.New("cache: summary not found")

// Cache is a SQLite-backed summary store. Safe for concurrent use.
type Cache struct {
	db     *sql.DB
	dbPath string
	runID  string
	mu     sync.Mutex
}

// Open opens (creating if needed) the cache database at the given path.
// Each Open gets a fresh run ID, recorded with every summary it writes,
// so stale entries can be traced to the run that produced them.
func Open(dbPath string) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	// Busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS analyses (
		hash BLOB PRIMARY KEY,
		name TEXT NOT NULL,
		run_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		summary BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating analyses table: %w", err)
	}

	return &Cache{
		db:     db,
		dbPath: dbPath,
		runID:  uuid.NewString(),
	}, nil
}

// RunID returns the identifier stamped on summaries written by this
// cache handle.
func (c *Cache) RunID() string { return c.runID }

// Close closes the database connection.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Put stores a summary under its function hash, replacing any previous
// entry.
func (c *Cache) Put(s *wire.AnalysisSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := wire.MarshalSummary(s)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO analyses (hash, name, run_id, created_at, summary) VALUES (?, ?, ?, ?, ?)",
		s.FunctionHash[:], s.FunctionName, c.runID, time.Now().Unix(), data,
	)
	if err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}
	return nil
}

// Get retrieves the summary for a function hash, or ErrNotFound.
func (c *Cache) Get(hash [32]byte) (*wire.AnalysisSummary, error) {
	var data []byte
	err := c.db.QueryRow("SELECT summary FROM analyses WHERE hash = ?", hash[:]).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying summary: %w", err)
	}
	s, err := wire.UnmarshalSummary(data)
	if err != nil {
		return nil, fmt.Errorf("decoding cached summary: %w", err)
	}
	return s, nil
}

// Delete removes the summary for a function hash.
func (c *Cache) Delete(hash [32]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec("DELETE FROM analyses WHERE hash = ?", hash[:]); err != nil {
		return fmt.Errorf("deleting summary: %w", err)
	}
	return nil
}

// Names returns the function names cached so far, for diagnostics.
func (c *Cache) Names() ([]string, error) {
	rows, err := c.db.Query("SELECT name FROM analyses ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
