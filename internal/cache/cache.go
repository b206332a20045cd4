// Package cache stores emitted artifacts between compiler runs, keyed by a
// fingerprint of the function's async shape and the chosen strategy. A hit
// skips re-rendering the file.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/pylift/pylift/internal/asyncir"
	"github.com/pylift/pylift/internal/config"
)

// Cache is a SQLite-backed artifact store. Safe for use from a single
// compiler process; the schema is created on open.
type Cache struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at path. ":memory:" works for
// tests.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening %s: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		key      TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		content  TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: creating schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get looks up a cached artifact by key.
func (c *Cache) Get(key string) (filename, content string, ok bool, err error) {
	row := c.db.QueryRow(`SELECT filename, content FROM artifacts WHERE key = ?`, key)
	switch err := row.Scan(&filename, &content); err {
	case nil:
		return filename, content, true, nil
	case sql.ErrNoRows:
		return "", "", false, nil
	default:
		return "", "", false, fmt.Errorf("cache: reading %s: %w", key, err)
	}
}

// Put stores (or replaces) an artifact under key.
func (c *Cache) Put(key, filename, content string) error {
	_, err := c.db.Exec(
		`INSERT INTO artifacts (key, filename, content) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET filename = excluded.filename, content = excluded.content`,
		key, filename, content)
	if err != nil {
		return fmt.Errorf("cache: writing %s: %w", key, err)
	}
	return nil
}

// Fingerprint derives the cache key for one function under one strategy.
// Any change to the async shape, the strategy, or the emitted-code schema
// changes the key. Every block must carry a shape: an opaque body has no
// stable identity to key on, so fingerprinting it is refused rather than
// risking a collision between different bodies.
func Fingerprint(unitName string, fn *asyncir.FuncDesc, strategy asyncir.Strategy) (string, error) {
	var b strings.Builder
	b.WriteString("v")
	b.WriteString(strconv.Itoa(config.CacheSchemaVersion))
	b.WriteString("|")
	b.WriteString(unitName)
	b.WriteString("|")
	b.WriteString(fn.Name)
	b.WriteString("|")
	b.WriteString(strategy.String())
	b.WriteString("|params:")
	b.WriteString(strings.Join(fn.Params, ","))
	for i, blk := range fn.Blocks {
		if blk.Shape == nil {
			return "", fmt.Errorf("cache: %s block %d has no shape to fingerprint", fn.Name, i)
		}
		b.WriteString(fmt.Sprintf("|b%d:", i))
		writeShape(&b, blk.Shape)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}

func writeShape(b *strings.Builder, s *asyncir.TermShape) {
	if s.Kind == asyncir.TermReturn {
		b.WriteString("return")
		return
	}
	b.WriteString("await:")
	b.WriteString(s.Await.String())
	if s.Callee != "" {
		b.WriteString(":" + s.Callee)
	}
	if s.Bind != "" {
		b.WriteString(":bind=" + s.Bind)
	}
	for _, child := range s.Children {
		b.WriteString("(")
		childCopy := child
		writeShape(b, &childCopy)
		b.WriteString(")")
	}
}
