package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/arachne-bridge/arachne/internal/keystore"

	_ "modernc.org/sqlite"
)

// SQLiteRegistry implements Registry backed by an embedded sqlite database file, using plain
// database/sql with hand-written SELECT column lists as named constants and JSON columns
// decoded at the boundary.
type SQLiteRegistry struct {
	db                *sql.DB
	keys              *keystore.Store
	maxActivePerOwner int
}

// Open opens (creating if necessary) the sqlite database at path and applies any pending
// schema migrations. keys is the Key Store to populate on successful authentication, which
// derives the encryption key and installs it there.
func Open(ctx context.Context, path string, keys *keystore.Store) (*SQLiteRegistry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer file, avoid SQLITE_BUSY storms

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteRegistry{db: db, keys: keys, maxActivePerOwner: DefaultMaxActiveEntitiesPerOwner}, nil
}

// WithMaxActivePerOwner overrides the per-owner active-entity cap (default 5).
func (r *SQLiteRegistry) WithMaxActivePerOwner(n int) *SQLiteRegistry {
	r.maxActivePerOwner = n
	return r
}

// Close closes the underlying database handle.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

func encodeSet(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func decodeSet(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func containsStr(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
