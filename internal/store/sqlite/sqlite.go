package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/mycelian/calsync/internal/localstate"
	"github.com/mycelian/calsync/internal/store/sqlstore"
)

const memoryPath = ":memory:"

// Open opens (or creates) a SQLite database at the given path and enables WAL journal mode.
// The special path ":memory:" yields a private in-memory database on a single connection.
func Open(path string) (*sql.DB, error) {
	var dsn string
	if path == memoryPath {
		dsn = "file::memory:?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	} else {
		// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == memoryPath {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New opens the database at path, applies the schema and returns the store.
func New(path string) (*sqlstore.Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := localstate.EnsureSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an already-migrated database.
func NewWithDB(db *sql.DB) *sqlstore.Store { return sqlstore.New(db, sqlstore.Question) }
