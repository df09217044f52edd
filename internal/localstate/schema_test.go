package localstate

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestEnsureSQLiteSchema_Idempotent(t *testing.T) {
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, EnsureSQLiteSchema(db))
	require.NoError(t, EnsureSQLiteSchema(db))

	for _, table := range []string{"calendars", "events", "external_event_mappings", "external_calendar_mappings", "provider_connections"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestEnsureSQLiteSchema_AddsMappingOwnerToOldTables(t *testing.T) {
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "old.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec(`CREATE TABLE external_event_mappings (
        event_id INTEGER NOT NULL,
        provider TEXT NOT NULL,
        external_id TEXT NOT NULL,
        created_at TIMESTAMP NOT NULL,
        updated_at TIMESTAMP NOT NULL,
        PRIMARY KEY(event_id, provider)
    )`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO external_event_mappings VALUES (1, 'google', 'g-1', '2024-01-01', '2024-01-01')`)
	require.NoError(t, err)

	require.NoError(t, EnsureSQLiteSchema(db))
	require.NoError(t, EnsureSQLiteSchema(db))

	var owner string
	require.NoError(t, db.QueryRow(`SELECT user_id FROM external_event_mappings WHERE event_id=1`).Scan(&owner))
	require.Equal(t, "", owner)
}
