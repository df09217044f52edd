package localstate

import (
	"database/sql"
)

// EnsureSQLiteSchema creates the calsync tables if they do not exist.
// Event mappings carry no foreign key to events: a mapping must outlive the
// local row until the outbound delete has reached the provider.
func EnsureSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calendars (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id TEXT NOT NULL,
            name TEXT NOT NULL,
            color TEXT NOT NULL DEFAULT '',
            is_default BOOLEAN NOT NULL DEFAULT 0,
            created_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS calendars_user_idx ON calendars(user_id);`,
		`CREATE TABLE IF NOT EXISTS events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id TEXT NOT NULL,
            calendar_id INTEGER NOT NULL REFERENCES calendars(id),
            title TEXT NOT NULL,
            description TEXT,
            start_time TIMESTAMP NOT NULL,
            end_time TIMESTAMP NOT NULL,
            location TEXT,
            all_day BOOLEAN NOT NULL DEFAULT 0,
            recurrence_rule TEXT,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_user_start_idx ON events(user_id, start_time);`,
		`CREATE TABLE IF NOT EXISTS external_event_mappings (
            event_id INTEGER NOT NULL,
            user_id TEXT NOT NULL DEFAULT '',
            provider TEXT NOT NULL,
            external_id TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL,
            PRIMARY KEY(event_id, provider)
        );`,
		`CREATE TABLE IF NOT EXISTS external_calendar_mappings (
            calendar_id INTEGER NOT NULL REFERENCES calendars(id),
            provider TEXT NOT NULL,
            external_calendar_id TEXT NOT NULL,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL,
            PRIMARY KEY(calendar_id, provider)
        );`,
		`CREATE TABLE IF NOT EXISTS provider_connections (
            user_id TEXT NOT NULL,
            provider TEXT NOT NULL,
            access_token TEXT NOT NULL,
            refresh_token TEXT,
            expires_at TIMESTAMP,
            feed_url TEXT,
            active BOOLEAN NOT NULL DEFAULT 1,
            updated_at TIMESTAMP NOT NULL,
            PRIMARY KEY(user_id, provider)
        );`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if err := addColumnIfMissing(db, "external_event_mappings", "user_id", `TEXT NOT NULL DEFAULT ''`); err != nil {
		return err
	}
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS external_event_mappings_ext_idx ON external_event_mappings(user_id, provider, external_id);`)
	return err
}

// addColumnIfMissing upgrades tables created by older releases.
func addColumnIfMissing(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_ = rows.Close()
	_, err = db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` ` + decl)
	return err
}
