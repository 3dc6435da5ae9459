package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/username/brokerbridge/backend/src/logger"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS webhook_events (
	event_id TEXT PRIMARY KEY,
	type TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	account_id TEXT NOT NULL DEFAULT '',
	payload BLOB,
	received_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS connection_states (
	user_id TEXT NOT NULL,
	authorization_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	event_type TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, authorization_id)
);

CREATE TABLE IF NOT EXISTS account_syncs (
	account_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL DEFAULT '',
	synced_at TIMESTAMP NOT NULL,
	PRIMARY KEY (account_id, kind)
);

CREATE TABLE IF NOT EXISTS bridge_users (
	user_id TEXT PRIMARY KEY,
	secret_hash TEXT NOT NULL DEFAULT '',
	registered_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// Columns added after the first release; older databases gain them on startup.
var lateColumns = map[string][]column{
	"webhook_events":    {{name: "payload", ddl: "payload BLOB"}},
	"connection_states": {{name: "event_type", ddl: "event_type TEXT NOT NULL DEFAULT ''"}},
	"account_syncs":     {{name: "user_id", ddl: "user_id TEXT NOT NULL DEFAULT ''"}},
	"bridge_users":      {{name: "updated_at", ddl: "updated_at TIMESTAMP"}},
}

type column struct {
	name string
	ddl  string
}

// InitDB opens the SQLite database at databasePath and ensures its schema.
// Writes are serialized through a single connection.
func InitDB(databasePath string) (*sql.DB, error) {
	dsn := databasePath
	if !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", databasePath, err)
	}
	db.SetMaxOpenConns(1)

	logger.L.Info("Checking database migrations", "databasePath", databasePath)
	for table, cols := range lateColumns {
		if err := migrateTable(db, table, cols); err != nil {
			db.Close()
			return nil, err
		}
	}

	if _, err := db.Exec(schema); err != nil {
		logger.L.Error("failed to create tables", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	logger.L.Info("Database tables ensured/created.")
	return db, nil
}

// migrateTable adds any missing late columns to an existing table. A table that does not
// exist yet is left to the schema statement.
func migrateTable(db *sql.DB, table string, cols []column) error {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	if err == sql.ErrNoRows {
		logger.L.Debug("Table does not exist yet, no migration needed", "table", table)
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking for table %s: %w", table, err)
	}

	existing, err := tableColumns(db, table)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if existing[c.name] {
			continue
		}
		if _, err := db.Exec("ALTER TABLE " + table + " ADD COLUMN " + c.ddl); err != nil {
			logger.L.Error("Error adding column", "table", table, "column", c.name, "error", err)
			return fmt.Errorf("adding column %s.%s: %w", table, c.name, err)
		}
		logger.L.Info("Added column", "table", table, "column", c.name)
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return nil, fmt.Errorf("querying table schema for %s: %w", table, err)
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scanning column info for %s: %w", table, err)
		}
		columnExists[name] = true
	}
	return columnExists, rows.Err()
}
