// Package archive keeps a durable, append-only record of every accepted
// contribution in SQLite. The in-memory ledger is bounded; the archive
// preserves the full auditable history beyond the ledger window and is
// consumed read-only by external query tooling.
package archive

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Codevena/aibuilds/internal/ledger"
)

// DB wraps a sql.DB connection to the archive database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the archive database at path and runs migrations.
func Open(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates the contributions table if it does not already exist.
func (d *DB) migrate() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS contributions (
			id         TEXT PRIMARY KEY,
			ts         INTEGER NOT NULL,
			agent_name TEXT NOT NULL,
			action     TEXT NOT NULL,
			file_path  TEXT NOT NULL,
			message    TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_contributions_agent ON contributions(agent_name);
	`)
	return err
}

// Insert records one accepted contribution. Inserting the same id twice is
// an error; ids are process-generated UUIDs.
func (d *DB) Insert(c *ledger.Contribution) error {
	_, err := d.db.Exec(
		`INSERT INTO contributions (id, ts, agent_name, action, file_path, message)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Timestamp.Unix(), c.AgentName, c.Action, c.FilePath, c.Message,
	)
	if err != nil {
		return fmt.Errorf("insert contribution: %w", err)
	}
	return nil
}

// Count returns the total number of archived contributions.
func (d *DB) Count() (int, error) {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM contributions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count contributions: %w", err)
	}
	return n, nil
}

// CountByAgent returns the total number of archived contributions for one
// agent, across the full history.
func (d *DB) CountByAgent(agentName string) (int, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM contributions WHERE agent_name = ?`, agentName,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count contributions for %s: %w", agentName, err)
	}
	return n, nil
}
