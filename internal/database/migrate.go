package database

import (
	"database/sql"
	"fmt"
	"log"
)

// schemaVersion reads PRAGMA user_version.
func schemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// hasThreadsTable reports whether an unversioned file already holds the
// threads table, as stores written by early builds do.
func hasThreadsTable(conn *sql.DB) (bool, error) {
	var n int
	err := conn.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'threads'",
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspecting schema: %w", err)
	}
	return n > 0, nil
}

// migrate applies every migration newer than the stored user_version.
func migrate(conn *sql.DB) error {
	current, err := schemaVersion(conn)
	if err != nil {
		return err
	}

	if current == 0 {
		unversioned, err := hasThreadsTable(conn)
		if err != nil {
			return err
		}
		if unversioned {
			// The initial migration is idempotent DDL; running it fills in
			// any table or index the early store lacks.
			log.Printf("Found unversioned HFI store, upgrading from version 0")
		}
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(conn, m); err != nil {
			return err
		}
		current = m.Version
	}
	return nil
}

func apply(conn *sql.DB, m Migration) error {
	log.Printf("Applying schema migration %d: %s", m.Version, m.Description)

	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	if err := m.Up(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}

	// modernc/sqlite does not take user_version inside a transaction.
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("recording version %d: %w", m.Version, err)
	}
	return nil
}
