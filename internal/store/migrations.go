// Schema migrations are plain SQL scripts named with a date prefix and
// applied in lexical order. Applied names are recorded in schema_migrations
// so reruns are no-ops; `migrate-db <name>` applies a single script.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	"hhpilot/internal/logging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// MigrationNames lists the embedded migration scripts in apply order.
func MigrationNames() ([]string, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".sql"))
	}
	sort.Strings(names)
	return names, nil
}

// Migrate applies every pending migration in lexical order.
func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return err
	}

	names, err := MigrationNames()
	if err != nil {
		return wrapErr("migrate", err)
	}

	applied := 0
	for _, name := range names {
		ran, err := s.ApplyMigration(name)
		if err != nil {
			return err
		}
		if ran {
			applied++
		}
	}
	if applied > 0 {
		logging.Store("migrations complete: applied=%d, total=%d", applied, len(names))
	}
	return nil
}

// ApplyMigration runs a single named script if it has not been applied yet,
// reporting whether it ran.
func (s *Store) ApplyMigration(name string) (bool, error) {
	if err := s.ensureMigrationsTable(); err != nil {
		return false, err
	}

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE name = ?", name).Scan(&count)
	if err != nil {
		return false, wrapErr("migrate", err)
	}
	if count > 0 {
		return false, nil
	}

	script, err := migrationFS.ReadFile("migrations/" + name + ".sql")
	if err != nil {
		return false, wrapErr("migrate", fmt.Errorf("unknown migration %q: %w", name, err))
	}

	logging.Store("applying migration %s", name)
	tx, err := s.db.Begin()
	if err != nil {
		return false, wrapErr("migrate", err)
	}
	if _, err := tx.Exec(string(script)); err != nil {
		tx.Rollback()
		return false, wrapErr("migrate", fmt.Errorf("migration %s: %w", name, err))
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (name) VALUES (?)", name); err != nil {
		tx.Rollback()
		return false, wrapErr("migrate", err)
	}
	return true, wrapErr("migrate", tx.Commit())
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	return wrapErr("migrate", err)
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
