package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/samber/lo"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the bundled SQLite schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migration is one "<version>_<description>.sql" file.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// MigrationManager applies pending migrations and records them in
// schema_migrations.
// FUNCTIONAL DISCOVERY: Migrations ship inside the binary, so a fresh deployment
// needs nothing on disk besides the database file itself
type MigrationManager struct {
	db         *sql.DB
	migrations fs.FS
}

func NewMigrationManager(db *sql.DB, migrations fs.FS) *MigrationManager {
	return &MigrationManager{db: db, migrations: migrations}
}

// ApplyMigrations runs every migration not yet recorded, oldest first, each
// in its own transaction. It returns how many ran before any failure.
func (m *MigrationManager) ApplyMigrations() (int, error) {
	if _, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	all, err := m.loadMigrations()
	if err != nil {
		return 0, fmt.Errorf("load migrations: %w", err)
	}
	applied, err := m.getAppliedMigrations()
	if err != nil {
		return 0, fmt.Errorf("read applied migrations: %w", err)
	}

	pending := lo.Reject(all, func(mig Migration, _ int) bool {
		return lo.Contains(applied, mig.Version)
	})
	for i, mig := range pending {
		if err := m.apply(mig); err != nil {
			return i, fmt.Errorf("migration %s_%s: %w", mig.Version, mig.Description, err)
		}
	}
	return len(pending), nil
}

// ValidateSchema checks the migrated database with a SchemaValidator.
func (m *MigrationManager) ValidateSchema() error {
	return NewSchemaValidator(m.db).Validate()
}

func (m *MigrationManager) loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.migrations, ".")
	if err != nil {
		return nil, err
	}

	files := lo.FilterMap(entries, func(e fs.DirEntry, _ int) (string, bool) {
		return e.Name(), !e.IsDir() && path.Ext(e.Name()) == ".sql"
	})
	sort.Strings(files)

	migrations := make([]Migration, 0, len(files))
	for _, name := range files {
		content, err := fs.ReadFile(m.migrations, name)
		if err != nil {
			return nil, err
		}
		version, rest, _ := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		migrations = append(migrations, Migration{
			Version:     version,
			Description: rest,
			SQL:         string(content),
		})
	}
	return migrations, nil
}

func (m *MigrationManager) getAppliedMigrations() ([]string, error) {
	rows, err := m.db.Query(`SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (m *MigrationManager) apply(mig Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(mig.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, mig.Version); err != nil {
		return err
	}
	return tx.Commit()
}
