package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/samber/lo"
)

type tableSchema struct {
	name    string
	columns map[string]string // column -> declared type
}

// chatSchema is the layout the Manager scans into. date_created holds unix
// nanoseconds so ordering survives equal wall-clock seconds.
var chatSchema = []tableSchema{
	{
		name: "users",
		columns: map[string]string{
			"id":         "INTEGER",
			"username":   "TEXT",
			"first_name": "TEXT",
			"last_name":  "TEXT",
			"created_at": "DATETIME",
		},
	},
	{
		name: "chat_messages",
		columns: map[string]string{
			"id":           "INTEGER",
			"user_from":    "INTEGER",
			"user_to":      "INTEGER",
			"message":      "TEXT",
			"date_created": "INTEGER",
		},
	},
	{name: "schema_migrations"},
}

var chatIndexes = []string{
	"idx_chat_messages_pair",
	"idx_chat_messages_to_user",
	"idx_chat_messages_date_created",
}

// SchemaValidator checks a migrated SQLite file against chatSchema.
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check and reports all failures together.
func (v *SchemaValidator) Validate() error {
	return errors.Join(
		v.ValidateTablesExist(),
		v.ValidateTableStructure(),
		v.ValidateIndexes(),
		v.ValidateConstraints(),
	)
}

// ValidateTablesExist fails on the first missing table.
func (v *SchemaValidator) ValidateTablesExist() error {
	for _, table := range chatSchema {
		if err := v.requireObject("table", table.name); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTableStructure compares declared column types.
func (v *SchemaValidator) ValidateTableStructure() error {
	for _, table := range chatSchema {
		if len(table.columns) == 0 {
			continue
		}
		found, err := v.columnTypes(table.name)
		if err != nil {
			return fmt.Errorf("read columns of %s: %w", table.name, err)
		}
		for column, want := range table.columns {
			got, ok := found[column]
			switch {
			case !ok:
				return fmt.Errorf("%s.%s: column missing", table.name, column)
			case got != want:
				return fmt.Errorf("%s.%s: declared %s, want %s", table.name, column, got, want)
			}
		}
	}
	return nil
}

func (v *SchemaValidator) ValidateIndexes() error {
	for _, index := range chatIndexes {
		if err := v.requireObject("index", index); err != nil {
			return err
		}
	}
	return nil
}

// ValidateConstraints probes, inside a rolled-back transaction, that the
// database itself refuses messages between unknown users and blank bodies.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const probe = `INSERT INTO chat_messages (user_from, user_to, message, date_created) VALUES (-1, -2, ?, 0)`

	if _, err := tx.Exec(probe, "probe"); err == nil {
		return errors.New("chat_messages accepts unknown users: foreign keys not enforced")
	}
	if _, err := tx.Exec(`INSERT INTO users (id, username) VALUES (-1, '__probe_a'), (-2, '__probe_b')`); err != nil {
		return fmt.Errorf("create probe users: %w", err)
	}
	if _, err := tx.Exec(probe, "   "); err == nil {
		return errors.New("chat_messages accepts a blank message: check constraint missing")
	}
	return nil
}

func (v *SchemaValidator) requireObject(kind, name string) error {
	var count int
	err := v.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?`, kind, name).Scan(&count)
	if err != nil {
		return fmt.Errorf("look up %s %s: %w", kind, name, err)
	}
	if count == 0 {
		return fmt.Errorf("%s %s does not exist", kind, name)
	}
	return nil
}

type columnInfo struct {
	name     string
	declared string
}

func (v *SchemaValidator) columnTypes(table string) (map[string]string, error) {
	rows, err := v.db.Query(`SELECT name, type FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var cols []columnInfo
	for rows.Next() {
		var c columnInfo
		if err := rows.Scan(&c.name, &c.declared); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lo.SliceToMap(cols, func(c columnInfo) (string, string) {
		return c.name, c.declared
	}), nil
}
