package index

import (
	"database/sql"
	"fmt"
	"log/slog"
)

const (
	table       = "bdlitems"
	legacyTable = "files"
)

// createTable is the canonical shape of the item table. Loading validates
// live databases against it, column by column.
const createTable = `
CREATE TABLE bdlitems (
	position INTEGER PRIMARY KEY,
	url TEXT,
	filename TEXT,
	extension TEXT,
	storename TEXT,
	hashed TEXT,
	metadata TEXT
)`

// SchemaError indicates a database whose layout could not be brought up to
// the canonical shape by the in-place migration.
type SchemaError struct {
	Path    string
	Missing []string
	Invalid []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("index %s: schema mismatch (missing columns: %v, invalid columns: %v)",
		e.Path, e.Missing, e.Invalid)
}

type column struct {
	cid     int
	name    string
	ctype   string
	notNull int
	dflt    sql.NullString
	pk      int
}

func tableColumns(db *sql.DB, name string) ([]column, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", name))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", name, err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.cid, &c.name, &c.ctype, &c.notNull, &c.dflt, &c.pk); err != nil {
			return nil, fmt.Errorf("table_info %s: %w", name, err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// referenceColumns builds a throwaway in-memory database from the canonical
// CREATE statement and reads the column layout back from it.
func referenceColumns() ([]column, error) {
	ref, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open reference db: %w", err)
	}
	defer ref.Close()

	if _, err := ref.Exec(createTable); err != nil {
		return nil, fmt.Errorf("apply reference schema: %w", err)
	}
	return tableColumns(ref, table)
}

// validate diffs the live table layout against the canonical one. A column
// is missing when the live table lacks it, invalid when its position, type
// or constraints differ, or when the live table carries it but the
// canonical shape does not.
func validate(db *sql.DB) (missing, invalid []string, err error) {
	ref, err := referenceColumns()
	if err != nil {
		return nil, nil, err
	}
	live, err := tableColumns(db, table)
	if err != nil {
		return nil, nil, err
	}

	byName := make(map[string]column, len(live))
	for _, c := range live {
		byName[c.name] = c
	}
	for _, want := range ref {
		got, ok := byName[want.name]
		if !ok {
			missing = append(missing, want.name)
			continue
		}
		if got != want {
			invalid = append(invalid, want.name)
		}
		delete(byName, want.name)
	}
	for _, c := range live {
		if _, leftover := byName[c.name]; leftover {
			invalid = append(invalid, c.name)
		}
	}
	return missing, invalid, nil
}

// migrate repairs the database layout in place: the legacy table name is
// taken over when present, an absent table is created fresh, and each
// missing column is added with its own ALTER. Every step runs in its own
// transaction so a failure leaves all prior steps applied.
func migrate(db *sql.DB, log *slog.Logger) error {
	hasTable, err := tableExists(db, table)
	if err != nil {
		return err
	}
	if !hasTable {
		hasLegacy, err := tableExists(db, legacyTable)
		if err != nil {
			return err
		}
		if !hasLegacy {
			if err := execStep(db, createTable); err != nil {
				return fmt.Errorf("create table: %w", err)
			}
			return nil
		}
		log.Info("renaming legacy table", "from", legacyTable, "to", table)
		stmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", legacyTable, table)
		if err := execStep(db, stmt); err != nil {
			return fmt.Errorf("rename legacy table: %w", err)
		}
	}

	ref, err := referenceColumns()
	if err != nil {
		return err
	}
	live, err := tableColumns(db, table)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(live))
	for _, c := range live {
		have[c.name] = true
	}
	for _, c := range ref {
		if have[c.name] {
			continue
		}
		log.Info("adding column", "column", c.name, "type", c.ctype)
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.ctype)
		if err := execStep(db, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", c.name, err)
		}
	}
	return nil
}

func execStep(db *sql.DB, stmt string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(stmt); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func tableExists(db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlite_master: %w", err)
	}
	return count > 0, nil
}
