package index

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/bdl/internal/item"
)

// seedDatabase creates a database file with an arbitrary layout, bypassing
// Create, to simulate indexes written by older versions.
func seedDatabase(t *testing.T, path string, stmts ...string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open seed db: %v", err)
	}
	defer db.Close()
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
}

func TestLoadMigratesLegacyTable(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "index.sqlite")
	seedDatabase(t, path,
		`CREATE TABLE files (
			position INTEGER PRIMARY KEY,
			url TEXT,
			filename TEXT,
			extension TEXT,
			storename TEXT,
			hashed TEXT
		)`,
		`INSERT INTO files VALUES (1, 'http://host/a.mp3', 'a', 'mp3', '1.mp3', 'aaa')`,
		`INSERT INTO files VALUES (2, 'http://host/b.mp3', 'b', 'mp3', '2.mp3', 'bbb')`,
	)

	x := New(path)
	if err := x.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer x.Unload()

	entries, err := x.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 surviving rows", len(entries))
	}
	if entries[0].Position != 1 || entries[0].Item.URL() != "http://host/a.mp3" {
		t.Errorf("first entry = (%d, %q), want (1, a.mp3 url)", entries[0].Position, entries[0].Item.URL())
	}
	if entries[0].Item.Metadata().Len() != 0 {
		t.Errorf("migrated row metadata len = %d, want 0", entries[0].Item.Metadata().Len())
	}

	// The counter continues past the migrated rows.
	name, err := x.Store(item.New("http://host/c.mp3", item.WithContent([]byte("ccc"))), root, false)
	if err != nil {
		t.Fatalf("Store after migration: %v", err)
	}
	if name != "3.mp3" {
		t.Errorf("storename = %q, want %q", name, "3.mp3")
	}
}

func TestLoadAddsMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	seedDatabase(t, path,
		`CREATE TABLE bdlitems (
			position INTEGER PRIMARY KEY,
			url TEXT,
			filename TEXT,
			extension TEXT,
			storename TEXT,
			hashed TEXT
		)`,
		`INSERT INTO bdlitems VALUES (1, 'http://host/a.mp3', 'a', 'mp3', '1.mp3', 'aaa')`,
	)

	x := New(path)
	if err := x.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer x.Unload()

	entries, err := x.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Item.Hashed() != "aaa" {
		t.Errorf("hash = %q, want preserved %q", entries[0].Item.Hashed(), "aaa")
	}
}

func TestLoadCreatesTableInEmptyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("create empty file: %v", err)
	}

	x := New(path)
	if err := x.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer x.Unload()

	count, err := x.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestLoadRejectsUnmigratableSchema(t *testing.T) {
	tests := []struct {
		name string
		ddl  string
	}{
		{
			"wrong column type",
			`CREATE TABLE bdlitems (
				position TEXT PRIMARY KEY,
				url TEXT,
				filename TEXT,
				extension TEXT,
				storename TEXT,
				hashed TEXT,
				metadata TEXT
			)`,
		},
		{
			"extra column",
			`CREATE TABLE bdlitems (
				position INTEGER PRIMARY KEY,
				url TEXT,
				filename TEXT,
				extension TEXT,
				storename TEXT,
				hashed TEXT,
				metadata TEXT,
				junk TEXT
			)`,
		},
		{
			"columns out of order",
			`CREATE TABLE bdlitems (
				position INTEGER PRIMARY KEY,
				filename TEXT,
				url TEXT,
				extension TEXT,
				storename TEXT,
				hashed TEXT,
				metadata TEXT
			)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "index.sqlite")
			seedDatabase(t, path, tt.ddl)

			x := New(path)
			err := x.Load()
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("Load err = %v, want SchemaError", err)
			}
			if x.Loaded() {
				t.Error("index loaded despite schema error")
			}
		})
	}
}
