//go:build ignore

// Offline migration of legacy repository indexes: indexes written before
// the table rename keep their rows in a "files" table with a column subset.
// Loading such an index migrates it in place; this script does that for one
// or more repository paths without touching the remote side.
//
// Usage: go run scripts/migrate_legacy_index.go [--dry-run] <path>...
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/bdl/internal/index"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report what would migrate, change nothing")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate_legacy_index.go [--dry-run] <path>...")
		os.Exit(1)
	}

	failed := false
	for _, path := range flag.Args() {
		if err := migratePath(path, *dryRun); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func migratePath(path string, dryRun bool) error {
	dbPath := filepath.Join(path, ".bdl", "index.sqlite")
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("not a repository: %w", err)
	}

	legacy, err := hasLegacyTable(dbPath)
	if err != nil {
		return err
	}
	if !legacy {
		fmt.Printf("%s: already current\n", path)
		return nil
	}
	if dryRun {
		fmt.Printf("%s: legacy index, would migrate\n", path)
		return nil
	}

	// Load runs the in-place migration and validates the result.
	idx := index.New(dbPath)
	if err := idx.Load(); err != nil {
		return err
	}
	if err := idx.Unload(); err != nil {
		return err
	}
	fmt.Printf("%s: migrated\n", path)
	return nil
}

func hasLegacyTable(dbPath string) (bool, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'files'",
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
