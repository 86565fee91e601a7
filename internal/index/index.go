// Package index implements the durable, position-ordered item store backing
// a repository: one sqlite database holding one row per known URL.
package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/bdl/internal/item"
	"github.com/example/bdl/internal/logging"
)

// ErrNotLoaded indicates an operation on an index that is not loaded.
var ErrNotLoaded = errors.New("index not loaded")

// Entry is one indexed row: the reconstructed item and its position.
type Entry struct {
	Item     *item.Item
	Position int64
}

// Index is the durable item store of one repository. While loaded it holds
// an open transaction: reads observe writes from the current pass, and
// nothing is durable until Commit or Unload.
type Index struct {
	path     string
	template string
	db       *sql.DB
	tx       *sql.Tx
	position int64
	log      *slog.Logger
}

// Option configures an Index during construction.
type Option func(*Index)

// WithLogName labels the index's log output, typically with the
// repository name.
func WithLogName(name string) Option {
	return func(x *Index) { x.log = logging.For("index", name) }
}

// New returns an Index backed by the database file at path. The store is
// unusable until Create and Load ran.
func New(path string, opts ...Option) *Index {
	x := &Index{
		path:     path,
		template: DefaultTemplate,
		log:      logging.For("index", filepath.Base(path)),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Path returns the backing database file path.
func (x *Index) Path() string { return x.path }

// Template returns the active storename template.
func (x *Index) Template() string { return x.template }

// SetTemplate replaces the storename template. Empty values are ignored.
func (x *Index) SetTemplate(template string) {
	if template == "" {
		return
	}
	x.template = template
}

// Loaded reports whether the store is open.
func (x *Index) Loaded() bool { return x.db != nil }

// Create initializes the backing database file with the canonical table.
// It does nothing when the file already exists.
func (x *Index) Create() error {
	if _, err := os.Stat(x.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat index %s: %w", x.path, err)
	}

	db, err := sql.Open("sqlite3", x.path)
	if err != nil {
		return fmt.Errorf("create index %s: %w", x.path, err)
	}
	defer db.Close()

	if _, err := db.Exec(createTable); err != nil {
		return fmt.Errorf("create index %s: %w", x.path, err)
	}
	x.log.Debug("index created", "path", x.path)
	return nil
}

// Load opens the backing database, bringing a legacy or partial layout up
// to the canonical shape first. After a successful load the store holds an
// open transaction and the position counter continues from the highest
// stored position. Loading a loaded store is a no-op.
func (x *Index) Load() error {
	if x.db != nil {
		return nil
	}
	if _, err := os.Stat(x.path); err != nil {
		return fmt.Errorf("open index %s: %w", x.path, err)
	}

	db, err := sql.Open("sqlite3", x.path)
	if err != nil {
		return fmt.Errorf("open index %s: %w", x.path, err)
	}

	if err := x.ensureSchema(db); err != nil {
		db.Close()
		return err
	}

	var last sql.NullInt64
	if err := db.QueryRow("SELECT MAX(position) FROM " + table).Scan(&last); err != nil {
		db.Close()
		return fmt.Errorf("read last position: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return fmt.Errorf("begin index transaction: %w", err)
	}

	x.db = db
	x.tx = tx
	x.position = last.Int64
	x.log.Debug("index loaded", "path", x.path, "last_position", x.position)
	return nil
}

func (x *Index) ensureSchema(db *sql.DB) error {
	missing, invalid, err := validate(db)
	if err != nil {
		return err
	}
	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}

	x.log.Info("index schema outdated, migrating", "missing", missing, "invalid", invalid)
	if err := migrate(db, x.log); err != nil {
		return fmt.Errorf("migrate index %s: %w", x.path, err)
	}

	missing, invalid, err = validate(db)
	if err != nil {
		return err
	}
	if len(missing) > 0 || len(invalid) > 0 {
		return &SchemaError{Path: x.path, Missing: missing, Invalid: invalid}
	}
	return nil
}

// Commit makes all writes of the current pass durable and opens a fresh
// transaction for the next one.
func (x *Index) Commit() error {
	if x.tx == nil {
		return nil
	}
	if err := x.tx.Commit(); err != nil {
		x.tx = nil
		return fmt.Errorf("commit index %s: %w", x.path, err)
	}
	tx, err := x.db.Begin()
	if err != nil {
		x.tx = nil
		return fmt.Errorf("begin index transaction: %w", err)
	}
	x.tx = tx
	return nil
}

// Unload commits outstanding writes and closes the database. Unloading an
// unloaded store is a no-op.
func (x *Index) Unload() error {
	if x.db == nil {
		return nil
	}
	var commitErr error
	if x.tx != nil {
		commitErr = x.tx.Commit()
	}
	closeErr := x.db.Close()
	x.db, x.tx = nil, nil

	if commitErr != nil {
		return fmt.Errorf("commit index %s: %w", x.path, commitErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close index %s: %w", x.path, closeErr)
	}
	return nil
}

// HasItem reports whether the item's URL is indexed, and under which
// position. The position is -1 when absent.
func (x *Index) HasItem(it *item.Item) (bool, int64, error) {
	if x.tx == nil {
		return false, -1, ErrNotLoaded
	}
	var pos int64
	err := x.tx.QueryRow("SELECT position FROM "+table+" WHERE url = ?", it.URL()).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return false, -1, nil
	}
	if err != nil {
		return false, -1, fmt.Errorf("lookup %s: %w", it.URL(), err)
	}
	return true, pos, nil
}

// Count returns the number of indexed items.
func (x *Index) Count() (int, error) {
	if x.tx == nil {
		return 0, ErrNotLoaded
	}
	var count int
	if err := x.tx.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

// GetFirst returns the lowest-positioned item, or nil when the index is
// empty.
func (x *Index) GetFirst() (*item.Item, int64, error) {
	return x.edge("ASC")
}

// GetLast returns the highest-positioned item, or nil when the index is
// empty.
func (x *Index) GetLast() (*item.Item, int64, error) {
	return x.edge("DESC")
}

func (x *Index) edge(direction string) (*item.Item, int64, error) {
	if x.tx == nil {
		return nil, 0, ErrNotLoaded
	}
	row := x.tx.QueryRow(selectColumns + " ORDER BY position " + direction + " LIMIT 1")
	entry, err := x.scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return entry.Item, entry.Position, nil
}

// GetAll returns every indexed entry in position order.
func (x *Index) GetAll() ([]Entry, error) {
	if x.tx == nil {
		return nil, ErrNotLoaded
	}
	rows, err := x.tx.Query(selectColumns + " ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := x.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

const selectColumns = "SELECT position, url, filename, extension, storename, hashed, metadata FROM " + table

type rowScanner interface {
	Scan(dest ...any) error
}

func (x *Index) scanEntry(row rowScanner) (Entry, error) {
	var (
		pos                                    int64
		url                                    string
		filename, extension, storename, hashed sql.NullString
		meta                                   sql.NullString
	)
	if err := row.Scan(&pos, &url, &filename, &extension, &storename, &hashed, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan item row: %w", err)
	}
	it := item.New(url,
		item.WithFilename(filename.String),
		item.WithExtension(extension.String),
		item.WithStorename(storename.String),
		item.WithHash(hashed.String),
		item.WithMetadata(x.decodeMetadata(url, meta.String)),
	)
	return Entry{Item: it, Position: pos}, nil
}

func (x *Index) decodeMetadata(url, raw string) *item.Metadata {
	meta := item.NewMetadata()
	if raw == "" {
		return meta
	}
	if err := json.Unmarshal([]byte(raw), meta); err != nil {
		// A corrupt column loses its metadata but never blocks the row.
		x.log.Debug("dropping corrupt metadata", "url", url, "error", err)
		return item.NewMetadata()
	}
	return meta
}

func encodeMetadata(meta *item.Metadata) (string, error) {
	if meta.Len() == 0 {
		return "", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Store indexes it and writes its payload under root. A nil item is a
// no-op. An already indexed URL is only touched when update is set, in
// which case the row is refreshed under its existing position and the
// stored hash is kept. A new URL gets the next position. Returns the
// storename the payload was written under, or "" when nothing was stored.
func (x *Index) Store(it *item.Item, root string, update bool) (string, error) {
	if it == nil {
		return "", nil
	}
	if x.tx == nil {
		return "", ErrNotLoaded
	}

	indexed, pos, err := x.HasItem(it)
	if err != nil {
		return "", err
	}
	if indexed && !update {
		x.log.Debug("already indexed, skipping", "url", it.URL(), "position", pos)
		return "", nil
	}

	meta, err := encodeMetadata(it.Metadata())
	if err != nil {
		return "", fmt.Errorf("encode metadata for %s: %w", it.URL(), err)
	}

	var storename string
	if indexed {
		storename = BuildStorename(it, pos, x.template)
		it.SetStorename(storename)
		_, err = x.tx.Exec(
			"UPDATE "+table+" SET filename = ?, extension = ?, storename = ?, metadata = ? WHERE position = ?",
			it.Filename(), it.Extension(), storename, meta, pos,
		)
		if err != nil {
			return "", fmt.Errorf("update %s: %w", it.URL(), err)
		}
	} else {
		pos = x.position + 1
		storename = BuildStorename(it, pos, x.template)
		it.SetStorename(storename)
		_, err = x.tx.Exec(
			"INSERT INTO "+table+" (position, url, filename, extension, storename, hashed, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)",
			pos, it.URL(), it.Filename(), it.Extension(), storename, it.Hashed(), meta,
		)
		if err != nil {
			return "", fmt.Errorf("insert %s: %w", it.URL(), err)
		}
		x.position = pos
	}

	if err := x.writePayload(it, root, storename); err != nil {
		return "", err
	}
	x.log.Debug("stored", "url", it.URL(), "position", pos, "storename", storename)
	return storename, nil
}

func (x *Index) writePayload(it *item.Item, root, storename string) error {
	dest := filepath.Join(root, storename)
	if it.HasTempFile() {
		if err := moveFile(it.TempFile(), dest); err != nil {
			return fmt.Errorf("move payload for %s: %w", it.URL(), err)
		}
		return nil
	}
	if err := os.WriteFile(dest, it.Content(), 0644); err != nil {
		return fmt.Errorf("write payload for %s: %w", it.URL(), err)
	}
	return nil
}

// Rename recomputes every storename under template and moves the stored
// files to their new names. Entries whose current file is missing on disk
// are logged and skipped. The template becomes the index template for
// subsequent stores. An empty template re-renders under the current one.
func (x *Index) Rename(root, template string) error {
	if x.tx == nil {
		return ErrNotLoaded
	}
	if template == "" {
		template = x.template
	}

	entries, err := x.GetAll()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		oldName := entry.Item.Storename()
		newName := BuildStorename(entry.Item, entry.Position, template)
		if newName == oldName {
			continue
		}
		_, err := x.tx.Exec("UPDATE "+table+" SET storename = ? WHERE position = ?", newName, entry.Position)
		if err != nil {
			return fmt.Errorf("rename position %d: %w", entry.Position, err)
		}
		if oldName == "" {
			x.log.Warn("no stored file to rename", "url", entry.Item.URL(), "position", entry.Position)
			continue
		}
		oldPath := filepath.Join(root, oldName)
		if _, err := os.Stat(oldPath); errors.Is(err, fs.ErrNotExist) {
			x.log.Warn("stored file missing, skipping", "storename", oldName, "url", entry.Item.URL())
			continue
		} else if err != nil {
			return fmt.Errorf("stat %s: %w", oldPath, err)
		}
		if err := moveFile(oldPath, filepath.Join(root, newName)); err != nil {
			return fmt.Errorf("move %s to %s: %w", oldName, newName, err)
		}
	}
	x.template = template
	return nil
}

// moveFile renames src onto dest, falling back to copy and remove when
// rename fails, e.g. across filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
