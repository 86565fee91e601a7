package index

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/bdl/internal/item"
)

// newTestIndex creates and loads an index in a fresh temp directory. The
// directory doubles as the repository root for stored payloads.
func newTestIndex(t *testing.T) (*Index, string) {
	t.Helper()
	root := t.TempDir()
	x := New(filepath.Join(root, "index.sqlite"))
	if err := x.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := x.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { x.Unload() })
	return x, root
}

func storeItem(t *testing.T, x *Index, root, url string, content []byte) string {
	t.Helper()
	name, err := x.Store(item.New(url, item.WithContent(content)), root, false)
	if err != nil {
		t.Fatalf("Store(%s): %v", url, err)
	}
	return name
}

func TestCreateIdempotent(t *testing.T) {
	root := t.TempDir()
	x := New(filepath.Join(root, "index.sqlite"))

	if err := x.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := x.Create(); err != nil {
		t.Fatalf("second Create: %v", err)
	}
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

func TestLoadMissingFile(t *testing.T) {
	x := New(filepath.Join(t.TempDir(), "index.sqlite"))
	if err := x.Load(); err == nil {
		t.Fatal("Load on missing file succeeded, want error")
	}
}

func TestStoreAssignsAscendingPositions(t *testing.T) {
	x, root := newTestIndex(t)

	first := storeItem(t, x, root, "http://host/a.mp3", []byte("aaa"))
	second := storeItem(t, x, root, "http://host/b.flac", []byte("bbb"))

	if first != "1.mp3" {
		t.Errorf("first storename = %q, want %q", first, "1.mp3")
	}
	if second != "2.flac" {
		t.Errorf("second storename = %q, want %q", second, "2.flac")
	}

	for _, name := range []string{first, second} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("stored file %s: %v", name, err)
		}
	}

	firstItem, pos, err := x.GetFirst()
	if err != nil {
		t.Fatalf("GetFirst: %v", err)
	}
	if pos != 1 || firstItem.URL() != "http://host/a.mp3" {
		t.Errorf("GetFirst = (%q, %d), want (a.mp3 url, 1)", firstItem.URL(), pos)
	}
	lastItem, pos, err := x.GetLast()
	if err != nil {
		t.Fatalf("GetLast: %v", err)
	}
	if pos != 2 || lastItem.URL() != "http://host/b.flac" {
		t.Errorf("GetLast = (%q, %d), want (b.flac url, 2)", lastItem.URL(), pos)
	}
}

func TestStoreNilItem(t *testing.T) {
	x, root := newTestIndex(t)

	name, err := x.Store(nil, root, false)
	if err != nil {
		t.Fatalf("Store(nil): %v", err)
	}
	if name != "" {
		t.Errorf("storename = %q, want empty", name)
	}
	count, _ := x.Count()
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestStoreIndexedWithoutUpdateIsNoop(t *testing.T) {
	x, root := newTestIndex(t)
	storeItem(t, x, root, "http://host/a.mp3", []byte("original"))

	name, err := x.Store(item.New("http://host/a.mp3", item.WithContent([]byte("changed"))), root, false)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if name != "" {
		t.Errorf("storename = %q, want empty", name)
	}

	count, _ := x.Count()
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	data, err := os.ReadFile(filepath.Join(root, "1.mp3"))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "original" {
		t.Errorf("stored content = %q, want %q (re-ingestion must not touch the payload)", data, "original")
	}
}

func TestStoreUpdateKeepsPositionAndHash(t *testing.T) {
	x, root := newTestIndex(t)

	original := item.New("http://host/a.mp3", item.WithContent([]byte("v1")))
	originalHash := original.Hashed()
	if _, err := x.Store(original, root, false); err != nil {
		t.Fatalf("Store: %v", err)
	}
	storeItem(t, x, root, "http://host/b.mp3", []byte("bbb"))

	refreshed := item.New("http://host/a.mp3", item.WithContent([]byte("v2")))
	refreshed.Metadata().Set("take", "2")
	name, err := x.Store(refreshed, root, true)
	if err != nil {
		t.Fatalf("Store update: %v", err)
	}
	if name != "1.mp3" {
		t.Errorf("storename = %q, want %q (existing position)", name, "1.mp3")
	}

	count, _ := x.Count()
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	entries, err := x.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	got := entries[0].Item
	if got.Hashed() != originalHash {
		t.Errorf("hash = %q, want original %q (update keeps the stored hash)", got.Hashed(), originalHash)
	}
	if got.Metadata().Get("take") != "2" {
		t.Errorf("metadata take = %q, want %q", got.Metadata().Get("take"), "2")
	}
	data, _ := os.ReadFile(filepath.Join(root, "1.mp3"))
	if string(data) != "v2" {
		t.Errorf("payload = %q, want %q", data, "v2")
	}
}

func TestStoreTempFilePayload(t *testing.T) {
	x, root := newTestIndex(t)

	spool := filepath.Join(t.TempDir(), "spooled")
	if err := os.WriteFile(spool, []byte("spooled payload"), 0644); err != nil {
		t.Fatalf("write spool file: %v", err)
	}

	name, err := x.Store(item.New("http://host/big.iso", item.WithTempFile(spool)), root, false)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if _, err := os.Stat(spool); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("spool file still present after move: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, name))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "spooled payload" {
		t.Errorf("stored content = %q, want %q", data, "spooled payload")
	}

	entries, _ := x.GetAll()
	if got := entries[0].Item.Hashed(); got != "" {
		t.Errorf("hash = %q, want empty for spooled payload", got)
	}
}

func TestReadsObserveUncommittedWrites(t *testing.T) {
	x, root := newTestIndex(t)
	storeItem(t, x, root, "http://host/a.mp3", []byte("aaa"))

	indexed, pos, err := x.HasItem(item.New("http://host/a.mp3"))
	if err != nil {
		t.Fatalf("HasItem: %v", err)
	}
	if !indexed || pos != 1 {
		t.Errorf("HasItem = (%v, %d), want (true, 1) before commit", indexed, pos)
	}
}

func TestCommitMakesWritesDurable(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "index.sqlite")

	x := New(path)
	if err := x.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := x.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	storeItem(t, x, root, "http://host/a.mp3", []byte("aaa"))
	if err := x.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	storeItem(t, x, root, "http://host/b.mp3", []byte("bbb"))
	if err := x.Unload(); err != nil {
		t.Fatalf("Unload: %v", err)
	}

	reopened := New(path)
	if err := reopened.Load(); err != nil {
		t.Fatalf("reopen Load: %v", err)
	}
	defer reopened.Unload()

	count, err := reopened.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("count after reopen = %d, want 2 (Unload commits)", count)
	}

	// New stores continue from the persisted position counter.
	name, err := reopened.Store(item.New("http://host/c.mp3", item.WithContent([]byte("ccc"))), root, false)
	if err != nil {
		t.Fatalf("Store after reopen: %v", err)
	}
	if name != "3.mp3" {
		t.Errorf("storename = %q, want %q", name, "3.mp3")
	}
}

func TestUnloadIdempotent(t *testing.T) {
	x, _ := newTestIndex(t)
	if err := x.Unload(); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if err := x.Unload(); err != nil {
		t.Fatalf("second Unload: %v", err)
	}
	if x.Loaded() {
		t.Error("Loaded() = true after Unload")
	}
}

func TestOperationsRequireLoad(t *testing.T) {
	x := New(filepath.Join(t.TempDir(), "index.sqlite"))

	if _, _, err := x.HasItem(item.New("http://host/a")); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("HasItem err = %v, want ErrNotLoaded", err)
	}
	if _, err := x.Count(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Count err = %v, want ErrNotLoaded", err)
	}
	if _, err := x.Store(item.New("http://host/a"), t.TempDir(), false); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Store err = %v, want ErrNotLoaded", err)
	}
	if err := x.Rename(t.TempDir(), ""); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Rename err = %v, want ErrNotLoaded", err)
	}
}

func TestGetFirstLastOnEmptyIndex(t *testing.T) {
	x, _ := newTestIndex(t)

	it, pos, err := x.GetFirst()
	if err != nil {
		t.Fatalf("GetFirst: %v", err)
	}
	if it != nil || pos != 0 {
		t.Errorf("GetFirst = (%v, %d), want (nil, 0)", it, pos)
	}
	it, pos, err = x.GetLast()
	if err != nil {
		t.Fatalf("GetLast: %v", err)
	}
	if it != nil || pos != 0 {
		t.Errorf("GetLast = (%v, %d), want (nil, 0)", it, pos)
	}
}

func TestSetTemplate(t *testing.T) {
	x := New(filepath.Join(t.TempDir(), "index.sqlite"))
	if x.Template() != DefaultTemplate {
		t.Errorf("template = %q, want default %q", x.Template(), DefaultTemplate)
	}
	x.SetTemplate("{filename}.{extension}")
	if x.Template() != "{filename}.{extension}" {
		t.Errorf("template = %q after SetTemplate", x.Template())
	}
	x.SetTemplate("")
	if x.Template() != "{filename}.{extension}" {
		t.Error("empty SetTemplate replaced the template")
	}
}

func TestRenameMovesStoredFiles(t *testing.T) {
	x, root := newTestIndex(t)
	storeItem(t, x, root, "http://host/alpha.mp3", []byte("aaa"))
	storeItem(t, x, root, "http://host/beta.mp3", []byte("bbb"))

	if err := x.Rename(root, "{filename}.{extension}"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	for _, name := range []string{"alpha.mp3", "beta.mp3"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("renamed file %s: %v", name, err)
		}
	}
	for _, name := range []string{"1.mp3", "2.mp3"} {
		if _, err := os.Stat(filepath.Join(root, name)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("old file %s still present", name)
		}
	}

	entries, err := x.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if entries[0].Item.Storename() != "alpha.mp3" || entries[1].Item.Storename() != "beta.mp3" {
		t.Errorf("storenames = %q, %q after rename",
			entries[0].Item.Storename(), entries[1].Item.Storename())
	}

	if x.Template() != "{filename}.{extension}" {
		t.Errorf("template = %q, want the rename template", x.Template())
	}

	// Subsequent stores use the new template.
	name, err := x.Store(item.New("http://host/gamma.mp3", item.WithContent([]byte("ccc"))), root, false)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if name != "gamma.mp3" {
		t.Errorf("storename = %q, want %q", name, "gamma.mp3")
	}
}

func TestRenameSkipsMissingFiles(t *testing.T) {
	x, root := newTestIndex(t)
	storeItem(t, x, root, "http://host/alpha.mp3", []byte("aaa"))
	storeItem(t, x, root, "http://host/beta.mp3", []byte("bbb"))

	if err := os.Remove(filepath.Join(root, "1.mp3")); err != nil {
		t.Fatalf("remove stored file: %v", err)
	}

	if err := x.Rename(root, "{filename}.{extension}"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "beta.mp3")); err != nil {
		t.Errorf("surviving file not renamed: %v", err)
	}
	entries, _ := x.GetAll()
	if entries[0].Item.Storename() != "alpha.mp3" {
		t.Errorf("row storename = %q, want updated even when the file is gone",
			entries[0].Item.Storename())
	}
}

func TestMetadataSurvivesRoundTrip(t *testing.T) {
	x, root := newTestIndex(t)

	it := item.New("http://host/track.mp3")
	it.Metadata().Set("artist", "Ensemble")
	it.Metadata().Set("album", "Premier")
	if _, err := x.Store(it, root, false); err != nil {
		t.Fatalf("Store: %v", err)
	}

	entries, err := x.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	meta := entries[0].Item.Metadata()
	keys := meta.Keys()
	if len(keys) != 2 || keys[0] != "artist" || keys[1] != "album" {
		t.Errorf("metadata keys = %v, want [artist album]", keys)
	}
	if meta.Get("artist") != "Ensemble" {
		t.Errorf("artist = %q, want %q", meta.Get("artist"), "Ensemble")
	}
}

func TestCorruptMetadataReadsAsEmpty(t *testing.T) {
	x, root := newTestIndex(t)
	storeItem(t, x, root, "http://host/a.mp3", []byte("aaa"))

	if _, err := x.tx.Exec("UPDATE bdlitems SET metadata = ? WHERE position = 1", "{not json"); err != nil {
		t.Fatalf("corrupt metadata column: %v", err)
	}

	entries, err := x.GetAll()
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if entries[0].Item.Metadata().Len() != 0 {
		t.Errorf("metadata len = %d, want 0 for corrupt column", entries[0].Item.Metadata().Len())
	}
}
