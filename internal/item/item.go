// Package item defines the value entity for one unit of remote content and
// its derived local attributes.
package item

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

// Item represents one downloadable element of a repository. The URL is the
// identity key and never changes after construction. The payload is held
// either in memory or in a spooled temporary file, never both at once.
type Item struct {
	url       string
	filename  string
	extension string
	storename string
	content   []byte
	tempFile  string
	hash      string
	meta      *Metadata
}

// Option configures an Item during construction.
type Option func(*Item)

// WithFilename sets the filename. An empty value keeps the URL-derived one.
func WithFilename(name string) Option {
	return func(i *Item) { i.filename = name }
}

// WithExtension sets the extension. An empty value keeps the URL-derived one.
func WithExtension(ext string) Option {
	return func(i *Item) { i.extension = ext }
}

// WithStorename sets the on-disk filename.
func WithStorename(name string) Option {
	return func(i *Item) { i.storename = name }
}

// WithContent sets the in-memory payload and releases any tempfile reference.
func WithContent(content []byte) Option {
	return func(i *Item) {
		i.content = content
		i.tempFile = ""
	}
}

// WithTempFile sets the spooled payload path and releases any in-memory
// content.
func WithTempFile(path string) Option {
	return func(i *Item) {
		i.tempFile = path
		i.content = nil
	}
}

// WithHash sets a precomputed payload digest, typically read back from the
// index.
func WithHash(hash string) Option {
	return func(i *Item) { i.hash = hash }
}

// WithMetadata merges the given metadata into the item.
func WithMetadata(meta *Metadata) Option {
	return func(i *Item) {
		if meta == nil {
			return
		}
		for _, key := range meta.Keys() {
			i.meta.Set(key, meta.Get(key))
		}
	}
}

// New creates an Item for the given URL. Filename and extension default to
// values derived from the URL path basename.
func New(rawurl string, opts ...Option) *Item {
	i := &Item{
		url:  rawurl,
		meta: NewMetadata(),
	}
	for _, opt := range opts {
		opt(i)
	}
	base := urlBasename(rawurl)
	if i.filename == "" {
		i.filename = strings.TrimSuffix(base, path.Ext(base))
	}
	if i.extension == "" {
		if ext := path.Ext(base); ext != "" {
			i.extension = ext[1:]
		}
	}
	return i
}

// urlBasename returns the last path segment of a URL, or the raw string's
// basename when it does not parse.
func urlBasename(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return path.Base(rawurl)
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// URL returns the item's identity key.
func (i *Item) URL() string { return i.url }

// Filename returns the filename without extension.
func (i *Item) Filename() string { return i.filename }

// Extension returns the filename extension without the leading dot.
func (i *Item) Extension() string { return i.extension }

// Storename returns the on-disk filename assigned by the index.
func (i *Item) Storename() string { return i.storename }

// SetStorename assigns the on-disk filename.
func (i *Item) SetStorename(name string) { i.storename = name }

// Content returns the in-memory payload. It is empty when the payload is
// spooled to a tempfile or was never materialized.
func (i *Item) Content() []byte {
	if i.content == nil {
		return []byte{}
	}
	return i.content
}

// SetContent replaces the payload with in-memory bytes, releasing any
// tempfile reference and invalidating the memoized hash.
func (i *Item) SetContent(content []byte) {
	i.content = content
	i.tempFile = ""
	i.hash = ""
}

// HasTempFile reports whether the payload is spooled to a temporary file.
func (i *Item) HasTempFile() bool { return i.tempFile != "" }

// TempFile returns the spooled payload path, if any.
func (i *Item) TempFile() string { return i.tempFile }

// SetTempFile replaces the payload with a spooled file reference, releasing
// any in-memory content.
func (i *Item) SetTempFile(path string) {
	i.tempFile = path
	i.content = nil
	i.hash = ""
}

// Hashed returns the sha256 hex digest of the in-memory content, computed
// once on first access. It is empty when the payload was never materialized
// in memory.
func (i *Item) Hashed() string {
	if i.hash == "" && i.content != nil {
		sum := sha256.Sum256(i.content)
		i.hash = hex.EncodeToString(sum[:])
	}
	return i.hash
}

// Metadata returns the item's metadata mapping. The returned reference is
// live: changes are visible to subsequent callers.
func (i *Item) Metadata() *Metadata { return i.meta }
