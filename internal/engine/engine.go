// Package engine defines the contract between the repository orchestrator
// and site-specific adapters, plus the registry that maps names and URLs to
// registered drivers.
package engine

import (
	"context"

	"github.com/example/bdl/internal/item"
	"github.com/example/bdl/internal/progress"
)

// Driver is a site adapter. One driver instance serves the whole process;
// per-repository state lives in the Engine instances it opens.
type Driver interface {
	// Name identifies the driver in configuration and listings.
	Name() string

	// RepoName deduces a local directory name from a remote URL, or
	// returns an error when none can be deduced.
	RepoName(rawurl string) (string, error)

	// Reachable reports whether the remote side answers for url.
	Reachable(ctx context.Context, rawurl string) bool

	// Sites maps each handled host to an ordered list of URL regexp
	// patterns. A driver claims a URL when the host matches and any
	// pattern matches the full URL.
	Sites() map[string][]string

	// Open binds a new engine to one remote url. cfg carries the
	// driver-specific settings persisted in the repository config, tracker
	// receives per-URL transfer state during updates.
	Open(rawurl string, cfg map[string]string, tracker *progress.Tracker) (Engine, error)
}

// Engine is one driver binding to one remote URL, valid for a single
// load cycle.
type Engine interface {
	// PreConnect runs once when a repository is first connected.
	PreConnect(ctx context.Context) error

	// PreUpdate runs before every update pass.
	PreUpdate(ctx context.Context) error

	// CountAll returns the number of items on the remote side. Values
	// below 1 mean the count cannot be deduced.
	CountAll(ctx context.Context) (int, error)

	// CountNew returns the number of remote items newer than the last
	// indexed one. last is nil when the index is empty.
	CountNew(ctx context.Context, last *item.Item, lastPosition int64) (int, error)

	// UpdateAll enumerates every remote item.
	UpdateAll(ctx context.Context) (Items, error)

	// UpdateNew enumerates remote items newer than the last indexed one.
	UpdateNew(ctx context.Context, last *item.Item, lastPosition int64) (Items, error)

	// UpdateSelection enumerates exactly the given URLs.
	UpdateSelection(ctx context.Context, urls []string) (Items, error)
}

// Items is a lazy sequence of items produced by an engine. It follows the
// sql.Rows shape: Next advances, Item returns the current element, Err
// reports what broke the sequence, Close releases resources early. A nil
// element from Item is a tolerated skip, not an error.
type Items interface {
	Next() bool
	Item() *item.Item
	Err() error
	Close() error
}

type sliceItems struct {
	items []*item.Item
	pos   int
}

// ItemsFromSlice wraps an already materialized slice in the Items shape.
func ItemsFromSlice(items []*item.Item) Items {
	return &sliceItems{items: items, pos: -1}
}

func (s *sliceItems) Next() bool {
	if s.pos >= len(s.items) {
		return false
	}
	s.pos++
	return s.pos < len(s.items)
}

func (s *sliceItems) Item() *item.Item {
	if s.pos < 0 || s.pos >= len(s.items) {
		return nil
	}
	return s.items[s.pos]
}

func (s *sliceItems) Err() error { return nil }

func (s *sliceItems) Close() error { return nil }
