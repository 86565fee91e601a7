// Package repo implements the repository orchestrator: the lifecycle state
// machine composing configuration, index, engine and progress tracking into
// the connect, update, rename and status operations.
package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/example/bdl/internal/config"
	"github.com/example/bdl/internal/engine"
	"github.com/example/bdl/internal/index"
	"github.com/example/bdl/internal/logging"
	"github.com/example/bdl/internal/progress"
	"github.com/example/bdl/internal/wire"
)

// State is the lifecycle state of a repository handle.
type State int

const (
	// StateUnloaded is the initial and terminal state. Only Connect and
	// Load are valid.
	StateUnloaded State = iota

	// StateLoaded means config, index and engine are bound and every
	// operation is valid.
	StateLoaded

	// StateUpdating means one synchronization pass is running. Further
	// update-class calls fail with ErrBusy.
	StateUpdating
)

// Mode selects what an update pass synchronizes. Modes combine as a
// bitmask; a broader mode subsumes a narrower one.
type Mode int

const (
	// ModeNew fetches items newer than the last indexed one. Rows are
	// inserted, never updated.
	ModeNew Mode = 1 << iota

	// ModeMissing re-fetches indexed items whose file is absent on disk.
	// Rows are updated in place.
	ModeMissing

	// ModeExistingAll re-fetches the entire remote collection. Rows are
	// updated in place. Subsumes ModeNew and ModeMissing.
	ModeExistingAll
)

// IndexFileName is the index database file name inside the metadata
// directory.
const IndexFileName = "index.sqlite"

// Status is the read-only summary of a loaded repository.
type Status struct {
	Reachable bool
	Indexed   int
	New       int
	Missing   int
}

// MissingItem identifies one indexed item whose file is absent on disk.
type MissingItem struct {
	Storename string
	URL       string
}

// Repository is one handle on one local repository. A handle runs at most
// one update-class operation at a time; the progress tracker is the only
// part safe to poll concurrently.
type Repository struct {
	mu         sync.Mutex
	state      State
	rawurl     string
	path       string
	name       string
	template   string
	engineName string
	registry   *engine.Registry

	driver  engine.Driver
	cfg     *config.Config
	idx     *index.Index
	eng     engine.Engine
	tracker *progress.Tracker
	stop    atomic.Bool
	log     *slog.Logger
}

// Option configures a Repository during construction.
type Option func(*Repository)

// WithURL sets the remote URL. Required for Connect, ignored by Load when
// a configuration exists.
func WithURL(rawurl string) Option {
	return func(r *Repository) { r.rawurl = rawurl }
}

// WithPath sets the local repository path explicitly, instead of deducing
// it from the URL.
func WithPath(path string) Option {
	return func(r *Repository) { r.path = path }
}

// WithTemplate overrides the storename template for this handle's
// lifetime. An empty value keeps the stored one.
func WithTemplate(template string) Option {
	return func(r *Repository) { r.template = template }
}

// WithEngineName forces engine resolution by name instead of by URL.
func WithEngineName(name string) Option {
	return func(r *Repository) { r.engineName = name }
}

// WithRegistry sets the engine registry to resolve against.
func WithRegistry(reg *engine.Registry) Option {
	return func(r *Repository) { r.registry = reg }
}

// New builds a Repository handle. When a URL is given the engine is
// resolved immediately and a missing path is deduced from the remote name;
// a handle built from a path alone resolves its engine on Load.
func New(opts ...Option) (*Repository, error) {
	r := &Repository{
		registry: wire.Registry(),
		tracker:  progress.New(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.rawurl != "" {
		driver, err := r.resolveDriver(r.rawurl)
		if err != nil {
			return nil, err
		}
		r.driver = driver
		if r.path == "" {
			name, err := driver.RepoName(r.rawurl)
			if err != nil || name == "" {
				return nil, &ConnectError{URL: r.rawurl, Err: fmt.Errorf("cannot deduce repository name: %w", err)}
			}
			r.path = strings.ReplaceAll(name, "/", "")
		}
	}
	if r.path == "" {
		r.path = "."
	}
	abs, err := filepath.Abs(r.path)
	if err == nil {
		r.name = filepath.Base(abs)
	} else {
		r.name = filepath.Base(r.path)
	}
	r.log = logging.For("repo", r.name)
	return r, nil
}

func (r *Repository) resolveDriver(rawurl string) (engine.Driver, error) {
	if r.engineName != "" {
		return r.registry.ResolveByName(r.engineName)
	}
	return r.registry.ResolveByURL(rawurl)
}

// Name returns the repository name, the base of its local path.
func (r *Repository) Name() string { return r.name }

// Path returns the local repository path.
func (r *Repository) Path() string { return r.path }

// State returns the current lifecycle state.
func (r *Repository) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Progress returns the tracker observed by pollers during update-class
// operations. The reference stays valid across operations.
func (r *Repository) Progress() *progress.Tracker { return r.tracker }

func (r *Repository) metaDir() string   { return filepath.Join(r.path, config.Dir) }
func (r *Repository) indexPath() string { return filepath.Join(r.metaDir(), IndexFileName) }

// Connect creates the local repository layout for the handle's URL: the
// metadata directory, the configuration and a fresh index. The target must
// not already be a repository. The handle stays unloaded, call Load next.
func (r *Repository) Connect(ctx context.Context) error {
	if r.rawurl == "" {
		return &ConnectError{Err: errors.New("no url")}
	}
	if r.driver == nil {
		return &ConnectError{URL: r.rawurl, Err: errors.New("no engine resolved")}
	}
	if _, err := os.Stat(r.metaDir()); err == nil {
		return &ConnectError{URL: r.rawurl, Err: fmt.Errorf("repository already exists at %s", r.path)}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &ConnectError{URL: r.rawurl, Err: err}
	}

	if err := os.MkdirAll(r.metaDir(), 0755); err != nil {
		return &ConnectError{URL: r.rawurl, Err: err}
	}

	engineCfg := make(map[string]string)
	eng, err := r.driver.Open(r.rawurl, engineCfg, r.tracker)
	if err != nil {
		return &ConnectError{URL: r.rawurl, Err: err}
	}
	if err := eng.PreConnect(ctx); err != nil {
		return &ConnectError{URL: r.rawurl, Err: err}
	}

	template := r.template
	if template == "" {
		template = index.DefaultTemplate
	}
	cfg := &config.Config{
		Repo:   config.RepoConfig{Name: r.name, URL: r.rawurl, Template: template},
		Engine: engineCfg,
	}
	if err := config.Save(r.path, cfg); err != nil {
		return err
	}
	if err := index.New(r.indexPath(), index.WithLogName(r.name)).Create(); err != nil {
		return &ConnectError{URL: r.rawurl, Err: err}
	}
	r.log.Info("connected", "url", r.rawurl, "path", r.path)
	return nil
}

// Load binds configuration, index and a fresh engine instance to the
// handle. Loading a loaded handle is a no-op.
func (r *Repository) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateUnloaded {
		return nil
	}

	info, err := os.Stat(r.path)
	if err != nil {
		return &LoadError{Path: r.path, Err: err}
	}
	if !info.IsDir() {
		return &LoadError{Path: r.path, Err: errors.New("not a directory")}
	}

	cfg, err := config.Load(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &LoadError{Path: r.path, Err: errors.New("not a repository")}
		}
		return err
	}

	idx := index.New(r.indexPath(), index.WithLogName(r.name))
	idx.SetTemplate(cfg.Repo.Template)
	idx.SetTemplate(r.template)
	if err := idx.Load(); err != nil {
		return err
	}

	driver := r.driver
	if driver == nil {
		driver, err = r.resolveDriver(cfg.Repo.URL)
		if err != nil {
			idx.Unload()
			return err
		}
	}
	eng, err := driver.Open(cfg.Repo.URL, cfg.Engine, r.tracker)
	if err != nil {
		idx.Unload()
		return err
	}

	r.rawurl = cfg.Repo.URL
	r.cfg = cfg
	r.idx = idx
	r.driver = driver
	r.eng = eng
	r.state = StateLoaded
	r.log.Debug("loaded", "url", r.rawurl)
	return nil
}

// Unload commits and releases index, engine and configuration. Unloading
// an unloaded handle is a no-op.
func (r *Repository) Unload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateUnloaded {
		return nil
	}

	var err error
	if r.idx != nil {
		err = r.idx.Unload()
	}
	r.idx = nil
	r.eng = nil
	r.cfg = nil
	r.state = StateUnloaded
	r.log.Debug("unloaded")
	return err
}

// Stop requests cooperative cancellation of the running update pass. The
// loop observes the flag between items and ends cleanly, leaving everything
// stored so far committed. Stopping an idle handle has no effect beyond the
// next pass re-arming the flag.
func (r *Repository) Stop() {
	r.stop.Store(true)
}

// beginUpdate transitions Loaded to Updating under the lock.
func (r *Repository) beginUpdate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateUnloaded:
		return ErrNotLoaded
	case StateUpdating:
		return ErrBusy
	}
	r.state = StateUpdating
	r.stop.Store(false)
	return nil
}

func (r *Repository) endUpdate() {
	r.mu.Lock()
	r.state = StateLoaded
	r.mu.Unlock()
}

// Update runs one synchronization pass for mode. Engine and transport
// failures surface as UpdateError only after index and configuration were
// committed; a Stop ends the pass without error, with everything stored so
// far committed.
func (r *Repository) Update(ctx context.Context, mode Mode) error {
	if err := r.beginUpdate(); err != nil {
		return err
	}
	defer r.endUpdate()

	if !r.driver.Reachable(ctx, r.rawurl) {
		return &UpdateError{Name: r.name, Err: ErrUnreachable}
	}

	job, err := r.selectJob(ctx, mode)
	if err != nil {
		return &UpdateError{Name: r.name, Err: err}
	}
	return r.runPass(ctx, job)
}

// UpdateSelection runs one synchronization pass over exactly the given
// URLs, updating their index rows in place.
func (r *Repository) UpdateSelection(ctx context.Context, urls []string) error {
	if err := r.beginUpdate(); err != nil {
		return err
	}
	defer r.endUpdate()

	if !r.driver.Reachable(ctx, r.rawurl) {
		return &UpdateError{Name: r.name, Err: ErrUnreachable}
	}
	return r.runPass(ctx, updateJob{
		name:        "selection",
		count:       func(ctx context.Context) (int, error) { return len(urls), nil },
		items:       func(ctx context.Context) (engine.Items, error) { return r.eng.UpdateSelection(ctx, urls) },
		indexUpdate: true,
	})
}

// updateJob is one selected (counter, updater) pair plus the row policy.
type updateJob struct {
	name        string
	count       func(context.Context) (int, error)
	items       func(context.Context) (engine.Items, error)
	indexUpdate bool
}

// selectJob maps mode to an engine operation pair. A broader mode wins:
// enumerating the whole collection subsumes both narrower passes.
func (r *Repository) selectJob(ctx context.Context, mode Mode) (updateJob, error) {
	switch {
	case mode&ModeExistingAll != 0:
		return updateJob{
			name:        "all",
			count:       r.eng.CountAll,
			items:       r.eng.UpdateAll,
			indexUpdate: true,
		}, nil
	case mode&ModeMissing != 0:
		missing, err := r.missingLocked()
		if err != nil {
			return updateJob{}, err
		}
		urls := make([]string, len(missing))
		for n, m := range missing {
			urls[n] = m.URL
		}
		return updateJob{
			name:        "missing",
			count:       func(ctx context.Context) (int, error) { return len(urls), nil },
			items:       func(ctx context.Context) (engine.Items, error) { return r.eng.UpdateSelection(ctx, urls) },
			indexUpdate: true,
		}, nil
	case mode&ModeNew != 0:
		last, lastPos, err := r.idx.GetLast()
		if err != nil {
			return updateJob{}, err
		}
		return updateJob{
			name: "new",
			count: func(ctx context.Context) (int, error) {
				return r.eng.CountNew(ctx, last, lastPos)
			},
			items: func(ctx context.Context) (engine.Items, error) {
				return r.eng.UpdateNew(ctx, last, lastPos)
			},
			indexUpdate: false,
		}, nil
	}
	return updateJob{}, fmt.Errorf("no update mode selected")
}

// runPass consumes one engine item sequence, storing each item. Commit of
// index and configuration runs in a deferred step on every exit path, so
// partial progress is durable on success, failure and cancellation alike.
func (r *Repository) runPass(ctx context.Context, job updateJob) (err error) {
	defer func() {
		if commitErr := r.idx.Commit(); commitErr != nil && err == nil {
			err = &UpdateError{Name: r.name, Err: commitErr}
		}
		r.cfg.Repo.Template = r.idx.Template()
		if saveErr := config.Save(r.path, r.cfg); saveErr != nil && err == nil {
			err = saveErr
		}
		if errors.Is(err, errStopped) {
			r.log.Info("update stopped", "name", job.name)
			err = nil
		}
	}()

	if err := r.eng.PreUpdate(ctx); err != nil {
		return &UpdateError{Name: r.name, Err: err}
	}

	count, err := job.count(ctx)
	if err != nil {
		return &UpdateError{Name: r.name, Err: err}
	}
	r.tracker.Reset()
	r.tracker.SetName(job.name)
	r.tracker.SetCount(count)
	r.log.Info("update started", "name", job.name, "count", count)

	items, err := job.items(ctx)
	if err != nil {
		return &UpdateError{Name: r.name, Err: err}
	}
	defer items.Close()

	stored := 0
	for items.Next() {
		if r.stop.Load() {
			return errStopped
		}
		if ctx.Err() != nil {
			return errStopped
		}
		it := items.Item()
		if it == nil {
			r.log.Debug("nil item skipped")
			continue
		}
		if _, err := r.idx.Store(it, r.path, job.indexUpdate); err != nil {
			return &UpdateError{Name: r.name, Err: err}
		}
		stored++
	}
	if err := items.Err(); err != nil {
		return &UpdateError{Name: r.name, Err: err}
	}
	r.log.Info("update finished", "name", job.name, "stored", stored)
	return nil
}

// Clone is connect, load and a first NEW pass in one call.
func (r *Repository) Clone(ctx context.Context) error {
	if err := r.Connect(ctx); err != nil {
		return err
	}
	if err := r.Load(ctx); err != nil {
		return err
	}
	return r.Update(ctx, ModeNew)
}

// Rename re-renders every storename under template, on disk and in the
// index, and persists the template. Requires a loaded handle and a
// reachable remote.
func (r *Repository) Rename(ctx context.Context, template string) error {
	if err := r.beginUpdate(); err != nil {
		return err
	}
	defer r.endUpdate()

	if !r.driver.Reachable(ctx, r.rawurl) {
		return &UpdateError{Name: r.name, Err: ErrUnreachable}
	}
	if err := r.idx.Rename(r.path, template); err != nil {
		return &UpdateError{Name: r.name, Err: err}
	}
	if err := r.idx.Commit(); err != nil {
		return &UpdateError{Name: r.name, Err: err}
	}
	r.cfg.Repo.Template = r.idx.Template()
	return config.Save(r.path, r.cfg)
}

// Status summarizes a loaded repository: remote reachability, indexed
// count, new count (0 when the remote cannot say) and missing-file count.
func (r *Repository) Status(ctx context.Context) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateUnloaded {
		return Status{}, ErrNotLoaded
	}

	var st Status
	st.Reachable = r.driver.Reachable(ctx, r.rawurl)

	indexed, err := r.idx.Count()
	if err != nil {
		return Status{}, err
	}
	st.Indexed = indexed

	if st.Reachable {
		last, lastPos, err := r.idx.GetLast()
		if err != nil {
			return Status{}, err
		}
		if n, err := r.eng.CountNew(ctx, last, lastPos); err == nil && n > 0 {
			st.New = n
		}
	}

	missing, err := r.missingLocked()
	if err != nil {
		return Status{}, err
	}
	st.Missing = len(missing)
	return st, nil
}

// Missing lists indexed items whose stored file is absent under the
// repository root, in position order.
func (r *Repository) Missing() ([]MissingItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateUnloaded {
		return nil, ErrNotLoaded
	}
	return r.missingLocked()
}

func (r *Repository) missingLocked() ([]MissingItem, error) {
	entries, err := r.idx.GetAll()
	if err != nil {
		return nil, err
	}
	var missing []MissingItem
	for _, entry := range entries {
		storename := entry.Item.Storename()
		if storename == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.path, storename)); errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, MissingItem{Storename: storename, URL: entry.Item.URL()})
		} else if err != nil {
			return nil, fmt.Errorf("stat %s: %w", storename, err)
		}
	}
	return missing, nil
}
