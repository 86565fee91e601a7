package repo

import (
	"errors"
	"fmt"

	"github.com/example/bdl/internal/config"
	"github.com/example/bdl/internal/download"
	"github.com/example/bdl/internal/engine"
	"github.com/example/bdl/internal/index"
)

var (
	// ErrNotLoaded indicates an operation that requires a loaded
	// repository handle.
	ErrNotLoaded = errors.New("repository not loaded")

	// ErrBusy indicates an operation on a handle that is already running
	// an update. One operation per handle at a time.
	ErrBusy = errors.New("repository busy")

	// ErrUnreachable indicates a remote side that does not answer.
	ErrUnreachable = errors.New("repository unreachable")

	// errStopped ends an update loop after Stop. It never leaves the
	// package: a stopped update reports success.
	errStopped = errors.New("stop requested")
)

// ConnectError reports a failed connect: the target exists already, the
// engine cannot reach the remote, or no local name can be deduced.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// LoadError reports a repository path that cannot be loaded: missing, not
// a directory, or not a connected repository.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// UpdateError wraps any engine, index or transport failure during a
// synchronization pass. By the time it surfaces, index and configuration
// have been committed.
type UpdateError struct {
	Name string
	Err  error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update %s: %v", e.Name, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// IsDomainError reports whether err belongs to a known error family of
// the tool: repository, configuration, index, engine or download. The CLI
// prints these as one-line diagnostics; anything else propagates as-is.
func IsDomainError(err error) bool {
	var (
		connectErr *ConnectError
		loadErr    *LoadError
		updateErr  *UpdateError
		cfgErr     *config.ConfigError
		schemaErr  *index.SchemaError
		dlErr      *download.Error
		dlTimeout  *download.TimeoutError
	)
	switch {
	case errors.Is(err, ErrNotLoaded), errors.Is(err, ErrBusy), errors.Is(err, ErrUnreachable):
		return true
	case errors.As(err, &connectErr), errors.As(err, &loadErr), errors.As(err, &updateErr):
		return true
	case errors.As(err, &cfgErr), errors.As(err, &schemaErr):
		return true
	case errors.As(err, &dlErr), errors.As(err, &dlTimeout):
		return true
	}
	return engine.IsEngineError(err)
}
