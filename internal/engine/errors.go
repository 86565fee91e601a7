package engine

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates that no driver with the requested name is
// registered. Compare with errors.Is.
var ErrNotFound = errors.New("engine not found")

// InvalidURLError indicates a URL no driver could ever claim because it
// carries no host part.
type InvalidURLError struct {
	URL string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid url %q: no host", e.URL)
}

// UnsupportedURLError indicates a well-formed URL that no registered
// driver claims.
type UnsupportedURLError struct {
	URL  string
	Host string
}

func (e *UnsupportedURLError) Error() string {
	return fmt.Sprintf("no engine registered for url %q (host %q)", e.URL, e.Host)
}

// StructureError indicates a driver that cannot be registered: nil, without
// a name, without sites, or with an uncompilable URL pattern.
type StructureError struct {
	Name   string
	Reason string
}

func (e *StructureError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("invalid engine: %s", e.Reason)
	}
	return fmt.Sprintf("invalid engine %q: %s", e.Name, e.Reason)
}

// NetworkError wraps a transport failure inside an engine.
type NetworkError struct {
	Name string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("engine %q: network: %v", e.Name, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ContentError wraps a remote response an engine cannot make sense of.
type ContentError struct {
	Name string
	Err  error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("engine %q: content: %v", e.Name, e.Err)
}

func (e *ContentError) Unwrap() error { return e.Err }

// AuthError wraps a remote authentication or authorization failure.
type AuthError struct {
	Name string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("engine %q: auth: %v", e.Name, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsEngineError reports whether err belongs to the engine error family.
func IsEngineError(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var (
		invalidURL  *InvalidURLError
		unsupported *UnsupportedURLError
		structure   *StructureError
		network     *NetworkError
		content     *ContentError
		auth        *AuthError
	)
	return errors.As(err, &invalidURL) ||
		errors.As(err, &unsupported) ||
		errors.As(err, &structure) ||
		errors.As(err, &network) ||
		errors.As(err, &content) ||
		errors.As(err, &auth)
}
