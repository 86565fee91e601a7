package download

import "fmt"

// Error reports a failed fetch.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// TimeoutError reports a fetch that did not complete within the client
// timeout.
type TimeoutError struct {
	URL string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("download %s: timed out", e.URL)
}
