package catalog

import (
	"errors"
	"fmt"
)

// ErrRateLimited signals that the upstream asked us to slow down.
var ErrRateLimited = errors.New("upstream rate limited")

// ErrNotFound signals that a resolution or lookup produced no result.
var ErrNotFound = errors.New("not found")

// FetchError reports an upstream request that failed after the retry budget was spent.
type FetchError struct {
	URL      string
	Status   int
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.Status, e.Attempts)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a document that lacks the container the normalizer expects.
type ParseError struct {
	URL       string
	Container string
}

func (e *ParseError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("parse: container %q not found", e.Container)
	}
	return fmt.Sprintf("parse %s: container %q not found", e.URL, e.Container)
}

// IsParseError reports whether err wraps a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
