// Package sentinel holds infrastructure-level sentinel errors. Adapters
// return or match these so callers can branch on a fact about a resource
// without knowing which backend produced it.
package sentinel

import "errors"

var (
	// ErrNotFound: the backend answered and holds no record.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable: the backend could not answer right now.
	ErrUnavailable = errors.New("unavailable")
)
