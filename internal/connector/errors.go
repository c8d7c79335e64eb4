package connector

import (
	"context"
	"errors"
	"fmt"

	"attestor/pkg/platform/sentinel"
)

// Category is the normalized failure taxonomy for connector calls.
type Category string

const (
	// CategoryTimeout: the call exceeded its per-attempt deadline.
	CategoryTimeout Category = "timeout"

	// CategoryTransport: the source could not be reached.
	CategoryTransport Category = "transport"

	// CategoryBadStatus: the source answered with a non-success status.
	CategoryBadStatus Category = "bad_status"

	// CategoryBadData: the response could not be decoded into facts.
	CategoryBadData Category = "bad_data"

	// CategoryAuth: credentials were rejected.
	CategoryAuth Category = "auth"

	// CategoryNotFound: the source has no record for the subject.
	CategoryNotFound Category = "not_found"

	// CategoryCircuitOpen: the call was not attempted because the
	// connector's breaker is open.
	CategoryCircuitOpen Category = "circuit_open"

	// CategoryCanceled: the caller gave up before the source answered. It says
	// nothing about the source's health.
	CategoryCanceled Category = "canceled"

	// CategoryInternal: anything unclassified.
	CategoryInternal Category = "internal"
)

// Error wraps connector failures with a normalized category.
type Error struct {
	Category   Category
	Connector  string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("connector %s [%s]: %s: %v", e.Connector, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("connector %s [%s]: %s", e.Connector, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is maps categories onto the infrastructure sentinels, so errors.Is(err,
// sentinel.ErrNotFound) holds for any connector's missing-record answer.
func (e *Error) Is(target error) bool {
	switch target {
	case sentinel.ErrNotFound:
		return e.Category == CategoryNotFound
	case sentinel.ErrUnavailable:
		return e.Category == CategoryTimeout ||
			e.Category == CategoryTransport ||
			e.Category == CategoryCircuitOpen
	}
	return false
}

// NewError creates a categorized error. Timeouts, transport failures and
// bad statuses are retryable.
func NewError(category Category, connector, message string, underlying error) *Error {
	retryable := category == CategoryTimeout ||
		category == CategoryTransport ||
		category == CategoryBadStatus

	return &Error{
		Category:   category,
		Connector:  connector,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// CategoryOf extracts the category from err. Context errors that escaped
// classification map to timeout or canceled.
func CategoryOf(err error) Category {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CategoryCanceled
	}
	return CategoryInternal
}

// CountsAsFailure reports whether err should trip the connector's breaker.
// A missing record is a healthy answer, so not_found does not count, and
// neither does a call its caller abandoned.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	switch CategoryOf(err) {
	case CategoryNotFound, CategoryCircuitOpen, CategoryCanceled:
		return false
	}
	return true
}

// Classify normalizes an arbitrary error returned by a connector.
func Classify(connector string, err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CategoryTimeout, connector, "deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(CategoryCanceled, connector, "canceled by caller", err)
	}
	return NewError(CategoryInternal, connector, "unclassified failure", err)
}

var ErrDuplicate = errors.New("connector already registered")
