package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrContentNotFound  = errors.New("extracted content not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")

	// Durable extraction failures; all of these trigger the blocking policy.
	ErrAccessDenied     = errors.New("access denied")
	ErrExtractorTimeout = errors.New("extractor timeout")
	ErrEmptyContent     = errors.New("no extractable text")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// Blocking reports whether an error is a durable failure that must flag the
// content record as blocked instead of being retried.
func Blocking(err error) bool {
	return errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrExtractorTimeout) ||
		errors.Is(err, ErrEmptyContent)
}

// ThrottledError carries a provider-suggested wait after an HTTP 429.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("provider throttled, retry after %s", e.RetryAfter)
}

// RetryAfter extracts a provider wait hint from an error chain.
func RetryAfter(err error) (time.Duration, bool) {
	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		return throttled.RetryAfter, true
	}
	return 0, false
}
