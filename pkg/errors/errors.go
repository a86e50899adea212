package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

var (
	As     = stderrors.As
	Is     = stderrors.Is
	New    = stderrors.New
	Unwrap = stderrors.Unwrap
)

// Error kinds surfaced by the API client and the download pipeline.
// Transport errors wrap exactly one of these so callers can branch
// without looking at status codes.
var (
	ErrNotFound     = stderrors.New("resource not found")
	ErrUnauthorized = stderrors.New("unauthorized")
	ErrForbidden    = stderrors.New("forbidden")
	ErrValidation   = stderrors.New("validation failed")
	ErrRateLimited  = stderrors.New("rate limit exceeded")
	ErrServer       = stderrors.New("server error")
	ErrNetwork      = stderrors.New("network error")
	ErrTimeout      = stderrors.New("request timed out")

	// ErrNoChapters means the chapter list was empty after filtering.
	ErrNoChapters = stderrors.New("no chapters match the requested filters")
)

func IsNotFound(err error) bool    { return Is(err, ErrNotFound) }
func IsUnauthorized(err error) bool { return Is(err, ErrUnauthorized) }
func IsValidation(err error) bool  { return Is(err, ErrValidation) }
func IsRateLimited(err error) bool { return Is(err, ErrRateLimited) }
func IsTimeout(err error) bool     { return Is(err, ErrTimeout) }

// IsRetryable reports whether the request that produced err may succeed
// if repeated: rate limits, server failures, network failures, timeouts.
func IsRetryable(err error) bool {
	return Is(err, ErrRateLimited) || Is(err, ErrServer) ||
		Is(err, ErrNetwork) || Is(err, ErrTimeout)
}

// RateLimitError carries the server's retry-after hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// DownloadError is a chapter-level failure with partial-progress info.
type DownloadError struct {
	Chapter   string
	Succeeded int
	Total     int
	Err       error
}

func (e *DownloadError) Error() string {
	msg := fmt.Sprintf("failed to download chapter %s", e.Chapter)
	if e.Total > 0 {
		msg = fmt.Sprintf("%s (%d/%d pages)", msg, e.Succeeded, e.Total)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DownloadError) Unwrap() error { return e.Err }
