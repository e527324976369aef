package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// RetryableError marks a failure worth retrying with backoff: transport
// errors, timeouts, 5xx, and 429.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string { return fmt.Sprintf("%s: %v (retryable)", e.Op, e.Err) }
func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError marks a failure that must stop further work against the platform
// for the rest of the job: auth failures, quota/billing exhaustion, other 4xx,
// and malformed response schemas.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %v (fatal)", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Retryablef wraps a formatted error as retryable.
func Retryablef(op, format string, args ...any) error {
	return &RetryableError{Op: op, Err: fmt.Errorf(format, args...)}
}

// Fatalf wraps a formatted error as fatal.
func Fatalf(op, format string, args ...any) error {
	return &FatalError{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsRetryable reports whether err is classified retryable.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsFatal reports whether err is classified fatal.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// classifyStatus maps a non-2xx HTTP response to the error taxonomy. This is
// the single place where status codes become retryable or fatal; raw transport
// errors never leave the connector boundary unclassified.
func classifyStatus(op string, status int, body []byte) error {
	snippet := string(body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	switch {
	case status == http.StatusTooManyRequests:
		return Retryablef(op, "status=429 body=%s", snippet)
	case status >= 500:
		return Retryablef(op, "status=%d body=%s", status, snippet)
	default:
		// 401/402/403 and the rest of the 4xx family: auth, billing, or a
		// request this platform will never accept.
		return Fatalf(op, "status=%d body=%s", status, snippet)
	}
}
