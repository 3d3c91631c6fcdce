package provider

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for provider fetches. The tracker loop matches these with
// errors.As; none of them are retried inside the client.

// AuthError means the provider rejected the credential (HTTP 401/403).
// Fatal during startup validation; escalates to a degraded alert mid-run.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider rejected credential (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("provider rejected credential (status %d): %s", e.StatusCode, e.Message)
}

// RateLimitError means the provider signalled throttling (HTTP 429).
// RetryAfter is zero when the provider did not say how long to wait.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
	}
	if e.Message != "" {
		return "provider rate limited: " + e.Message
	}
	return "provider rate limited"
}

// TransientError wraps network failures, timeouts, and provider 5xx
// responses. Safe to retry on the next cycle.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return "transient provider failure: " + e.Op
	}
	return fmt.Sprintf("transient provider failure: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// MalformedError means a 2xx payload could not be parsed and validated into
// an AircraftState. Provider data is untrusted: a partial decode never leaks
// out, the whole fetch fails instead.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err == nil {
		return "malformed provider response: " + e.Reason
	}
	return fmt.Sprintf("malformed provider response: %s: %v", e.Reason, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// IsAuth reports whether err is a credential rejection.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRecoverable reports whether err is one of the skip-this-cycle failures
// (rate limit, transient, malformed). Auth rejections are not recoverable.
func IsRecoverable(err error) bool {
	var (
		rl *RateLimitError
		tr *TransientError
		mf *MalformedError
	)
	return errors.As(err, &rl) || errors.As(err, &tr) || errors.As(err, &mf)
}
