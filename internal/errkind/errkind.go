// Package errkind defines the error taxonomy visible across internal
// boundaries. All failure in the core is an explicit kind; cancellation
// is a signal, not an exception, and maps to Cancelled at the boundary.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind is the category of an error for propagation and HTTP mapping.
type Kind int

const (
	// Validation: input did not satisfy preconditions. Never retried.
	Validation Kind = iota

	// Unauthorized: missing or bad credential.
	Unauthorized

	// Forbidden: authenticated but not allowed. Responses never reveal
	// whether the target principal or resource exists.
	Forbidden

	// NotFound: the resource does not exist for this principal.
	NotFound

	// Conflict: state machine violation, e.g. deciding a non-pending
	// approval.
	Conflict

	// RateLimited: admission refused; carries a retry-after hint.
	RateLimited

	// UpstreamUnavailable: transient external failure. Breaker-countable.
	UpstreamUnavailable

	// UpstreamError: terminal external failure (malformed response,
	// upstream auth). Not breaker-countable.
	UpstreamError

	// Degraded: served from the degraded fallback. A success at the HTTP
	// layer; the body is flagged.
	Degraded

	// Internal: bug or unexpected state. Redacted outside dev mode.
	Internal

	// Cancelled: caller-triggered cancellation.
	Cancelled
)

// String returns the machine code for the kind.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case RateLimited:
		return "rate_limited"
	case UpstreamUnavailable:
		return "upstream_unavailable"
	case UpstreamError:
		return "upstream_error"
	case Degraded:
		return "degraded"
	case Internal:
		return "internal"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its kind. RetryAfter is set only
// for RateLimited and UpstreamUnavailable where a hint exists.
type Error struct {
	Err        error
	Msg        string
	Kind       Kind
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kinded error with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a kinded error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err, Msg: msg}
}

// KindOf extracts the kind of err, walking the wrap chain. Unclassified
// errors are Internal; context errors map to Cancelled.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return Internal
}

// RetryAfterOf extracts the retry hint from err, zero when none is set.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsRetriable reports whether retrying the same request may succeed.
// Only transient external failures qualify; validation and upstream
// auth errors do not.
func IsRetriable(err error) bool {
	return Is(err, UpstreamUnavailable)
}

// ClassifyUpstream converts a raw backend error into its upstream kind.
// Timeouts, refused connections, and 5xx responses are transient;
// everything else from the backend is terminal.
func ClassifyUpstream(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(Cancelled, err, "")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(UpstreamUnavailable, err, "backend timeout")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(UpstreamUnavailable, err, "backend timeout")
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "status code: 5"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return Wrap(UpstreamUnavailable, err, "backend unavailable")
	}
	return Wrap(UpstreamError, err, "backend error")
}
