package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies remote failures into the four classes the sync engine
// reacts to differently.
type ErrorKind int

const (
	// KindOffline means no connectivity; a sync pass aborts without touching queue state.
	KindOffline ErrorKind = iota + 1
	// KindAuth means the session is invalid; credentials are cleared and the pass aborts.
	KindAuth
	// KindRemote means the server rejected the request; the item is retried up to the ceiling.
	KindRemote
	// KindTransport means the request died in transit (timeout, reset); the item is retried.
	KindTransport
)

// String renders the kind for logs and error text.
func (k ErrorKind) String() string {
	switch k {
	case KindOffline:
		return "offline"
	case KindAuth:
		return "auth"
	case KindRemote:
		return "remote"
	case KindTransport:
		return "transport"
	}
	return "unknown"
}

// Error is a classified remote failure.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Err        error
}

// Error renders the classified failure.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote %s: %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote %s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError constructs a classified remote error.
func NewError(kind ErrorKind, op string, statusCode int, cause error) *Error {
	return &Error{Kind: kind, Op: op, StatusCode: statusCode, Err: cause}
}

// KindOf extracts the classification of an error, or zero when it is not a remote error.
func KindOf(err error) ErrorKind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return 0
}

// IsOffline reports whether the error is classified as missing connectivity.
func IsOffline(err error) bool { return KindOf(err) == KindOffline }

// IsAuth reports whether the error is classified as an authentication failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsRemote reports whether the error is classified as a server-side rejection.
func IsRemote(err error) bool { return KindOf(err) == KindRemote }

// IsTransport reports whether the error is classified as a transit failure.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// classifyTransit maps a failed round trip (no HTTP response) onto the taxonomy.
// Unreachable networks and failed dials read as offline; timeouts and resets as
// transport faults worth retrying once connectivity is believed up.
func classifyTransit(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTransport, op, 0, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewError(KindOffline, op, 0, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return NewError(KindOffline, op, 0, err)
	}

	return NewError(KindTransport, op, 0, err)
}

// classifyStatus maps a non-success HTTP status onto the taxonomy.
func classifyStatus(op string, statusCode int, cause error) *Error {
	if statusCode == http.StatusUnauthorized {
		return NewError(KindAuth, op, statusCode, cause)
	}
	return NewError(KindRemote, op, statusCode, cause)
}
