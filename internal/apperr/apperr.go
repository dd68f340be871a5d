package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/lib/pq"
)

// Error is the canonical application error shape. Code is a stable machine
// identifier, Status the HTTP status to surface, Expose whether Message is
// safe to return to external callers, and Retryable whether the caller may
// usefully try again.
type Error struct {
	Code      string
	Status    int
	Expose    bool
	Retryable bool
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

func Wrap(code string, message string, err error) *Error {
	return &Error{
		Code:      code,
		Status:    http.StatusInternalServerError,
		Message:   message,
		Retryable: IsTransient(err),
		Err:       err,
	}
}

// Timeout builds the retryable error raised when a deadline elapses before
// the wrapped operation settles.
func Timeout(code, message string) *Error {
	return &Error{
		Code:      code,
		Status:    http.StatusGatewayTimeout,
		Retryable: true,
		Message:   message,
	}
}

// CircuitOpen is returned without invoking the guarded action while a
// breaker is open. Retryable: the dependency may recover after the cooldown.
func CircuitOpen(key string) *Error {
	return &Error{
		Code:      "CIRCUIT_OPEN",
		Status:    http.StatusServiceUnavailable,
		Retryable: true,
		Message:   fmt.Sprintf("circuit open for %q", key),
	}
}

// IsRetryable reports whether err is marked retryable, falling back to the
// transient classifier for errors that do not carry the flag.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return IsTransient(err)
}

// transientSQLStates is the fixed allow-list of Postgres SQLSTATE codes that
// indicate a condition worth retrying rather than a broken query.
var transientSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08006": true, // connection_failure
}

var transientFragments = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"i/o timeout",
	"unexpected eof",
}

// IsTransient classifies infrastructure errors that tend to clear on their
// own: driver-level connection trouble, lock contention, query timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return transientSQLStates[string(pqErr.Code)]
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range transientFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
