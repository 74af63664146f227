package idp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a management API failure for the sync orchestration layer.
type Kind int

const (
	// KindTransient covers timeouts, rate limits and 5xx responses. Worth retrying.
	KindTransient Kind = iota
	// KindNotFound means the remote target no longer exists.
	KindNotFound
	// KindConflict means the remote target already exists.
	KindConflict
	// KindValidation means the payload was rejected; retrying cannot succeed.
	KindValidation
)

// CallError is a classified management API failure.
type CallError struct {
	Kind   Kind
	Status int
	Detail string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("idp: status %d: %s", e.Status, e.Detail)
}

func kindOf(err error, want Kind) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind == want
	}
	return false
}

// IsNotFound reports whether the remote target does not exist.
func IsNotFound(err error) bool { return kindOf(err, KindNotFound) }

// IsConflict reports whether the remote target already exists.
func IsConflict(err error) bool { return kindOf(err, KindConflict) }

// IsValidation reports whether the provider rejected the payload outright.
func IsValidation(err error) bool { return kindOf(err, KindValidation) }

// IsTransient reports whether the failure is worth retrying. Network-level
// errors without a classified status count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind == KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	// Unclassified failures (connection resets, token exchange hiccups) are
	// handed to the backlog rather than surfaced as permanent.
	return true
}

func classify(status int) Kind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	default:
		return KindValidation
	}
}
