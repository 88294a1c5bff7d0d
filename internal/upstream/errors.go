// ABOUTME: Normalized error type for failures reported by third-party model APIs
// ABOUTME: Carries a human-readable message plus a kind (generic, billing, timeout, ...)

package upstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an upstream failure for user-facing messaging.
type Kind string

const (
	KindGeneric        Kind = "generic"
	KindBilling        Kind = "billing"
	KindTimeout        Kind = "timeout"
	KindConfig         Kind = "config"
	KindInvalidRequest Kind = "invalid_request"
)

// Error is the single error representation for collaborator failures.
// Message is always safe to show to the user.
type Error struct {
	Kind    Kind
	Message string
	Status  int // upstream HTTP status, 0 when not applicable
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error, promoting the kind to billing when the message says so.
func New(kind Kind, message string, err error) *Error {
	if kind == KindGeneric && IsBillingMessage(message) {
		kind = KindBilling
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrap normalizes any error into an *Error. Existing *Error values pass through,
// context deadline errors become KindTimeout, everything else gets fallback as its message
// unless the error text itself is more specific.
func Wrap(err error, fallback string) *Error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "Request timed out. Please try again later.", Err: err}
	}
	msg := fallback
	if IsBillingMessage(err.Error()) {
		msg = err.Error()
	}
	return New(KindGeneric, msg, err)
}

// KindOf returns the kind of err, or KindGeneric for errors that were never normalized.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindGeneric
}

// MessageOf returns the user-facing message for err.
func MessageOf(err error) string {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsBillingMessage reports whether an upstream message describes a billing or quota limit.
func IsBillingMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "billing limit") ||
		strings.Contains(lower, "billing hard limit") ||
		strings.Contains(lower, "exceeded your current quota") ||
		strings.Contains(lower, "quota exceeded")
}

// Truncate returns at most n runes of s, used when echoing raw upstream bodies.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
