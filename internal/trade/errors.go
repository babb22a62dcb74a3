// Package trade provides the trade executor, HTTP handlers, and WebSocket
// quote push for the league engine.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies trade failures. Every validation or business-rule failure
// is reported synchronously with a specific kind — never a generic failure —
// and leaves no partial effect behind.
type Kind string

const (
	// KindInvalidInput: malformed or out-of-range request.
	KindInvalidInput Kind = "invalid_input"

	// KindNotFound: no ledger (or league) for the given keys.
	KindNotFound Kind = "not_found"

	// KindHoldingNotFound: sell against a symbol the ledger does not hold.
	KindHoldingNotFound Kind = "holding_not_found"

	// KindInsufficientFunds: buy cost exceeds available cash.
	KindInsufficientFunds Kind = "insufficient_funds"

	// KindInsufficientShares: sell quantity exceeds held shares.
	KindInsufficientShares Kind = "insufficient_shares"

	// KindRuleViolation: trade violates the league rule set.
	KindRuleViolation Kind = "rule_violation"

	// KindTransientStore: persistence failure. Safe to retry — the store
	// commit is atomic, so no partial effect exists to double-apply.
	KindTransientStore Kind = "transient_store"
)

// Error is a classified trade failure.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("trade: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// newError creates an Error of the given kind.
func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// wrapError creates an Error of the given kind wrapping a cause.
func wrapError(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, err: cause}
}

// KindOf extracts the Kind from err, or "" if err is not a trade error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// Retryable reports whether err may be retried without changing the request.
func Retryable(err error) bool {
	return KindOf(err) == KindTransientStore
}

// httpStatus maps error kinds to HTTP status codes for the thin API layer.
func httpStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput, KindInsufficientFunds, KindInsufficientShares:
		return http.StatusBadRequest
	case KindNotFound, KindHoldingNotFound:
		return http.StatusNotFound
	case KindRuleViolation:
		return http.StatusConflict
	case KindTransientStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
