// Package ledgererr defines the failure kinds shared by the token and exchange
// ledgers. Every failure aborts the operation with no state change.
package ledgererr

import "errors"

// Kind identifies a class of ledger failure. Callers match on it with
// errors.Is, e.g. errors.Is(err, ledgererr.InsufficientBalance).
type Kind string

// Error satisfies the error interface.
func (k Kind) Error() string {
	return string(k)
}

const (
	InsufficientBalance = Kind("insufficient balance")
	AllowanceExceeded   = Kind("allowance exceeded")
	InvalidRecipient    = Kind("invalid recipient")
	OrderNotFound       = Kind("order not found")
	Unauthorized        = Kind("unauthorized")
	AlreadyCancelled    = Kind("order already cancelled")
	AlreadyFilled       = Kind("order already filled")

	// Raised by the runtime around the ledgers.
	UnknownToken  = Kind("unknown token")
	InvalidAmount = Kind("invalid amount")
)

// Error pairs a Kind with details.
type Error struct {
	kind   Kind
	detail string
}

// Error combines the kind message with its details.
func (e Error) Error() string {
	if e.detail == "" {
		return string(e.kind)
	}
	return string(e.kind) + ": " + e.detail
}

// Unwrap exposes the kind to errors.Is and errors.As.
func (e Error) Unwrap() error {
	return e.kind
}

// New wraps kind with detail.
func New(kind Kind, detail string) error {
	return Error{kind: kind, detail: detail}
}

// KindOf returns the Kind carried by err, or "" when err is not a ledger error.
func KindOf(err error) Kind {
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}
