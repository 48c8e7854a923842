package authz

import (
	"errors"
	"fmt"
)

// Kind classifies a guard failure. The HTTP layer maps kinds to status
// codes; the core never recovers a denial internally.
type Kind string

const (
	KindNotAuthorized     Kind = "not-authorized"
	KindNotFound          Kind = "not-found"
	KindInvariantConflict Kind = "invariant-conflict"
	KindAlreadyExists     Kind = "already-exists"
	KindValidation        Kind = "validation"
)

// Conflict reasons surfaced with KindInvariantConflict.
const (
	ReasonInitiativeRequired         = "initiative-required"
	ReasonDetachActivityFirst        = "detach-activity-first"
	ReasonActivityInitiativeMismatch = "activity-initiative-mismatch"
	ReasonBankPaymentImmutableField  = "bank-payment-immutable-field"
)

// Error is the typed failure of every guard operation. Authorization
// denials never disclose which rule failed.
type Error struct {
	Kind   Kind
	Reason string // machine-readable, set for invariant conflicts
	msg    string
}

func (e *Error) Error() string {
	if e.msg != "" {
		return e.msg
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return string(e.Kind)
}

// ErrNotAuthorized is the opaque policy denial.
var ErrNotAuthorized = &Error{Kind: KindNotAuthorized, msg: "not authorized"}

// ErrNotFound covers both unknown ids and rows filtered out by visibility,
// indistinguishable by design.
var ErrNotFound = &Error{Kind: KindNotFound, msg: "not found"}

func conflict(reason string) *Error {
	return &Error{Kind: KindInvariantConflict, Reason: reason}
}

func alreadyExists() *Error {
	return &Error{Kind: KindAlreadyExists, msg: "already exists"}
}

func validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the guard error kind, or "" for foreign errors (store
// transients propagate verbatim).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf extracts the machine-readable conflict reason, if any.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
