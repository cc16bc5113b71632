// Package errs defines the error kinds shared across the CA3 protocol
// packages. Recovery for each kind is documented in SPEC_FULL.md's
// "error handling design" carryover from spec.md §7.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the outer layers (Retry Driver, Peer
// Receiver) without requiring type assertions on concrete error types.
type Kind int

const (
	// KindUnknown is the zero value; never returned deliberately.
	KindUnknown Kind = iota
	KindTimeout
	KindAlreadyStarted
	KindVerifyFailed
	KindSignFailed
	KindDispatchExhausted
	KindCollaboratorDown
	KindMalformedBlock
	KindMalformedData
	KindPeerUnreachable
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindAlreadyStarted:
		return "already started"
	case KindVerifyFailed:
		return "verify failed"
	case KindSignFailed:
		return "sign failed"
	case KindDispatchExhausted:
		return "dispatch exhausted"
	case KindCollaboratorDown:
		return "collaborator down"
	case KindMalformedBlock:
		return "malformed block"
	case KindMalformedData:
		return "malformed data"
	case KindPeerUnreachable:
		return "peer unreachable"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// recovery policy with errors.As instead of string matching.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an *Error of the given kind around cause. Returns nil if
// cause is nil, matching the teacher's pkg/utils.Wrap contract.
func Wrap(kind Kind, detail string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Timeout is the sentinel used by components that don't need a detail
// string attached (trip deadline exceeded).
var Timeout = New(KindTimeout, "trip deadline exceeded")

// AlreadyStarted matches the legacy "Already started" detail string from
// spec.md §9 so the wire boundary can keep translating to/from the numeric
// peer-side code without every caller restating the literal.
var AlreadyStarted = New(KindAlreadyStarted, "Already started")

// GenesisParcelConflict is request_to_declare_block_creation's reply when an
// empty-tx_ids (genesis/parcel) trip is already active for the tenant,
// spec.md §4.5 ("reply -102, legacy numeric"). Same Kind as AlreadyStarted
// so errs.Is(err, KindAlreadyStarted) still matches it; callers that need
// to distinguish the two empty-tx vs. tx_ids-overlap cases compare the
// sentinel directly with errors.Is.
var GenesisParcelConflict = New(KindAlreadyStarted, "genesis/parcel trip already active")

// TxConflict is request_to_declare_block_creation's reply when a brand new
// trip's tx_ids intersect an already-active trip's tx_ids for the tenant,
// spec.md §4.5 ("reply -deadline_ms").
var TxConflict = New(KindAlreadyStarted, "tx_ids overlap an active trip")
