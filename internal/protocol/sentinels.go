// Package protocol implements the CA3 state machine (C5, spec.md §4.5):
// proceed_creator (initiator), request_to_sign_and_resend_or_store
// (relay), and request_to_declare_block_creation (duplicate-suppression
// entry point), plus the Retry Driver (C6) and Peer Receiver (C7) that
// surround it. Grounded on the teacher's core/consensus.go round-driven
// block production loop and core/consensus_network_adapter.go's
// request-dispatch table, generalized from PoW/PoS/PoH election to CA3's
// collect-signatures-then-store protocol.
package protocol

import "synnergy-ca3/internal/signature"

// Terminal result codes a creation attempt resolves to, spec.md §4.5/§9.
const (
	// StatusSuccess means the block reached Facade storage and every peer
	// that answered the terminal-store broadcast accepted it. A negative
	// PeerFailureCode also means the block was stored.
	StatusSuccess = 0

	// base offsets added to a collaborator's Engine.VerifyAll/Sign status
	// to disambiguate which stage produced the failure once it surfaces at
	// the initiator.
	verifyFailureBase = 1000
	signFailureBase   = 2000
	dispatchBase      = 3000
)

// VerifyFailureCode folds a Signature Engine verify status into the
// initiator-facing code space.
func VerifyFailureCode(status int) int { return verifyFailureBase + status }

// SignFailureCode folds a Signature Engine sign-stage status into the
// initiator-facing code space.
func SignFailureCode(status int) int { return signFailureBase + status }

// DispatchExhaustedCode marks that random_dispatch ran out of eligible
// candidates, or too few signatures were collected before the trip
// deadline. status is usually 0 (no richer detail available).
func DispatchExhaustedCode(status int) int { return dispatchBase + status }

// PeerFailureCode reports a negative count of peers that actively refused
// or errored during dispatch, per spec.md §9 ("negative = peer failure
// count").
func PeerFailureCode(failureCount int) int {
	if failureCount < 0 {
		failureCount = -failureCount
	}
	return -failureCount
}

// IsGood reports whether a Signature Engine status represents success.
func IsGood(status int) bool { return status == signature.StatusGood }
