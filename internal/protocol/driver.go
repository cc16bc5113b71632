package protocol

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"synnergy-ca3/internal/errs"
	"synnergy-ca3/internal/ledger"
)

// ErrSkipped is returned by CreateBlock when another attempt for the same
// tenant was already underway — the caller should back off and retry
// later rather than treating this as a failure, spec.md §4.6.
var ErrSkipped = errors.New("protocol: block creation skipped, another attempt is underway")

// maxDriverAttempts bounds the retry loop so a tenant that can never reach
// quorum doesn't retry forever; spec.md §4.6 only specifies the lifetime
// expansion policy, not an attempt ceiling, but an unbounded loop would
// never surface a failure to the caller.
const maxDriverAttempts = 8

// Driver is the Retry Driver, C6: it repeatedly calls Machine.ProceedCreator,
// expanding the trip lifetime by 1.5x (capped at MaxLifeTimeMs) after every
// timeout, until the block is stored, the attempt is skipped as a
// duplicate, or the retry budget is exhausted.
type Driver struct {
	Machine       *Machine
	MinLifeTimeMs int64
	MaxLifeTimeMs int64
}

// NewDriver returns a Driver around machine with the given lifetime bounds.
func NewDriver(machine *Machine, minLifeTimeMs, maxLifeTimeMs int64) *Driver {
	return &Driver{Machine: machine, MinLifeTimeMs: minLifeTimeMs, MaxLifeTimeMs: maxLifeTimeMs}
}

// CreateBlock drives a full creation attempt for tenant to completion.
// spec.md §4.6 allocates exactly one trip_id up front and reuses it across
// every retry, expanding only the deadline — a restart would hand the
// duplicate-suppression scan and the "same trip_id" retry-idempotence
// guarantee a fresh identity on every timeout instead of extending the one
// attempt already underway.
func (d *Driver) CreateBlock(ctx context.Context, tenant string, txs []ledger.Tx, typ ledger.BlockType) (*ledger.Block, error) {
	lifetime := d.MinLifeTimeMs
	if lifetime <= 0 {
		lifetime = d.MaxLifeTimeMs
	}
	tripID := uuid.NewString()

	var lastErr error
	for attempt := 0; attempt < maxDriverAttempts; attempt++ {
		block, code, err := d.Machine.ProceedCreator(ctx, tripID, tenant, txs, typ, lifetime)
		if err == nil && code <= StatusSuccess {
			d.Machine.Trips.Release(tripID)
			return block, nil
		}
		if errs.Is(err, errs.KindAlreadyStarted) {
			return nil, ErrSkipped
		}
		lastErr = err

		if errs.Is(err, errs.KindTimeout) || code == DispatchExhaustedCode(0) {
			lifetime = expandLifetime(lifetime, d.MaxLifeTimeMs)
			continue
		}

		// Any other failure (sign/verify/malformed) is not retryable by
		// expanding the deadline; surface it immediately.
		break
	}

	detail := "unknown reason"
	if lastErr != nil {
		detail = lastErr.Error()
	}
	return nil, errs.New(errs.KindDispatchExhausted, detail)
}

// expandLifetime applies spec.md §4.6's 1.5x growth, capped at max.
func expandLifetime(current, max int64) int64 {
	next := current + current/2
	if next > max {
		next = max
	}
	if next <= current {
		return max
	}
	return next
}
