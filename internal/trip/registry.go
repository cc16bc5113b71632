// Package trip implements the Trip Registry (C1, spec.md §4.1): per-attempt
// state tracking for an in-flight block-creation round, including the
// sweep-on-allocate expiry check every allocation performs. Grounded on the
// teacher's core/quorum_tracker.go mutex-guarded map-of-state pattern
// (global registry reached through a package-level accessor), adapted from
// vote counting to trip lifecycle tracking.
package trip

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"synnergy-ca3/internal/errs"
)

// State is a trip's lifecycle stage, spec.md §4.1.
type State string

const (
	StatePreparation State = "preparation"
	StateUnderway    State = "underway"
	StateArrived     State = "arrived"
)

// Record is one attempt's bookkeeping entry, spec.md §3's TripRecord: state,
// stored (tracked separately from state since arrived covers both success
// and fatal failure), deadline_ms, type, tenant, and the tx_ids the
// duplicate-suppression scan matches against.
type Record struct {
	ID         string
	Tenant     string
	Type       string
	TxIDs      []string
	State      State
	DeadlineMs int64
	CreatedAt  int64
	Stored     bool
}

// Expired reports whether the trip's deadline has passed as of nowMs.
func (r Record) Expired(nowMs int64) bool {
	return r.DeadlineMs > 0 && nowMs >= r.DeadlineMs
}

// Registry is the Trip Registry, C1. now is injectable for deterministic
// tests; it defaults to time.Now in New.
type Registry struct {
	mu    sync.Mutex
	trips map[string]*Record
	now   func() time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{trips: make(map[string]*Record), now: time.Now}
}

// nowMs returns the registry's clock in epoch milliseconds.
func (r *Registry) nowMs() int64 { return r.now().UnixMilli() }

// sweep removes every expired trip. Called at the top of Allocate, per
// spec.md §4.1 ("sweep-on-allocate"): the registry never runs a background
// reaper goroutine, it only prunes lazily when new work arrives.
func (r *Registry) sweep(nowMs int64) {
	for id, rec := range r.trips {
		if rec.Expired(nowMs) {
			delete(r.trips, id)
		}
	}
}

// Allocate implements spec.md §4.1's allocate(trip_id, type, tenant,
// tx_ids, deadline_ms): if tripID is empty a fresh UUID is minted; if the
// (possibly caller-supplied) trip_id names a record that already exists,
// only its deadline_ms is refreshed — the retry semantics both the
// duplicate-suppression entry point and the Retry Driver's trip_id reuse
// depend on. Otherwise a new record is created in state preparation.
// Returns the trip_id and its (possibly refreshed) deadline_ms.
func (r *Registry) Allocate(tripID, tenant, typ string, txIDs []string, lifetimeMs int64) (string, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowMs()
	r.sweep(now)

	if tripID != "" {
		if rec, ok := r.trips[tripID]; ok {
			rec.DeadlineMs = now + lifetimeMs
			return tripID, rec.DeadlineMs
		}
	} else {
		tripID = uuid.NewString()
	}

	deadlineMs := now + lifetimeMs
	r.trips[tripID] = &Record{
		ID:         tripID,
		Tenant:     tenant,
		Type:       typ,
		TxIDs:      txIDs,
		State:      StatePreparation,
		DeadlineMs: deadlineMs,
		CreatedAt:  now,
	}
	return tripID, deadlineMs
}

// Get returns a copy of the trip record, or ok=false if it is unknown or
// has already expired.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.trips[id]
	if !ok {
		return Record{}, false
	}
	if rec.Expired(r.nowMs()) {
		delete(r.trips, id)
		return Record{}, false
	}
	return *rec, true
}

// validTransitions enumerates the only state transitions Advance accepts,
// spec.md §4.1: preparation -> underway -> arrived. Out-of-order
// transitions return errs.KindAlreadyStarted, matching spec.md §9's legacy
// "Already started" detail for a trip that skipped (or repeated) a stage.
var validTransitions = map[State]State{
	StatePreparation: StateUnderway,
	StateUnderway:    StateArrived,
}

// Advance moves a trip to its next state in sequence. It rejects the call
// with errs.KindAlreadyStarted if the trip is not currently in the state
// required to reach `to`, and errs.KindTimeout if the trip has expired.
func (r *Registry) Advance(id string, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.trips[id]
	if !ok {
		return errs.New(errs.KindMalformedData, fmt.Sprintf("trip: unknown trip_id %q", id))
	}
	if rec.Expired(r.nowMs()) {
		delete(r.trips, id)
		return errs.Timeout
	}
	want, ok := validTransitions[rec.State]
	if !ok || want != to {
		return errs.AlreadyStarted
	}
	rec.State = to
	return nil
}

// Abort sets a trip straight to arrived without marking it stored — the
// fatal-abort path out of declare_creation, spec.md §4.5 step 1 ("abort
// this trip as fatal; set trip state arrived, block None"). Silent no-op
// if the trip was already swept.
func (r *Registry) Abort(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.trips[id]; ok {
		rec.State = StateArrived
	}
}

// MarkStored transitions a trip straight to arrived and sets stored=true,
// the terminal state a successful proceed_creator, request_to_sign_and_
// resend_or_store, or inbound AddBlockCa3 broadcast reaches once the block
// lands in the Facade. Returns an error if the trip is unknown (for
// example already swept); its callers only log that error, so a lost race
// is not fatal.
func (r *Registry) MarkStored(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.trips[id]
	if !ok {
		return errs.New(errs.KindMalformedData, fmt.Sprintf("trip: unknown trip_id %q", id))
	}
	rec.State = StateArrived
	rec.Stored = true
	return nil
}

// ConflictingTxIDs scans every live, non-arrived trip for tenant for a
// tx_ids overlap with txIDs, per spec.md §4.5's duplicate-suppression scan.
// Arrived trips (success or fatal failure alike) are excluded so a
// concluded trip doesn't block a fresh attempt with the same tx_ids for
// the remainder of its not-yet-swept window. Returns the
// conflicting trip's deadline_ms, the value request_to_declare_block_
// creation replies with as -deadline_ms.
func (r *Registry) ConflictingTxIDs(tenant string, txIDs []string) (int64, bool) {
	if len(txIDs) == 0 {
		return 0, false
	}
	want := make(map[string]struct{}, len(txIDs))
	for _, id := range txIDs {
		want[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.trips {
		if rec.Tenant != tenant || rec.State == StateArrived {
			continue
		}
		for _, existing := range rec.TxIDs {
			if _, hit := want[existing]; hit {
				return rec.DeadlineMs, true
			}
		}
	}
	return 0, false
}

// HasActiveEmptyTxTrip reports whether tenant already has a live,
// non-arrived trip with empty tx_ids (a genesis/parcel attempt) that
// conflicts with a new one of type typ, per spec.md §9's open question:
// strict treats any active empty-tx trip as conflicting regardless of
// genesis vs. parcel_open vs. parcel_close; non-strict only conflicts
// with another trip of the same type.
func (r *Registry) HasActiveEmptyTxTrip(tenant, typ string, strict bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.trips {
		if rec.Tenant != tenant || rec.State == StateArrived || len(rec.TxIDs) != 0 {
			continue
		}
		if strict || rec.Type == typ {
			return true
		}
	}
	return false
}

// Release removes a trip from the registry outright, used once a round has
// fully concluded (success or terminal failure) and its bookkeeping is no
// longer needed.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.trips, id)
}

// Len reports the number of live (including not-yet-swept-expired) trips,
// for test assertions and operator introspection.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trips)
}
