package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"synnergy-ca3/internal/errs"
	"synnergy-ca3/internal/ledger"
	"synnergy-ca3/internal/signature"
	"synnergy-ca3/internal/trip"
	"synnergy-ca3/internal/wire"
)

// Dispatcher is the collaborator interface the state machine dispatches
// through — satisfied directly by *transport.Peer, kept as an interface
// here so ca3_test.go can exercise the state machine against an in-process
// fake without opening real sockets.
type Dispatcher interface {
	Unary(ctx context.Context, peerName string, req wire.GeneralPacket) (wire.GeneralPacket, error)
	RandomDispatch(ctx context.Context, req wire.GeneralPacket, exclude []string) (peerName string, reply wire.GeneralPacket, err error)
	Broadcast(ctx context.Context, req wire.GeneralPacket) map[string]wire.GeneralPacket
}

// Machine is the CA3 state machine, C5.
type Machine struct {
	Self      string
	Ledger    ledger.Facade
	Trips     *trip.Registry
	Assembler *ledger.Assembler
	Signer    *signature.Engine
	Dispatch  Dispatcher
	Log       *logrus.Logger

	MinSignNodes             int
	MaxSignNodes             int
	RejectEmptyDataBlocks    bool
	StrictEmptyTxSuppression bool
}

// New returns a Machine wired to its collaborators.
func New(self string, led ledger.Facade, trips *trip.Registry, asm *ledger.Assembler, signer *signature.Engine, dispatch Dispatcher, log *logrus.Logger) *Machine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Machine{
		Self:      self,
		Ledger:    led,
		Trips:     trips,
		Assembler: asm,
		Signer:    signer,
		Dispatch:  dispatch,
		Log:       log,
	}
}

// DeclareParams is the flat trip view request_to_declare_block_creation
// and declare_creation exchange, spec.md §3's TravelingId shape narrowed
// to the duplicate-suppression fields.
type DeclareParams struct {
	TripID     string
	Tenant     string
	Type       ledger.BlockType
	TxIDs      []string
	LifetimeMs int64
}

// RequestToDeclareBlockCreation implements the duplicate-suppression entry
// point, spec.md §4.5: a brand new trip_id conflicts with any active trip
// for the tenant whose tx_ids overlap, or — when tx_ids is empty, i.e. a
// genesis/parcel attempt — with any other active empty-tx trip per the
// StrictEmptyTxSuppression scope (SPEC_FULL.md's Open Question decision).
// A known trip_id only has its deadline_ms refreshed (retry semantics).
// It never talks to the network; that's declareCreation's job.
func (m *Machine) RequestToDeclareBlockCreation(params DeclareParams) (string, int64, error) {
	known := false
	if params.TripID != "" {
		if _, ok := m.Trips.Get(params.TripID); ok {
			known = true
		}
	}

	if !known {
		if len(params.TxIDs) == 0 {
			if m.Trips.HasActiveEmptyTxTrip(params.Tenant, string(params.Type), m.StrictEmptyTxSuppression) {
				return "", 0, errs.GenesisParcelConflict
			}
		} else if deadlineMs, conflict := m.Trips.ConflictingTxIDs(params.Tenant, params.TxIDs); conflict {
			return "", deadlineMs, errs.TxConflict
		}
	}

	tripID, deadlineMs := m.Trips.Allocate(params.TripID, params.Tenant, string(params.Type), params.TxIDs, params.LifetimeMs)
	return tripID, deadlineMs, nil
}

// declareCreation is proceed_creator step 1: register the trip locally,
// then broadcast DeclareBlockCreation to every peer so a concurrent
// initiator elsewhere in the roster also sees the reservation. Any peer
// replying with a negative code (either sentinel from
// RequestToDeclareBlockCreation) aborts the trip as fatal, per spec.md
// §4.5.
func (m *Machine) declareCreation(ctx context.Context, params DeclareParams) (string, error) {
	tripID, _, err := m.RequestToDeclareBlockCreation(params)
	if err != nil {
		return "", err
	}

	req, err := wire.NewRequest(m.Self, "", wire.DeclareBlockCreation, declareRequestPayload{
		TripID:     tripID,
		Tenant:     params.Tenant,
		Type:       string(params.Type),
		TxIDs:      params.TxIDs,
		LifetimeMs: params.LifetimeMs,
	})
	if err != nil {
		return "", errs.Wrap(errs.KindMalformedData, "declare_creation: encode broadcast", err)
	}

	for peer, reply := range m.Dispatch.Broadcast(ctx, req) {
		if reply.Payload.PayloadType != wire.ResultSuccess {
			continue
		}
		var result declareResultPayload
		if err := unmarshalString(reply.Payload.DataAsString, &result); err != nil {
			m.Log.WithField("peer", peer).WithError(err).Warn("ca3: malformed declare reply")
			continue
		}
		if result.Code < 0 {
			m.Trips.Abort(tripID)
			return "", errs.AlreadyStarted
		}
	}
	return tripID, nil
}

// ProceedCreator is the initiator path, spec.md §4.5: declare, pack,
// self-sign, dispatch for the remaining signatures, then observe whether
// the relay chain terminal-stored the block. An empty tripID allocates a
// fresh trip; the Retry Driver (C6) passes the same trip_id on every
// attempt, so a retry only refreshes the existing trip's deadline.
func (m *Machine) ProceedCreator(ctx context.Context, tripID, tenant string, txs []ledger.Tx, typ ledger.BlockType, lifetimeMs int64) (*ledger.Block, int, error) {
	if m.RejectEmptyDataBlocks && typ == ledger.BlockData && len(txs) == 0 {
		return nil, 0, errs.New(errs.KindMalformedData, "proceed_creator: refusing to pack an empty data block")
	}

	params := DeclareParams{TripID: tripID, Tenant: tenant, Type: typ, TxIDs: txIDsOf(txs), LifetimeMs: lifetimeMs}
	tripID, err := m.declareCreation(ctx, params)
	if err != nil {
		return nil, 0, err
	}

	rec, ok := m.Trips.Get(tripID)
	if !ok {
		return nil, 0, errs.New(errs.KindMalformedData, "proceed_creator: trip vanished before packing")
	}
	deadlineMs := rec.DeadlineMs

	prev, err := m.Ledger.GetLastBlock(tenant)
	if err != nil {
		return nil, 0, errs.Wrap(errs.KindMalformedData, "proceed_creator: load prev block", err)
	}

	block, err := m.Assembler.Pack(prev, txs, typ, tenant)
	if err != nil {
		return nil, 0, err
	}

	if rec.State == trip.StatePreparation {
		if err := m.Trips.Advance(tripID, trip.StateUnderway); err != nil {
			return nil, 0, err
		}
	}

	if _, err := m.Signer.Sign(block, deadlineMs); err != nil {
		return nil, SignFailureCode(0), errs.Wrap(errs.KindSignFailed, "proceed_creator: self sign", err)
	}

	if block.SignCounter == 0 {
		return m.terminalStore(ctx, block, tripID)
	}

	if time.Now().UnixMilli() >= deadlineMs {
		return nil, DispatchExhaustedCode(0), errs.Timeout
	}

	req, err := wire.NewRequest(m.Self, "", wire.SignAndResendOrStore, signRequestPayload{
		Block:      block,
		TripID:     tripID,
		DeadlineMs: deadlineMs,
	})
	if err != nil {
		return nil, 0, errs.Wrap(errs.KindMalformedData, "proceed_creator: encode sign request", err)
	}

	_, reply, err := m.Dispatch.RandomDispatch(ctx, req, signedByNames(block))
	if err != nil {
		return nil, DispatchExhaustedCode(0), err
	}

	var payload signResultPayload
	if err := decodeReplyPayload(reply, &payload); err != nil {
		return nil, 0, errs.Wrap(errs.KindMalformedData, "proceed_creator: decode relay reply", err)
	}
	block = payload.Block

	// send_to_a_node only tells us the chain completed; whether the block
	// actually reached storage is the trip's own stored flag, per spec.md
	// §4.5 step 4 ("if trip's stored is true the block was terminal-stored
	// by some downstream peer").
	final, ok := m.Trips.Get(tripID)
	if !ok || !final.Stored {
		return nil, DispatchExhaustedCode(0), errs.New(errs.KindDispatchExhausted, "proceed_creator: relay chain never reached stored state")
	}
	return block, StatusSuccess, nil
}

// RequestToSignAndResendOrStore is the relay path, spec.md §4.5: verify
// whatever signatures the block already carries, sign locally, then either
// resend to the next candidate or terminal-store once full.
func (m *Machine) RequestToSignAndResendOrStore(ctx context.Context, block *ledger.Block, tripID string, deadlineMs int64) (*ledger.Block, int, error) {
	if !block.SignatureBudgetOK(m.MaxSignNodes) {
		return nil, 0, errs.New(errs.KindMalformedBlock, "request_to_sign_and_resend_or_store: signature budget invariant violated")
	}

	verify := m.Signer.VerifyAll(block)
	if verify.Status != signature.StatusGood {
		return nil, VerifyFailureCode(verify.Status), errs.New(errs.KindVerifyFailed, verify.Detail)
	}

	if _, already := block.SignedBy[m.Self]; already {
		return nil, 0, errs.AlreadyStarted
	}

	if _, err := m.Signer.Sign(block, deadlineMs); err != nil {
		return nil, SignFailureCode(0), errs.Wrap(errs.KindSignFailed, "request_to_sign_and_resend_or_store: sign", err)
	}

	if block.SignCounter == 0 {
		return m.terminalStore(ctx, block, tripID)
	}

	req, err := wire.NewRequest(m.Self, "", wire.SignAndResendOrStore, signRequestPayload{
		Block:      block,
		TripID:     tripID,
		DeadlineMs: deadlineMs,
	})
	if err != nil {
		return nil, 0, errs.Wrap(errs.KindMalformedData, "request_to_sign_and_resend_or_store: encode resend", err)
	}

	_, reply, err := m.Dispatch.RandomDispatch(ctx, req, signedByNames(block))
	if err != nil {
		if len(block.SignedBy) < m.MinSignNodes {
			return nil, DispatchExhaustedCode(0), err
		}
		// Enough signatures already collected to satisfy min_sign_nodes —
		// dispatch exhaustion just means nobody else is left to ask, so
		// store what we have instead of discarding it.
		return m.terminalStore(ctx, block, tripID)
	}

	var payload signResultPayload
	if err := decodeReplyPayload(reply, &payload); err != nil {
		return nil, 0, errs.Wrap(errs.KindMalformedData, "request_to_sign_and_resend_or_store: decode downstream reply", err)
	}
	return payload.Block, payload.Status, nil
}

// terminalStore is spec.md §4.5 step 4: store locally, then broadcast
// AddBlockCa3 to the rest of the roster so every reachable node persists
// the block, not just the hop that happened to see signcounter reach
// zero. Failures during the broadcast are counted, not fatal — the block
// is already safely stored on this node.
func (m *Machine) terminalStore(ctx context.Context, block *ledger.Block, tripID string) (*ledger.Block, int, error) {
	if err := m.Ledger.AddBlock(block, block.Type == ledger.BlockData, tripID); err != nil {
		return nil, 0, errs.Wrap(errs.KindMalformedBlock, "terminal_store: store block", err)
	}

	failures := 0
	req, err := wire.NewRequest(m.Self, "", wire.AddBlockCa3, addBlockPayload{
		Block:          block,
		RemoveFromPool: block.Type == ledger.BlockData,
		TripID:         tripID,
	})
	if err != nil {
		m.Log.WithError(err).Warn("ca3: terminal_store: encode add_block_ca3 broadcast")
	} else {
		for peer, reply := range m.Dispatch.Broadcast(ctx, req) {
			if reply.Payload.PayloadType != wire.ResultSuccess {
				failures++
				m.Log.WithField("peer", peer).Warn("ca3: terminal_store: peer rejected add_block_ca3")
			}
		}
	}

	if err := m.Trips.MarkStored(tripID); err != nil {
		m.Log.WithError(err).Warn("ca3: terminal_store: mark stored")
	}
	return block, PeerFailureCode(failures), nil
}

// signedByNames returns block's current signer set, used to exclude
// already-signed peers from the next random_dispatch candidate pool,
// spec.md §4.5 step 3a.
func signedByNames(block *ledger.Block) []string {
	names := make([]string, 0, len(block.SignedBy))
	for name := range block.SignedBy {
		names = append(names, name)
	}
	return names
}

// txIDsOf projects a tx batch down to the id list the duplicate-suppression
// scan matches against.
func txIDsOf(txs []ledger.Tx) []string {
	if len(txs) == 0 {
		return nil
	}
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	return ids
}

// declareRequestPayload is the DataAsString JSON shape for a
// DeclareBlockCreation request — the flat trip view, spec.md §3.
type declareRequestPayload struct {
	TripID     string   `json:"trip_id,omitempty"`
	Tenant     string   `json:"tenant"`
	Type       string   `json:"type"`
	TxIDs      []string `json:"tx_ids,omitempty"`
	LifetimeMs int64    `json:"lifetime_ms"`
}

// declareResultPayload carries request_to_declare_block_creation's integer
// sentinel, spec.md §4.5: a non-negative code is the (possibly refreshed)
// deadline_ms; -102 is the genesis/parcel conflict; any other negative
// value is -deadline_ms of the tx_ids-overlapping trip.
type declareResultPayload struct {
	TripID string `json:"trip_id"`
	Code   int64  `json:"code"`
}

// signRequestPayload is the DataAsString JSON shape for a
// SignAndResendOrStore request.
type signRequestPayload struct {
	Block      *ledger.Block `json:"block"`
	TripID     string        `json:"trip_id"`
	DeadlineMs int64         `json:"deadline_ms"`
}

// signResultPayload is the DataAsString JSON shape for a
// SignAndResendOrStore reply.
type signResultPayload struct {
	Block  *ledger.Block `json:"block"`
	Status int           `json:"status"`
}

// addBlockPayload is the DataAsString JSON shape for AddBlock/AddBlockCa3
// requests, shared between terminalStore's broadcast and the Receiver's
// handler.
type addBlockPayload struct {
	Block          *ledger.Block `json:"block"`
	RemoveFromPool bool          `json:"remove_from_pool"`
	TripID         string        `json:"trip_id"`
}

func decodeReplyPayload(reply wire.GeneralPacket, out interface{}) error {
	if reply.Payload.PayloadType != wire.ResultSuccess {
		return fmt.Errorf("protocol: peer returned failure: %s", reply.Payload.GErrorAsString)
	}
	return unmarshalString(reply.Payload.DataAsString, out)
}
