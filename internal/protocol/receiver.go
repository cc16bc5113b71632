package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"synnergy-ca3/internal/errs"
	"synnergy-ca3/internal/ledger"
	"synnergy-ca3/internal/roster"
	"synnergy-ca3/internal/wire"
)

// Receiver is the Peer Receiver, C7: it validates an inbound packet's
// envelope, dispatches on its request tag, and builds the reply packet.
// Grounded on the teacher's core/consensus_network_adapter.go request
// dispatch table, generalized from the teacher's fixed opcode set to
// wire.RequestTag.
type Receiver struct {
	Self    string
	Machine *Machine
	Ledger  ledger.Facade
	Roster  *roster.Roster
	Log     *logrus.Logger
}

// NewReceiver returns a Receiver for self.
func NewReceiver(self string, machine *Machine, led ledger.Facade, rost *roster.Roster, log *logrus.Logger) *Receiver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Receiver{Self: self, Machine: machine, Ledger: led, Roster: rost, Log: log}
}

// Handle implements transport.Handler.
func (r *Receiver) Handle(ctx context.Context, req wire.GeneralPacket) wire.GeneralPacket {
	if req.Version != wire.ProtocolVersion {
		return req.Reply(false, nil, fmt.Sprintf("unsupported protocol version %d", req.Version))
	}
	if req.Receiver != "" && req.Receiver != r.Self {
		return req.Reply(false, nil, fmt.Sprintf("packet addressed to %q, not %q", req.Receiver, r.Self))
	}
	if req.Sender != r.Self {
		if e, known := r.Roster.Get(req.Sender); !known || !e.AllowOutgoing {
			return req.Reply(false, nil, fmt.Sprintf("sender %q is not an allowed peer", req.Sender))
		}
	}

	switch req.Payload.Request {
	case wire.Ping:
		return req.Reply(true, map[string]string{"pong": r.Self}, "")
	case wire.DeclareBlockCreation:
		return r.handleDeclare(req)
	case wire.SignAndResendOrStore:
		return r.handleSignAndResendOrStore(ctx, req)
	case wire.AddPool:
		return r.handleAddPool(req)
	case wire.GetPoolHeight:
		return r.handleGetPoolHeight(req)
	case wire.GetBlockHeight:
		return r.handleGetBlockHeight(req)
	case wire.GetBlockDigest:
		return r.handleGetBlockDigest(req)
	case wire.GetBlock:
		return r.handleGetBlock(req)
	case wire.ExamineBlockDifference:
		return r.handleExamineBlockDifference(req)
	case wire.ExaminePoolDifference:
		return r.handleExaminePoolDifference(req)
	case wire.AddBlockCa3:
		return r.handleAddBlock(req)
	case wire.AddBlock:
		// Legacy CA2 clients post bare AddBlock, bypassing the
		// signature-collection protocol entirely; always failure on CA3
		// nodes, spec.md §6.
		return req.Reply(false, nil, "AddBlock is not accepted on a CA3 node, use AddBlockCa3")
	case wire.ResetTestNode:
		// Always failure in production, spec.md §6 — this node never
		// exposes a test-reset hook over the wire.
		return req.Reply(false, nil, "reset_test_node is disabled")
	default:
		// Unknown request tag: terminate with an empty packet, per
		// spec.md §4.7.
		return wire.GeneralPacket{}
	}
}

type tenantRequest struct {
	Tenant string `json:"tenant"`
}

func (r *Receiver) handleDeclare(req wire.GeneralPacket) wire.GeneralPacket {
	var payload declareRequestPayload
	if err := unmarshalString(req.Payload.DataAsString, &payload); err != nil {
		return req.Reply(false, nil, "malformed declare request: "+err.Error())
	}
	params := DeclareParams{
		TripID:     payload.TripID,
		Tenant:     payload.Tenant,
		Type:       ledger.BlockType(payload.Type),
		TxIDs:      payload.TxIDs,
		LifetimeMs: payload.LifetimeMs,
	}
	tripID, deadlineMs, err := r.Machine.RequestToDeclareBlockCreation(params)
	switch {
	case err == nil:
		return req.Reply(true, declareResultPayload{TripID: tripID, Code: deadlineMs}, "")
	case errors.Is(err, errs.GenesisParcelConflict):
		return req.Reply(true, declareResultPayload{TripID: payload.TripID, Code: -102}, "")
	case errors.Is(err, errs.TxConflict):
		return req.Reply(true, declareResultPayload{TripID: payload.TripID, Code: -deadlineMs}, "")
	default:
		return req.Reply(false, nil, err.Error())
	}
}

func (r *Receiver) handleSignAndResendOrStore(ctx context.Context, req wire.GeneralPacket) wire.GeneralPacket {
	var payload signRequestPayload
	if err := unmarshalString(req.Payload.DataAsString, &payload); err != nil {
		return req.Reply(false, nil, "malformed sign request: "+err.Error())
	}
	block, status, err := r.Machine.RequestToSignAndResendOrStore(ctx, payload.Block, payload.TripID, payload.DeadlineMs)
	if err != nil {
		return req.Reply(false, nil, err.Error())
	}
	return req.Reply(true, signResultPayload{Block: block, Status: status}, "")
}

func (r *Receiver) handleAddPool(req wire.GeneralPacket) wire.GeneralPacket {
	var txs []ledger.Tx
	if err := unmarshalString(req.Payload.DataAsString, &txs); err != nil {
		return req.Reply(false, nil, "malformed add_pool request: "+err.Error())
	}
	if err := r.Ledger.AddPool(txs); err != nil {
		return req.Reply(false, nil, err.Error())
	}
	return req.Reply(true, nil, "")
}

func (r *Receiver) handleGetPoolHeight(req wire.GeneralPacket) wire.GeneralPacket {
	var payload tenantRequest
	if err := unmarshalString(req.Payload.DataAsString, &payload); err != nil {
		return req.Reply(false, nil, "malformed request: "+err.Error())
	}
	h, err := r.Ledger.GetPoolHeight(payload.Tenant)
	if err != nil {
		return req.Reply(false, nil, err.Error())
	}
	return req.Reply(true, map[string]int{"height": h}, "")
}

func (r *Receiver) handleGetBlockHeight(req wire.GeneralPacket) wire.GeneralPacket {
	var payload tenantRequest
	if err := unmarshalString(req.Payload.DataAsString, &payload); err != nil {
		return req.Reply(false, nil, "malformed request: "+err.Error())
	}
	h, err := r.Ledger.GetBlockHeight(payload.Tenant)
	if err != nil {
		return req.Reply(false, nil, err.Error())
	}
	return req.Reply(true, map[string]uint64{"height": h}, "")
}

func (r *Receiver) handleGetBlockDigest(req wire.GeneralPacket) wire.GeneralPacket {
	var payload struct {
		Tenant          string `json:"tenant"`
		FailIfUnhealthy bool   `json:"fail_if_unhealthy"`
	}
	if err := unmarshalString(req.Payload.DataAsString, &payload); err != nil {
		return req.Reply(false, nil, "malformed request: "+err.Error())
	}
	hash, height, err := r.Ledger.GetBlockDigest(payload.Tenant, payload.FailIfUnhealthy)
	if err != nil {
		return req.Reply(false, nil, err.Error())
	}
	return req.Reply(true, map[string]interface{}{"hash": hash, "height": height}, "")
}

func (r *Receiver) handleGetBlock(req wire.GeneralPacket) wire.GeneralPacket {
	var payload struct {
		ID     string `json:"id"`
		Tenant string `json:"tenant"`
	}
	if err := unmarshalString(req.Payload.DataAsString, &payload); err != nil {
		return req.Reply(false, nil, "malformed request: "+err.Error())
	}
	block, err := r.Ledger.GetBlock(payload.ID, payload.Tenant)
	if err != nil {
		return req.Reply(false, nil, err.Error())
	}
	return req.Reply(true, block, "")
}

func (r *Receiver) handleExamineBlockDifference(req wire.GeneralPacket) wire.GeneralPacket {
	var payload struct {
		Have   []ledger.BlockRef `json:"have"`
		Tenant string            `json:"tenant"`
	}
	if err := unmarshalString(req.Payload.DataAsString, &payload); err != nil {
		return req.Reply(false, nil, "malformed request: "+err.Error())
	}
	add, del, err := r.Ledger.ExamineBlockDifference(payload.Have, payload.Tenant)
	if err != nil {
		return req.Reply(false, nil, err.Error())
	}
	return req.Reply(true, map[string]interface{}{"add": add, "delete": del}, "")
}

func (r *Receiver) handleExaminePoolDifference(req wire.GeneralPacket) wire.GeneralPacket {
	var payload struct {
		Have   []string `json:"have"`
		Tenant string   `json:"tenant"`
	}
	if err := unmarshalString(req.Payload.DataAsString, &payload); err != nil {
		return req.Reply(false, nil, "malformed request: "+err.Error())
	}
	missing, err := r.Ledger.ExaminePoolDifference(payload.Have, payload.Tenant)
	if err != nil {
		return req.Reply(false, nil, err.Error())
	}
	return req.Reply(true, missing, "")
}

func (r *Receiver) handleAddBlock(req wire.GeneralPacket) wire.GeneralPacket {
	var payload addBlockPayload
	if err := unmarshalString(req.Payload.DataAsString, &payload); err != nil {
		return req.Reply(false, nil, "malformed request: "+err.Error())
	}
	if err := r.Ledger.AddBlock(payload.Block, payload.RemoveFromPool, payload.TripID); err != nil {
		return req.Reply(false, nil, err.Error())
	}
	if payload.TripID != "" {
		// Best-effort: this broadcast may land on a node that only ever
		// saw the trip via the initial declare, or on one past its
		// deadline and already swept — either way the block is stored
		// either way, so a missing trip record here is not an error.
		if err := r.Machine.Trips.MarkStored(payload.TripID); err != nil {
			r.Log.WithError(err).Debug("ca3: add_block_ca3: trip not tracked locally")
		}
	}
	return req.Reply(true, nil, "")
}
