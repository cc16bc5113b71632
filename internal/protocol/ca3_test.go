package protocol

import (
	"context"
	"testing"

	"synnergy-ca3/internal/errs"
	"synnergy-ca3/internal/keystore"
	"synnergy-ca3/internal/ledger"
	"synnergy-ca3/internal/roster"
	"synnergy-ca3/internal/signature"
	"synnergy-ca3/internal/trip"
	"synnergy-ca3/internal/wire"
)

// fakeDispatcher routes Unary/RandomDispatch calls directly into another
// node's Receiver.Handle in-process, so the state machine can be exercised
// end-to-end without opening real sockets — the transport package's own
// tests already cover the wire framing and TCP round trip.
type fakeDispatcher struct {
	self      string
	roster    *roster.Roster
	receivers map[string]*Receiver
}

func (f *fakeDispatcher) Unary(ctx context.Context, peerName string, req wire.GeneralPacket) (wire.GeneralPacket, error) {
	recv, ok := f.receivers[peerName]
	if !ok {
		return wire.GeneralPacket{}, errs.New(errs.KindPeerUnreachable, "fake dispatcher: unknown peer "+peerName)
	}
	req.Receiver = peerName
	req.Sender = f.self
	return recv.Handle(ctx, req), nil
}

func (f *fakeDispatcher) RandomDispatch(ctx context.Context, req wire.GeneralPacket, exclude []string) (string, wire.GeneralPacket, error) {
	candidates, err := f.roster.Candidates(exclude)
	if err != nil {
		return "", wire.GeneralPacket{}, err
	}
	if len(candidates) == 0 {
		return "", wire.GeneralPacket{}, errs.New(errs.KindDispatchExhausted, "no eligible peers")
	}
	var lastErr error
	for _, c := range candidates {
		reply, err := f.Unary(ctx, c.Name, req)
		if err != nil {
			lastErr = err
			continue
		}
		if reply.Payload.PayloadType != wire.ResultSuccess {
			lastErr = errs.New(errs.KindDispatchExhausted, reply.Payload.GErrorAsString)
			continue
		}
		return c.Name, reply, nil
	}
	return "", wire.GeneralPacket{}, errs.Wrap(errs.KindDispatchExhausted, "every candidate failed", lastErr)
}

func (f *fakeDispatcher) Broadcast(ctx context.Context, req wire.GeneralPacket) map[string]wire.GeneralPacket {
	candidates, err := f.roster.Candidates(nil)
	if err != nil {
		return nil
	}
	out := make(map[string]wire.GeneralPacket, len(candidates))
	for _, c := range candidates {
		reply, err := f.Unary(ctx, c.Name, req)
		if err != nil {
			continue
		}
		out[c.Name] = reply
	}
	return out
}

type testNode struct {
	name    string
	machine *Machine
	recv    *Receiver
	ledger  *ledger.MemoryFacade
	roster  *roster.Roster
	keys    *keystore.Store
}

// buildCluster wires maxSignNodes nodes named nodeA, nodeB, ... into a
// fully-connected roster and a shared in-process dispatch fabric.
func buildCluster(t *testing.T, maxSignNodes int, rejectEmptyData bool) map[string]*testNode {
	t.Helper()
	names := make([]string, maxSignNodes)
	for i := range names {
		names[i] = string(rune('A'+i))
	}

	nodes := make(map[string]*testNode, maxSignNodes)
	stores := make(map[string]*keystore.Store, maxSignNodes)
	for _, n := range names {
		stores["node"+n] = keystore.New("node"+n, nil)
	}
	pubs := make(map[string][]byte)
	for name, ks := range stores {
		pub, err := ks.GenerateEphemeralKey()
		if err != nil {
			t.Fatalf("generate key for %s: %v", name, err)
		}
		pubs[name] = pub
	}
	for _, ks := range stores {
		for peerName, pub := range pubs {
			ks.AddPeerKey(peerName, pub)
		}
	}

	receivers := make(map[string]*Receiver, maxSignNodes)
	for _, n := range names {
		name := "node" + n
		rost := roster.New(name, 100)
		for _, other := range names {
			otherName := "node" + other
			rost.Add(roster.Entry{Name: otherName, Host: "fake", Port: 0, AllowOutgoing: true})
		}

		led, err := ledger.NewMemoryFacade("", nil)
		if err != nil {
			t.Fatalf("new facade for %s: %v", name, err)
		}
		trips := trip.New()
		asm := ledger.NewAssembler(maxSignNodes)
		sigEngine := signature.New(stores[name], maxSignNodes)
		dispatch := &fakeDispatcher{self: name, roster: rost, receivers: receivers}

		machine := New(name, led, trips, asm, sigEngine, dispatch, nil)
		machine.MinSignNodes = 1
		machine.MaxSignNodes = maxSignNodes
		machine.RejectEmptyDataBlocks = rejectEmptyData

		recv := NewReceiver(name, machine, led, rost, nil)
		receivers[name] = recv

		nodes[name] = &testNode{name: name, machine: machine, recv: recv, ledger: led, roster: rost, keys: stores[name]}
	}
	return nodes
}

func TestProceedCreatorSingleNodeGenesis(t *testing.T) {
	nodes := buildCluster(t, 1, true)
	a := nodes["nodeA"]

	block, code, err := a.machine.ProceedCreator(context.Background(), "", "tenantA", nil, ledger.BlockGenesis, 5000)
	if err != nil {
		t.Fatalf("proceed creator: %v", err)
	}
	if code != StatusSuccess {
		t.Fatalf("expected status success, got %d", code)
	}
	if block.SignCounter != 0 || len(block.SignedBy) != 1 {
		t.Fatalf("expected fully signed single-node block, got %+v", block)
	}

	stored, err := a.ledger.GetLastBlock("tenantA")
	if err != nil || stored == nil {
		t.Fatalf("expected genesis stored, got %v / %v", stored, err)
	}
}

func TestProceedCreatorTwoNodeDataBlock(t *testing.T) {
	nodes := buildCluster(t, 2, true)
	a := nodes["nodeA"]

	if _, code, err := a.machine.ProceedCreator(context.Background(), "", "tenantA", nil, ledger.BlockGenesis, 5000); err != nil || code != StatusSuccess {
		t.Fatalf("genesis: code=%d err=%v", code, err)
	}

	txs := []ledger.Tx{{ID: "tx1", Type: ledger.TxNew, Tenant: "tenantA"}}
	block, code, err := a.machine.ProceedCreator(context.Background(), "", "tenantA", txs, ledger.BlockData, 5000)
	if err != nil {
		t.Fatalf("proceed creator data block: %v", err)
	}
	if code != StatusSuccess {
		t.Fatalf("expected success, got code %d", code)
	}
	if len(block.SignedBy) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(block.SignedBy))
	}

	aHead, _ := a.ledger.GetLastBlock("tenantA")
	if aHead.ID != block.ID {
		t.Fatalf("initiator ledger head mismatch")
	}
	if aHead.Height != 1 {
		t.Fatalf("expected height 1 on initiator, got %d", aHead.Height)
	}
}

func TestProceedCreatorRejectsEmptyDataWhenRejectEmptyDataBlocks(t *testing.T) {
	nodes := buildCluster(t, 1, true)
	a := nodes["nodeA"]
	if _, _, err := a.machine.ProceedCreator(context.Background(), "", "tenantA", nil, ledger.BlockData, 5000); err == nil {
		t.Fatalf("expected error for empty data block with RejectEmptyDataBlocks set")
	}
}

func TestProceedCreatorDuplicateSuppression(t *testing.T) {
	nodes := buildCluster(t, 2, true)
	a := nodes["nodeA"]
	if _, _, err := a.machine.RequestToDeclareBlockCreation(DeclareParams{Tenant: "tenantA", Type: ledger.BlockGenesis, LifetimeMs: 5000}); err != nil {
		t.Fatalf("declare: %v", err)
	}
	if _, _, err := a.machine.ProceedCreator(context.Background(), "", "tenantA", nil, ledger.BlockGenesis, 5000); !errs.Is(err, errs.KindAlreadyStarted) {
		t.Fatalf("expected already-started error, got %v", err)
	}
}

func TestRequestToSignAndResendOrStoreRejectsDoubleSign(t *testing.T) {
	nodes := buildCluster(t, 2, true)
	a, b := nodes["nodeA"], nodes["nodeB"]
	genesis, _, err := a.machine.ProceedCreator(context.Background(), "", "tenantA", nil, ledger.BlockGenesis, 5000)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	// genesis is already fully signed by both a and b; resending to b
	// again must be rejected as a duplicate.
	if _, _, err := b.machine.RequestToSignAndResendOrStore(context.Background(), genesis, "trip-x", 0); !errs.Is(err, errs.KindAlreadyStarted) {
		t.Fatalf("expected already-started for double sign, got %v", err)
	}
}

// TestProceedCreatorBroadcastsTerminalStoreToEveryNode exercises a
// three-node relay chain (initiator -> relay -> terminal signer) and
// checks that the relay hop, which never itself calls add_block, still
// ends up with the block persisted via the terminal node's AddBlockCa3
// broadcast, spec.md §4.5 step 4b.
func TestProceedCreatorBroadcastsTerminalStoreToEveryNode(t *testing.T) {
	nodes := buildCluster(t, 3, true)
	a := nodes["nodeA"]

	block, code, err := a.machine.ProceedCreator(context.Background(), "", "tenantA", nil, ledger.BlockGenesis, 5000)
	if err != nil {
		t.Fatalf("proceed creator: %v", err)
	}
	if code != StatusSuccess {
		t.Fatalf("expected status success, got %d", code)
	}

	for _, n := range nodes {
		stored, err := n.ledger.GetLastBlock("tenantA")
		if err != nil {
			t.Fatalf("%s: get last block: %v", n.name, err)
		}
		if stored == nil || stored.ID != block.ID {
			t.Fatalf("%s: expected the terminal-store broadcast to persist the block, got %+v", n.name, stored)
		}
	}
}
