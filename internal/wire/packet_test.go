package wire

import "testing"

func TestNewRequestSetsVersionAndPayload(t *testing.T) {
	req, err := NewRequest("nodeA", "nodeB", Ping, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if req.Version != ProtocolVersion {
		t.Fatalf("Version = %d, want %d", req.Version, ProtocolVersion)
	}
	if req.PacketID == "" {
		t.Fatalf("expected a non-empty packet_id")
	}
	if req.Payload.PayloadType != Request || req.Payload.Request != Ping {
		t.Fatalf("unexpected payload: %+v", req.Payload)
	}
	if req.Payload.DataAsString != `{"k":"v"}` {
		t.Fatalf("DataAsString = %q", req.Payload.DataAsString)
	}
}

func TestReplySwapsSenderAndReceiver(t *testing.T) {
	req, _ := NewRequest("nodeA", "nodeB", Ping, nil)
	resp := req.Reply(true, map[string]int{"ok": 1}, "")

	if resp.Sender != "nodeB" || resp.Receiver != "nodeA" {
		t.Fatalf("expected sender/receiver swapped, got sender=%s receiver=%s", resp.Sender, resp.Receiver)
	}
	if resp.PrevID != req.PacketID {
		t.Fatalf("PrevID = %q, want %q", resp.PrevID, req.PacketID)
	}
	if resp.Payload.PayloadType != ResultSuccess {
		t.Fatalf("PayloadType = %v, want ResultSuccess", resp.Payload.PayloadType)
	}
}

func TestReplyFailureCarriesDetail(t *testing.T) {
	req, _ := NewRequest("nodeA", "nodeB", Ping, nil)
	resp := req.Reply(false, nil, "boom")

	if resp.Payload.PayloadType != ResultFailure {
		t.Fatalf("PayloadType = %v, want ResultFailure", resp.Payload.PayloadType)
	}
	if resp.Payload.GErrorAsString != "boom" {
		t.Fatalf("GErrorAsString = %q, want %q", resp.Payload.GErrorAsString, "boom")
	}
}

func TestEmptyDetectsZeroPacket(t *testing.T) {
	var zero GeneralPacket
	if !zero.Empty() {
		t.Fatalf("expected zero-value GeneralPacket to be Empty")
	}
	req, _ := NewRequest("nodeA", "nodeB", Ping, nil)
	if req.Empty() {
		t.Fatalf("did not expect a freshly built request to be Empty")
	}
}
