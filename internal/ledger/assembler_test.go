package ledger

import "testing"

func TestPackGenesis(t *testing.T) {
	asm := NewAssembler(1)
	b, err := asm.Pack(nil, nil, BlockGenesis, "tenantA")
	if err != nil {
		t.Fatalf("pack genesis: %v", err)
	}
	if b.Height != 0 || b.Size != 0 || b.PrevHash != "0" || b.Data != nil {
		t.Fatalf("unexpected genesis shape: %+v", b)
	}
	if b.SignCounter != 1 || len(b.SignedBy) != 0 {
		t.Fatalf("expected fresh signcounter=1, signedby={}, got %+v", b)
	}
}

func TestPackDataRequiresPrev(t *testing.T) {
	asm := NewAssembler(2)
	if _, err := asm.Pack(nil, []Tx{{ID: "a"}}, BlockData, "tenantA"); err == nil {
		t.Fatalf("expected fatal error for missing prev on data block")
	}
}

func TestPackDataBlock(t *testing.T) {
	asm := NewAssembler(2)
	genesis, err := asm.Pack(nil, nil, BlockGenesis, "tenantA")
	if err != nil {
		t.Fatalf("pack genesis: %v", err)
	}
	genesis.SignedBy["n1"] = "sig"
	genesis.SignCounter = 0

	txs := []Tx{{ID: "tx1", Type: TxNew, Tenant: "tenantA"}}
	data, err := asm.Pack(genesis, txs, BlockData, "tenantA")
	if err != nil {
		t.Fatalf("pack data: %v", err)
	}
	if data.Height != 1 {
		t.Fatalf("expected height 1, got %d", data.Height)
	}
	if data.Size != 1 || len(data.Data) != 1 {
		t.Fatalf("expected size/data 1, got %+v", data)
	}
	if data.PrevHash != genesis.Hash {
		t.Fatalf("prev_hash mismatch: got %s want %s", data.PrevHash, genesis.Hash)
	}
}

func TestPackParcelOpenAndClose(t *testing.T) {
	asm := NewAssembler(2)
	genesis, _ := asm.Pack(nil, nil, BlockGenesis, "t")
	open, err := asm.Pack(genesis, []Tx{{ID: "tx1"}}, BlockParcelOpen, "t")
	if err != nil {
		t.Fatalf("pack parcel_open: %v", err)
	}
	if open.Size != 1 {
		t.Fatalf("expected symbolic size 1 for parcel_open, got %d", open.Size)
	}
	close, err := asm.Pack(open, nil, BlockParcelClose, "t")
	if err != nil {
		t.Fatalf("pack parcel_close: %v", err)
	}
	if close.Size != 0 || close.Data != nil {
		t.Fatalf("expected empty parcel_close, got %+v", close)
	}
}
