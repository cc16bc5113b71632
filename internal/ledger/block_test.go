package ledger

import "testing"

func TestContentHashStableAcrossSignatures(t *testing.T) {
	asm := NewAssembler(3)
	b, err := asm.Pack(nil, nil, BlockGenesis, "t1")
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	want := b.Hash

	// Signing mutates SignedBy/SignCounter but must never change the hash
	// a peer recomputes, per invariant 1.
	b.SignedBy["a"] = "sig-a"
	b.SignCounter--
	b.SignedBy["b"] = "sig-b"
	b.SignCounter--

	if got := b.ContentHash(3); got != want {
		t.Fatalf("content hash changed after signing: got %s want %s", got, want)
	}
}

func TestSignatureBudgetInvariant(t *testing.T) {
	b := &Block{SignedBy: map[string]string{"a": "x", "b": "y"}, SignCounter: 1}
	if !b.SignatureBudgetOK(3) {
		t.Fatalf("expected budget to hold: 2 signed + 1 remaining == 3")
	}
	if b.SignatureBudgetOK(4) {
		t.Fatalf("expected budget mismatch against max=4")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	b := &Block{SignedBy: map[string]string{"a": "x"}, Data: []Tx{{ID: "1"}}}
	c := b.Clone()
	c.SignedBy["b"] = "y"
	c.Data[0].ID = "changed"
	if _, ok := b.SignedBy["b"]; ok {
		t.Fatalf("mutation of clone leaked into original signedby")
	}
	if b.Data[0].ID != "1" {
		t.Fatalf("mutation of clone leaked into original data")
	}
}
