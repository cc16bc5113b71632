package ledger

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"

	"synnergy-ca3/internal/errs"
)

// new24HexID derives an opaque 24-hex identifier (spec.md §3) from a fresh
// UUIDv4's first 12 bytes — unique with overwhelming probability, per
// spec.md §4.2.
func new24HexID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:12])
}

// Assembler is the Block Assembler, C2 in spec.md §4.2.
type Assembler struct {
	// MaxSignNodes seeds every freshly packed block's signcounter and is
	// the constant invariant 2 is checked against.
	MaxSignNodes int
}

// NewAssembler returns an Assembler configured with the network-wide
// signature budget.
func NewAssembler(maxSignNodes int) *Assembler {
	return &Assembler{MaxSignNodes: maxSignNodes}
}

// Pack builds a candidate block from prev + txs under the given type and
// tenant, per spec.md §4.2's per-type rules. prev is nil only for genesis.
func (a *Assembler) Pack(prev *Block, txs []Tx, typ BlockType, tenant string) (*Block, error) {
	if typ != BlockGenesis && prev == nil {
		return nil, errs.New(errs.KindMalformedBlock, "CreateBlock: missing prev for non-genesis block")
	}

	b := &Block{
		Version:     CA3Version,
		Tenant:      tenant,
		Type:        typ,
		SetTime:     time.Now().UTC().Format(time.RFC3339Nano),
		Timestamp:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		SignedBy:    map[string]string{},
		SignCounter: a.MaxSignNodes,
	}

	switch typ {
	case BlockGenesis:
		b.Height = 0
		b.Size = 0
		b.PrevHash = "0"
	case BlockData:
		b.Height = prev.Height + 1
		b.Size = len(txs)
		b.Data = append([]Tx(nil), txs...)
		b.PrevHash = prev.Hash
	case BlockParcelOpen:
		b.Height = prev.Height + 1
		b.Size = 1
		b.Data = append([]Tx(nil), txs...)
		b.PrevHash = prev.Hash
	case BlockParcelClose:
		b.Height = prev.Height + 1
		b.Size = 0
		b.PrevHash = prev.Hash
	default:
		return nil, errs.New(errs.KindMalformedBlock, "CreateBlock: unknown block type "+string(typ))
	}

	b.Hash = b.ContentHash(a.MaxSignNodes)
	b.ID = new24HexID()
	return b, nil
}
