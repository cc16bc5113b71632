package ledger

// Facade is the Ledger façade collaborator interface consumed by the
// protocol state machine, spec.md §6. The persistent storage engine behind
// it is explicitly out of scope (spec.md §1); Facade only documents the
// contract the core needs, with MemoryFacade below as the one reference
// implementation required to exercise it end-to-end.
type Facade interface {
	// AddBlock persists block as the new head for its tenant. If
	// removeFromPool is true, every Tx in block.Data is dropped from the
	// pending pool. tripID is recorded for observability only.
	AddBlock(block *Block, removeFromPool bool, tripID string) error

	// GetLastBlock returns the current head block for tenant, or nil if
	// the tenant has no blocks yet.
	GetLastBlock(tenant string) (*Block, error)

	// GetBlock looks up a block by its opaque id.
	GetBlock(oid, tenant string) (*Block, error)

	// GetBlockHeight returns the current chain height for tenant.
	GetBlockHeight(tenant string) (uint64, error)

	// GetBlockDigest returns the head block's hash and height.
	GetBlockDigest(tenant string, failIfUnhealthy bool) (hash string, height uint64, err error)

	// ExamineBlockDifference compares a peer-supplied {id,hash} list
	// against local state and reports blocks to add and ids to delete.
	ExamineBlockDifference(have []BlockRef, tenant string) (add []*Block, del []string, err error)

	// AddPool adds txs to the pending pool.
	AddPool(txs []Tx) error

	// GetPoolHeight returns the size of the pending pool for tenant.
	GetPoolHeight(tenant string) (int, error)

	// ExaminePoolDifference returns the pool entries not present in have.
	ExaminePoolDifference(have []string, tenant string) ([]Tx, error)
}

// BlockRef is the minimal {id, hash} pair used by ExamineBlockDifference,
// spec.md §6.
type BlockRef struct {
	ID   string `json:"_id"`
	Hash string `json:"hash"`
}
