package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemoryFacade is an in-memory reference Facade with an optional append-only
// WAL file, modeled on the teacher's core/ledger.go Ledger (walFile +
// json.Encoder, mutex-guarded maps). It is the one conforming
// implementation this repo ships; a production deployment would swap it
// for the real storage engine, which spec.md §1 places out of scope.
type MemoryFacade struct {
	mu      sync.RWMutex
	heads   map[string]*Block            // tenant -> head block
	byID    map[string]map[string]*Block // tenant -> id -> block
	pool    map[string]map[string]Tx     // tenant -> id -> tx
	walFile *os.File
	log     *logrus.Logger
}

// NewMemoryFacade returns a MemoryFacade. If walPath is non-empty, every
// AddBlock is additionally appended as a JSON line to that file.
func NewMemoryFacade(walPath string, log *logrus.Logger) (*MemoryFacade, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &MemoryFacade{
		heads: make(map[string]*Block),
		byID:  make(map[string]map[string]*Block),
		pool:  make(map[string]map[string]Tx),
		log:   log,
	}
	if walPath != "" {
		f, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("ledger: open WAL: %w", err)
		}
		m.walFile = f
	}
	return m, nil
}

func (m *MemoryFacade) Close() error {
	if m.walFile != nil {
		return m.walFile.Close()
	}
	return nil
}

func (m *MemoryFacade) AddBlock(block *Block, removeFromPool bool, tripID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenant := block.Tenant
	if m.byID[tenant] == nil {
		m.byID[tenant] = make(map[string]*Block)
	}
	m.byID[tenant][block.ID] = block.Clone()
	m.heads[tenant] = block.Clone()

	if removeFromPool && m.pool[tenant] != nil {
		for _, tx := range block.Data {
			delete(m.pool[tenant], tx.ID)
		}
	}

	if m.walFile != nil {
		raw, err := json.Marshal(block)
		if err != nil {
			return fmt.Errorf("ledger: marshal block: %w", err)
		}
		if _, err := m.walFile.Write(append(raw, '\n')); err != nil {
			return fmt.Errorf("ledger: write WAL: %w", err)
		}
		_ = m.walFile.Sync()
	}

	m.log.WithFields(logrus.Fields{
		"trip_id": tripID,
		"tenant":  tenant,
		"height":  block.Height,
		"block":   block.ID,
	}).Info("block appended")
	return nil
}

func (m *MemoryFacade) GetLastBlock(tenant string) (*Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.heads[tenant]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

func (m *MemoryFacade) GetBlock(oid, tenant string) (*Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tm, ok := m.byID[tenant]
	if !ok {
		return nil, nil
	}
	b, ok := tm[oid]
	if !ok {
		return nil, nil
	}
	return b.Clone(), nil
}

func (m *MemoryFacade) GetBlockHeight(tenant string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.heads[tenant]
	if !ok {
		return 0, nil
	}
	return b.Height, nil
}

func (m *MemoryFacade) GetBlockDigest(tenant string, failIfUnhealthy bool) (string, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.heads[tenant]
	if !ok {
		if failIfUnhealthy {
			return "", 0, fmt.Errorf("ledger: no block for tenant %q", tenant)
		}
		return "", 0, nil
	}
	return b.Hash, b.Height, nil
}

func (m *MemoryFacade) ExamineBlockDifference(have []BlockRef, tenant string) ([]*Block, []string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	known := make(map[string]string, len(have))
	for _, r := range have {
		known[r.ID] = r.Hash
	}

	var add []*Block
	tm := m.byID[tenant]
	present := make(map[string]bool, len(tm))
	for id, b := range tm {
		present[id] = true
		if known[id] != b.Hash {
			add = append(add, b.Clone())
		}
	}
	var del []string
	for id := range known {
		if !present[id] {
			del = append(del, id)
		}
	}
	return add, del, nil
}

func (m *MemoryFacade) AddPool(txs []Tx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		if m.pool[tx.Tenant] == nil {
			m.pool[tx.Tenant] = make(map[string]Tx)
		}
		m.pool[tx.Tenant][tx.ID] = tx
	}
	return nil
}

func (m *MemoryFacade) GetPoolHeight(tenant string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pool[tenant]), nil
}

func (m *MemoryFacade) ExaminePoolDifference(have []string, tenant string) ([]Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	known := make(map[string]bool, len(have))
	for _, id := range have {
		known[id] = true
	}
	var out []Tx
	for id, tx := range m.pool[tenant] {
		if !known[id] {
			out = append(out, tx)
		}
	}
	return out, nil
}

var _ Facade = (*MemoryFacade)(nil)
