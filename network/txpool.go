package network

import (
	"sync"

	hscommon "github.com/OCAX-labs/headersync/common"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/ethereum/go-ethereum/common"
)

// TxPool holds pooled transactions fetched from peers so they can be served
// back through GetPooledTransactions. The oldest transaction is evicted once
// maxLength is reached.
type TxPool struct {
	lock sync.Mutex

	all     *TxSortedMap
	pending *TxSortedMap

	maxLength int
}

func NewTxPool(maxLength int) *TxPool {
	return &TxPool{
		all:       NewTxSortedMap(),
		pending:   NewTxSortedMap(),
		maxLength: maxLength,
	}
}

// Add inserts tx unless it is already known. It reports whether tx was new.
func (p *TxPool) Add(tx *types.Transaction) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	hash := tx.Hash()
	if p.all.Contains(hash) {
		return false
	}
	if p.all.Count() >= p.maxLength {
		oldest := p.all.First()
		p.all.Remove(oldest.Hash())
		p.pending.Remove(oldest.Hash())
	}
	p.all.Add(tx)
	p.pending.Add(tx)
	return true
}

func (p *TxPool) Contains(hash common.Hash) bool {
	return p.all.Contains(hash)
}

func (p *TxPool) Get(hash common.Hash) *types.Transaction {
	return p.all.Get(hash)
}

// GetMany returns the known transactions among hashes, in request order.
func (p *TxPool) GetMany(hashes []common.Hash) []*types.Transaction {
	txs := make([]*types.Transaction, 0, len(hashes))
	for _, hash := range hashes {
		if tx := p.all.Get(hash); tx != nil {
			txs = append(txs, tx)
		}
	}
	return txs
}

// Pending returns the transactions added since the last ClearPending, oldest
// first.
func (p *TxPool) Pending() []*types.Transaction {
	return p.pending.Transactions()
}

func (p *TxPool) PendingCount() int {
	return p.pending.Count()
}

func (p *TxPool) ClearPending() {
	p.pending.Clear()
}

// TxSortedMap is a hash indexed set of transactions that remembers
// insertion order.
type TxSortedMap struct {
	lock   sync.RWMutex
	lookup map[common.Hash]*types.Transaction
	txx    *hscommon.List[*types.Transaction]
}

func NewTxSortedMap() *TxSortedMap {
	return &TxSortedMap{
		lookup: make(map[common.Hash]*types.Transaction),
		txx:    hscommon.NewList[*types.Transaction](),
	}
}

func (t *TxSortedMap) First() *types.Transaction {
	t.lock.RLock()
	defer t.lock.RUnlock()

	first, ok := t.txx.Get(0)
	if !ok {
		return nil
	}
	return first
}

func (t *TxSortedMap) Get(h common.Hash) *types.Transaction {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return t.lookup[h]
}

func (t *TxSortedMap) Add(tx *types.Transaction) {
	hash := tx.Hash()

	t.lock.Lock()
	defer t.lock.Unlock()

	if _, ok := t.lookup[hash]; !ok {
		t.lookup[hash] = tx
		t.txx.Insert(tx)
	}
}

func (t *TxSortedMap) Remove(h common.Hash) {
	t.lock.Lock()
	defer t.lock.Unlock()

	tx, ok := t.lookup[h]
	if !ok {
		return
	}
	t.txx.Remove(tx)
	delete(t.lookup, h)
}

func (t *TxSortedMap) Count() int {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return len(t.lookup)
}

func (t *TxSortedMap) Contains(h common.Hash) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()

	_, ok := t.lookup[h]
	return ok
}

// Transactions returns a copy of the contents in insertion order.
func (t *TxSortedMap) Transactions() []*types.Transaction {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return append([]*types.Transaction(nil), t.txx.Data...)
}

func (t *TxSortedMap) Clear() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.lookup = make(map[common.Hash]*types.Transaction)
	t.txx.Clear()
}
