// Package core keeps the local canonical header chain.
package core

import (
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/OCAX-labs/headersync/core/rawdb"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/kvdb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/event"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	headerCacheLimit = 512
	numberCacheLimit = 2048
)

// HeaderChain is a canonical header chain persisted in a kvdb.Database. It
// only grows at its head; headers below the head are never rewritten.
type HeaderChain struct {
	logger    log.Logger
	db        kvdb.Database
	validator Validator

	genesis       *types.SealedHeader
	currentHeader atomic.Pointer[types.SealedHeader]

	headerCache *lru.Cache[common.Hash, *types.Header]
	numberCache *lru.Cache[common.Hash, uint64]

	headFeed event.Feed
	scope    event.SubscriptionScope

	// writeLock serializes inserts.
	writeLock sync.Mutex
}

// NewHeaderChain opens the chain stored in db, writing genesis first if the
// database is empty. A database holding another genesis is rejected.
func NewHeaderChain(l log.Logger, db kvdb.Database, genesis *types.Header, validator Validator) (*HeaderChain, error) {
	if l == nil {
		l = log.NewNopLogger()
	}
	if validator == nil {
		validator = NewHeaderValidator(nil)
	}
	hc := &HeaderChain{
		logger:      l,
		db:          db,
		validator:   validator,
		genesis:     genesis.Seal(),
		headerCache: lru.NewCache[common.Hash, *types.Header](headerCacheLimit),
		numberCache: lru.NewCache[common.Hash, uint64](numberCacheLimit),
	}

	stored := rawdb.ReadCanonicalHash(db, 0)
	switch {
	case stored == (common.Hash{}):
		if err := hc.writeGenesis(); err != nil {
			return nil, err
		}
		level.Info(hc.logger).Log("msg", "genesis header written", "hash", hc.genesis.Hash())
	case stored != hc.genesis.Hash():
		return nil, fmt.Errorf("%w: database has %x, config has %x", ErrGenesisMismatch, stored, hc.genesis.Hash())
	}

	head := hc.genesis
	if hash := rawdb.ReadHeadHeaderHash(db); hash != (common.Hash{}) {
		if header := hc.GetHeaderByHash(hash); header != nil {
			head = types.NewSealedHeader(header, hash)
		} else {
			level.Warn(hc.logger).Log("msg", "head header missing, resetting to genesis", "hash", hash)
		}
	}
	hc.currentHeader.Store(head)
	level.Info(hc.logger).Log("msg", "loaded header chain", "number", head.Number(), "hash", head.Hash())
	return hc, nil
}

func (hc *HeaderChain) writeGenesis() error {
	batch := hc.db.NewBatch()
	rawdb.WriteHeader(batch, hc.genesis)
	rawdb.WriteTd(batch, hc.genesis.Hash(), 0, difficulty(hc.genesis))
	rawdb.WriteCanonicalHash(batch, hc.genesis.Hash(), 0)
	rawdb.WriteHeadHeaderHash(batch, hc.genesis.Hash())
	rawdb.WriteDatabaseVersion(batch, rawdb.DatabaseVersion)
	return batch.Write()
}

func (hc *HeaderChain) Genesis() *types.SealedHeader {
	return hc.genesis
}

// CurrentHeader returns the head of the canonical chain.
func (hc *HeaderChain) CurrentHeader() *types.SealedHeader {
	return hc.currentHeader.Load()
}

// InsertHeaders appends headers to the canonical chain. Leading headers that
// are already canonical are skipped; the rest must extend the current head.
// It returns the number of headers written.
func (hc *HeaderChain) InsertHeaders(headers []*types.SealedHeader) (int, error) {
	hc.writeLock.Lock()
	defer hc.writeLock.Unlock()

	for len(headers) > 0 && rawdb.ReadCanonicalHash(hc.db, headers[0].Number()) == headers[0].Hash() {
		headers = headers[1:]
	}
	if len(headers) == 0 {
		return 0, nil
	}
	head := hc.CurrentHeader()
	if err := hc.validator.ValidateHeaders(head, headers); err != nil {
		return 0, err
	}

	td := hc.GetTd(head.Hash(), head.Number())
	if td == nil {
		level.Warn(hc.logger).Log("msg", "total difficulty of head missing, counting from zero", "number", head.Number(), "hash", head.Hash())
		td = new(big.Int)
	}
	batch := hc.db.NewBatch()
	for _, header := range headers {
		td = new(big.Int).Add(td, difficulty(header))
		rawdb.WriteHeader(batch, header)
		rawdb.WriteTd(batch, header.Hash(), header.Number(), td)
		rawdb.WriteCanonicalHash(batch, header.Hash(), header.Number())
	}
	last := headers[len(headers)-1]
	rawdb.WriteHeadHeaderHash(batch, last.Hash())
	if err := batch.Write(); err != nil {
		return 0, err
	}
	for _, header := range headers {
		hc.headerCache.Add(header.Hash(), header.Header())
		hc.numberCache.Add(header.Hash(), header.Number())
	}
	hc.currentHeader.Store(last)

	level.Debug(hc.logger).Log("msg", "inserted headers", "count", len(headers), "number", last.Number(), "hash", last.Hash())
	hc.headFeed.Send(types.ChainHeadEvent{Header: last})
	return len(headers), nil
}

// GetTd retrieves the total difficulty of the chain ending at the given
// header, or nil if it is unknown.
func (hc *HeaderChain) GetTd(hash common.Hash, number uint64) *big.Int {
	return rawdb.ReadTd(hc.db, hash, number)
}

func difficulty(header *types.SealedHeader) *big.Int {
	if d := header.Header().Difficulty; d != nil {
		return d
	}
	return new(big.Int)
}

// GetHeaderNumber retrieves the block number belonging to the given hash
// from the cache or database.
func (hc *HeaderChain) GetHeaderNumber(hash common.Hash) *uint64 {
	if cached, ok := hc.numberCache.Get(hash); ok {
		return &cached
	}
	number := rawdb.ReadHeaderNumber(hc.db, hash)
	if number != nil {
		hc.numberCache.Add(hash, *number)
	}
	return number
}

// GetHeader retrieves a block header from the database by hash and number,
// caching it if found.
func (hc *HeaderChain) GetHeader(hash common.Hash, number uint64) *types.Header {
	if header, ok := hc.headerCache.Get(hash); ok {
		return header
	}
	header := rawdb.ReadHeader(hc.db, hash, number)
	if header == nil {
		return nil
	}
	hc.headerCache.Add(hash, header)
	return header
}

// GetHeaderByHash retrieves a block header from the database by hash.
func (hc *HeaderChain) GetHeaderByHash(hash common.Hash) *types.Header {
	number := hc.GetHeaderNumber(hash)
	if number == nil {
		return nil
	}
	return hc.GetHeader(hash, *number)
}

// GetHeaderByNumber retrieves the canonical header at number.
func (hc *HeaderChain) GetHeaderByNumber(number uint64) *types.Header {
	hash := rawdb.ReadCanonicalHash(hc.db, number)
	if hash == (common.Hash{}) {
		return nil
	}
	return hc.GetHeader(hash, number)
}

// GetSealedHeader resolves id against the canonical chain.
func (hc *HeaderChain) GetSealedHeader(id types.BlockHashOrNumber) *types.SealedHeader {
	if id.IsHash() {
		header := hc.GetHeaderByHash(id.Hash)
		if header == nil {
			return nil
		}
		return types.NewSealedHeader(header, id.Hash)
	}
	hash := rawdb.ReadCanonicalHash(hc.db, id.Number)
	if hash == (common.Hash{}) {
		return nil
	}
	header := hc.GetHeader(hash, id.Number)
	if header == nil {
		return nil
	}
	return types.NewSealedHeader(header, hash)
}

// HasHeader checks if a block header is present in the database or not.
func (hc *HeaderChain) HasHeader(hash common.Hash, number uint64) bool {
	if _, ok := hc.headerCache.Get(hash); ok {
		return true
	}
	return rawdb.HasHeader(hc.db, hash, number)
}

// SubscribeChainHeadEvent registers a subscription for head changes.
func (hc *HeaderChain) SubscribeChainHeadEvent(ch chan<- types.ChainHeadEvent) event.Subscription {
	return hc.scope.Track(hc.headFeed.Subscribe(ch))
}

// Stop ends all head subscriptions.
func (hc *HeaderChain) Stop() {
	hc.scope.Close()
}
