package downloader

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/OCAX-labs/headersync/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// HeaderReader looks up headers already in the local chain.
type HeaderReader interface {
	CurrentHeader() *types.SealedHeader
	GetHeaderNumber(hash common.Hash) *uint64
	// GetTd returns the total difficulty at a local header, or nil.
	GetTd(hash common.Hash, number uint64) *big.Int
}

// HeaderWriter is the local header store the syncer extends.
type HeaderWriter interface {
	HeaderReader
	// InsertHeaders appends a contiguous run of headers on top of the
	// current head and returns how many were written.
	InsertHeaders(headers []*types.SealedHeader) (int, error)
}

// SyncStatus is a snapshot of the sync loop.
type SyncStatus struct {
	Syncing   bool          `json:"syncing"`
	Head      types.NumHash `json:"head"`
	Target    common.Hash   `json:"target"`
	Imported  uint64        `json:"imported"`
	LastError string        `json:"lastError,omitempty"`
}

type SyncerOptions struct {
	Logger log.Logger
	// RetryInterval is the pause after a failed download before the next one.
	RetryInterval time.Duration
}

// Syncer keeps the local header chain following the fork-choice head.
type Syncer struct {
	SyncerOptions

	downloader Downloader
	chain      HeaderWriter

	mu     sync.RWMutex
	status SyncStatus
}

func NewSyncer(d Downloader, chain HeaderWriter, opts SyncerOptions) *Syncer {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = time.Second
	}
	s := &Syncer{
		SyncerOptions: opts,
		downloader:    d,
		chain:         chain,
	}
	s.status.Head = chain.CurrentHeader().NumHash()
	return s
}

func (s *Syncer) Status() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// CheckGenesis asks a peer for the local genesis by hash. Peers on another
// chain cannot produce it and are reported by GetSingleHeader.
func (s *Syncer) CheckGenesis(ctx context.Context, genesis *types.SealedHeader) error {
	header, err := GetSingleHeader(ctx, s.downloader.Client(), types.HashID(genesis.Hash()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGenesisMismatch, err)
	}
	if header.Number() != 0 {
		return fmt.Errorf("%w: genesis hash at #%d", ErrGenesisMismatch, header.Number())
	}
	return nil
}

// SyncOnce downloads from the local head to the current fork-choice head and
// writes the result. It returns the number of headers imported.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	head := s.chain.CurrentHeader()
	fc := s.downloader.Consensus().ForkchoiceState().Load()
	if fc.HeadBlockHash == (common.Hash{}) || fc.HeadBlockHash == head.Hash() {
		return 0, nil
	}
	if number := s.chain.GetHeaderNumber(fc.HeadBlockHash); number != nil {
		level.Debug(s.Logger).Log("msg", "fork-choice head already imported", "number", *number, "hash", fc.HeadBlockHash)
		s.update(func(st *SyncStatus) { st.Target = fc.HeadBlockHash })
		return 0, nil
	}

	s.update(func(st *SyncStatus) {
		st.Syncing = true
		st.Target = fc.HeadBlockHash
	})
	var imported int
	headers, err := s.downloader.Download(ctx, head, fc)
	if err == nil && len(headers) > 0 {
		imported, err = s.chain.InsertHeaders(headers)
	}

	newHead := s.chain.CurrentHeader()
	s.update(func(st *SyncStatus) {
		st.Syncing = false
		st.Head = newHead.NumHash()
		st.Imported += uint64(imported)
		st.LastError = ""
		if err != nil {
			st.LastError = err.Error()
		}
	})
	if err != nil {
		return 0, err
	}
	if newHead.Hash() != head.Hash() {
		s.downloader.Client().UpdateStatus(newHead.Number(), newHead.Hash(), s.chain.GetTd(newHead.Hash(), newHead.Number()))
		level.Info(s.Logger).Log("msg", "headers imported", "count", imported, "number", newHead.Number(), "hash", newHead.Hash())
	}
	return imported, nil
}

// Run syncs whenever the fork-choice head changes until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	watch := s.downloader.Consensus().ForkchoiceState()
	for {
		_, version := watch.LoadVersion()
		if _, err := s.SyncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			level.Error(s.Logger).Log("msg", "sync failed", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.RetryInterval):
			}
			continue
		}
		if _, _, err := watch.WaitForChange(ctx, version); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return err
		}
	}
}

func (s *Syncer) update(fn func(st *SyncStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}
