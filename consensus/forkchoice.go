package consensus

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ForkchoiceState is the chain head the consensus layer asks the node to follow.
type ForkchoiceState struct {
	HeadBlockHash      common.Hash `json:"headBlockHash"`
	SafeBlockHash      common.Hash `json:"safeBlockHash"`
	FinalizedBlockHash common.Hash `json:"finalizedBlockHash"`
}

// ForkchoiceWatch holds the latest ForkchoiceState. It has a single writer
// and any number of readers; readers always observe the most recent value and
// can block until it changes.
type ForkchoiceWatch struct {
	mu      sync.RWMutex
	state   ForkchoiceState
	version uint64
	changed chan struct{}
}

// NewForkchoiceWatch creates a watch holding initial at version zero.
func NewForkchoiceWatch(initial ForkchoiceState) *ForkchoiceWatch {
	return &ForkchoiceWatch{
		state:   initial,
		changed: make(chan struct{}),
	}
}

// Load returns the current state.
func (w *ForkchoiceWatch) Load() ForkchoiceState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// LoadVersion returns the current state and its version.
func (w *ForkchoiceWatch) LoadVersion() (ForkchoiceState, uint64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state, w.version
}

// Store replaces the state and wakes every waiter.
func (w *ForkchoiceWatch) Store(state ForkchoiceState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
	w.version++
	close(w.changed)
	w.changed = make(chan struct{})
}

// Changed returns a channel that is closed by the next Store.
func (w *ForkchoiceWatch) Changed() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.changed
}

// WaitForChange blocks until the version moves past since and returns the
// state at that point.
func (w *ForkchoiceWatch) WaitForChange(ctx context.Context, since uint64) (ForkchoiceState, uint64, error) {
	for {
		w.mu.RLock()
		state, version, changed := w.state, w.version, w.changed
		w.mu.RUnlock()
		if version != since {
			return state, version, nil
		}
		select {
		case <-ctx.Done():
			return ForkchoiceState{}, since, ctx.Err()
		case <-changed:
		}
	}
}
