package wire

import (
	"errors"

	"github.com/OCAX-labs/headersync/core/types"
	"github.com/ethereum/go-ethereum/common"
)

// ErrUnmatchedTransactions is returned when a peer delivers a transaction
// that was not requested, or out of request order.
var ErrUnmatchedTransactions = errors.New("unmatched transactions in response")

// GetPooledTransactions requests transactions from the recipient's pool by hash.
type GetPooledTransactions []common.Hash

// PooledTransactions is the response to GetPooledTransactions, returning the
// transactions the peer still has in its pool. Unknown hashes are omitted.
type PooledTransactions []*types.Transaction

type (
	GetPooledTransactionsPacket = RequestPair[GetPooledTransactions]
	PooledTransactionsPacket    = RequestPair[PooledTransactions]
)

// SplitByHashes reconciles the response against the hashes that were
// requested. Delivered transactions must appear in request order; hashes the
// peer skipped are reported as missing. A transaction that was not requested,
// was delivered twice or out of order fails the whole response with
// ErrUnmatchedTransactions.
func (p PooledTransactions) SplitByHashes(requested []common.Hash) (matched, missing []common.Hash, err error) {
	next := 0
	for _, tx := range p {
		hash := tx.Hash()
		found := false
		for next < len(requested) {
			want := requested[next]
			next++
			if want == hash {
				found = true
				break
			}
			missing = append(missing, want)
		}
		if !found {
			return nil, nil, ErrUnmatchedTransactions
		}
		matched = append(matched, hash)
	}
	missing = append(missing, requested[next:]...)
	return matched, missing, nil
}
