package network

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/downloader"
	"github.com/OCAX-labs/headersync/p2p"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sethvargo/go-retry"
)

var (
	errMissingTransactions = errors.New("transactions missing from response")
	errInvalidSender       = errors.New("transaction sender cannot be recovered")
)

// PooledTransactionsClient requests pooled transaction bodies from a peer.
type PooledTransactionsClient interface {
	RequestPooledTransactions(ctx context.Context, peer p2p.PeerID, hashes []common.Hash) (*PooledTransactionsResponse, error)
	ReportBadMessage(peer p2p.PeerID)
}

type TxFetcherConfig struct {
	// Signer recovers senders. Transactions without a valid signature fail
	// the whole response.
	Signer     types.Signer
	Timeout    time.Duration
	MaxRetries uint64
	RetryDelay time.Duration
	Logger     log.Logger
}

// TxFetcher pulls announced transactions from a peer into the pool.
type TxFetcher struct {
	config TxFetcherConfig
	client PooledTransactionsClient
	pool   *TxPool
}

func NewTxFetcher(client PooledTransactionsClient, pool *TxPool, config TxFetcherConfig) *TxFetcher {
	if config.Timeout == 0 {
		config.Timeout = downloader.DefaultTimeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 2
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = downloader.DefaultRetryDelay
	}
	if config.Logger == nil {
		config.Logger = log.NewNopLogger()
	}
	return &TxFetcher{config: config, client: client, pool: pool}
}

// Fetch requests hashes from peer. Hashes the peer skips are asked for again
// until the retry budget is spent and are then returned as missing. A
// response holding an unrequested transaction or one with a bad signature
// gets the peer reported and ends the fetch with a *downloader.DownloadError.
func (f *TxFetcher) Fetch(ctx context.Context, peer p2p.PeerID, hashes []common.Hash) (fetched []*types.Transaction, missing []common.Hash, err error) {
	remaining := make([]common.Hash, 0, len(hashes))
	for _, hash := range hashes {
		if !f.pool.Contains(hash) {
			remaining = append(remaining, hash)
		}
	}
	if len(remaining) == 0 {
		return nil, nil, nil
	}

	delay := f.config.RetryDelay
	backoff := retry.WithMaxRetries(f.config.MaxRetries, retry.BackoffFunc(func() (time.Duration, bool) { return delay, false }))

	attempts := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		txs, rest, err := f.request(ctx, peer, remaining)
		if err != nil {
			var derr *downloader.DownloadError
			if errors.As(err, &derr) && derr.Kind == downloader.KindTimeout {
				return retry.RetryableError(err)
			}
			return err
		}
		fetched = append(fetched, txs...)
		remaining = rest
		if len(remaining) > 0 {
			return retry.RetryableError(fmt.Errorf("%w: %d", errMissingTransactions, len(remaining)))
		}
		return nil
	})

	switch {
	case err == nil:
		return fetched, nil, nil
	case ctx.Err() != nil:
		return fetched, remaining, &downloader.DownloadError{Kind: downloader.KindTimeout, Peer: peer, Attempts: attempts, Err: ctx.Err()}
	case errors.Is(err, errMissingTransactions):
		level.Debug(f.config.Logger).Log("msg", "peer is missing transactions", "peer", peer, "missing", len(remaining))
		return fetched, remaining, nil
	default:
		var derr *downloader.DownloadError
		if errors.As(err, &derr) {
			derr.Attempts = attempts
		}
		return fetched, remaining, err
	}
}

func (f *TxFetcher) request(ctx context.Context, peer p2p.PeerID, hashes []common.Hash) ([]*types.Transaction, []common.Hash, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	res, err := f.client.RequestPooledTransactions(reqCtx, peer, hashes)
	if err != nil {
		return nil, nil, &downloader.DownloadError{Kind: downloader.RequestErrorKind(err), Peer: peer, Err: err}
	}
	_, missing, err := res.Transactions.SplitByHashes(hashes)
	if err != nil {
		f.client.ReportBadMessage(peer)
		return nil, nil, &downloader.DownloadError{Kind: downloader.KindUnmatchedItems, Peer: peer, Err: err}
	}
	for _, tx := range res.Transactions {
		if _, err := types.Sender(f.config.Signer, tx); err != nil {
			f.client.ReportBadMessage(peer)
			return nil, nil, &downloader.DownloadError{
				Kind: downloader.KindValidation,
				Peer: peer,
				Err:  fmt.Errorf("%w: %x: %v", errInvalidSender, tx.Hash(), err),
			}
		}
	}
	for _, tx := range res.Transactions {
		f.pool.Add(tx)
	}
	return res.Transactions, missing, nil
}
