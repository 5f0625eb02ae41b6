// Package downloader fetches headers from untrusted peers, validates them
// against consensus and drives the local header chain towards the
// fork-choice head.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OCAX-labs/headersync/consensus"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/p2p"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sethvargo/go-retry"
)

// Downloader fetches a contiguous run of validated headers.
type Downloader interface {
	// Timeout is how long a single peer request may take.
	Timeout() time.Duration
	Consensus() consensus.Consensus
	Client() p2p.HeadersClient

	// Download returns the headers above head up to and including the
	// fork-choice head. The result may end past the head when peers answer
	// with full pages.
	Download(ctx context.Context, head *types.SealedHeader, forkchoice consensus.ForkchoiceState) ([]*types.SealedHeader, error)
}

const (
	DefaultBatchSize  = 192
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 5
	DefaultRetryDelay = 100 * time.Millisecond
)

// Config tunes a LinearDownloader. Zero values are replaced by defaults.
type Config struct {
	// BatchSize is the number of headers asked for per request.
	BatchSize uint64
	// Timeout bounds every single request.
	Timeout time.Duration
	// MaxRetries is how often a failed span is requested again before the
	// download fails.
	MaxRetries uint64
	// RetryDelay is the pause before a span is requested again.
	RetryDelay time.Duration
	// Chain, when set, lets the download stop at a fork-choice head that
	// is already stored locally at or below the tip.
	Chain HeaderReader

	Logger     log.Logger
	Registerer prometheus.Registerer
}

// LinearDownloader walks the chain upwards one span at a time from the
// local head. It keeps no state between Download calls.
type LinearDownloader struct {
	config    Config
	consensus consensus.Consensus
	client    p2p.HeadersClient
	metrics   *metrics
}

var _ Downloader = (*LinearDownloader)(nil)

func NewLinearDownloader(cons consensus.Consensus, client p2p.HeadersClient, config Config) *LinearDownloader {
	if config.BatchSize == 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.Logger == nil {
		config.Logger = log.NewNopLogger()
	}
	return &LinearDownloader{
		config:    config,
		consensus: cons,
		client:    client,
		metrics:   newMetrics(config.Registerer),
	}
}

func (d *LinearDownloader) Timeout() time.Duration         { return d.config.Timeout }
func (d *LinearDownloader) Consensus() consensus.Consensus { return d.consensus }
func (d *LinearDownloader) Client() p2p.HeadersClient      { return d.client }

// Download implements Downloader. The fork-choice head is read from the
// consensus watch before every convergence check, so an update published
// while the download runs moves the target. forkchoice is only used while
// the watch holds no head. A target already stored at or below the tip
// ends the download without another request.
func (d *LinearDownloader) Download(ctx context.Context, head *types.SealedHeader, forkchoice consensus.ForkchoiceState) ([]*types.SealedHeader, error) {
	start := time.Now()
	defer func() { d.metrics.duration.Observe(time.Since(start).Seconds()) }()

	target := d.target(forkchoice)
	if target == (common.Hash{}) || target == head.Hash() || d.reached(target, head) {
		return nil, nil
	}
	level.Debug(d.config.Logger).Log("msg", "header download started", "from", head.Number(), "target", target)

	var (
		headers []*types.SealedHeader
		seen    = make(map[common.Hash]struct{})
		parent  = head
	)
	for {
		span, err := d.fetchSpan(ctx, parent, forkchoice)
		if err != nil {
			var derr *DownloadError
			if errors.As(err, &derr) {
				d.metrics.failures.WithLabelValues(derr.Kind.String()).Inc()
			}
			level.Warn(d.config.Logger).Log("msg", "header download failed", "from", head.Number(), "at", parent.Number()+1, "err", err)
			return nil, err
		}
		for _, header := range span {
			seen[header.Hash()] = struct{}{}
		}
		headers = append(headers, span...)
		parent = span[len(span)-1]
		d.metrics.downloaded.Add(float64(len(span)))

		target = d.target(forkchoice)
		if _, ok := seen[target]; ok || d.reached(target, parent) {
			level.Debug(d.config.Logger).Log("msg", "header download converged", "count", len(headers), "tip", parent.Number(), "target", target)
			return headers, nil
		}
	}
}

func (d *LinearDownloader) target(fallback consensus.ForkchoiceState) common.Hash {
	if head := d.consensus.ForkchoiceState().Load().HeadBlockHash; head != (common.Hash{}) {
		return head
	}
	return fallback.HeadBlockHash
}

// reached reports whether target is a local header at or below tip.
func (d *LinearDownloader) reached(target common.Hash, tip *types.SealedHeader) bool {
	if d.config.Chain == nil {
		return false
	}
	number := d.config.Chain.GetHeaderNumber(target)
	return number != nil && *number <= tip.Number()
}

func (d *LinearDownloader) backoff() retry.Backoff {
	delay := d.config.RetryDelay
	constant := retry.BackoffFunc(func() (time.Duration, bool) { return delay, false })
	return retry.WithMaxRetries(d.config.MaxRetries, constant)
}

// fetchSpan downloads the span directly above parent, retrying with other
// peers until a response passes validation or the budget runs out.
func (d *LinearDownloader) fetchSpan(ctx context.Context, parent *types.SealedHeader, fallback consensus.ForkchoiceState) ([]*types.SealedHeader, error) {
	req := p2p.HeadersRequest{
		Start:     types.NumberID(parent.Number() + 1),
		Limit:     d.config.BatchSize,
		Direction: p2p.Rising,
	}

	var (
		span     []*types.SealedHeader
		last     *DownloadError
		attempts int
	)
	err := retry.Do(ctx, d.backoff(), func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			d.metrics.retries.Inc()
		}
		headers, derr := d.requestSpan(ctx, req, parent, fallback)
		if derr != nil {
			last = derr
			level.Debug(d.config.Logger).Log("msg", "header span rejected", "start", req.Start.Number, "attempt", attempts, "err", derr)
			return retry.RetryableError(derr)
		}
		span = headers
		return nil
	})
	switch {
	case err == nil:
		return span, nil
	case ctx.Err() != nil:
		return nil, &DownloadError{Kind: KindTimeout, Number: req.Start.Number, Attempts: attempts, Err: ctx.Err()}
	case last == nil:
		return nil, &DownloadError{Kind: KindExhausted, Number: req.Start.Number, Attempts: attempts, Err: err}
	default:
		return nil, &DownloadError{Kind: KindExhausted, Peer: last.Peer, Number: req.Start.Number, Attempts: attempts, Err: last}
	}
}

func (d *LinearDownloader) requestSpan(ctx context.Context, req p2p.HeadersRequest, parent *types.SealedHeader, fallback consensus.ForkchoiceState) ([]*types.SealedHeader, *DownloadError) {
	reqCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	d.metrics.requests.Inc()
	res, err := d.client.GetHeadersWithPriority(reqCtx, req, p2p.PriorityNormal)
	if err != nil {
		return nil, &DownloadError{Kind: RequestErrorKind(err), Number: req.Start.Number, Err: err}
	}
	headers, derr := d.validateSpan(req, parent, res, d.target(fallback))
	if derr != nil {
		d.metrics.reports.Inc()
		d.client.ReportBadMessage(res.PeerID)
		return nil, derr
	}
	return headers, nil
}

// validateSpan checks the shape of the response first and then every header
// against its parent. A response shorter than requested is only accepted
// when it ends at target, since peers have nothing above their head.
func (d *LinearDownloader) validateSpan(req p2p.HeadersRequest, parent *types.SealedHeader, res *p2p.HeadersResponse, target common.Hash) ([]*types.SealedHeader, *DownloadError) {
	fail := func(kind ErrorKind, err error) *DownloadError {
		return &DownloadError{Kind: kind, Peer: res.PeerID, Number: req.Start.Number, Err: err}
	}
	if len(res.Headers) == 0 {
		return nil, fail(KindInvalidResponse, ErrEmptyResponse)
	}
	headers := types.SealHeaders(res.Headers)

	if n := uint64(len(headers)); n != req.Limit {
		if n > req.Limit || headers[len(headers)-1].Hash() != target {
			return nil, fail(KindInvalidResponse, fmt.Errorf("%w: have %d, want %d", ErrHeaderCount, n, req.Limit))
		}
	}
	if first := headers[0].Number(); first != req.Start.Number {
		return nil, fail(KindInvalidResponse, fmt.Errorf("%w: have #%d, want #%d", ErrStartMismatch, first, req.Start.Number))
	}
	for i := 1; i < len(headers); i++ {
		if headers[i].Number() != headers[i-1].Number()+1 {
			return nil, fail(KindInvalidResponse, fmt.Errorf("%w: #%d after #%d", ErrNotRising, headers[i].Number(), headers[i-1].Number()))
		}
	}

	prev := parent
	for _, header := range headers {
		if header.ParentHash() != prev.Hash() {
			return nil, fail(KindValidation, &consensus.ValidationError{
				Kind:   consensus.ErrParentHashMismatch,
				Number: header.Number(),
				Detail: fmt.Sprintf("have %x, want %x", header.ParentHash(), prev.Hash()),
			})
		}
		if err := d.consensus.ValidateHeader(header, prev); err != nil {
			return nil, fail(KindValidation, err)
		}
		prev = header
	}
	return headers, nil
}

// RequestErrorKind classifies a failed peer request.
func RequestErrorKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindTransport
}
