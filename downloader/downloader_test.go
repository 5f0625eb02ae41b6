package downloader_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/OCAX-labs/headersync/consensus"
	"github.com/OCAX-labs/headersync/core"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/downloader"
	"github.com/OCAX-labs/headersync/downloader/downloadertest"
	"github.com/OCAX-labs/headersync/p2p"
	"github.com/OCAX-labs/headersync/utils"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fortytw2/leaktest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testChain is genesis followed by n generated headers, indexed by number.
func testChain(n int) []*types.SealedHeader {
	config := consensus.DevChainConfig()
	genesis := core.GenesisHeader(config).Seal()
	return append([]*types.SealedHeader{genesis}, utils.MakeSealedHeaderChain(config, genesis.Header(), n, 1)...)
}

// span answers req from chain the way an honest peer would.
func span(chain []*types.SealedHeader, req p2p.HeadersRequest) []*types.Header {
	start := -1
	if req.Start.IsHash() {
		for i, h := range chain {
			if h.Hash() == req.Start.Hash {
				start = i
			}
		}
	} else if req.Start.Number < uint64(len(chain)) {
		start = int(req.Start.Number)
	}
	if start < 0 {
		return nil
	}
	var headers []*types.Header
	for i := uint64(0); i < req.Limit; i++ {
		idx := start + int(i)
		if req.Direction.IsFalling() {
			idx = start - int(i)
		}
		if idx < 0 || idx >= len(chain) {
			break
		}
		headers = append(headers, chain[idx].Unseal())
	}
	return headers
}

type requestLog struct {
	mu     sync.Mutex
	starts []uint64
}

func (l *requestLog) add(req p2p.HeadersRequest) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts = append(l.starts, req.Start.Number)
	return len(l.starts)
}

func (l *requestLog) get() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint64(nil), l.starts...)
}

// serve answers requests until ctx is done. answer may rewrite the honest
// reply; attempt counts requests from one.
func serve(ctx context.Context, client *downloadertest.TestHeadersClient, chain []*types.SealedHeader, log *requestLog,
	answer func(attempt int, req p2p.HeadersRequest, headers []*types.Header) []*types.Header) {
	go client.OnHeaderRequest(ctx, 0, func(id uint64, req p2p.HeadersRequest) {
		attempt := log.add(req)
		headers := span(chain, req)
		if answer != nil {
			headers = answer(attempt, req, headers)
		}
		client.SendHeaderResponse(id, headers)
	})
}

type testEnv struct {
	client     *downloadertest.TestHeadersClient
	consensus  *downloadertest.TestConsensus
	downloader *downloader.LinearDownloader
	registry   *prometheus.Registry
}

func newTestEnv(config downloader.Config) *testEnv {
	env := &testEnv{
		client:    downloadertest.NewTestHeadersClient(),
		consensus: downloadertest.NewTestConsensus(),
		registry:  prometheus.NewRegistry(),
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Millisecond
	}
	config.Registerer = env.registry
	env.downloader = downloader.NewLinearDownloader(env.consensus, env.client, config)
	return env
}

func (e *testEnv) counter(t *testing.T, name string) float64 {
	families, err := e.registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func hashes(headers []*types.SealedHeader) []common.Hash {
	out := make([]common.Hash, len(headers))
	for i, h := range headers {
		out[i] = h.Hash()
	}
	return out
}

func TestDownloadConverges(t *testing.T) {
	defer leaktest.Check(t)()

	chain := testChain(20)
	env := newTestEnv(downloader.Config{BatchSize: 5})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var log requestLog
	serve(ctx, env.client, chain, &log, nil)
	env.consensus.UpdateTip(chain[20].Hash())

	headers, err := env.downloader.Download(ctx, chain[0], consensus.ForkchoiceState{})
	require.NoError(t, err)
	assert.Equal(t, hashes(chain[1:]), hashes(headers))
	assert.Equal(t, []uint64{1, 6, 11, 16}, log.get())
	assert.Zero(t, env.client.ReportCount())
	assert.Equal(t, float64(4), env.counter(t, "headersync_downloader_requests_total"))
	assert.Equal(t, float64(20), env.counter(t, "headersync_downloader_headers_total"))
}

func TestDownloadAlreadyAtTarget(t *testing.T) {
	chain := testChain(3)
	env := newTestEnv(downloader.Config{BatchSize: 5})
	env.consensus.UpdateTip(chain[3].Hash())

	headers, err := env.downloader.Download(context.Background(), chain[3], consensus.ForkchoiceState{})
	require.NoError(t, err)
	assert.Empty(t, headers)
}

func TestDownloadUsesForkchoiceArgumentWithoutWatch(t *testing.T) {
	defer leaktest.Check(t)()

	chain := testChain(5)
	env := newTestEnv(downloader.Config{BatchSize: 5})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serve(ctx, env.client, chain, new(requestLog), nil)

	headers, err := env.downloader.Download(ctx, chain[0], consensus.ForkchoiceState{HeadBlockHash: chain[5].Hash()})
	require.NoError(t, err)
	assert.Len(t, headers, 5)
}

func TestDownloadRejectsBrokenLinkage(t *testing.T) {
	defer leaktest.Check(t)()

	chain := testChain(10)
	env := newTestEnv(downloader.Config{BatchSize: 5})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var log requestLog
	serve(ctx, env.client, chain, &log, func(attempt int, _ p2p.HeadersRequest, headers []*types.Header) []*types.Header {
		if attempt == 1 {
			headers[2].ParentHash = common.Hash{0xba, 0xd}
		}
		return headers
	})
	env.consensus.UpdateTip(chain[10].Hash())

	headers, err := env.downloader.Download(ctx, chain[0], consensus.ForkchoiceState{})
	require.NoError(t, err)
	assert.Equal(t, hashes(chain[1:]), hashes(headers))

	// The first span was asked for twice, the bad peer flagged once.
	assert.Equal(t, []uint64{1, 1, 6}, log.get())
	assert.Equal(t, []p2p.PeerID{downloadertest.TestPeerID}, env.client.Reports())
	assert.Equal(t, float64(1), env.counter(t, "headersync_downloader_retries_total"))
	assert.Equal(t, float64(1), env.counter(t, "headersync_downloader_bad_responses_total"))
}

func TestDownloadRejectsBadShape(t *testing.T) {
	tests := []struct {
		name   string
		answer func(headers []*types.Header) []*types.Header
		want   error
	}{
		{"empty", func([]*types.Header) []*types.Header { return nil }, downloader.ErrEmptyResponse},
		{"short", func(h []*types.Header) []*types.Header { return h[:4] }, downloader.ErrHeaderCount},
		{"falling", func(h []*types.Header) []*types.Header {
			return []*types.Header{h[0], h[2], h[1], h[3], h[4]}
		}, downloader.ErrNotRising},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer leaktest.Check(t)()

			chain := testChain(10)
			env := newTestEnv(downloader.Config{BatchSize: 5, MaxRetries: 2})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var log requestLog
			serve(ctx, env.client, chain, &log, func(_ int, _ p2p.HeadersRequest, headers []*types.Header) []*types.Header {
				return tt.answer(headers)
			})
			env.consensus.UpdateTip(chain[10].Hash())

			headers, err := env.downloader.Download(ctx, chain[0], consensus.ForkchoiceState{})
			require.Error(t, err)
			assert.Nil(t, headers)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, downloader.IsKind(err, downloader.KindExhausted))
			assert.True(t, downloader.IsKind(err, downloader.KindInvalidResponse))

			var derr *downloader.DownloadError
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, downloadertest.TestPeerID, derr.Peer)
			assert.Equal(t, uint64(1), derr.Number)
			assert.Len(t, log.get(), derr.Attempts)
			assert.Equal(t, derr.Attempts, env.client.ReportCount())
		})
	}
}

func TestDownloadConsensusFailure(t *testing.T) {
	defer leaktest.Check(t)()

	chain := testChain(10)
	env := newTestEnv(downloader.Config{BatchSize: 5, MaxRetries: 1})
	env.consensus.SetFailValidation(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var log requestLog
	serve(ctx, env.client, chain, &log, nil)
	env.consensus.UpdateTip(chain[10].Hash())

	_, err := env.downloader.Download(ctx, chain[0], consensus.ForkchoiceState{})
	require.Error(t, err)
	assert.ErrorIs(t, err, consensus.ErrBaseFeeMissing)
	assert.True(t, downloader.IsKind(err, downloader.KindValidation))
	assert.Equal(t, len(log.get()), env.client.ReportCount())
	assert.GreaterOrEqual(t, env.client.ReportCount(), 2)
}

func TestDownloadFollowsForkchoiceUpdate(t *testing.T) {
	defer leaktest.Check(t)()

	chain := testChain(20)
	env := newTestEnv(downloader.Config{BatchSize: 5})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var log requestLog
	serve(ctx, env.client, chain, &log, func(attempt int, _ p2p.HeadersRequest, headers []*types.Header) []*types.Header {
		if attempt == 1 {
			env.consensus.UpdateTip(chain[12].Hash())
		}
		return headers
	})
	env.consensus.UpdateTip(chain[3].Hash())

	headers, err := env.downloader.Download(ctx, chain[0], consensus.ForkchoiceState{})
	require.NoError(t, err)
	require.Len(t, headers, 15)
	assert.Equal(t, uint64(15), headers[len(headers)-1].Number())
	assert.Contains(t, hashes(headers), chain[12].Hash())
}

func TestDownloadAcceptsShortPageAtHead(t *testing.T) {
	defer leaktest.Check(t)()

	chain := testChain(12)
	env := newTestEnv(downloader.Config{BatchSize: 5})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var log requestLog
	serve(ctx, env.client, chain, &log, nil)
	env.consensus.UpdateTip(chain[12].Hash())

	headers, err := env.downloader.Download(ctx, chain[0], consensus.ForkchoiceState{})
	require.NoError(t, err)
	assert.Equal(t, hashes(chain[1:]), hashes(headers))
	assert.Equal(t, []uint64{1, 6, 11}, log.get())
	assert.Zero(t, env.client.ReportCount())
}

func TestDownloadRequestTimeout(t *testing.T) {
	defer leaktest.Check(t)()

	chain := testChain(5)
	env := newTestEnv(downloader.Config{BatchSize: 5, Timeout: 20 * time.Millisecond, MaxRetries: 1})
	env.consensus.UpdateTip(chain[5].Hash())

	_, err := env.downloader.Download(context.Background(), chain[0], consensus.ForkchoiceState{})
	require.Error(t, err)
	assert.True(t, downloader.IsKind(err, downloader.KindExhausted))
	assert.True(t, downloader.IsKind(err, downloader.KindTimeout))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, env.client.ReportCount())
	assert.Equal(t, 20*time.Millisecond, env.downloader.Timeout())
}

func TestDownloadCancelled(t *testing.T) {
	defer leaktest.Check(t)()

	chain := testChain(5)
	env := newTestEnv(downloader.Config{BatchSize: 5, Timeout: time.Second})
	env.consensus.UpdateTip(chain[5].Hash())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := env.downloader.Download(ctx, chain[0], consensus.ForkchoiceState{})
	require.Error(t, err)
	assert.True(t, downloader.IsKind(err, downloader.KindTimeout))
	assert.False(t, downloader.IsKind(err, downloader.KindExhausted))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDownloadTargetBehindTip(t *testing.T) {
	defer leaktest.Check(t)()

	chain := testChain(5)
	env := newTestEnv(downloader.Config{BatchSize: 5, MaxRetries: 2, Chain: newMemoryChain(chain...)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var log requestLog
	serve(ctx, env.client, chain, &log, nil)
	env.consensus.UpdateTip(chain[2].Hash())

	headers, err := env.downloader.Download(ctx, chain[5], consensus.ForkchoiceState{})
	require.NoError(t, err)
	assert.Empty(t, headers)
	assert.Empty(t, log.get())
	assert.Zero(t, env.client.ReportCount())
}

func TestDownloadStopsWhenTargetMovesBehind(t *testing.T) {
	defer leaktest.Check(t)()

	chain := testChain(12)
	env := newTestEnv(downloader.Config{BatchSize: 5, Chain: newMemoryChain(chain[:4]...)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var log requestLog
	serve(ctx, env.client, chain, &log, func(attempt int, _ p2p.HeadersRequest, headers []*types.Header) []*types.Header {
		if attempt == 1 {
			env.consensus.UpdateTip(chain[1].Hash())
		}
		return headers
	})
	env.consensus.UpdateTip(chain[12].Hash())

	headers, err := env.downloader.Download(ctx, chain[3], consensus.ForkchoiceState{})
	require.NoError(t, err)
	assert.Equal(t, hashes(chain[4:9]), hashes(headers))
	assert.Equal(t, []uint64{4}, log.get())
	assert.Zero(t, env.client.ReportCount())
}
