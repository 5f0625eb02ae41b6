package downloadertest

import (
	"context"
	"time"

	"github.com/OCAX-labs/headersync/consensus"
	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/downloader"
	"github.com/OCAX-labs/headersync/p2p"
)

// TestHeaderDownloader returns a fixed result from every Download call.
type TestHeaderDownloader struct {
	Headers []*types.SealedHeader
	Err     error

	TestConsensus *TestConsensus
	TestClient    *TestHeadersClient
}

var _ downloader.Downloader = (*TestHeaderDownloader)(nil)

func NewTestHeaderDownloader(headers []*types.SealedHeader, err error) *TestHeaderDownloader {
	return &TestHeaderDownloader{
		Headers:       headers,
		Err:           err,
		TestConsensus: NewTestConsensus(),
		TestClient:    NewTestHeadersClient(),
	}
}

func (d *TestHeaderDownloader) Timeout() time.Duration         { return time.Second }
func (d *TestHeaderDownloader) Consensus() consensus.Consensus { return d.TestConsensus }
func (d *TestHeaderDownloader) Client() p2p.HeadersClient      { return d.TestClient }

func (d *TestHeaderDownloader) Download(context.Context, *types.SealedHeader, consensus.ForkchoiceState) ([]*types.SealedHeader, error) {
	return d.Headers, d.Err
}
