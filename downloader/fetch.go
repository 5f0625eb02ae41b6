package downloader

import (
	"context"
	"fmt"

	"github.com/OCAX-labs/headersync/core/types"
	"github.com/OCAX-labs/headersync/p2p"
)

// GetSingleHeader asks one peer for the header identified by id. A peer that
// answers with anything other than exactly that header is reported once.
func GetSingleHeader(ctx context.Context, client p2p.HeadersClient, id types.BlockHashOrNumber) (*types.SealedHeader, error) {
	req := p2p.HeadersRequest{Start: id, Limit: 1, Direction: p2p.Rising}

	res, err := client.GetHeadersWithPriority(ctx, req, p2p.PriorityHigh)
	if err != nil {
		return nil, &DownloadError{Kind: RequestErrorKind(err), Number: id.Number, Err: err}
	}
	if len(res.Headers) != 1 {
		client.ReportBadMessage(res.PeerID)
		return nil, &DownloadError{
			Kind:   KindInvalidResponse,
			Peer:   res.PeerID,
			Number: id.Number,
			Err:    fmt.Errorf("%w: have %d, want 1", ErrHeaderCount, len(res.Headers)),
		}
	}
	header := res.Headers[0].Seal()
	if !id.Matches(header) {
		client.ReportBadMessage(res.PeerID)
		return nil, &DownloadError{
			Kind:   KindInvalidResponse,
			Peer:   res.PeerID,
			Number: id.Number,
			Err:    fmt.Errorf("%w: asked for %v, got %v", ErrHeaderMismatch, id, header),
		}
	}
	return header, nil
}
