package downloader

import (
	"errors"
	"fmt"

	"github.com/OCAX-labs/headersync/p2p"
)

// Shape errors for peer responses. They are wrapped in a DownloadError of
// kind KindInvalidResponse.
var (
	ErrEmptyResponse   = errors.New("empty header response")
	ErrHeaderCount     = errors.New("unexpected number of headers")
	ErrStartMismatch   = errors.New("response does not start at the requested block")
	ErrNotRising       = errors.New("headers not in rising order")
	ErrHeaderMismatch  = errors.New("header is not the requested block")
	ErrGenesisMismatch = errors.New("peer genesis does not match local genesis")
)

// ErrorKind classifies why a download failed.
type ErrorKind int

const (
	// KindTimeout means a request or the whole download ran out of time or
	// was cancelled.
	KindTimeout ErrorKind = iota + 1
	// KindTransport means no peer could be asked.
	KindTransport
	// KindInvalidResponse means a peer answered with the wrong shape.
	KindInvalidResponse
	// KindValidation means a header failed linkage or consensus checks.
	KindValidation
	// KindUnmatchedItems means a peer sent items that were never requested.
	KindUnmatchedItems
	// KindExhausted means every retry failed. Err holds the last failure.
	KindExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindInvalidResponse:
		return "invalid response"
	case KindValidation:
		return "validation"
	case KindUnmatchedItems:
		return "unmatched items"
	case KindExhausted:
		return "retries exhausted"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DownloadError is returned by the downloader, the fetch helpers and the
// pooled transaction fetcher.
type DownloadError struct {
	Kind ErrorKind
	// Peer that caused the failure, empty when no peer answered.
	Peer p2p.PeerID
	// Number is the first block of the span being fetched.
	Number   uint64
	Attempts int
	Err      error
}

func (e *DownloadError) Error() string {
	msg := fmt.Sprintf("download failed (%v)", e.Kind)
	if e.Number != 0 {
		msg += fmt.Sprintf(" at #%d", e.Number)
	}
	if e.Peer != "" {
		msg += fmt.Sprintf(" peer=%s", e.Peer)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" attempts=%d", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DownloadError) Unwrap() error { return e.Err }

// IsKind reports whether err is a DownloadError of the given kind, looking
// through KindExhausted wrappers.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var derr *DownloadError
		if !errors.As(err, &derr) {
			return false
		}
		if derr.Kind == kind {
			return true
		}
		err = derr.Err
	}
	return false
}
