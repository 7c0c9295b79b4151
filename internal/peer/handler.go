package peer

import (
	"context"
	"crypto/x509"
	"io"

	"github.com/nao1215/peerlink/internal/model"
	"github.com/nao1215/peerlink/internal/transport"
)

// RequestHandler answers the requests a listener receives. Every method runs
// on a task submitted through SubmitWebRequestTask.
type RequestHandler interface {
	// SubmitWebRequestTask runs task asynchronously. It returns an error when
	// the handler no longer accepts work.
	SubmitWebRequestTask(task func()) error

	// HandlePullStatusRequest returns the status to serve to peerID.
	HandlePullStatusRequest(ctx context.Context, peerID string) (*model.Status, error)

	// HandlePushStatusRequest receives a status pushed by peerID.
	HandlePushStatusRequest(ctx context.Context, peerID string, status *model.Status) error

	// HandleDownloadRequest returns resourceID restricted to rng, or nil when
	// the resource does not exist. rng may be nil.
	HandleDownloadRequest(ctx context.Context, peer *x509.Certificate, resourceID string, rng *transport.ByteRange) (*DownloadResponse, error)
}

// DownloadResponse is a resource ready to be streamed to a peer.
type DownloadResponse struct {
	// Content yields exactly Length bytes. The listener closes it.
	Content io.ReadCloser

	// Length is the number of bytes in Content.
	Length int64

	// MIMEType is sent as Content-Type. application/octet-stream when empty.
	MIMEType string
}
