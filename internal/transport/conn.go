// Package transport provides duplex frame channels between the host and an
// isolated sandbox context.
//
// A Conn moves opaque byte frames. It knows nothing about RPC; it only
// preserves per-direction send order and reports closure. Frames are copied
// at the boundary so the two sides never share memory.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send and Recv once either side has closed.
var ErrClosed = errors.New("transport closed")

// MaxFrameSize bounds a single frame on every transport.
const MaxFrameSize = 8 * 1024 * 1024

// Conn is one end of a duplex frame channel.
type Conn interface {
	// Send delivers frame to the peer. It may block until the peer reads.
	Send(ctx context.Context, frame []byte) error
	// Recv returns the next frame from the peer, in send order.
	Recv(ctx context.Context) ([]byte, error)
	// Close tears the channel down for both sides. Frames in flight may be
	// lost. Close is idempotent.
	Close() error
}

func cloneFrame(frame []byte) []byte {
	out := make([]byte, len(frame))
	copy(out, frame)
	return out
}
