package transport

import (
	"context"
	"fmt"
	"sync"
)

// pipeBuffer is how many frames may be queued in one direction before Send
// blocks.
const pipeBuffer = 256

// pipeLink is the state shared by both ends of a pipe.
type pipeLink struct {
	done      chan struct{}
	closeOnce sync.Once
}

func (l *pipeLink) close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// PipeConn is one end of an in-memory pipe.
type PipeConn struct {
	link *pipeLink
	in   <-chan []byte
	out  chan<- []byte
}

// Pipe returns two connected in-memory ends. It is the transport for
// in-process sandboxes and for tests.
func Pipe() (*PipeConn, *PipeConn) {
	link := &pipeLink{done: make(chan struct{})}
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)

	return &PipeConn{link: link, in: ba, out: ab},
		&PipeConn{link: link, in: ab, out: ba}
}

// Send implements Conn.
func (p *PipeConn) Send(ctx context.Context, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(frame))
	}
	select {
	case <-p.link.done:
		return ErrClosed
	default:
	}

	select {
	case p.out <- cloneFrame(frame):
		return nil
	case <-p.link.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv implements Conn.
func (p *PipeConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-p.link.done:
		return nil, ErrClosed
	default:
	}

	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.link.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Conn.
func (p *PipeConn) Close() error {
	p.link.close()
	return nil
}
