package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// StreamConn frames messages over a byte stream with a 4-byte big-endian
// length prefix. Process-mode sandboxes speak it over stdin/stdout.
type StreamConn struct {
	r      *bufio.Reader
	w      io.Writer
	closer io.Closer

	writeMu sync.Mutex
	readMu  sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps r and w. closer, if non-nil, is closed by Close; it should
// release both halves (for a child process, its pipes).
func NewStream(r io.Reader, w io.Writer, closer io.Closer) *StreamConn {
	return &StreamConn{
		r:      bufio.NewReader(r),
		w:      w,
		closer: closer,
		done:   make(chan struct{}),
	}
}

// Send implements Conn.
func (s *StreamConn) Send(ctx context.Context, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(frame))
	}
	if err := s.closedErr(ctx); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(frame)))
	if _, err := s.w.Write(header[:]); err != nil {
		return s.fail(err)
	}
	if _, err := s.w.Write(frame); err != nil {
		return s.fail(err)
	}
	if f, ok := s.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return s.fail(err)
		}
	}
	return nil
}

// Recv implements Conn. The context is only checked before blocking: a
// stream read cannot be interrupted except by Close.
func (s *StreamConn) Recv(ctx context.Context) ([]byte, error) {
	if err := s.closedErr(ctx); err != nil {
		return nil, err
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()

	var header [4]byte
	if _, err := io.ReadFull(s.r, header[:]); err != nil {
		return nil, s.fail(err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, s.fail(fmt.Errorf("frame of %d bytes exceeds limit", size))
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(s.r, frame); err != nil {
		return nil, s.fail(err)
	}
	return frame, nil
}

// Close implements Conn.
func (s *StreamConn) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}

func (s *StreamConn) closedErr(ctx context.Context) error {
	select {
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// fail closes the stream and maps EOF-like errors onto ErrClosed.
func (s *StreamConn) fail(err error) error {
	_ = s.Close()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}
