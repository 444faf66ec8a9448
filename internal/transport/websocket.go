package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WebSocketConn carries frames as binary websocket messages. A sandbox worker
// running on another machine attaches to the host through it.
type WebSocketConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	readMu  sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocket wraps an established websocket connection and starts its
// keepalive pings.
func NewWebSocket(ws *websocket.Conn) *WebSocketConn {
	c := &WebSocketConn{ws: ws, done: make(chan struct{})}

	ws.SetReadLimit(MaxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.keepalive()
	return c
}

// DialWebSocket connects to a host attach endpoint.
func DialWebSocket(ctx context.Context, url string, header http.Header) (*WebSocketConn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocket(ws), nil
}

// Upgrader accepts sandbox attach connections. Workers are not browsers, so
// origin checks do not apply.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Send implements Conn.
func (c *WebSocketConn) Send(ctx context.Context, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(frame))
	}
	select {
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		_ = c.Close()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Recv implements Conn.
func (c *WebSocketConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		if kind == websocket.BinaryMessage || kind == websocket.TextMessage {
			return data, nil
		}
	}
}

// Close implements Conn.
func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *WebSocketConn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
