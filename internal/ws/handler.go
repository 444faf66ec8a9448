package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/remoteui/internal/sandbox"
	"github.com/GriffinCanCode/remoteui/internal/shared/id"
	"github.com/GriffinCanCode/remoteui/internal/supervisor"
	"github.com/GriffinCanCode/remoteui/internal/transport"
)

const (
	writeWait    = 10 * time.Second
	eventTimeout = 10 * time.Second
)

// Message is the envelope for live view traffic in both directions.
type Message struct {
	Type    string `json:"type"`
	Ref     string `json:"ref,omitempty"`
	NodeID  string `json:"node_id,omitempty"`
	Prop    string `json:"prop,omitempty"`
	Args    []any  `json:"args,omitempty"`
	Version uint64 `json:"version,omitempty"`
	HTML    string `json:"html,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handler manages WebSocket connections
type Handler struct {
	sessions *supervisor.Manager
	log      *zap.Logger
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler
func NewHandler(sessions *supervisor.Manager, log *zap.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		log:      logging.OrNop(log).Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 16384,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// WithOriginCheck restricts which browser origins may open a live view.
// allowed receives the request's Origin header, possibly empty.
func (h *Handler) WithOriginCheck(allowed func(origin string) bool) *Handler {
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		return allowed(r.Header.Get("Origin"))
	}
	return h
}

// WithMetrics sets the metrics collector
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// Register mounts the websocket routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/sessions/:id/live", h.Live)
	r.GET("/sandbox/attach", h.Attach)
}

// Live streams a session's HTML to a browser and accepts events back.
func (h *Handler) Live(c *gin.Context) {
	sid, err := id.ParseSessionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, ok := h.sessions.Get(sid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": supervisor.ErrSessionNotFound.Error()})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	lc := &liveConn{
		ws:      ws,
		session: s,
		log:     h.log.With(zap.String("conn_id", id.NewConnID().String()), zap.String("session_id", sid.String())),
		metrics: h.metrics,
		dirty:   make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	lc.log.Debug("live view connected")
	lc.run(c.Request.Context())
	lc.log.Debug("live view disconnected")
}

// Attach turns an upgraded connection from a remote worker into a session.
func (h *Handler) Attach(c *gin.Context) {
	scriptURL := c.Query("script_url")
	if scriptURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "script_url is required"})
		return
	}

	ws, err := transport.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("attach upgrade failed", zap.Error(err))
		return
	}
	conn := transport.NewWebSocket(ws)
	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	s, err := h.sessions.CreateWith(c.Request.Context(), scriptURL, sandbox.Attach(conn))
	if err != nil {
		h.log.Warn("attached session failed to start",
			zap.String("session_id", s.ID().String()),
			zap.Error(err))
		return
	}
	h.log.Info("remote sandbox attached", zap.String("session_id", s.ID().String()))
	<-s.Done()
}

// liveConn is one browser following one session.
type liveConn struct {
	ws      *websocket.Conn
	session *supervisor.Session
	log     *zap.Logger
	metrics *monitoring.Metrics

	writeMu sync.Mutex
	dirty   chan struct{}
	closed  chan struct{}
}

func (lc *liveConn) run(ctx context.Context) {
	defer lc.ws.Close()

	unsubscribe := lc.session.Renderer().OnRender(func(uint64) { lc.markDirty() })
	defer unsubscribe()

	go lc.readLoop(ctx)

	// Initial frame.
	lc.markDirty()
	for {
		select {
		case <-lc.dirty:
			if err := lc.pushRender(); err != nil {
				lc.log.Debug("render push failed", zap.Error(err))
				return
			}
		case <-lc.session.Done():
			// Flush the fallback markup before saying goodbye.
			_ = lc.pushRender()
			msg := Message{Type: "terminated"}
			if err := lc.session.Err(); err != nil {
				msg.Error = err.Error()
			}
			_ = lc.write(msg)
			_ = lc.writeClose(websocket.CloseNormalClosure, "session terminated")
			return
		case <-lc.closed:
			return
		}
	}
}

// markDirty coalesces render notifications; one pending push is enough.
func (lc *liveConn) markDirty() {
	select {
	case lc.dirty <- struct{}{}:
	default:
	}
}

func (lc *liveConn) pushRender() error {
	version := lc.session.Tree().Version()
	markup, err := lc.session.Renderer().HTML()
	if err != nil {
		return err
	}
	return lc.write(Message{Type: "render", Version: version, HTML: markup})
}

func (lc *liveConn) readLoop(ctx context.Context) {
	defer close(lc.closed)

	for {
		var msg Message
		if err := lc.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				lc.log.Debug("live read ended", zap.Error(err))
			}
			return
		}
		lc.metrics.RecordWSMessage("in", msg.Type)

		switch msg.Type {
		case "event":
			lc.handleEvent(ctx, msg)
		case "ping":
			_ = lc.write(Message{Type: "pong", Ref: msg.Ref})
		default:
			_ = lc.write(Message{Type: "error", Ref: msg.Ref, Error: "unknown message type: " + msg.Type})
		}
	}
}

func (lc *liveConn) handleEvent(ctx context.Context, msg Message) {
	if msg.NodeID == "" || msg.Prop == "" {
		_ = lc.write(Message{Type: "error", Ref: msg.Ref, Error: "event needs node_id and prop"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	result, err := lc.session.Dispatch(ctx, msg.NodeID, msg.Prop, msg.Args...)
	if err != nil {
		if !errors.Is(err, supervisor.ErrRateLimited) {
			lc.log.Debug("event failed", zap.String("node_id", msg.NodeID), zap.Error(err))
		}
		_ = lc.write(Message{Type: "error", Ref: msg.Ref, Error: err.Error()})
		return
	}
	if err := lc.write(Message{Type: "result", Ref: msg.Ref, Result: result}); err != nil {
		lc.log.Debug("result not delivered", zap.String("ref", msg.Ref), zap.Error(err))
	}
}

func (lc *liveConn) write(msg Message) error {
	lc.writeMu.Lock()
	defer lc.writeMu.Unlock()

	_ = lc.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := lc.ws.WriteJSON(msg); err != nil {
		return err
	}
	lc.metrics.RecordWSMessage("out", msg.Type)
	return nil
}

func (lc *liveConn) writeClose(code int, text string) error {
	lc.writeMu.Lock()
	defer lc.writeMu.Unlock()
	return lc.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
