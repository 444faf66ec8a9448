package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/remoteui/internal/api/middleware"
	"github.com/GriffinCanCode/remoteui/internal/controller"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/shared/id"
	"github.com/GriffinCanCode/remoteui/internal/supervisor"
)

// VersionHeader carries the tree version a tree or HTML response reflects.
const VersionHeader = middleware.VersionHeader

// DefaultEventTimeout bounds how long an event waits for its callback.
const DefaultEventTimeout = 10 * time.Second

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions     *supervisor.Manager
	registry     *controller.Registry
	log          *zap.Logger
	eventTimeout time.Duration
	started      time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(sessions *supervisor.Manager, registry *controller.Registry, log *zap.Logger) *Handlers {
	return &Handlers{
		sessions:     sessions,
		registry:     registry,
		log:          logging.OrNop(log).Named("http"),
		eventTimeout: DefaultEventTimeout,
		started:      time.Now(),
	}
}

// WithEventTimeout overrides DefaultEventTimeout.
func (h *Handlers) WithEventTimeout(d time.Duration) *Handlers {
	if d > 0 {
		h.eventTimeout = d
	}
	return h
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/components", h.ListComponents)

	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:id", h.GetSession)
	r.GET("/sessions/:id/tree", h.GetTree)
	r.GET("/sessions/:id/html", h.GetHTML)
	r.POST("/sessions/:id/events", h.DispatchEvent)
	r.DELETE("/sessions/:id", h.DeleteSession)
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "remoteui",
	})
}

// Health reports liveness and session counts
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.sessions.Count(),
		"uptime":   time.Since(h.started).Round(time.Second).String(),
	})
}

// ListComponents lists the component types the host can render
func (h *Handlers) ListComponents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"components": h.registry.Types()})
}

// CreateSessionRequest starts a session for one script.
type CreateSessionRequest struct {
	ScriptURL string `json:"script_url" binding:"required"`
}

// CreateSession launches a sandbox and renders the script. A session that
// fails to start is kept for inspection and returned next to the error.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	s, err := h.sessions.Create(c.Request.Context(), req.ScriptURL)
	if err != nil {
		h.log.Warn("session failed to start",
			zap.String("session_id", s.ID().String()),
			zap.Error(err))
		_ = c.Error(err)
		c.AbortWithStatusJSON(statusFor(err), gin.H{
			"error":   err.Error(),
			"session": s.Info(),
		})
		return
	}
	c.JSON(http.StatusCreated, s.Info())
}

// ListSessions lists every tracked session
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.List()})
}

// GetSession describes one session
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Info())
}

// GetTree serves the session's remote tree as JSON. Callback props appear
// as {"$fn": id}.
func (h *Handlers) GetTree(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	tree := s.Tree()
	view := tree.Snapshot()
	c.Header(VersionHeader, strconv.FormatUint(tree.Version(), 10))
	c.JSON(http.StatusOK, view)
}

// GetHTML serves the rendered markup of the session.
func (h *Handlers) GetHTML(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	version := s.Tree().Version()
	markup, err := s.Renderer().HTML()
	if err != nil {
		abortWith(c, err)
		return
	}
	c.Header(VersionHeader, strconv.FormatUint(version, 10))
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(markup))
}

// EventRequest names the node prop to invoke and its arguments.
type EventRequest struct {
	NodeID string `json:"node_id" binding:"required"`
	Prop   string `json:"prop" binding:"required"`
	Args   []any  `json:"args"`
}

// DispatchEvent invokes a node's callback prop as if the user triggered it.
func (h *Handlers) DispatchEvent(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.eventTimeout)
	defer cancel()

	result, err := s.Dispatch(ctx, req.NodeID, req.Prop, req.Args...)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result":  result,
		"version": s.Tree().Version(),
	})
}

// DeleteSession terminates a session
func (h *Handlers) DeleteSession(c *gin.Context) {
	sid, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.sessions.Terminate(sid); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": sid})
}

func (h *Handlers) session(c *gin.Context) (*supervisor.Session, bool) {
	sid, ok := parseID(c)
	if !ok {
		return nil, false
	}
	s, found := h.sessions.Get(sid)
	if !found {
		abortWith(c, supervisor.ErrSessionNotFound)
		return nil, false
	}
	return s, true
}

func parseID(c *gin.Context) (id.SessionID, bool) {
	sid, err := id.ParseSessionID(c.Param("id"))
	if err != nil {
		badRequest(c, err)
		return "", false
	}
	return sid, true
}
