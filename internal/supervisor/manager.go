package supervisor

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/remoteui/internal/controller"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/remoteui/internal/sandbox"
	"github.com/GriffinCanCode/remoteui/internal/shared/id"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// DefaultRetainTerminated is used when ManagerConfig.RetainTerminated is
// not positive.
const DefaultRetainTerminated = 64

// ManagerConfig holds the settings every managed session shares.
type ManagerConfig struct {
	Launcher     sandbox.Launcher
	Registry     *controller.Registry
	ReadyTimeout time.Duration
	LoadTimeout  time.Duration
	EventsPerSec float64

	// RetainTerminated caps how many terminated sessions are kept for
	// inspection. The oldest are forgotten first.
	RetainTerminated int
}

// Manager orchestrates session lifecycle
type Manager struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*Session // Protected by mu

	cfg     ManagerConfig
	log     *zap.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// NewManager creates a session manager
func NewManager(cfg ManagerConfig, log *zap.Logger) *Manager {
	if cfg.RetainTerminated <= 0 {
		cfg.RetainTerminated = DefaultRetainTerminated
	}
	return &Manager{
		sessions: make(map[id.SessionID]*Session),
		cfg:      cfg,
		log:      logging.OrNop(log),
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithTracer traces session start stages
func (m *Manager) WithTracer(tracer *tracing.Tracer) *Manager {
	m.tracer = tracer
	return m
}

// Create starts a session for scriptURL using the configured launcher. The
// session is kept even when it fails to start, so its state can be
// inspected, until newer terminated sessions push it past RetainTerminated;
// the returned error is the start failure.
func (m *Manager) Create(ctx context.Context, scriptURL string) (*Session, error) {
	return m.CreateWith(ctx, scriptURL, m.cfg.Launcher)
}

// CreateWith is Create with an explicit launcher, used for attached
// remote workers.
func (m *Manager) CreateWith(ctx context.Context, scriptURL string, launcher sandbox.Launcher) (*Session, error) {
	s := NewSession(Options{
		ScriptURL:    scriptURL,
		Launcher:     launcher,
		Registry:     m.cfg.Registry,
		ReadyTimeout: m.cfg.ReadyTimeout,
		LoadTimeout:  m.cfg.LoadTimeout,
		EventsPerSec: m.cfg.EventsPerSec,
		Logger:       m.log,
		Metrics:      m.metrics,
		Tracer:       m.tracer,
	})

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.log.Info("session created", zap.String("session_id", s.ID().String()), zap.String("script_url", scriptURL))
	err := s.Start(ctx)
	m.prune()
	return s, err
}

// prune forgets the oldest terminated sessions beyond RetainTerminated.
func (m *Manager) prune() {
	m.mu.Lock()
	var ended []id.SessionID
	for sid, s := range m.sessions {
		if s.State() == StateTerminated {
			ended = append(ended, sid)
		}
	}
	excess := len(ended) - m.cfg.RetainTerminated
	if excess <= 0 {
		m.mu.Unlock()
		return
	}
	// ULIDs sort by creation time.
	sort.Slice(ended, func(i, j int) bool { return ended[i] < ended[j] })
	for _, sid := range ended[:excess] {
		delete(m.sessions, sid)
	}
	m.mu.Unlock()

	m.log.Debug("terminated sessions pruned", zap.Int("count", excess))
}

// Get retrieves a session by id
func (m *Manager) Get(sid id.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sid]
	return s, ok
}

// List describes every session, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, len(sessions))
	for i, s := range sessions {
		infos[i] = s.Info()
	}
	// ULIDs sort by creation time.
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Terminate stops a session and forgets it.
func (m *Manager) Terminate(sid id.SessionID) error {
	m.mu.Lock()
	s, ok := m.sessions[sid]
	delete(m.sessions, sid)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Terminate()
	return nil
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown terminates every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[id.SessionID]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Terminate()
	}
	m.log.Info("session manager stopped", zap.Int("terminated", len(sessions)))
}
