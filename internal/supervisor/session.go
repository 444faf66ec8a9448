package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/remoteui/internal/controller"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/remoteui/internal/receiver"
	"github.com/GriffinCanCode/remoteui/internal/renderer"
	"github.com/GriffinCanCode/remoteui/internal/rpc"
	"github.com/GriffinCanCode/remoteui/internal/sandbox"
	"github.com/GriffinCanCode/remoteui/internal/shared/id"
)

// State is a session lifecycle state.
type State string

const (
	StateCreated    State = "created"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateRendering  State = "rendering"
	StateTerminated State = "terminated"
)

// Load stages.
const (
	StageLaunch = "launch"
	StageReady  = "ready"
	StageInit   = "init"
	StageLoad   = "load"
	StageRender = "render"
)

var (
	// ErrTerminated is returned for operations on a terminated session.
	ErrTerminated = errors.New("session terminated")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrNotRendering is returned for events sent before the session renders.
	ErrNotRendering = errors.New("session is not rendering")
	// ErrRateLimited is returned when a session receives events too fast.
	ErrRateLimited = errors.New("event rate limit exceeded")
	// ErrReadyTimeout is returned when the context never signals ready.
	ErrReadyTimeout = errors.New("sandbox did not become ready in time")
)

// LoadError reports why a session failed to come up. It is fatal to the
// session.
type LoadError struct {
	Stage     string
	ScriptURL string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("session %s failed (%s): %v", e.Stage, e.ScriptURL, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Options configures a Session.
type Options struct {
	ID        id.SessionID
	ScriptURL string
	Launcher  sandbox.Launcher
	Registry  *controller.Registry
	// ReadyTimeout bounds the wait for the context's ready signal.
	ReadyTimeout time.Duration
	// LoadTimeout bounds the load call. Zero means no bound beyond ctx.
	LoadTimeout time.Duration
	// EventsPerSec limits Dispatch. Zero disables the limit.
	EventsPerSec float64
	Logger       *zap.Logger
	Metrics      *monitoring.Metrics
	Tracer       *tracing.Tracer
}

// Info is a point-in-time description of a session.
type Info struct {
	ID        id.SessionID `json:"id"`
	ScriptURL string       `json:"script_url"`
	State     State        `json:"state"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Nodes     int          `json:"nodes"`
	Version   uint64       `json:"version"`
}

// Session is one sandboxed script rendering into one tree.
type Session struct {
	id        id.SessionID
	scriptURL string
	launcher  sandbox.Launcher
	opts      Options
	createdAt time.Time

	tree     *receiver.Receiver
	renderer *renderer.Renderer
	limiter  *rate.Limiter
	log      *zap.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer

	mu      sync.Mutex
	state   State
	err     error
	started bool
	realm   sandbox.Realm
	ep      *rpc.Endpoint

	once sync.Once
	done chan struct{}
}

// NewSession creates a session in the created state. The renderer is
// mounted immediately so the tree can be observed from the start.
func NewSession(opts Options) *Session {
	if opts.ID == "" {
		opts.ID = id.NewSessionID()
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 5 * time.Second
	}
	log := logging.OrNop(opts.Logger).Named("session").With(zap.String("session_id", string(opts.ID)))

	tree := receiver.New(receiver.Options{Logger: log, Metrics: opts.Metrics})
	s := &Session{
		id:        opts.ID,
		scriptURL: opts.ScriptURL,
		launcher:  opts.Launcher,
		opts:      opts,
		createdAt: time.Now(),
		tree:      tree,
		renderer:  renderer.New(opts.Registry, tree, renderer.Options{Logger: log, Metrics: opts.Metrics}),
		log:       log,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		state:     StateCreated,
		done:      make(chan struct{}),
	}
	if opts.EventsPerSec > 0 {
		burst := int(opts.EventsPerSec)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.EventsPerSec), burst)
	}
	s.renderer.Mount()
	return s
}

// ID returns the session id.
func (s *Session) ID() id.SessionID { return s.id }

// Tree returns the session's receiver.
func (s *Session) Tree() *receiver.Receiver { return s.tree }

// Renderer returns the session's renderer.
func (s *Session) Renderer() *renderer.Renderer { return s.renderer }

// Done is closed once the session terminates.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that terminated the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Info describes the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:        s.id,
		ScriptURL: s.scriptURL,
		State:     s.state,
		CreatedAt: s.createdAt,
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	s.mu.Unlock()

	info.Nodes = s.tree.Len()
	info.Version = s.tree.Version()
	return info
}

// Start brings the session up: launch, ready handshake, init, load, render.
// It returns once the script's render call has completed. On failure the
// session is terminated and the error is a *LoadError.
func (s *Session) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	if s.state == StateTerminated {
		s.mu.Unlock()
		return s.loadError(StageLaunch, ErrTerminated)
	}
	s.mu.Unlock()
	s.metrics.IncSessionsActive()

	if s.tracer != nil {
		var span *tracing.Span
		span, ctx = s.tracer.StartSpan(ctx, "session.start")
		span.SetTag("session_id", s.id.String())
		span.SetTag("script_url", s.scriptURL)
		defer func() { s.tracer.End(span, err) }()
	}

	s.transition(StateLoading)
	end := s.trace(ctx, StageLaunch)
	realm, err := s.launcher.Launch(ctx)
	end(err)
	if err != nil {
		return s.fail(StageLaunch, err)
	}

	ep := rpc.NewEndpoint(realm.Conn(), rpc.Options{Name: "host", Logger: s.log, Metrics: s.metrics})
	ready := make(chan struct{})
	var readyOnce sync.Once
	ep.OnNotify(sandbox.NotifyReady, func(context.Context, []any) {
		readyOnce.Do(func() { close(ready) })
	})

	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		ep.Terminate()
		_ = realm.Destroy()
		return s.loadError(StageLaunch, ErrTerminated)
	}
	s.realm = realm
	s.ep = ep
	s.mu.Unlock()

	ep.Start()
	go s.watch(ep)

	end = s.trace(ctx, StageReady)
	timer := time.NewTimer(s.opts.ReadyTimeout)
	defer timer.Stop()
	var readyErr error
	select {
	case <-ready:
	case <-timer.C:
		readyErr = ErrReadyTimeout
	case <-ep.Done():
		readyErr = ep.Err()
		if readyErr == nil {
			readyErr = rpc.ErrChannelClosed
		}
	case <-ctx.Done():
		readyErr = ctx.Err()
	}
	end(readyErr)
	if readyErr != nil {
		return s.fail(StageReady, readyErr)
	}
	s.transition(StateReady)

	if err := ep.Notify(ctx, sandbox.NotifyInit); err != nil {
		return s.fail(StageInit, err)
	}

	loadCtx := ctx
	if s.opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, s.opts.LoadTimeout)
		defer cancel()
	}
	end = s.trace(loadCtx, StageLoad)
	_, err = ep.Call(loadCtx, sandbox.MethodLoad, s.scriptURL)
	end(err)
	if err != nil {
		return s.fail(StageLoad, err)
	}

	s.transition(StateRendering)
	end = s.trace(ctx, StageRender)
	_, err = ep.Call(ctx, sandbox.MethodRender, s.tree.Capability())
	end(err)
	if err != nil {
		return s.fail(StageRender, err)
	}

	s.log.Info("session rendering", zap.Int("nodes", s.tree.Len()))
	return nil
}

// Dispatch delivers a host UI event to the callback stored in a node prop.
// Functions in the callback's result come back as nil.
func (s *Session) Dispatch(ctx context.Context, nodeID, prop string, args ...any) (any, error) {
	switch s.State() {
	case StateRendering:
	case StateTerminated:
		return nil, ErrTerminated
	default:
		return nil, ErrNotRendering
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return nil, ErrRateLimited
	}
	result, err := s.renderer.Invoke(ctx, nodeID, prop, args...)
	return rpc.StripFuncs(result), err
}

// Terminate tears the session down. It is idempotent and safe to call from
// any goroutine, including while Start is blocked on the sandbox.
func (s *Session) Terminate() {
	s.terminate(nil)
}

func (s *Session) watch(ep *rpc.Endpoint) {
	select {
	case <-ep.Done():
		s.terminate(fmt.Errorf("sandbox channel lost: %w", ep.Err()))
	case <-s.done:
	}
}

// trace opens a span for one start stage. The returned func ends it.
func (s *Session) trace(ctx context.Context, stage string) func(error) {
	if s.tracer == nil {
		return func(error) {}
	}
	span, _ := s.tracer.StartSpan(ctx, "session."+stage)
	span.SetTag("session_id", s.id.String())
	return func(err error) { s.tracer.End(span, err) }
}

func (s *Session) fail(stage string, err error) error {
	lerr := s.loadError(stage, err)
	s.terminate(lerr)
	return lerr
}

func (s *Session) loadError(stage string, err error) *LoadError {
	return &LoadError{Stage: stage, ScriptURL: s.scriptURL, Err: err}
}

func (s *Session) terminate(cause error) {
	s.once.Do(func() {
		s.mu.Lock()
		wasStarted := s.started
		s.state = StateTerminated
		if cause != nil {
			s.err = cause
		}
		ep, realm := s.ep, s.realm
		s.mu.Unlock()

		s.metrics.RecordTransition(string(StateTerminated))
		if ep != nil {
			ep.Terminate()
		}
		if realm != nil {
			if err := realm.Destroy(); err != nil {
				s.log.Debug("destroy sandbox context", zap.Error(err))
			}
		}

		reason := "terminated"
		if cause != nil {
			reason = cause.Error()
			s.log.Warn("session failed", zap.Error(cause))
		} else {
			s.log.Info("session terminated")
		}
		s.renderer.Unmount(reason)
		s.tree.Clear()

		if wasStarted {
			s.metrics.DecSessionsActive()
		}
		close(s.done)
	})
}

// transition moves to state unless the session already terminated.
func (s *Session) transition(state State) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.metrics.RecordTransition(string(state))
	s.log.Debug("session state", zap.String("state", string(state)))
}
