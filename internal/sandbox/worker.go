package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/rpc"
	"github.com/GriffinCanCode/remoteui/internal/transport"
)

// Method and notification names shared with the supervisor.
const (
	MethodLoad   = "load"
	MethodRender = "render"
	NotifyReady  = "ready"
	NotifyInit   = "init"
)

var (
	// ErrNotLoaded is returned by render before a script has been loaded.
	ErrNotLoaded = errors.New("no script loaded")
	// ErrBadArgument is returned for calls with missing or mistyped arguments.
	ErrBadArgument = errors.New("bad argument")
)

// Worker is the sandbox side of one context: a runtime plus the endpoint
// exposing it.
type Worker struct {
	ep      *rpc.Endpoint
	rt      *Runtime
	fetcher *Fetcher
	log     *zap.Logger

	loaded      atomic.Bool
	initialized atomic.Bool
}

// NewWorker binds a fresh runtime to conn.
func NewWorker(conn transport.Conn, cfg Config, log *zap.Logger) (*Worker, error) {
	log = logging.OrNop(log).Named("sandbox")

	rt, err := NewRuntime(cfg, log.Named("script"))
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}

	w := &Worker{
		ep:      rpc.NewEndpoint(conn, rpc.Options{Name: "sandbox", Logger: log}),
		rt:      rt,
		fetcher: NewFetcher(cfg, log),
		log:     log,
	}
	w.ep.Expose(MethodLoad, w.load)
	w.ep.Expose(MethodRender, w.render)
	w.ep.OnNotify(NotifyInit, func(context.Context, []any) {
		w.initialized.Store(true)
		w.log.Debug("host init received")
	})
	return w, nil
}

// Serve announces readiness and blocks until the channel closes or ctx is
// done. The runtime is closed on return.
func (w *Worker) Serve(ctx context.Context) error {
	defer w.rt.Close()

	w.ep.Start()
	if err := w.ep.Notify(ctx, NotifyReady); err != nil {
		w.ep.Terminate()
		return fmt.Errorf("announce ready: %w", err)
	}
	w.log.Debug("sandbox ready")

	select {
	case <-w.ep.Done():
	case <-ctx.Done():
		w.ep.Terminate()
	}
	return nil
}

// Terminate closes the worker's channel.
func (w *Worker) Terminate() {
	w.ep.Terminate()
}

// Initialized reports whether the host's init notification arrived.
func (w *Worker) Initialized() bool {
	return w.initialized.Load()
}

// Runtime exposes the worker's VM.
func (w *Worker) Runtime() *Runtime {
	return w.rt
}

func (w *Worker) load(ctx context.Context, args ...any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: load expects a script url", ErrBadArgument)
	}
	scriptURL, ok := args[0].(string)
	if !ok || scriptURL == "" {
		return nil, fmt.Errorf("%w: script url must be a non-empty string", ErrBadArgument)
	}

	source, err := w.fetcher.Fetch(ctx, scriptURL)
	if err != nil {
		w.log.Warn("script fetch failed", zap.Error(err))
		return nil, err
	}
	if err := w.rt.Run(ctx, scriptName(scriptURL), source); err != nil {
		w.log.Warn("script evaluation failed", zap.Error(err))
		return nil, fmt.Errorf("evaluate script: %w", err)
	}

	w.loaded.Store(true)
	w.log.Info("script loaded", zap.Int("bytes", len(source)))
	return nil, nil
}

func (w *Worker) render(ctx context.Context, args ...any) (any, error) {
	if !w.loaded.Load() {
		return nil, ErrNotLoaded
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: render expects a write capability", ErrBadArgument)
	}
	write, ok := args[0].(rpc.Callable)
	if !ok {
		return nil, fmt.Errorf("%w: write capability must be a function, got %T", ErrBadArgument, args[0])
	}

	if err := w.rt.Render(ctx, write); err != nil {
		w.log.Warn("render failed", zap.Error(err))
		return nil, fmt.Errorf("render: %w", err)
	}
	return nil, nil
}

// scriptName labels a script in stack traces without leaking data urls.
func scriptName(scriptURL string) string {
	if len(scriptURL) > 5 && scriptURL[:5] == "data:" {
		return "inline.js"
	}
	return scriptURL
}
