package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/rpc"
)

// Runtime wraps a goja VM with the sandbox's restrictions. All script code,
// including callbacks the host invokes later, runs through Runtime entries
// so only one piece of script runs at a time.
type Runtime struct {
	vm  *goja.Runtime
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	depth  atomic.Int32
	ctx    context.Context
	closed bool
	// halt holds the reason the current entry was interrupted.
	halt atomic.Pointer[error]

	consoleMu sync.Mutex
	console   []LogEntry
}

// NewRuntime creates a sandboxed VM.
func NewRuntime(cfg Config, log *zap.Logger) (*Runtime, error) {
	cfg = cfg.withDefaults()
	r := &Runtime{
		vm:  goja.New(),
		cfg: cfg,
		log: logging.OrNop(log),
		ctx: context.Background(),
	}
	r.vm.SetMaxCallStackSize(cfg.MaxCallStackSize)

	if err := r.setupGlobals(); err != nil {
		return nil, err
	}
	return r, nil
}

// Run evaluates source as a script named name.
func (r *Runtime) Run(ctx context.Context, name, source string) error {
	return r.enter(ctx, func() error {
		_, err := r.vm.RunScript(name, source)
		return err
	})
}

// CallGlobal calls the global function name with Go values converted to
// script values, and returns the exported result.
func (r *Runtime) CallGlobal(ctx context.Context, name string, args ...any) (any, error) {
	var out any
	err := r.enter(ctx, func() error {
		fn, ok := goja.AssertFunction(r.vm.Get(name))
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFunction, name)
		}
		v, err := fn(goja.Undefined(), r.toValues(args)...)
		if err != nil {
			return err
		}
		out, err = r.export(v)
		return err
	})
	return out, err
}

// Set binds a Go value as a script global.
func (r *Runtime) Set(name string, value any) error {
	return r.enter(context.Background(), func() error {
		return r.vm.Set(name, r.toValue(value))
	})
}

// Console returns the retained console output.
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry(nil), r.console...)
}

// Close releases the VM. Later entries fail with ErrClosed.
func (r *Runtime) Close() error {
	r.vm.Interrupt(ErrClosed)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.console = nil
	return nil
}

// enter runs fn as one VM entry bounded by ExecTimeout and ctx. Entries made
// from inside script code, such as a script calling one of its own
// functions the host handed back, run inline.
func (r *Runtime) enter(ctx context.Context, fn func() error) error {
	if r.depth.Load() > 0 {
		return fn()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	r.depth.Add(1)
	r.ctx = ctx
	stop := r.watch(ctx)
	defer func() {
		stop()
		r.ctx = context.Background()
		r.depth.Add(-1)
	}()

	return r.classify(fn())
}

// watch interrupts the VM on timeout or cancellation until stop is called.
func (r *Runtime) watch(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	timer := time.NewTimer(r.cfg.ExecTimeout)

	go func() {
		defer close(exited)
		var cause error
		select {
		case <-timer.C:
			cause = ErrExecTimeout
		case <-ctx.Done():
			cause = ctx.Err()
		case <-done:
			return
		}
		r.halt.Store(&cause)
		r.vm.Interrupt(cause)
	}()

	return func() {
		close(done)
		<-exited
		timer.Stop()
		r.halt.Store(nil)
		r.vm.ClearInterrupt()
	}
}

// halted reports why the current entry must stop, or nil. Go code that walks
// script values checks it, since vm.Interrupt only stops script code.
func (r *Runtime) halted() error {
	if cause := r.halt.Load(); cause != nil {
		return *cause
	}
	return r.ctx.Err()
}

func (r *Runtime) classify(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
		return ErrExecTimeout
	}
	return err
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return err
		}
	}
	if err := r.vm.Set("console", console); err != nil {
		return err
	}

	// Timers would outlive the entry that scheduled them.
	inert := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := r.vm.Set(name, inert); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
		if len(r.console) > maxConsoleEntries {
			r.console = r.console[len(r.console)-maxConsoleEntries:]
		}
		r.consoleMu.Unlock()

		fields := []zap.Field{zap.String("sandbox_console", level)}
		switch level {
		case "error":
			r.log.Warn(msg, fields...)
		case "debug":
			r.log.Debug(msg, fields...)
		default:
			r.log.Info(msg, fields...)
		}
		return goja.Undefined()
	}
}

// wrap turns a script function into a channel function. Calls run as VM
// entries on the caller's goroutine.
func (r *Runtime) wrap(fn goja.Callable) rpc.Func {
	return func(ctx context.Context, args ...any) (any, error) {
		var out any
		err := r.enter(ctx, func() error {
			v, err := fn(goja.Undefined(), r.toValues(args)...)
			if err != nil {
				return err
			}
			out, err = r.export(v)
			return err
		})
		return out, err
	}
}
