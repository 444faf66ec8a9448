package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/remoteui/internal/transport"
)

// NotifyHandler receives a fire-and-forget message from the peer.
type NotifyHandler func(ctx context.Context, args []any)

// Options configures an Endpoint.
type Options struct {
	// Name labels log lines, e.g. "host" or "sandbox".
	Name    string
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

type outcome struct {
	value any
	err   error
}

// Endpoint is one side of a bidirectional call channel.
type Endpoint struct {
	conn    transport.Conn
	name    string
	log     *zap.Logger
	metrics *monitoring.Metrics

	funcs *funcTable
	inbox *inbox

	mu       sync.Mutex
	methods  map[string]Func
	notifies map[string]NotifyHandler
	pending  map[uint64]chan outcome
	nextID   uint64
	started  bool
	closed   bool
	cause    error

	sendMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEndpoint binds an endpoint to conn. Register methods and notification
// handlers, then call Start to begin reading.
func NewEndpoint(conn transport.Conn, opts Options) *Endpoint {
	name := opts.Name
	if name == "" {
		name = "endpoint"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Endpoint{
		conn:     conn,
		name:     name,
		log:      logging.OrNop(opts.Logger).Named("rpc").With(zap.String("endpoint", name)),
		metrics:  opts.Metrics,
		funcs:    newFuncTable(),
		inbox:    newInbox(),
		methods:  make(map[string]Func),
		notifies: make(map[string]NotifyHandler),
		pending:  make(map[uint64]chan outcome),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the reader and dispatcher goroutines. Calling it twice is a
// no-op.
func (e *Endpoint) Start() {
	e.mu.Lock()
	if e.started || e.closed {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	go e.readLoop()
	go e.dispatchLoop()
}

// Expose registers fn under method. A later registration replaces an earlier
// one.
func (e *Endpoint) Expose(method string, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.methods[method] = fn
}

// OnNotify registers the handler for a notification name.
func (e *Endpoint) OnNotify(method string, h NotifyHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifies[method] = h
}

// Call invokes method on the peer and waits for its result. Cancelling ctx
// abandons the wait; a response arriving afterwards is discarded.
func (e *Endpoint) Call(ctx context.Context, method string, args ...any) (any, error) {
	return e.invoke(ctx, method, "", args)
}

// Notify sends a message that expects no response.
func (e *Endpoint) Notify(ctx context.Context, method string, args ...any) error {
	encoded, err := e.encodeArgs(args)
	if err != nil {
		return err
	}
	if err := e.Err(); err != nil {
		return err
	}
	return e.send(ctx, &message{Kind: KindNotify, Method: method, Args: encoded})
}

// Terminate closes the channel. Every pending call is rejected with
// ErrChannelClosed and the function table is dropped. Terminate is
// idempotent.
func (e *Endpoint) Terminate() {
	e.shutdown(ErrChannelClosed)
}

// Done is closed once the endpoint has terminated for any reason.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Err returns nil while the endpoint is open, otherwise an error matching
// ErrChannelClosed that wraps the cause.
func (e *Endpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		return nil
	}
	return closedBy(e.cause)
}

// FuncCount reports how many local functions the peer currently holds
// references to.
func (e *Endpoint) FuncCount() int {
	return e.funcs.len()
}

// PendingCount reports how many outbound calls are awaiting a response.
func (e *Endpoint) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Endpoint) invoke(ctx context.Context, method, fn string, args []any) (any, error) {
	label := method
	if fn != "" {
		label = "fn"
	}
	timer := monitoring.NewTimer(e.metrics, monitoring.Outbound, label)

	encoded, err := e.encodeArgs(args)
	if err != nil {
		timer.Stop("encode_error")
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		cause := e.cause
		e.mu.Unlock()
		timer.Stop("closed")
		return nil, closedBy(cause)
	}
	e.nextID++
	id := e.nextID
	ch := make(chan outcome, 1)
	e.pending[id] = ch
	e.mu.Unlock()
	e.metrics.AddRPCPending(1)

	msg := &message{Kind: KindCall, ID: id, Method: method, Fn: fn, Args: encoded}
	if err := e.send(ctx, msg); err != nil {
		e.forget(id)
		timer.Stop("send_error")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, closedBy(err)
	}

	select {
	case out := <-ch:
		timer.Stop(statusOf(out.err))
		return out.value, out.err
	case <-ctx.Done():
		if e.forget(id) {
			timer.Stop("abandoned")
			return nil, ctx.Err()
		}
		// Resolved concurrently with cancellation.
		out := <-ch
		timer.Stop(statusOf(out.err))
		return out.value, out.err
	}
}

// forget drops a pending entry. It reports whether the entry was still
// present.
func (e *Endpoint) forget(id uint64) bool {
	e.mu.Lock()
	_, ok := e.pending[id]
	delete(e.pending, id)
	e.mu.Unlock()
	if ok {
		e.metrics.AddRPCPending(-1)
	}
	return ok
}

// resolve settles a pending call exactly once.
func (e *Endpoint) resolve(id uint64, out outcome) bool {
	e.mu.Lock()
	ch, ok := e.pending[id]
	delete(e.pending, id)
	e.mu.Unlock()
	if !ok {
		return false
	}
	e.metrics.AddRPCPending(-1)
	ch <- out
	return true
}

func (e *Endpoint) sendRelease(id string) {
	if e.Err() != nil {
		return
	}
	go func() {
		if err := e.send(e.ctx, &message{Kind: KindRelease, Fn: id}); err != nil {
			e.log.Debug("release not delivered", zap.String("fn", id), zap.Error(err))
		}
	}()
}

func (e *Endpoint) send(ctx context.Context, msg *message) error {
	frame, err := marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", msg.Kind, err)
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	return e.conn.Send(ctx, frame)
}

func (e *Endpoint) shutdown(cause error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cause = cause
	pending := e.pending
	e.pending = make(map[uint64]chan outcome)
	e.mu.Unlock()

	e.cancel()
	_ = e.conn.Close()

	rejection := closedBy(cause)
	for _, ch := range pending {
		e.metrics.AddRPCPending(-1)
		ch <- outcome{err: rejection}
	}
	e.funcs.clear()
	close(e.done)

	if errors.Is(cause, ErrChannelClosed) {
		e.log.Debug("endpoint terminated", zap.Int("rejected", len(pending)))
	} else {
		e.log.Info("endpoint closed by transport", zap.Error(cause), zap.Int("rejected", len(pending)))
	}
}

func (e *Endpoint) readLoop() {
	for {
		frame, err := e.conn.Recv(e.ctx)
		if err != nil {
			e.shutdown(err)
			return
		}

		msg, err := unmarshal(frame)
		if err != nil {
			e.metrics.RecordRPCDropped("malformed")
			e.log.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(frame)))
			continue
		}

		switch msg.Kind {
		case KindResult:
			if !e.resolve(msg.ID, outcome{value: e.decodeValue(msg.Result)}) {
				e.dropStale(msg)
			}
		case KindError:
			if !e.resolve(msg.ID, outcome{err: &CallError{Method: msg.label(), Message: msg.Error}}) {
				e.dropStale(msg)
			}
		case KindCall, KindNotify, KindRelease:
			e.inbox.push(msg)
		default:
			e.metrics.RecordRPCDropped("unknown_kind")
			e.log.Warn("dropping frame of unknown kind", zap.String("kind", string(msg.Kind)))
		}
	}
}

func (e *Endpoint) dropStale(msg *message) {
	e.metrics.RecordRPCDropped("stale")
	e.log.Debug("dropping response with no pending call", zap.Uint64("id", msg.ID))
}

func (e *Endpoint) dispatchLoop() {
	for {
		msg, ok := e.inbox.pop(e.done)
		if !ok {
			return
		}
		switch msg.Kind {
		case KindCall:
			e.handleCall(msg)
		case KindNotify:
			e.handleNotify(msg)
		case KindRelease:
			if !e.funcs.release(msg.Fn) {
				e.log.Debug("release for unknown function", zap.String("fn", msg.Fn))
			}
		}
	}
}

func (e *Endpoint) handleCall(msg *message) {
	timer := monitoring.NewTimer(e.metrics, monitoring.Inbound, metricLabel(msg))
	label := msg.label()

	target, err := e.target(msg)
	var result any
	if err == nil {
		result, err = e.run(label, target, e.decodeArgs(msg.Args))
	}

	var reply *message
	if err == nil {
		encoded, encErr := e.encodeValue(result, 0)
		if encErr != nil {
			err = encErr
		} else {
			reply = &message{Kind: KindResult, ID: msg.ID, Result: encoded}
		}
	}
	if err != nil {
		reply = &message{Kind: KindError, ID: msg.ID, Error: err.Error()}
	}

	timer.Stop(statusOf(err))
	if sendErr := e.send(e.ctx, reply); sendErr != nil {
		e.log.Debug("reply not delivered", zap.String("method", label), zap.Error(sendErr))
	}
}

func (e *Endpoint) target(msg *message) (Func, error) {
	if msg.Fn != "" {
		fn, ok := e.funcs.lookup(msg.Fn)
		if !ok {
			return nil, ErrReleased
		}
		return fn, nil
	}

	e.mu.Lock()
	fn, ok := e.methods[msg.Method]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown method %q", msg.Method)
	}
	return fn, nil
}

// run executes a handler, converting a panic into an error for that call.
func (e *Endpoint) run(label string, fn Func, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("handler panicked", zap.String("method", label), zap.Any("panic", r))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(e.ctx, args...)
}

func (e *Endpoint) handleNotify(msg *message) {
	e.mu.Lock()
	h, ok := e.notifies[msg.Method]
	e.mu.Unlock()
	if !ok {
		e.log.Debug("no handler for notification", zap.String("method", msg.Method))
		return
	}

	args := e.decodeArgs(msg.Args)
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("notify handler panicked", zap.String("method", msg.Method), zap.Any("panic", r))
		}
	}()
	h(e.ctx, args)
}

func metricLabel(msg *message) string {
	if msg.Fn != "" {
		return "fn"
	}
	return msg.Method
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrChannelClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "abandoned"
	default:
		return "error"
	}
}
