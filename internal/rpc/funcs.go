package rpc

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// Func is a function that can be exposed to, or passed across, the channel.
type Func func(ctx context.Context, args ...any) (any, error)

// Call invokes f. It lets local functions and RemoteFunc stubs share the
// Callable interface.
func (f Func) Call(ctx context.Context, args ...any) (any, error) {
	return f(ctx, args...)
}

// Callable is anything that can be invoked with channel values.
type Callable interface {
	Call(ctx context.Context, args ...any) (any, error)
}

// RemoteFunc is a forwarding stub for a function owned by the peer.
type RemoteFunc struct {
	ep       *Endpoint
	id       string
	released atomic.Bool
}

// ID returns the owner's table id.
func (f *RemoteFunc) ID() string {
	return f.id
}

// Call invokes the peer's function.
func (f *RemoteFunc) Call(ctx context.Context, args ...any) (any, error) {
	if f.released.Load() {
		return nil, ErrReleased
	}
	return f.ep.invoke(ctx, "", f.id, args)
}

// Release tells the owner it may drop the function. Further calls fail with
// ErrReleased. Release is idempotent and never blocks on the peer.
func (f *RemoteFunc) Release() {
	if f.released.Swap(true) {
		return
	}
	f.ep.sendRelease(f.id)
}

// MarshalJSON describes the stub the way it travels on the wire, so trees
// holding callbacks can be served as JSON.
func (f *RemoteFunc) MarshalJSON() ([]byte, error) {
	return []byte(`{"` + fnKey + `":` + strconv.Quote(f.id) + `}`), nil
}

// Released reports whether Release has been called.
func (f *RemoteFunc) Released() bool {
	return f.released.Load()
}

// StripFuncs returns a copy of v with every function replaced by nil, for
// values leaving the bridge to clients that cannot call them. Peer stubs are
// released on the way, since nothing can reach them afterwards.
func StripFuncs(v any) any {
	switch val := v.(type) {
	case *RemoteFunc:
		if val != nil {
			val.Release()
		}
		return nil
	case Callable, func(context.Context, ...any) (any, error):
		return nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = StripFuncs(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = StripFuncs(item)
		}
		return out
	default:
		return v
	}
}

// funcTable holds local functions the peer may call by id.
type funcTable struct {
	mu    sync.Mutex
	next  uint64
	funcs map[string]Func
}

func newFuncTable() *funcTable {
	return &funcTable{funcs: make(map[string]Func)}
}

func (t *funcTable) register(fn Func) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	id := "f" + strconv.FormatUint(t.next, 10)
	t.funcs[id] = fn
	return id
}

func (t *funcTable) lookup(id string) (Func, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn, ok := t.funcs[id]
	return fn, ok
}

func (t *funcTable) release(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.funcs[id]
	delete(t.funcs, id)
	return ok
}

func (t *funcTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.funcs)
}

func (t *funcTable) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.funcs = make(map[string]Func)
}
