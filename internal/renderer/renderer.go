package renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/remoteui/internal/controller"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/remoteui/internal/receiver"
	"github.com/GriffinCanCode/remoteui/internal/rpc"
)

var (
	// ErrNoInstance is returned by Invoke for a node that is not mounted.
	ErrNoInstance = errors.New("no mounted instance")
	// ErrNotCallable is returned by Invoke when the prop holds no function.
	ErrNotCallable = errors.New("prop is not callable")
)

// Fallback reasons.
const (
	ReasonUnknownType  = "unknown_type"
	ReasonInvalidProps = "invalid_props"
	ReasonSession      = "session"
)

// Options configures a Renderer.
type Options struct {
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

type mounted struct {
	typ      string
	rev      uint64
	instance controller.Instance
	props    controller.Props
	// reason is set when the node renders as a fallback.
	reason string
	err    error
}

// Renderer turns the receiver's tree into host component instances and
// HTML. Instances are keyed by node id and live as long as the node does.
type Renderer struct {
	registry *controller.Registry
	tree     *receiver.Receiver
	log      *zap.Logger
	metrics  *monitoring.Metrics

	mu          sync.Mutex
	instances   map[string]*mounted
	unsubscribe func()
	failure     string
	version     uint64

	hmu      sync.Mutex
	hooks    map[int]func(uint64)
	nextHook int
}

// New creates a renderer for tree. Call Mount to start following it.
func New(registry *controller.Registry, tree *receiver.Receiver, opts Options) *Renderer {
	return &Renderer{
		registry:  registry,
		tree:      tree,
		log:       logging.OrNop(opts.Logger).Named("renderer"),
		metrics:   opts.Metrics,
		instances: make(map[string]*mounted),
		hooks:     make(map[int]func(uint64)),
	}
}

// Mount subscribes to the tree and mounts whatever it already holds.
func (r *Renderer) Mount() {
	r.mu.Lock()
	if r.unsubscribe != nil {
		r.mu.Unlock()
		return
	}
	r.failure = ""
	r.unsubscribe = r.tree.Subscribe(r.onChange)
	snap := r.tree.Snapshot()
	for _, c := range snap.Children {
		c.Walk(r.sync)
	}
	r.version = r.tree.Version()
	version := r.version
	r.mu.Unlock()

	r.fire(version)
}

// Unmount drops every instance. A non-empty reason makes the whole area
// render the session fallback until the next Mount.
func (r *Renderer) Unmount(reason string) {
	r.mu.Lock()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	r.instances = make(map[string]*mounted)
	r.failure = reason
	version := r.version
	r.mu.Unlock()

	if reason != "" {
		r.metrics.RecordFallback(ReasonSession)
		r.log.Info("renderer unmounted", zap.String("reason", reason))
	}
	r.fire(version)
}

// Failed reports the session failure shown in place of the tree, if any.
func (r *Renderer) Failed() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure, r.failure != ""
}

// OnRender registers fn to run after every reconciled change with the tree
// version it reflects. The returned func removes the hook.
func (r *Renderer) OnRender(fn func(version uint64)) func() {
	r.hmu.Lock()
	defer r.hmu.Unlock()

	key := r.nextHook
	r.nextHook++
	r.hooks[key] = fn
	return func() {
		r.hmu.Lock()
		defer r.hmu.Unlock()
		delete(r.hooks, key)
	}
}

// Instance returns the instance mounted for id.
func (r *Renderer) Instance(id string) (controller.Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.instances[id]
	if !ok || m.instance == nil {
		return nil, false
	}
	return m.instance, true
}

// Invoke calls the function stored in a node's prop. The instance sees the
// event first when it implements controller.EventHandler.
func (r *Renderer) Invoke(ctx context.Context, id, prop string, args ...any) (any, error) {
	r.mu.Lock()
	m, ok := r.instances[id]
	var fn rpc.Callable
	if ok && m.instance != nil {
		fn, _ = m.props[prop].(rpc.Callable)
	}
	r.mu.Unlock()

	if !ok || m.instance == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoInstance, id)
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotCallable, id, prop)
	}

	if h, ok := m.instance.(controller.EventHandler); ok {
		h.HandleEvent(prop, args)
	}
	result, err := fn.Call(ctx, args...)

	// Local state may have changed even if the callback failed.
	r.fire(r.currentVersion())
	return result, err
}

// Render writes the current tree as HTML.
func (r *Renderer) Render(w io.Writer) error {
	snap := r.tree.Snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()

	hw := &htmlWriter{w: w}
	if r.failure != "" {
		hw.element(controller.Element{
			Tag:   "div",
			Attrs: map[string]string{"class": "rui-fallback rui-session-fallback", "role": "alert"},
			Text:  "This content is unavailable.",
		}, func() {})
		return hw.err
	}

	r.metrics.RecordRender()
	hw.element(controller.Element{Tag: "div", Attrs: map[string]string{"class": "rui-root", "data-node-id": receiver.RootID}}, func() {
		for _, c := range snap.Children {
			r.renderNode(hw, c)
		}
	})
	return hw.err
}

// HTML renders the tree to a string.
func (r *Renderer) HTML() (string, error) {
	var buf bytes.Buffer
	if err := r.Render(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *Renderer) renderNode(hw *htmlWriter, v *receiver.View) {
	if r.unsubscribe != nil {
		r.sync(v)
	}
	m, ok := r.instances[v.ID]

	var el controller.Element
	switch {
	case !ok:
		// Not mounted yet; the next change will mount it.
		el = controller.Element{Tag: "div", Attrs: map[string]string{"class": "rui-pending"}}
	case m.reason != "":
		el = controller.Element{
			Tag: "div",
			Attrs: map[string]string{
				"class":       "rui-fallback",
				"data-reason": m.reason,
				"data-type":   v.Type,
			},
		}
	default:
		el = m.instance.Render()
	}
	if el.Attrs == nil {
		el.Attrs = make(map[string]string, 1)
	}
	el.Attrs["data-node-id"] = v.ID

	hw.element(el, func() {
		for _, c := range v.Children {
			r.renderNode(hw, c)
		}
	})
}

func (r *Renderer) onChange(change receiver.Change) {
	r.mu.Lock()
	for _, id := range change.Removed {
		delete(r.instances, id)
	}
	if change.Op == receiver.OpClear {
		r.instances = make(map[string]*mounted)
	}
	for _, sub := range change.Subtrees {
		sub.Walk(r.sync)
	}
	r.version = change.Version
	r.mu.Unlock()

	r.fire(change.Version)
}

// sync brings the instance for v up to date. It must be called with mu held.
func (r *Renderer) sync(v *receiver.View) {
	m, ok := r.instances[v.ID]
	if ok && m.typ == v.Type && m.rev == v.Rev {
		return
	}
	if ok && m.typ != v.Type {
		ok = false
	}
	if !ok {
		m = &mounted{typ: v.Type}
		r.instances[v.ID] = m
	}
	m.rev = v.Rev

	impl, err := r.registry.Resolve(v.Type)
	if err != nil {
		r.fallback(m, v, ReasonUnknownType, err)
		return
	}
	props, err := r.registry.ValidateProps(v.Type, v.Props)
	if err != nil {
		r.fallback(m, v, ReasonInvalidProps, err)
		return
	}

	if m.instance == nil {
		m.instance = impl.Factory(v.ID)
	}
	m.props = props
	m.reason = ""
	m.err = nil
	m.instance.Update(props)
}

func (r *Renderer) fallback(m *mounted, v *receiver.View, reason string, err error) {
	m.reason = reason
	m.err = err
	m.props = nil
	r.metrics.RecordFallback(reason)
	r.log.Warn("rendering fallback",
		zap.String("node_id", v.ID),
		zap.String("type", v.Type),
		zap.String("reason", reason),
		zap.Error(err))
}

func (r *Renderer) currentVersion() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

func (r *Renderer) fire(version uint64) {
	r.hmu.Lock()
	keys := make([]int, 0, len(r.hooks))
	for k := range r.hooks {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	hooks := make([]func(uint64), len(keys))
	for i, k := range keys {
		hooks[i] = r.hooks[k]
	}
	r.hmu.Unlock()

	for _, fn := range hooks {
		fn(version)
	}
}

// NodeError returns why id renders as a fallback, or nil.
func (r *Renderer) NodeError(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.instances[id]; ok {
		return m.err
	}
	return nil
}
