package receiver

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/infrastructure/monitoring"
)

// Releaser is implemented by prop values that hold a reference into the
// sandbox, such as function stubs.
type Releaser interface {
	Release()
}

// Options configures a Receiver.
type Options struct {
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// Receiver owns the remote tree.
type Receiver struct {
	log     *zap.Logger
	metrics *monitoring.Metrics

	// applyMu serialises writers, including listener delivery.
	applyMu sync.Mutex

	mu      sync.RWMutex
	root    *node
	nodes   map[string]*node
	version uint64

	lmu       sync.Mutex
	listeners map[int]Listener
	nextL     int
}

// New creates a receiver holding an empty root.
func New(opts Options) *Receiver {
	r := &Receiver{
		log:       logging.OrNop(opts.Logger).Named("receiver"),
		metrics:   opts.Metrics,
		listeners: make(map[int]Listener),
	}
	r.reset()
	return r
}

func (r *Receiver) reset() {
	r.root = &node{id: RootID}
	r.nodes = map[string]*node{RootID: r.root}
}

// Subscribe registers l for every later change and returns a function that
// removes it.
func (r *Receiver) Subscribe(l Listener) func() {
	r.lmu.Lock()
	defer r.lmu.Unlock()

	id := r.nextL
	r.nextL++
	r.listeners[id] = l
	return func() {
		r.lmu.Lock()
		defer r.lmu.Unlock()
		delete(r.listeners, id)
	}
}

// Apply commits one mutation and notifies listeners. A refused mutation
// returns a *ProtocolError and leaves the tree untouched. Removing an unknown
// id is not an error; it returns a zero Change.
func (r *Receiver) Apply(m Mutation) (Change, error) {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.mu.Lock()
	change, err := r.apply(m)
	if err == nil && change.Op != "" {
		r.version++
		change.Version = r.version
	}
	r.mu.Unlock()

	if err != nil {
		r.metrics.RecordMutation(string(m.Op), "rejected")
		r.log.Warn("mutation rejected", zap.String("op", string(m.Op)), zap.Error(err))
		return Change{}, err
	}
	if change.Op == "" {
		r.metrics.RecordMutation(string(m.Op), "noop")
		return change, nil
	}

	r.metrics.RecordMutation(string(m.Op), "ok")
	r.notify(change)
	return change, nil
}

// ApplyAll applies mutations in order and stops at the first error.
func (r *Receiver) ApplyAll(ms []Mutation) error {
	for i, m := range ms {
		if _, err := r.Apply(m); err != nil {
			return fmt.Errorf("mutation %d: %w", i, err)
		}
	}
	return nil
}

// Clear drops every node under the root and releases their references.
func (r *Receiver) Clear() {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	r.mu.Lock()
	if len(r.root.children) == 0 {
		r.mu.Unlock()
		return
	}
	var removed []string
	for _, c := range r.root.children {
		removed = append(removed, r.dispose(c)...)
	}
	r.reset()
	r.version++
	change := Change{Op: OpClear, Targets: []string{RootID}, Removed: removed, Version: r.version}
	r.mu.Unlock()

	r.notify(change)
}

// Snapshot returns a view of the whole tree.
func (r *Receiver) Snapshot() *View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root.view()
}

// Subtree returns a view rooted at id.
func (r *Receiver) Subtree(id string) (*View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[id]
	if !ok {
		return nil, false
	}
	return n.view(), true
}

// Has reports whether id is in the tree.
func (r *Receiver) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[id]
	return ok
}

// Len returns the number of nodes, not counting the root.
func (r *Receiver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes) - 1
}

// Version returns the number of committed changes.
func (r *Receiver) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

func (r *Receiver) notify(change Change) {
	r.lmu.Lock()
	ls := make([]Listener, 0, len(r.listeners))
	for i := 0; i < r.nextL; i++ {
		if l, ok := r.listeners[i]; ok {
			ls = append(ls, l)
		}
	}
	r.lmu.Unlock()

	for _, l := range ls {
		r.deliver(l, change)
	}
}

func (r *Receiver) deliver(l Listener, change Change) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("listener panicked", zap.String("op", string(change.Op)), zap.Any("panic", p))
		}
	}()
	l(change)
}

func (r *Receiver) apply(m Mutation) (Change, error) {
	switch m.Op {
	case OpInsert:
		return r.insert(m)
	case OpUpdate:
		return r.update(m)
	case OpMove:
		return r.move(m)
	case OpRemove:
		return r.remove(m)
	default:
		return Change{}, protocolError(m.Op, "", ErrUnknownOp)
	}
}

func (r *Receiver) insert(m Mutation) (Change, error) {
	if m.Node == nil {
		return Change{}, protocolError(OpInsert, "", fmt.Errorf("%w: node", ErrMissingField))
	}
	parent, ok := r.nodes[m.ParentID]
	if !ok {
		return Change{}, protocolError(OpInsert, m.ParentID, fmt.Errorf("parent: %w", ErrUnknownNode))
	}

	// Build the whole subtree first so a bad descendant rejects the insert.
	b := &builder{seen: make(map[string]bool)}
	n, err := r.build(*m.Node, b)
	if err != nil {
		return Change{}, err
	}
	for _, a := range b.adopted {
		if a.child.isAncestorOf(parent) {
			return Change{}, protocolError(OpInsert, a.child.id, ErrCycle)
		}
	}

	targets := []string{parent.id}
	for _, a := range b.adopted {
		from := a.child.parent
		from.detach(a.child)
		a.child.parent = a.owner
		if from != parent {
			targets = append(targets, from.id)
		}
	}
	parent.attach(n, m.Index)
	n.walk(func(c *node) { r.nodes[c.id] = c })

	return Change{
		Op:       OpInsert,
		Targets:  append(targets, n.id),
		Subtrees: []*View{n.view()},
	}, nil
}

// builder collects state while an inserted subtree is assembled.
type builder struct {
	seen    map[string]bool
	adopted []adoption
}

// adoption records an existing node listed as a child of a new one.
type adoption struct {
	child, owner *node
}

func (r *Receiver) build(in Node, b *builder) (*node, error) {
	seen := b.seen
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	if in.Type == "" {
		return nil, protocolError(OpInsert, id, fmt.Errorf("%w: type", ErrMissingField))
	}
	if _, exists := r.nodes[id]; exists || seen[id] {
		return nil, protocolError(OpInsert, id, ErrDuplicateID)
	}
	seen[id] = true

	n := &node{id: id, typ: in.Type, props: dropNil(in.Props), rev: r.version + 1}
	for _, child := range in.Children {
		if child.isRef() {
			c, err := r.adopt(child.ID, n, b)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, c)
			continue
		}
		c, err := r.build(child, b)
		if err != nil {
			return nil, err
		}
		c.parent = n
		n.children = append(n.children, c)
	}
	return n, nil
}

// adopt resolves a child reference. The tree is not touched until the whole
// insert is known to be valid.
func (r *Receiver) adopt(id string, owner *node, b *builder) (*node, error) {
	if id == RootID {
		return nil, protocolError(OpInsert, id, ErrRoot)
	}
	c, ok := r.nodes[id]
	if !ok {
		return nil, protocolError(OpInsert, id, fmt.Errorf("child: %w", ErrUnknownNode))
	}
	if b.seen[id] {
		return nil, protocolError(OpInsert, id, ErrDuplicateID)
	}
	b.seen[id] = true
	b.adopted = append(b.adopted, adoption{child: c, owner: owner})
	return c, nil
}

func (r *Receiver) update(m Mutation) (Change, error) {
	if m.ID == RootID {
		return Change{}, protocolError(OpUpdate, m.ID, ErrRoot)
	}
	n, ok := r.nodes[m.ID]
	if !ok {
		return Change{}, protocolError(OpUpdate, m.ID, ErrUnknownNode)
	}

	if n.props == nil {
		n.props = make(map[string]any, len(m.Props))
	}
	for k, v := range m.Props {
		if old, had := n.props[k]; had && !sameRef(old, v) {
			release(old)
		}
		if v == nil {
			delete(n.props, k)
			continue
		}
		n.props[k] = v
	}
	n.rev = r.version + 1

	return Change{
		Op:       OpUpdate,
		Targets:  []string{n.id},
		Subtrees: []*View{n.view()},
	}, nil
}

func (r *Receiver) move(m Mutation) (Change, error) {
	if m.ID == RootID {
		return Change{}, protocolError(OpMove, m.ID, ErrRoot)
	}
	n, ok := r.nodes[m.ID]
	if !ok {
		return Change{}, protocolError(OpMove, m.ID, ErrUnknownNode)
	}
	parent, ok := r.nodes[m.ParentID]
	if !ok {
		return Change{}, protocolError(OpMove, m.ParentID, fmt.Errorf("parent: %w", ErrUnknownNode))
	}
	if n.isAncestorOf(parent) {
		return Change{}, protocolError(OpMove, m.ID, ErrCycle)
	}

	from := n.parent
	from.detach(n)
	parent.attach(n, m.Index)

	targets := []string{from.id}
	if parent != from {
		targets = append(targets, parent.id)
	}
	return Change{
		Op:       OpMove,
		Targets:  append(targets, n.id),
		Subtrees: []*View{n.view()},
	}, nil
}

func (r *Receiver) remove(m Mutation) (Change, error) {
	if m.ID == RootID {
		return Change{}, protocolError(OpRemove, m.ID, ErrRoot)
	}
	n, ok := r.nodes[m.ID]
	if !ok {
		r.log.Warn("remove of unknown node ignored", zap.String("id", m.ID))
		return Change{}, nil
	}

	parent := n.parent
	parent.detach(n)
	removed := r.dispose(n)

	return Change{
		Op:      OpRemove,
		Targets: []string{parent.id, n.id},
		Removed: removed,
	}, nil
}

// dispose forgets n and its descendants and releases their references.
func (r *Receiver) dispose(n *node) []string {
	var removed []string
	n.walk(func(c *node) {
		delete(r.nodes, c.id)
		for _, v := range c.props {
			release(v)
		}
		removed = append(removed, c.id)
	})
	return removed
}

// release walks a prop value and releases every reference inside it.
func release(v any) {
	switch val := v.(type) {
	case Releaser:
		val.Release()
	case []any:
		for _, item := range val {
			release(item)
		}
	case map[string]any:
		for _, item := range val {
			release(item)
		}
	}
}

func sameRef(a, b any) bool {
	ra, ok := a.(Releaser)
	if !ok {
		return false
	}
	rb, ok := b.(Releaser)
	return ok && ra == rb
}

func dropNil(props map[string]any) map[string]any {
	for k, v := range props {
		if v == nil {
			delete(props, k)
		}
	}
	return props
}
