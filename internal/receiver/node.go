package receiver

import "sort"

// RootID is the fixed id of the tree root.
const RootID = "root"

// Node is a node as described by the sandbox. A child is either a full inline
// node or a reference: a node carrying only an ID, which moves an existing
// node under its new parent. On the wire a reference may be a bare id.
type Node struct {
	ID       string         `mapstructure:"id" json:"id"`
	Type     string         `mapstructure:"type" json:"type"`
	Props    map[string]any `mapstructure:"props" json:"props,omitempty"`
	Children []Node         `mapstructure:"children" json:"children,omitempty"`
}

// View is an immutable copy of a node and its descendants.
type View struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Props    map[string]any `json:"props,omitempty"`
	Children []*View        `json:"children,omitempty"`
	// Rev changes whenever the node's own props change.
	Rev uint64 `json:"rev"`
}

// Walk visits v and its descendants depth first, parents before children.
func (v *View) Walk(fn func(*View)) {
	if v == nil {
		return
	}
	fn(v)
	for _, c := range v.Children {
		c.Walk(fn)
	}
}

// Find returns the descendant with id, including v itself.
func (v *View) Find(id string) (*View, bool) {
	if v == nil {
		return nil, false
	}
	if v.ID == id {
		return v, true
	}
	for _, c := range v.Children {
		if found, ok := c.Find(id); ok {
			return found, true
		}
	}
	return nil, false
}

// PropKeys returns the prop names in sorted order.
func (v *View) PropKeys() []string {
	keys := make([]string, 0, len(v.Props))
	for k := range v.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ref returns a child that adopts the existing node id.
func Ref(id string) Node {
	return Node{ID: id}
}

func (n Node) isRef() bool {
	return n.ID != "" && n.Type == "" && n.Props == nil && n.Children == nil
}

type node struct {
	id       string
	typ      string
	props    map[string]any
	children []*node
	parent   *node
	rev      uint64
}

func (n *node) view() *View {
	v := &View{
		ID:    n.id,
		Type:  n.typ,
		Props: cloneProps(n.props),
		Rev:   n.rev,
	}
	if len(n.children) > 0 {
		v.Children = make([]*View, len(n.children))
		for i, c := range n.children {
			v.Children[i] = c.view()
		}
	}
	return v
}

func (n *node) indexOf(child *node) int {
	for i, c := range n.children {
		if c == child {
			return i
		}
	}
	return -1
}

func (n *node) detach(child *node) {
	if i := n.indexOf(child); i >= 0 {
		n.children = append(n.children[:i], n.children[i+1:]...)
	}
	child.parent = nil
}

// attach places child at index, appending when index is out of range.
func (n *node) attach(child *node, index int) {
	child.parent = n
	if index < 0 || index >= len(n.children) {
		n.children = append(n.children, child)
		return
	}
	n.children = append(n.children, nil)
	copy(n.children[index+1:], n.children[index:])
	n.children[index] = child
}

// isAncestorOf reports whether n is other or one of its ancestors.
func (n *node) isAncestorOf(other *node) bool {
	for p := other; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

func (n *node) walk(fn func(*node)) {
	fn(n)
	for _, c := range n.children {
		c.walk(fn)
	}
}

func cloneProps(props map[string]any) map[string]any {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
