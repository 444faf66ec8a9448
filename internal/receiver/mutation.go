package receiver

import (
	"errors"
	"fmt"
)

// Op names a tree mutation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpMove   Op = "move"
	OpRemove Op = "remove"
	// OpClear is emitted by Clear; the sandbox cannot send it.
	OpClear Op = "clear"
)

// Mutation is one change requested by the sandbox.
type Mutation struct {
	Op       Op             `mapstructure:"op" json:"op"`
	ID       string         `mapstructure:"id" json:"id,omitempty"`
	ParentID string         `mapstructure:"parent_id" json:"parent_id,omitempty"`
	Index    int            `mapstructure:"index" json:"index"`
	Node     *Node          `mapstructure:"node" json:"node,omitempty"`
	Props    map[string]any `mapstructure:"props" json:"props,omitempty"`
}

// Insert builds an insert mutation. An index outside the parent's children
// appends.
func Insert(parentID string, index int, n Node) Mutation {
	return Mutation{Op: OpInsert, ParentID: parentID, Index: index, Node: &n}
}

// Update builds a merge-patch mutation. A nil value deletes the prop.
func Update(id string, props map[string]any) Mutation {
	return Mutation{Op: OpUpdate, ID: id, Props: props}
}

// Move builds a move mutation.
func Move(id, parentID string, index int) Mutation {
	return Mutation{Op: OpMove, ID: id, ParentID: parentID, Index: index}
}

// Remove builds a remove mutation.
func Remove(id string) Mutation {
	return Mutation{Op: OpRemove, ID: id}
}

// Change describes one committed mutation.
type Change struct {
	Op Op
	// Targets are the ids whose own state or child list changed.
	Targets []string
	// Subtrees are views of the inserted, updated or moved nodes.
	Subtrees []*View
	// Removed lists every id that left the tree.
	Removed []string
	Version uint64
}

// Listener observes committed changes. It must not apply mutations.
type Listener func(Change)

var (
	ErrUnknownNode  = errors.New("unknown node")
	ErrDuplicateID  = errors.New("duplicate node id")
	ErrCycle        = errors.New("move would create a cycle")
	ErrRoot         = errors.New("root cannot be changed")
	ErrMalformed    = errors.New("malformed mutation")
	ErrUnknownOp    = errors.New("unknown mutation op")
	ErrMissingField = errors.New("missing field")
)

// ProtocolError reports a mutation the receiver refused. The tree is left
// unchanged.
type ProtocolError struct {
	Op  Op
	ID  string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.ID, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolError(op Op, id string, err error) *ProtocolError {
	return &ProtocolError{Op: op, ID: id, Err: err}
}
