package receiver

import (
	"context"
	"fmt"
	"reflect"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/remoteui/internal/rpc"
)

// Decode converts a generic mutation map, as it arrives over the channel,
// into a Mutation. Numeric ids are normalised to decimal strings.
func Decode(raw any) (Mutation, error) {
	var m Mutation
	input, ok := raw.(map[string]any)
	if !ok {
		return m, protocolError("", "", fmt.Errorf("%w: expected object, got %T", ErrMalformed, raw))
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.ComposeDecodeHookFunc(childRefHook, idHook),
		ErrorUnused: true,
		Result:      &m,
		TagName:     "mapstructure",
	})
	if err != nil {
		return m, err
	}
	if err := dec.Decode(input); err != nil {
		op, _ := input["op"].(string)
		return Mutation{}, protocolError(Op(op), "", fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	if err := m.validate(); err != nil {
		return Mutation{}, err
	}
	return m, nil
}

func (m Mutation) validate() error {
	switch m.Op {
	case OpInsert:
		if m.ParentID == "" {
			return protocolError(m.Op, "", fmt.Errorf("%w: parent_id", ErrMissingField))
		}
		if m.Node == nil {
			return protocolError(m.Op, "", fmt.Errorf("%w: node", ErrMissingField))
		}
	case OpUpdate, OpRemove:
		if m.ID == "" {
			return protocolError(m.Op, "", fmt.Errorf("%w: id", ErrMissingField))
		}
	case OpMove:
		if m.ID == "" || m.ParentID == "" {
			return protocolError(m.Op, m.ID, fmt.Errorf("%w: id and parent_id", ErrMissingField))
		}
	default:
		return protocolError(m.Op, "", ErrUnknownOp)
	}
	return nil
}

var nodeType = reflect.TypeOf(Node{})

// childRefHook lets a bare id stand in for a child node.
func childRefHook(from, to reflect.Type, data any) (any, error) {
	if to != nodeType {
		return data, nil
	}
	switch data.(type) {
	case string, float64, float32, int, int64, int32, uint64:
		return map[string]any{"id": data}, nil
	}
	return data, nil
}

// idHook turns numbers bound for string fields into their decimal form.
func idHook(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	switch v := data.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	}
	return data, nil
}

// Capability returns the write function handed to the sandbox. It accepts a
// single mutation map and returns the id of the affected node. References
// carried by a refused mutation are released, since no node will own them.
func (r *Receiver) Capability() rpc.Func {
	return func(_ context.Context, args ...any) (any, error) {
		if len(args) != 1 {
			for _, arg := range args {
				release(arg)
			}
			return nil, protocolError("", "", fmt.Errorf("%w: expected one mutation, got %d arguments", ErrMalformed, len(args)))
		}
		m, err := Decode(args[0])
		if err != nil {
			release(args[0])
			r.metrics.RecordMutation("invalid", "rejected")
			r.log.Debug("undecodable mutation", zap.Error(err))
			return nil, err
		}
		change, err := r.Apply(m)
		if err != nil {
			release(args[0])
			return nil, err
		}
		switch {
		case m.Op == OpInsert && len(change.Subtrees) == 1:
			return change.Subtrees[0].ID, nil
		default:
			return m.ID, nil
		}
	}
}
