package rpc

import (
	"context"
	"fmt"
	"reflect"
)

// maxDepth bounds nesting of values crossing the channel.
const maxDepth = 32

// encodeValue converts v into a JSON-ready tree, registering functions in
// the endpoint's table.
func (e *Endpoint) encodeValue(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrUnsupportedValue, maxDepth)
	}

	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val, nil
	case Func:
		if val == nil {
			return nil, nil
		}
		return map[string]any{fnKey: e.funcs.register(val)}, nil
	case func(context.Context, ...any) (any, error):
		if val == nil {
			return nil, nil
		}
		return map[string]any{fnKey: e.funcs.register(val)}, nil
	case *RemoteFunc:
		if val == nil {
			return nil, nil
		}
		if val.ep == e {
			return map[string]any{refKey: val.id}, nil
		}
		// A stub from another endpoint is forwarded through a local proxy.
		return map[string]any{fnKey: e.funcs.register(val.Call)}, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			enc, err := e.encodeValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if k == fnKey || k == refKey {
				return nil, fmt.Errorf("%w: reserved key %q", ErrUnsupportedValue, k)
			}
			enc, err := e.encodeValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	}

	return e.encodeReflect(reflect.ValueOf(v), depth)
}

// encodeReflect handles typed slices and string-keyed maps.
func (e *Endpoint) encodeReflect(rv reflect.Value, depth int) (any, error) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			enc, err := e.encodeValue(rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		if rv.IsNil() {
			return nil, nil
		}
		generic := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			generic[iter.Key().String()] = iter.Value().Interface()
		}
		return e.encodeValue(generic, depth)
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedValue, rv.Type())
}

func (e *Endpoint) encodeArgs(args []any) ([]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]any, len(args))
	for i, arg := range args {
		enc, err := e.encodeValue(arg, 0)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out[i] = enc
	}
	return out, nil
}

// decodeValue replaces function markers with stubs or local functions.
func (e *Endpoint) decodeValue(v any) any {
	switch val := v.(type) {
	case []any:
		for i, item := range val {
			val[i] = e.decodeValue(item)
		}
		return val
	case map[string]any:
		if len(val) == 1 {
			if id, ok := val[fnKey].(string); ok {
				return &RemoteFunc{ep: e, id: id}
			}
			if id, ok := val[refKey].(string); ok {
				if fn, found := e.funcs.lookup(id); found {
					return fn
				}
				return Func(func(context.Context, ...any) (any, error) {
					return nil, ErrReleased
				})
			}
		}
		for k, item := range val {
			val[k] = e.decodeValue(item)
		}
		return val
	default:
		return v
	}
}

func (e *Endpoint) decodeArgs(args []any) []any {
	for i, arg := range args {
		args[i] = e.decodeValue(arg)
	}
	return args
}
