package sandbox

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/remoteui/internal/rpc"
)

const (
	// maxExportDepth bounds nesting when exporting script values.
	maxExportDepth = 32
	// maxExportItems bounds the items one export may produce, counted
	// across the whole value including repeated sub-arrays.
	maxExportItems = 1 << 16
	// haltCheckEvery is how many items an export walks between checks for
	// a timeout or cancellation.
	haltCheckEvery = 1024
)

// exporter carries the item budget of one export.
type exporter struct {
	r     *Runtime
	items int
}

// export converts a script value into a channel value. Script functions
// become rpc.Func wrappers.
func (r *Runtime) export(v goja.Value) (any, error) {
	e := &exporter{r: r}
	return e.value(v, 0)
}

// reserve claims n items of the budget.
func (e *exporter) reserve(n int64) error {
	if n > int64(maxExportItems-e.items) {
		return fmt.Errorf("%w: more than %d items", ErrValueTooLarge, maxExportItems)
	}
	before := e.items
	e.items += int(n)
	if e.items/haltCheckEvery != before/haltCheckEvery {
		return e.r.halted()
	}
	return nil
}

func (e *exporter) value(v goja.Value, depth int) (any, error) {
	if depth > maxExportDepth {
		return nil, fmt.Errorf("value nested deeper than %d", maxExportDepth)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	if fn, ok := goja.AssertFunction(v); ok {
		return e.r.wrap(fn), nil
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return v.Export(), nil
	}

	switch obj.ClassName() {
	case "Array":
		n := obj.Get("length").ToInteger()
		if err := e.reserve(n); err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := range out {
			if i%haltCheckEvery == haltCheckEvery-1 {
				if err := e.r.halted(); err != nil {
					return nil, err
				}
			}
			item, err := e.value(obj.Get(strconv.Itoa(i)), depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil
	case "Object":
		keys := obj.Keys()
		if err := e.reserve(int64(len(keys))); err != nil {
			return nil, err
		}
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			item, err := e.value(obj.Get(k), depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = item
		}
		return out, nil
	default:
		// Dates, wrappers and the like keep goja's own export.
		return obj.Export(), nil
	}
}

// toValue converts a channel value into a script value. Callables become
// script functions that throw when the call fails.
func (r *Runtime) toValue(v any) goja.Value {
	switch val := v.(type) {
	case nil:
		return goja.Null()
	case goja.Value:
		return val
	case rpc.Callable:
		return r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			args := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				exported, err := r.export(a)
				if err != nil {
					panic(r.vm.NewGoError(err))
				}
				args[i] = exported
			}
			result, err := val.Call(r.ctx, args...)
			if err != nil {
				panic(r.vm.NewGoError(err))
			}
			return r.toValue(result)
		})
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = r.toValue(item)
		}
		return r.vm.NewArray(items...)
	case map[string]any:
		obj := r.vm.NewObject()
		for k, item := range val {
			_ = obj.Set(k, r.toValue(item))
		}
		return obj
	default:
		return r.vm.ToValue(v)
	}
}

func (r *Runtime) toValues(args []any) []goja.Value {
	out := make([]goja.Value, len(args))
	for i, a := range args {
		out[i] = r.toValue(a)
	}
	return out
}
