package sandbox

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/remoteui/internal/rpc"
)

const rootID = "root"

// newUI builds the object passed to the script's render function. Each
// method forwards one mutation map to write and returns its result.
func (r *Runtime) newUI(write rpc.Callable) *goja.Object {
	ui := r.vm.NewObject()
	_ = ui.Set("root", rootID)

	send := func(mutation map[string]any) goja.Value {
		result, err := write.Call(r.ctx, mutation)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return r.toValue(result)
	}
	arg := func(call goja.FunctionCall, i int) any {
		v, err := r.export(call.Argument(i))
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return v
	}

	_ = ui.Set("insert", func(call goja.FunctionCall) goja.Value {
		return send(map[string]any{
			"op":        "insert",
			"parent_id": arg(call, 0),
			"index":     indexArg(call, 1),
			"node":      arg(call, 2),
		})
	})
	_ = ui.Set("update", func(call goja.FunctionCall) goja.Value {
		return send(map[string]any{
			"op":    "update",
			"id":    arg(call, 0),
			"props": arg(call, 1),
		})
	})
	_ = ui.Set("move", func(call goja.FunctionCall) goja.Value {
		return send(map[string]any{
			"op":        "move",
			"id":        arg(call, 0),
			"parent_id": arg(call, 1),
			"index":     indexArg(call, 2),
		})
	})
	_ = ui.Set("remove", func(call goja.FunctionCall) goja.Value {
		return send(map[string]any{
			"op": "remove",
			"id": arg(call, 0),
		})
	})
	return ui
}

// indexArg reads an index, treating a missing one as append.
func indexArg(call goja.FunctionCall, i int) int64 {
	v := call.Argument(i)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return -1
	}
	return v.ToInteger()
}

// Render calls the script's global render function with a ui object bound
// to write.
func (r *Runtime) Render(ctx context.Context, write rpc.Callable) error {
	return r.enter(ctx, func() error {
		fn, ok := goja.AssertFunction(r.vm.Get("render"))
		if !ok {
			return fmt.Errorf("%w: render", ErrNotFunction)
		}
		_, err := fn(goja.Undefined(), r.newUI(write))
		return err
	})
}
