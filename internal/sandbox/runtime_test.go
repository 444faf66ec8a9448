package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/remoteui/internal/rpc"
)

func newTestRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	rt, err := NewRuntime(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestRuntimeGlobalsRemoved(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, rt.Run(ctx, "probe.js", `
		var probe = [typeof require, typeof process, typeof module, typeof exports].join(",");
		var fired = false;
		setTimeout(function () { fired = true; }, 0);
		setInterval(function () { fired = true; }, 0);
	`))

	got, err := rt.CallGlobal(ctx, "eval", "probe")
	require.NoError(t, err)
	assert.Equal(t, "undefined,undefined,undefined,undefined", got)

	fired, err := rt.CallGlobal(ctx, "eval", "fired")
	require.NoError(t, err)
	assert.Equal(t, false, fired)
}

func TestRuntimeConsoleCaptured(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	require.NoError(t, rt.Run(context.Background(), "log.js", `console.log("hello", 42); console.error("bad")`))

	entries := rt.Console()
	require.Len(t, entries, 2)
	assert.Equal(t, "log", entries[0].Level)
	assert.Equal(t, "hello 42", entries[0].Message)
	assert.Equal(t, "error", entries[1].Level)
}

func TestRuntimeExecTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExecTimeout = 50 * time.Millisecond
	rt := newTestRuntime(t, cfg)

	err := rt.Run(context.Background(), "loop.js", `while (true) {}`)
	assert.ErrorIs(t, err, ErrExecTimeout)

	// The runtime stays usable after an interrupt.
	require.NoError(t, rt.Run(context.Background(), "ok.js", `var x = 1`))
}

func TestRuntimeExportBounds(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   error
	}{
		{name: "huge length", script: `var a = []; a.length = 4294967295; a`, want: ErrValueTooLarge},
		{name: "shared sub-arrays", script: `var x = []; x.length = 40000; [x, x]`, want: ErrValueTooLarge},
		{name: "wide object", script: `var o = {}; for (var i = 0; i < 70000; i++) { o["k" + i] = i; } o`, want: ErrValueTooLarge},
		{name: "within budget", script: `var a = []; a.length = 1000; a`},
	}

	cfg := DefaultConfig()
	cfg.ExecTimeout = 200 * time.Millisecond
	rt := newTestRuntime(t, cfg)
	require.NoError(t, rt.Run(context.Background(), "export.js", `function produce(src) { return eval(src); }`))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			got, err := rt.CallGlobal(context.Background(), "produce", tt.script)
			assert.Less(t, time.Since(start), time.Second)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, 1000)
		})
	}
}

func TestRuntimeExportStopsWhenHalted(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	v, err := rt.vm.RunString(`new Array(5000).fill(0)`)
	require.NoError(t, err)

	cause := ErrExecTimeout
	rt.halt.Store(&cause)
	defer rt.halt.Store(nil)

	_, err = rt.export(v)
	assert.ErrorIs(t, err, ErrExecTimeout)
}

func TestRuntimeContextCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExecTimeout = 5 * time.Second
	rt := newTestRuntime(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := rt.Run(ctx, "loop.js", `for (;;) {}`)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRuntimeScriptErrors(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ctx := context.Background()

	assert.Error(t, rt.Run(ctx, "syntax.js", `function (`))
	assert.Error(t, rt.Run(ctx, "throw.js", `throw new Error("nope")`))

	_, err := rt.CallGlobal(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFunction)
}

func TestRuntimeConvertsValues(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, rt.Run(ctx, "values.js", `
		function build(cb) {
			return {
				list: [1, "two", null, {nested: true}],
				handler: function (x) { return cb(x) + 1; },
			};
		}
	`))

	double := rpc.Func(func(_ context.Context, args ...any) (any, error) {
		return args[0].(int64) * 2, nil
	})
	out, err := rt.CallGlobal(ctx, "build", double)
	require.NoError(t, err)

	obj := out.(map[string]any)
	assert.Equal(t, []any{int64(1), "two", nil, map[string]any{"nested": true}}, obj["list"])

	handler, ok := obj["handler"].(rpc.Func)
	require.True(t, ok)
	got, err := handler(ctx, int64(5))
	require.NoError(t, err)
	assert.Equal(t, int64(11), got)
}

func TestRuntimeCallbackErrorThrows(t *testing.T) {
	rt := newTestRuntime(t, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, rt.Run(ctx, "catch.js", `
		function attempt(cb) {
			try { cb(); return "no error"; } catch (e) { return "caught"; }
		}
	`))

	failing := rpc.Func(func(context.Context, ...any) (any, error) {
		return nil, assert.AnError
	})
	got, err := rt.CallGlobal(ctx, "attempt", failing)
	require.NoError(t, err)
	assert.Equal(t, "caught", got)
}

func TestRuntimeClosed(t *testing.T) {
	rt, err := NewRuntime(DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, rt.Close())
	assert.ErrorIs(t, rt.Run(context.Background(), "x.js", "1"), ErrClosed)
}
