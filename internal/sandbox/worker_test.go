package sandbox

import (
	"context"
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/remoteui/internal/receiver"
	"github.com/GriffinCanCode/remoteui/internal/rpc"
)

const cardScript = `
var pressed = 0;
function render(ui) {
	console.log("rendering");
	var card = ui.insert(ui.root, 0, {id: 1, type: "Card", props: {title: "Hi"}});
	ui.insert(card, 0, {id: "2", type: "Button", props: {
		label: "Go",
		onPress: function () {
			pressed++;
			ui.update("2", {label: "Pressed " + pressed});
			return pressed;
		},
	}});
}
`

func dataURL(script string) string {
	return "data:text/javascript;base64," + base64.StdEncoding.EncodeToString([]byte(script))
}

// startWorker launches a worker on an in-process realm and returns the
// host endpoint once the worker announced readiness.
func startWorker(t *testing.T, cfg Config) *rpc.Endpoint {
	t.Helper()
	realm, err := (&InProcessLauncher{Config: cfg}).Launch(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { realm.Destroy() })

	host := rpc.NewEndpoint(realm.Conn(), rpc.Options{Name: "host"})
	ready := make(chan struct{})
	host.OnNotify(NotifyReady, func(context.Context, []any) { close(ready) })
	host.Start()
	t.Cleanup(host.Terminate)

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never became ready")
	}
	return host
}

func TestWorkerLoadAndRender(t *testing.T) {
	host := startWorker(t, DefaultConfig())
	tree := receiver.New(receiver.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, host.Notify(ctx, NotifyInit))
	_, err := host.Call(ctx, MethodLoad, dataURL(cardScript))
	require.NoError(t, err)
	_, err = host.Call(ctx, MethodRender, tree.Capability())
	require.NoError(t, err)

	card, ok := tree.Subtree("1")
	require.True(t, ok, "numeric id should be normalised")
	assert.Equal(t, "Card", card.Type)
	require.Len(t, card.Children, 1)
	button := card.Children[0]
	assert.Equal(t, "Go", button.Props["label"])

	onPress, ok := button.Props["onPress"].(*rpc.RemoteFunc)
	require.True(t, ok, "script functions arrive as remote functions")

	result, err := onPress.Call(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(1), result)

	updated, _ := tree.Subtree("2")
	assert.Equal(t, "Pressed 1", updated.Props["label"])
}

func TestWorkerRenderBeforeLoad(t *testing.T) {
	host := startWorker(t, DefaultConfig())
	tree := receiver.New(receiver.Options{})

	_, err := host.Call(context.Background(), MethodRender, tree.Capability())
	require.Error(t, err)
	assert.True(t, rpc.IsCallError(err))
	assert.Contains(t, err.Error(), ErrNotLoaded.Error())
}

func TestWorkerLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []any
		want string
	}{
		{name: "no url", args: nil, want: "bad argument"},
		{name: "not a string", args: []any{42}, want: "bad argument"},
		{name: "unsupported scheme", args: []any{"ftp://example.com/app.js"}, want: ErrUnsupportedScheme.Error()},
		{name: "file disabled", args: []any{"file:///etc/hostname"}, want: ErrFileNotAllowed.Error()},
		{name: "syntax error", args: []any{"data:," + url.PathEscape("function (")}, want: "evaluate script"},
	}

	host := startWorker(t, DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := host.Call(context.Background(), MethodLoad, tt.args...)
			require.Error(t, err)
			assert.True(t, rpc.IsCallError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	// Failed loads are call errors; the channel stays up.
	assert.NoError(t, host.Err())
}

func TestWorkerMissingRenderFunction(t *testing.T) {
	host := startWorker(t, DefaultConfig())
	tree := receiver.New(receiver.Options{})
	ctx := context.Background()

	_, err := host.Call(ctx, MethodLoad, dataURL(`var notRender = 1;`))
	require.NoError(t, err)
	_, err = host.Call(ctx, MethodRender, tree.Capability())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render")
}

func TestWorkerProtocolErrorsReachScript(t *testing.T) {
	host := startWorker(t, DefaultConfig())
	tree := receiver.New(receiver.Options{})
	ctx := context.Background()

	script := `
	var outcome = "none";
	function render(ui) {
		try {
			ui.update("ghost", {x: 1});
		} catch (e) {
			outcome = "rejected";
		}
		ui.insert(ui.root, 0, {id: "status", type: "Text", props: {content: outcome}});
	}`
	_, err := host.Call(ctx, MethodLoad, dataURL(script))
	require.NoError(t, err)
	_, err = host.Call(ctx, MethodRender, tree.Capability())
	require.NoError(t, err)

	status, ok := tree.Subtree("status")
	require.True(t, ok)
	assert.Equal(t, "rejected", status.Props["content"])
}

func TestDestroyClosesChannel(t *testing.T) {
	realm, err := (&InProcessLauncher{Config: DefaultConfig()}).Launch(context.Background())
	require.NoError(t, err)
	host := rpc.NewEndpoint(realm.Conn(), rpc.Options{Name: "host"})
	host.Start()

	require.NoError(t, realm.Destroy())
	select {
	case <-host.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("host endpoint did not observe destroy")
	}
	assert.ErrorIs(t, host.Err(), rpc.ErrChannelClosed)
}

func TestAttachIsSingleUse(t *testing.T) {
	realm, err := (&InProcessLauncher{Config: DefaultConfig()}).Launch(context.Background())
	require.NoError(t, err)
	defer realm.Destroy()

	launcher := Attach(realm.Conn())
	attached, err := launcher.Launch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, realm.Conn(), attached.Conn())

	_, err = launcher.Launch(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyLaunched)
}

func TestProcessLauncherArgs(t *testing.T) {
	l := &ProcessLauncher{Config: Config{ExecTimeout: time.Second, MaxScriptBytes: 1024, FetchRetries: 1, AllowFile: true}}
	assert.Equal(t, []string{
		"sandbox", "--stdio",
		"--exec-timeout", "1s",
		"--max-script-bytes", "1024",
		"--fetch-retries", "1",
		"--allow-file",
	}, l.Args())
}
