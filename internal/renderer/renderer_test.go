package renderer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/remoteui/internal/components"
	"github.com/GriffinCanCode/remoteui/internal/receiver"
	"github.com/GriffinCanCode/remoteui/internal/rpc"
)

func setup(t *testing.T) (*receiver.Receiver, *Renderer) {
	t.Helper()
	tree := receiver.New(receiver.Options{})
	r := New(components.Registry(), tree, Options{})
	r.Mount()
	return tree, r
}

func document(t *testing.T, r *Renderer) *goquery.Document {
	t.Helper()
	out, err := r.HTML()
	require.NoError(t, err)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	require.NoError(t, err)
	return doc
}

func TestCardWithButton(t *testing.T) {
	tree, r := setup(t)
	require.NoError(t, tree.ApplyAll([]receiver.Mutation{
		receiver.Insert(receiver.RootID, 0, receiver.Node{ID: "1", Type: "Card", Props: map[string]any{"title": "Welcome"}}),
		receiver.Insert("1", 0, receiver.Node{ID: "2", Type: "Button", Props: map[string]any{"label": "Go"}}),
	}))

	doc := document(t, r)
	card := doc.Find(`section.rui-card[data-node-id="1"]`)
	require.Equal(t, 1, card.Length())
	assert.Equal(t, "Welcome", card.Find(".rui-card-title").Text())

	button := card.Find(`.rui-card-body button[data-node-id="2"]`)
	require.Equal(t, 1, button.Length())
	assert.Equal(t, "Go", button.Text())
}

func TestCardAdoptsButtonByID(t *testing.T) {
	tree, r := setup(t)
	write := tree.Capability()
	ctx := context.Background()

	_, err := write(ctx, map[string]any{
		"op": "insert", "parent_id": "root",
		"node": map[string]any{"id": float64(2), "type": "Button", "props": map[string]any{"label": "Go"}, "children": []any{}},
	})
	require.NoError(t, err)
	before, ok := r.Instance("2")
	require.True(t, ok)

	_, err = write(ctx, map[string]any{
		"op": "insert", "parent_id": "root",
		"node": map[string]any{"id": float64(1), "type": "Card", "props": map[string]any{}, "children": []any{float64(2)}},
	})
	require.NoError(t, err)

	doc := document(t, r)
	card := doc.Find(`section.rui-card[data-node-id="1"]`)
	require.Equal(t, 1, card.Length())
	button := card.Find(`button[data-node-id="2"]`)
	require.Equal(t, 1, button.Length())
	assert.Equal(t, "Go", button.Text())
	assert.Equal(t, 1, doc.Find(`[data-node-id="2"]`).Length())

	after, _ := r.Instance("2")
	assert.Same(t, before, after)
}

func TestUnknownTypeRendersFallback(t *testing.T) {
	tree, r := setup(t)
	require.NoError(t, tree.ApplyAll([]receiver.Mutation{
		receiver.Insert(receiver.RootID, 0, receiver.Node{ID: "1", Type: "Carousel"}),
		receiver.Insert(receiver.RootID, 1, receiver.Node{ID: "2", Type: "Text", Props: map[string]any{"content": "still here"}}),
	}))

	doc := document(t, r)
	fallback := doc.Find(`.rui-fallback[data-node-id="1"]`)
	require.Equal(t, 1, fallback.Length())
	reason, _ := fallback.Attr("data-reason")
	assert.Equal(t, ReasonUnknownType, reason)
	assert.Equal(t, "still here", doc.Find(`[data-node-id="2"]`).Text())
	assert.Error(t, r.NodeError("1"))
}

func TestInvalidPropsRenderFallbackUntilFixed(t *testing.T) {
	tree, r := setup(t)
	_, err := tree.Apply(receiver.Insert(receiver.RootID, 0, receiver.Node{ID: "b", Type: "Button", Props: map[string]any{"label": 42.0}}))
	require.NoError(t, err)

	doc := document(t, r)
	reason, _ := doc.Find(`[data-node-id="b"]`).Attr("data-reason")
	assert.Equal(t, ReasonInvalidProps, reason)

	_, err = tree.Apply(receiver.Update("b", map[string]any{"label": "Fixed"}))
	require.NoError(t, err)
	doc = document(t, r)
	assert.Equal(t, "Fixed", doc.Find(`button[data-node-id="b"]`).Text())
	assert.NoError(t, r.NodeError("b"))
}

func TestStableIdentity(t *testing.T) {
	tree, r := setup(t)
	require.NoError(t, tree.ApplyAll([]receiver.Mutation{
		receiver.Insert(receiver.RootID, 0, receiver.Node{ID: "s", Type: "Stack"}),
		receiver.Insert(receiver.RootID, 1, receiver.Node{ID: "b", Type: "Button", Props: map[string]any{"label": "Go"}}),
	}))
	first, ok := r.Instance("b")
	require.True(t, ok)

	require.NoError(t, tree.ApplyAll([]receiver.Mutation{
		receiver.Update("b", map[string]any{"label": "Again"}),
		receiver.Move("b", "s", 0),
	}))
	same, ok := r.Instance("b")
	require.True(t, ok)
	assert.Same(t, first, same)

	doc := document(t, r)
	assert.Equal(t, 1, doc.Find(`[data-node-id="s"] button[data-node-id="b"]`).Length())

	require.NoError(t, tree.ApplyAll([]receiver.Mutation{
		receiver.Remove("b"),
		receiver.Insert(receiver.RootID, 0, receiver.Node{ID: "b", Type: "Button", Props: map[string]any{"label": "New"}}),
	}))
	fresh, ok := r.Instance("b")
	require.True(t, ok)
	assert.NotSame(t, first, fresh)
}

func TestInvokeCallsPropFunction(t *testing.T) {
	tree, r := setup(t)
	var got []any
	onPress := rpc.Func(func(_ context.Context, args ...any) (any, error) {
		got = args
		return "handled", nil
	})
	_, err := tree.Apply(receiver.Insert(receiver.RootID, 0, receiver.Node{
		ID: "b", Type: "Button", Props: map[string]any{"label": "Go", "onPress": onPress},
	}))
	require.NoError(t, err)

	var renders int
	r.OnRender(func(uint64) { renders++ })

	result, err := r.Invoke(context.Background(), "b", "onPress", "click")
	require.NoError(t, err)
	assert.Equal(t, "handled", result)
	assert.Equal(t, []any{"click"}, got)
	assert.Equal(t, 1, renders)

	// The button's own counter survives a prop update.
	_, err = tree.Apply(receiver.Update("b", map[string]any{"label": "Go!"}))
	require.NoError(t, err)
	presses, _ := document(t, r).Find(`button[data-node-id="b"]`).Attr("data-presses")
	assert.Equal(t, "1", presses)

	_, err = r.Invoke(context.Background(), "b", "label")
	assert.ErrorIs(t, err, ErrNotCallable)
	_, err = r.Invoke(context.Background(), "missing", "onPress")
	assert.ErrorIs(t, err, ErrNoInstance)
}

func TestInvokePropagatesCallbackError(t *testing.T) {
	tree, r := setup(t)
	boom := errors.New("boom")
	_, err := tree.Apply(receiver.Insert(receiver.RootID, 0, receiver.Node{
		ID: "b", Type: "Button", Props: map[string]any{
			"label":   "Go",
			"onPress": rpc.Func(func(context.Context, ...any) (any, error) { return nil, boom }),
		},
	}))
	require.NoError(t, err)

	_, err = r.Invoke(context.Background(), "b", "onPress")
	assert.ErrorIs(t, err, boom)
}

func TestUnmountShowsSessionFallback(t *testing.T) {
	tree, r := setup(t)
	_, err := tree.Apply(receiver.Insert(receiver.RootID, 0, receiver.Node{ID: "1", Type: "Text", Props: map[string]any{"content": "hi"}}))
	require.NoError(t, err)

	r.Unmount("load failed")
	reason, failed := r.Failed()
	assert.True(t, failed)
	assert.Equal(t, "load failed", reason)

	doc := document(t, r)
	assert.Equal(t, 1, doc.Find(".rui-session-fallback").Length())
	assert.Equal(t, 0, doc.Find(`[data-node-id="1"]`).Length())
	_, ok := r.Instance("1")
	assert.False(t, ok)

	// Changes after unmount are ignored.
	_, err = tree.Apply(receiver.Insert(receiver.RootID, 0, receiver.Node{ID: "2", Type: "Text"}))
	require.NoError(t, err)
	_, ok = r.Instance("2")
	assert.False(t, ok)

	r.Mount()
	doc = document(t, r)
	assert.Equal(t, 0, doc.Find(".rui-session-fallback").Length())
	assert.Equal(t, 1, doc.Find(`[data-node-id="2"]`).Length())
}

func TestClearDropsInstances(t *testing.T) {
	tree, r := setup(t)
	_, err := tree.Apply(receiver.Insert(receiver.RootID, 0, receiver.Node{ID: "1", Type: "Badge", Props: map[string]any{"label": "new"}}))
	require.NoError(t, err)

	tree.Clear()
	_, ok := r.Instance("1")
	assert.False(t, ok)
	assert.Equal(t, 0, document(t, r).Find(`[data-node-id="1"]`).Length())
}

func TestOutputIsEscaped(t *testing.T) {
	tree, r := setup(t)
	_, err := tree.Apply(receiver.Insert(receiver.RootID, 0, receiver.Node{
		ID: "t", Type: "Text", Props: map[string]any{"content": `<img src=x onerror=alert(1)>"quoted" & more`},
	}))
	require.NoError(t, err)

	out, err := r.HTML()
	require.NoError(t, err)
	assert.NotContains(t, out, "<img")
	assert.Contains(t, out, "&#34;quoted&#34; &amp; more")
}
