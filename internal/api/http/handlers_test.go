package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/remoteui/internal/components"
	"github.com/GriffinCanCode/remoteui/internal/sandbox"
	"github.com/GriffinCanCode/remoteui/internal/supervisor"
)

const counterScript = `
var count = 0;
function render(ui) {
	var card = ui.insert(ui.root, 0, {id: "card", type: "Card", props: {title: "Counter"}});
	ui.insert(card, 0, {id: "btn", type: "Button", props: {
		label: "Clicked 0",
		onPress: function () {
			count++;
			ui.update("btn", {label: "Clicked " + count});
			return count;
		},
	}});
}
`

func dataURL(script string) string {
	return "data:text/javascript;base64," + base64.StdEncoding.EncodeToString([]byte(script))
}

func setupRouter(t *testing.T, eventsPerSec float64) (*gin.Engine, *supervisor.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := components.Registry()
	mgr := supervisor.NewManager(supervisor.ManagerConfig{
		Launcher:     &sandbox.InProcessLauncher{Config: sandbox.DefaultConfig()},
		Registry:     registry,
		ReadyTimeout: 2 * time.Second,
		LoadTimeout:  2 * time.Second,
		EventsPerSec: eventsPerSec,
	}, nil)
	t.Cleanup(mgr.Shutdown)

	router := gin.New()
	NewHandlers(mgr, registry, nil).Register(router)
	return router, mgr
}

func do(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, router *gin.Engine, script string) supervisor.Info {
	t.Helper()
	w := do(router, http.MethodPost, "/sessions", CreateSessionRequest{ScriptURL: dataURL(script)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var info supervisor.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	return info
}

func TestHealth(t *testing.T) {
	router, _ := setupRouter(t, 0)

	w := do(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["sessions"])
}

func TestListComponents(t *testing.T) {
	router, _ := setupRouter(t, 0)

	w := do(router, http.MethodGet, "/components", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), components.TypeButton)
	assert.Contains(t, w.Body.String(), components.TypeCard)
}

func TestSessionLifecycle(t *testing.T) {
	router, mgr := setupRouter(t, 0)

	info := createSession(t, router, counterScript)
	assert.Equal(t, supervisor.StateRendering, info.State)
	assert.Equal(t, 2, info.Nodes)

	// Tree
	w := do(router, http.MethodGet, "/sessions/"+info.ID.String()+"/tree", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(VersionHeader))
	var tree struct {
		ID       string `json:"id"`
		Children []struct {
			Type     string `json:"type"`
			Children []struct {
				Props map[string]any `json:"props"`
			} `json:"children"`
		} `json:"children"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tree))
	assert.Equal(t, "root", tree.ID)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, "Card", tree.Children[0].Type)
	onPress, ok := tree.Children[0].Children[0].Props["onPress"].(map[string]any)
	require.True(t, ok, "callbacks are described, not dropped")
	assert.Contains(t, onPress, "$fn")

	// HTML
	w = do(router, http.MethodGet, "/sessions/"+info.ID.String()+"/html", nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(w.Body.String()))
	require.NoError(t, err)
	assert.Equal(t, "Clicked 0", strings.TrimSpace(doc.Find(`[data-node-id="btn"]`).Text()))

	// Event
	w = do(router, http.MethodPost, "/sessions/"+info.ID.String()+"/events",
		EventRequest{NodeID: "btn", Prop: "onPress"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.EqualValues(t, 1, result["result"])

	w = do(router, http.MethodGet, "/sessions/"+info.ID.String()+"/html", nil)
	assert.Contains(t, w.Body.String(), "Clicked 1")

	// List and delete
	w = do(router, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), info.ID.String())

	w = do(router, http.MethodDelete, "/sessions/"+info.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, mgr.Count())

	w = do(router, http.MethodGet, "/sessions/"+info.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSessionFailure(t *testing.T) {
	router, mgr := setupRouter(t, 0)

	w := do(router, http.MethodPost, "/sessions", CreateSessionRequest{ScriptURL: "gopher://nowhere"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body struct {
		Error   string          `json:"error"`
		Session supervisor.Info `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, supervisor.StateTerminated, body.Session.State)
	assert.Equal(t, 1, mgr.Count(), "failed sessions stay inspectable")

	w = do(router, http.MethodGet, "/sessions/"+body.Session.ID.String()+"/html", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rui-session-fallback")
}

func TestRequestErrors(t *testing.T) {
	router, _ := setupRouter(t, 0)
	info := createSession(t, router, counterScript)
	base := "/sessions/" + info.ID.String()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"missing script url", http.MethodPost, "/sessions", map[string]any{}, http.StatusBadRequest},
		{"malformed id", http.MethodGet, "/sessions/nope", nil, http.StatusBadRequest},
		{"unknown session", http.MethodGet, "/sessions/sess_01ARZ3NDEKTSV4RRFFQ69G5FAV", nil, http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/sessions/sess_01ARZ3NDEKTSV4RRFFQ69G5FAV", nil, http.StatusNotFound},
		{"event without prop", http.MethodPost, base + "/events", map[string]any{"node_id": "btn"}, http.StatusBadRequest},
		{"event on unknown node", http.MethodPost, base + "/events", EventRequest{NodeID: "ghost", Prop: "onPress"}, http.StatusNotFound},
		{"event on plain prop", http.MethodPost, base + "/events", EventRequest{NodeID: "btn", Prop: "label"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestEventRateLimited(t *testing.T) {
	router, _ := setupRouter(t, 1)
	info := createSession(t, router, counterScript)
	path := "/sessions/" + info.ID.String() + "/events"

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(router, http.MethodPost, path, EventRequest{NodeID: "btn", Prop: "onPress"}).Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes, http.StatusTooManyRequests)
}

func TestEventOnTerminatedSession(t *testing.T) {
	router, mgr := setupRouter(t, 0)
	info := createSession(t, router, counterScript)

	s, ok := mgr.Get(info.ID)
	require.True(t, ok)
	s.Terminate()

	w := do(router, http.MethodPost, "/sessions/"+info.ID.String()+"/events",
		EventRequest{NodeID: "btn", Prop: "onPress"})
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestEventResultDropsFunctions(t *testing.T) {
	router, _ := setupRouter(t, 0)
	info := createSession(t, router, `
function render(ui) {
	ui.insert(ui.root, 0, {id: "btn", type: "Button", props: {
		label: "Go",
		onPress: function () { return {label: "next", then: function () {}}; },
	}});
}
`)

	w := do(router, http.MethodPost, "/sessions/"+info.ID.String()+"/events",
		EventRequest{NodeID: "btn", Prop: "onPress"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{"label": "next", "then": nil}, body["result"])
}
