package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mistakeknot/intercoord/internal/auth"
	"github.com/mistakeknot/intercoord/internal/policy"
	"github.com/mistakeknot/intercoord/internal/storage/sqlite"
	"github.com/mistakeknot/intercoord/internal/tools"
	"github.com/mistakeknot/intercoord/internal/ws"
)

const testPolicy = `
review_required:
  actions: [create_core]
reviewer_matrix:
  builder: {primary: architect, backup: auditor}
`

// testEnv bundles the wired services, the router and an httptest.Server.
// Requests through srv come from loopback and bypass auth; router serves
// keyed requests built with httptest.NewRequest.
type testEnv struct {
	srv    *httptest.Server
	router http.Handler
	hub    *ws.Hub
	svc    tools.Services
}

var testKeys = map[string]auth.Identity{
	"key-builder":   {Agent: "builder"},
	"key-architect": {Agent: "architect"},
	"key-human":     {Agent: "human", Operator: true},
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg, err := policy.Parse([]byte(testPolicy), false)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := ws.NewHub(logger)
	svc := tools.NewServices(sqlite.NewSQLiteTest(t), cfg, logger)
	svc.Notifier.WithBroadcaster(hub)
	api := NewService(tools.NewDispatcher(svc, logger), logger)
	router := NewRouter(api, hub.Handler(), auth.Middleware(auth.NewKeyring(true, testKeys)))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, router: router, hub: hub, svc: svc}
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// remote serves a request as a non-loopback caller holding key.
func (e *testEnv) remote(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "203.0.113.10:9999"
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// envelope mirrors tools.Result with a typed result.
type envelope[T any] struct {
	OK     bool         `json:"ok"`
	Result T            `json:"result"`
	Error  *tools.Error `json:"error"`
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}
