package internal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mistakeknot/intercoord/internal/auth"
	httpapi "github.com/mistakeknot/intercoord/internal/http"
	"github.com/mistakeknot/intercoord/internal/policy"
	"github.com/mistakeknot/intercoord/internal/storage/sqlite"
	"github.com/mistakeknot/intercoord/internal/tools"
	"github.com/mistakeknot/intercoord/internal/ws"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const smokePolicy = `
review_required:
  actions: [create_core]
reviewer_matrix:
  builder: {primary: architect, backup: auditor}
`

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code   string         `json:"code"`
		Detail map[string]any `json:"detail"`
	} `json:"error"`
}

func newSmokeServer(t *testing.T) (*httptest.Server, *ws.Hub) {
	t.Helper()
	cfg, err := policy.Parse([]byte(smokePolicy), false)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := ws.NewHub(logger)
	svc := tools.NewServices(sqlite.NewSQLiteTest(t), cfg, logger)
	svc.Notifier.WithBroadcaster(hub)
	api := httpapi.NewService(tools.NewDispatcher(svc, logger), logger)
	srv := httptest.NewServer(httpapi.NewRouter(api, hub.Handler(), auth.Middleware(nil)))
	t.Cleanup(srv.Close)
	return srv, hub
}

func callTool(t *testing.T, base, tool string, args any) (int, envelope) {
	t.Helper()
	buf, _ := json.Marshal(args)
	resp, err := http.Post(base+"/api/tools/"+tool, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", tool, err)
	}
	return resp.StatusCode, decode[envelope](t, resp)
}

func getJSON(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func result[T any](t *testing.T, env envelope) T {
	t.Helper()
	if !env.OK {
		t.Fatalf("call failed: %+v", env.Error)
	}
	var v T
	if err := json.Unmarshal(env.Result, &v); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return v
}

// TestSmokeReviewFlow exercises the full lifecycle:
// connect WS → request review → verify push → start → request changes →
// re-review → approve → inbox, REST views and metrics agree.
func TestSmokeReviewFlow(t *testing.T) {
	srv, hub := newSmokeServer(t)

	// 1. Connect WebSocket for the reviewer
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/agents/architect"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	for hub.Connections("architect") == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("ws connection never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// 2. Check the policy, then request the review
	status, env := callTool(t, srv.URL, "check_review_required", map[string]any{
		"action": "create_core", "context": map[string]any{"agent": "builder"},
	})
	decision := result[map[string]any](t, env)
	if status != http.StatusOK || decision["needs_review"] != true || decision["assigned_reviewer"] != "architect" {
		t.Fatalf("unexpected decision %d %v", status, decision)
	}
	_, env = callTool(t, srv.URL, "request_review", map[string]any{
		"id": "r1", "type": "create_core", "creator": "builder", "title": "Parser",
		"artifacts": map[string]string{"code": "package parser"},
	})
	if r := result[map[string]any](t, env); r["reviewer"] != "architect" || r["status"] != "pending" {
		t.Fatalf("unexpected review %v", r)
	}

	// 3. Verify WS event
	var event map[string]any
	if err := wsjson.Read(ctx, conn, &event); err != nil {
		t.Fatalf("ws read: %v", err)
	}
	note, _ := event["notification"].(map[string]any)
	if event["type"] != "notification" || note["type"] != "review_requested" {
		t.Fatalf("unexpected event %v", event)
	}

	// 4. Start and request changes
	if _, env = callTool(t, srv.URL, "start_review", map[string]any{"reviewId": "r1", "reviewer": "architect"}); !env.OK {
		t.Fatalf("start: %+v", env.Error)
	}
	_, env = callTool(t, srv.URL, "submit_review", map[string]any{
		"reviewId": "r1", "reviewer": "architect", "status": "changes_requested",
		"feedback": map[string]string{"summary": "needs tests"}, "confidence": 70,
	})
	if r := result[map[string]any](t, env); r["status"] != "changes_requested" {
		t.Fatalf("unexpected submit %v", r)
	}

	// 5. Re-review and approve
	_, env = callTool(t, srv.URL, "request_re_review", map[string]any{
		"reviewId": "r1", "revisionNumber": 1, "changesMade": "added tests",
	})
	if r := result[map[string]any](t, env); r["status"] != "pending_re_review" {
		t.Fatalf("unexpected re-review %v", r)
	}
	if _, env = callTool(t, srv.URL, "start_review", map[string]any{"reviewId": "r1", "reviewer": "architect"}); !env.OK {
		t.Fatalf("restart: %+v", env.Error)
	}
	_, env = callTool(t, srv.URL, "submit_review", map[string]any{
		"reviewId": "r1", "reviewer": "architect", "status": "approved", "confidence": 90,
	})
	if r := result[map[string]any](t, env); r["status"] != "approved" {
		t.Fatalf("unexpected approval %v", r)
	}

	// 6. Creator inbox has changes_requested then review_completed
	inbox := result[[]map[string]any](t, decode[envelope](t, getJSON(t, srv.URL+"/api/notifications/builder")))
	if len(inbox) != 2 {
		t.Fatalf("expected 2 creator notifications, got %v", inbox)
	}
	types := map[any]bool{}
	for _, n := range inbox {
		types[n["type"]] = true
	}
	if !types["changes_requested"] || !types["review_completed"] {
		t.Fatalf("unexpected creator inbox %v", inbox)
	}

	// 7. REST views
	r := result[map[string]any](t, decode[envelope](t, getJSON(t, srv.URL+"/api/reviews/r1")))
	if r["revision_count"] != float64(1) || r["status"] != "approved" {
		t.Fatalf("unexpected stored review %v", r)
	}
	queue := result[[]map[string]any](t, decode[envelope](t, getJSON(t, srv.URL+"/api/reviews?reviewer=architect&status=approved")))
	if len(queue) != 1 {
		t.Fatalf("expected 1 approved review, got %d", len(queue))
	}
	m := result[map[string]any](t, decode[envelope](t, getJSON(t, srv.URL+"/api/metrics/reviews?period=day")))
	overall, _ := m["overall"].(map[string]any)
	if overall["total"] != float64(1) || overall["approved"] != float64(1) {
		t.Fatalf("unexpected metrics %v", m)
	}
}

// TestSmokeLedgerFlow exercises: claim → conflicting claim → lock → conflicting
// lock → heartbeat → release → complete.
func TestSmokeLedgerFlow(t *testing.T) {
	srv, _ := newSmokeServer(t)

	if _, env := callTool(t, srv.URL, "claim_task", map[string]any{"taskId": "t1", "agentId": "builder"}); !env.OK {
		t.Fatalf("claim: %+v", env.Error)
	}
	status, env := callTool(t, srv.URL, "claim_task", map[string]any{"taskId": "t1", "agentId": "auditor"})
	if status != http.StatusConflict || env.Error == nil || env.Error.Detail["holder"] != "builder" {
		t.Fatalf("expected claim conflict, got %d %+v", status, env.Error)
	}

	if _, env = callTool(t, srv.URL, "acquire_file_lock", map[string]any{
		"filePath": "internal/parser.go", "agentId": "builder", "lockType": "write", "durationSeconds": 300,
	}); !env.OK {
		t.Fatalf("lock: %+v", env.Error)
	}
	status, env = callTool(t, srv.URL, "acquire_file_lock", map[string]any{
		"filePath": "internal/parser.go", "agentId": "auditor",
	})
	if status != http.StatusConflict || env.Error.Detail["kind"] != "lock_held" {
		t.Fatalf("expected lock conflict, got %d %+v", status, env.Error)
	}
	locks := result[[]map[string]any](t, decode[envelope](t, getJSON(t, srv.URL+"/api/locks")))
	if len(locks) != 1 || locks[0]["locked_by"] != "builder" {
		t.Fatalf("unexpected locks %v", locks)
	}

	if _, env = callTool(t, srv.URL, "agent_heartbeat", map[string]any{"agentId": "builder", "taskId": "t1", "status": "working"}); !env.OK {
		t.Fatalf("heartbeat: %+v", env.Error)
	}
	agents := result[[]map[string]any](t, decode[envelope](t, getJSON(t, srv.URL+"/api/agents")))
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent, got %v", agents)
	}

	_, env = callTool(t, srv.URL, "release_file_lock", map[string]any{"filePath": "internal/parser.go", "agentId": "builder"})
	if rel := result[map[string]any](t, env); rel["released"] != true {
		t.Fatalf("release: %v", rel)
	}
	if _, env = callTool(t, srv.URL, "complete_task", map[string]any{"taskId": "t1"}); !env.OK {
		t.Fatalf("complete: %+v", env.Error)
	}
	task := result[map[string]any](t, decode[envelope](t, getJSON(t, srv.URL+"/api/tasks/t1")))
	if task["status"] != "completed" {
		t.Fatalf("unexpected task %v", task)
	}
}
