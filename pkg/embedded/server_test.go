package embedded

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
)

func TestEmbeddedServerServesTools(t *testing.T) {
	dir := t.TempDir()
	srv, err := New(Config{
		DBPath:     filepath.Join(dir, "data", "intercoord.db"),
		PolicyPath: filepath.Join(dir, "missing-policy.yaml"),
		Port:       -1,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	resp, err := http.Get(srv.URL() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	res := srv.Call(context.Background(), "claim_task", []byte(`{"taskId":"t1","agentId":"builder"}`))
	if !res.OK {
		t.Fatalf("claim failed: %+v", res.Error)
	}
	task, err := srv.Store().GetTask(context.Background(), "t1")
	if err != nil || task.ClaimedBy != "builder" {
		t.Fatalf("store should see the claim: %+v err=%v", task, err)
	}
}
