package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mistakeknot/intercoord/internal/auth"
	"github.com/mistakeknot/intercoord/internal/policy"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestInitCommandCreatesKeyAndPolicy(t *testing.T) {
	tmp := t.TempDir()
	keyPath := filepath.Join(tmp, "intercoord.keys.yaml")
	policyPath := filepath.Join(tmp, ".intercoord", "review-policy.yaml")

	out, err := run(t, "init", "--agent", "lead", "--operator", "--keys-file", keyPath, "--policy", policyPath)
	if err != nil {
		t.Fatalf("execute init: %v", err)
	}
	if !strings.Contains(out, "agent:     lead") {
		t.Fatalf("unexpected output %q", out)
	}

	ring, err := auth.LoadKeyring(keyPath)
	if err != nil {
		t.Fatalf("load keyring: %v", err)
	}
	var key string
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "key:"); ok {
			key = strings.TrimSpace(v)
		}
	}
	id, ok := ring.IdentityForKey(key)
	if !ok || id.Agent != "lead" || !id.Operator {
		t.Fatalf("issued key did not resolve: %+v %v", id, ok)
	}
	if _, err := policy.Load(policyPath); err != nil {
		t.Fatalf("written policy should load: %v", err)
	}

	out, err = run(t, "init", "--agent", "builder", "--keys-file", keyPath, "--policy", policyPath)
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if !strings.Contains(out, "kept existing") {
		t.Fatalf("existing policy should be kept: %q", out)
	}
}

func TestInitCommandRequiresAgent(t *testing.T) {
	tmp := t.TempDir()
	if _, err := run(t, "init", "--keys-file", filepath.Join(tmp, "k.yaml")); err == nil {
		t.Fatalf("expected missing --agent to fail")
	}
}

func TestToolCommandRunsInProcess(t *testing.T) {
	tmp := t.TempDir()
	db := filepath.Join(tmp, "state", "intercoord.db")
	noPolicy := filepath.Join(tmp, "missing.yaml")

	out, err := run(t, "tool", "claim_task", `{"taskId":"t1","agentId":"builder"}`, "--db", db, "--policy", noPolicy)
	if err != nil {
		t.Fatalf("claim: %v (%s)", err, out)
	}
	var res struct {
		OK     bool `json:"ok"`
		Result struct {
			ClaimedBy string `json:"claimed_by"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !res.OK || res.Result.ClaimedBy != "builder" {
		t.Fatalf("unexpected result %q", out)
	}

	out, err = run(t, "tool", "claim_task", `{"taskId":"t1","agentId":"auditor"}`, "--db", db, "--policy", noPolicy)
	if err == nil || !strings.Contains(out, `"code":"conflict"`) {
		t.Fatalf("expected conflict envelope, got %v %q", err, out)
	}

	if _, err := run(t, "tool", "claim_task", `{"taskId":`, "--db", db); err == nil {
		t.Fatalf("expected invalid JSON to fail")
	}
}

func TestToolCommandList(t *testing.T) {
	tmp := t.TempDir()
	out, err := run(t, "tool", "--list", "--db", filepath.Join(tmp, "x.db"), "--policy", filepath.Join(tmp, "none.yaml"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, `"submit_review"`) {
		t.Fatalf("catalog missing submit_review: %q", out)
	}
}

func TestSweepCommand(t *testing.T) {
	tmp := t.TempDir()
	out, err := run(t, "sweep", "--db", filepath.Join(tmp, "x.db"), "--policy", filepath.Join(tmp, "none.yaml"))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, `"purged_locks":0`) {
		t.Fatalf("unexpected sweep report %q", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || strings.TrimSpace(out) != "intercoord dev" {
		t.Fatalf("version: %q %v", out, err)
	}
}

func TestLoggerLevels(t *testing.T) {
	ctx := context.Background()
	if !newLogger("debug").Enabled(ctx, slog.LevelDebug) {
		t.Fatalf("debug level should enable debug logs")
	}
	if newLogger("bogus").Enabled(ctx, slog.LevelDebug) {
		t.Fatalf("unknown level should fall back to info")
	}
}
