package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLocalhostBypass(t *testing.T) {
	ring := NewKeyring(true, nil)
	mw := Middleware(ring)

	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := FromContext(r.Context())
		if !ok || info.Mode != ModeLocalhost {
			t.Fatalf("expected localhost auth mode")
		}
		if !info.CanOperate() || !info.CanActAs("anyone") {
			t.Fatalf("localhost callers should be trusted")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestNonLocalhostRequiresBearer(t *testing.T) {
	ring := NewKeyring(true, map[string]Identity{"secret": {Agent: "architect"}})
	mw := Middleware(ring)

	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := FromContext(r.Context())
		if !ok || info.Agent != "architect" || info.Mode != ModeAPIKey {
			t.Fatalf("expected apikey auth info")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	req.RemoteAddr = "203.0.113.10:9999"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	req.RemoteAddr = "203.0.113.10:9999"
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong bearer, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	req.RemoteAddr = "203.0.113.10:9999"
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer, got %d", rr.Code)
	}
}

func TestForwardedForOverridesRemoteAddr(t *testing.T) {
	ring := NewKeyring(true, nil)
	h := Middleware(ring)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.10, 127.0.0.1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected proxied remote caller to need a key, got %d", rr.Code)
	}
}

func TestInfoPermissions(t *testing.T) {
	agent := Info{Mode: ModeAPIKey, Agent: "architect"}
	if !agent.CanActAs("architect") {
		t.Fatalf("agent should act as itself")
	}
	if agent.CanActAs("") {
		t.Fatalf("agent key should not act with an empty actor")
	}
	if agent.CanActAs("auditor") {
		t.Fatalf("agent should not act as another agent")
	}
	if agent.CanOperate() {
		t.Fatalf("plain agent key should not operate")
	}
	op := Info{Mode: ModeAPIKey, Agent: "human", Operator: true}
	if !op.CanOperate() || !op.CanActAs("auditor") {
		t.Fatalf("operator key should be trusted")
	}
}
