package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

type Mode string

const (
	ModeLocalhost Mode = "localhost"
	ModeAPIKey    Mode = "api_key"
)

// Info describes the caller of a request. Localhost callers are trusted
// with every identity and with operator tools.
type Info struct {
	Mode      Mode
	Agent     string
	Operator  bool
	Localhost bool
}

// CanActAs reports whether the caller may act as agent. A plain agent key
// must name itself; an empty agent is refused.
func (i Info) CanActAs(agent string) bool {
	if i.Mode != ModeAPIKey || i.Operator {
		return true
	}
	return agent != "" && agent == i.Agent
}

// CanOperate reports whether the caller may run operator tools.
func (i Info) CanOperate() bool {
	return i.Mode != ModeAPIKey || i.Operator
}

type contextKey struct{}

func FromContext(ctx context.Context) (Info, bool) {
	v, ok := ctx.Value(contextKey{}).(Info)
	return v, ok
}

// WithInfo attaches caller info to ctx.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

func Middleware(ring *Keyring) func(http.Handler) http.Handler {
	if ring == nil {
		ring = defaultKeyring()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ring.AllowLocalhostWithoutAuth && isLocalRequest(r) {
				next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), Info{Mode: ModeLocalhost, Localhost: true})))
				return
			}
			id, ok := authorize(r, ring)
			if !ok {
				writeUnauthorized(w)
				return
			}
			info := Info{Mode: ModeAPIKey, Agent: id.Agent, Operator: id.Operator}
			next.ServeHTTP(w, r.WithContext(WithInfo(r.Context(), info)))
		})
	}
}

func authorize(r *http.Request, ring *Keyring) (Identity, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return Identity{}, false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Identity{}, false
	}
	key := strings.TrimSpace(parts[1])
	if key == "" {
		return Identity{}, false
	}
	return ring.IdentityForKey(key)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":    false,
		"error": map[string]string{"code": "unauthenticated", "message": "missing or unknown bearer key"},
	})
}

func isLocalRequest(r *http.Request) bool {
	if ip := forwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
		if parsed := net.ParseIP(ip); parsed != nil {
			return parsed.IsLoopback()
		}
		if strings.EqualFold(ip, "localhost") {
			return true
		}
	}
	// Unix socket peers have no address.
	if r.RemoteAddr == "" || r.RemoteAddr == "@" {
		return true
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	parsed := net.ParseIP(host)
	return parsed != nil && parsed.IsLoopback()
}

func forwardedFor(v string) string {
	if v == "" {
		return ""
	}
	parts := strings.Split(v, ",")
	return strings.TrimSpace(parts[0])
}
