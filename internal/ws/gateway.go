// Package ws fans notification events out to agents subscribed on
// /ws/agents/{agent}. Delivery is best effort; the inbox stays authoritative.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mistakeknot/intercoord/internal/auth"
	"github.com/mistakeknot/intercoord/internal/metrics"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[*websocket.Conn]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{conns: make(map[string]map[*websocket.Conn]struct{}), logger: logger}
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/agents/"), "/")
		if agent == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if info, ok := auth.FromContext(r.Context()); ok && !info.CanActAs(agent) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		h.add(agent, conn)
		defer h.remove(agent, conn)

		ctx := r.Context()
		for {
			var v any
			if err := wsjson.Read(ctx, conn, &v); err != nil {
				return
			}
		}
	}
}

type connEntry struct {
	conn  *websocket.Conn
	agent string
}

// Broadcast writes event to every connection of agent, or to every
// connection when agent is empty. Connections that fail a write are dropped.
func (h *Hub) Broadcast(agent string, event any) {
	for _, e := range h.snapshot(agent) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, e.conn, event)
		cancel()
		if err != nil {
			h.logger.Debug("ws write failed", "agent", e.agent, "error", err)
			go func(e connEntry) {
				e.conn.Close(websocket.StatusGoingAway, "write error")
				h.remove(e.agent, e.conn)
			}(e)
		}
	}
}

// Connections counts open connections for agent, or all of them.
func (h *Hub) Connections(agent string) int {
	return len(h.snapshot(agent))
}

func (h *Hub) snapshot(agent string) []connEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []connEntry
	if agent != "" {
		for conn := range h.conns[agent] {
			out = append(out, connEntry{conn: conn, agent: agent})
		}
		return out
	}
	for name, conns := range h.conns {
		for conn := range conns {
			out = append(out, connEntry{conn: conn, agent: name})
		}
	}
	return out
}

func (h *Hub) add(agent string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perAgent, ok := h.conns[agent]
	if !ok {
		perAgent = make(map[*websocket.Conn]struct{})
		h.conns[agent] = perAgent
	}
	perAgent[conn] = struct{}{}
	metrics.AddWSConnection()
}

func (h *Hub) remove(agent string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perAgent, ok := h.conns[agent]
	if !ok {
		return
	}
	if _, ok := perAgent[conn]; !ok {
		return
	}
	delete(perAgent, conn)
	metrics.RemoveWSConnection()
	if len(perAgent) == 0 {
		delete(h.conns, agent)
	}
}
