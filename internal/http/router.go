package httpapi

import (
	"net/http"

	"github.com/mistakeknot/intercoord/internal/metrics"
)

// NewRouter mounts the tool surface, the read-only REST views and the
// websocket hub. mw is applied to everything except /healthz.
func NewRouter(svc *Service, wsHandler http.Handler, mw func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.Handler) http.Handler {
		if mw != nil {
			h = mw(h)
		}
		return logRequests(svc.logger, h)
	}

	mux.Handle("/api/tools", wrap(http.HandlerFunc(svc.handleCatalog)))
	mux.Handle("/api/tools/", wrap(http.HandlerFunc(svc.handleToolCall)))

	mux.Handle("/api/tasks/", wrap(http.HandlerFunc(svc.handleTask)))
	mux.Handle("/api/agents", wrap(http.HandlerFunc(svc.handleAgents)))
	mux.Handle("/api/locks", wrap(http.HandlerFunc(svc.handleLocks)))
	mux.Handle("/api/reviews", wrap(http.HandlerFunc(svc.handleReviews)))
	mux.Handle("/api/reviews/", wrap(http.HandlerFunc(svc.handleReviewByID)))
	mux.Handle("/api/notifications/", wrap(http.HandlerFunc(svc.handleNotifications)))
	mux.Handle("/api/patterns", wrap(http.HandlerFunc(svc.handlePatterns)))
	mux.Handle("/api/metrics/reviews", wrap(http.HandlerFunc(svc.handleReviewMetrics)))

	mux.Handle("/metrics", wrap(metrics.Handler()))
	mux.HandleFunc("/healthz", handleHealth)

	if wsHandler != nil {
		if mw != nil {
			wsHandler = mw(wsHandler)
		}
		mux.Handle("/ws/agents/", wsHandler)
	}
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
