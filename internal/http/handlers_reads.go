package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/tools"
)

// The REST views are GET shorthands for read-only tools; they answer with
// the same envelopes as POST /api/tools/{name}.

func (s *Service) read(w http.ResponseWriter, r *http.Request, op tools.Op, args map[string]any) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw, err := json.Marshal(args)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, tools.Failure(err))
		return
	}
	s.invoke(w, r, string(op), raw)
}

func (s *Service) handleTask(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "/api/tasks/")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.read(w, r, tools.OpGetTask, map[string]any{"taskId": id})
}

func (s *Service) handleAgents(w http.ResponseWriter, r *http.Request) {
	s.read(w, r, tools.OpGetAgentStatus, nil)
}

func (s *Service) handleLocks(w http.ResponseWriter, r *http.Request) {
	s.read(w, r, tools.OpListFileLocks, nil)
}

func (s *Service) handleReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	args := map[string]any{}
	for _, key := range []string{"status", "reviewer", "creator"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			args[key] = v
		}
	}
	if !queryInt(w, r, "limit", args) {
		return
	}
	s.read(w, r, tools.OpListReviews, args)
}

func (s *Service) handleReviewByID(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "/api/reviews/")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.read(w, r, tools.OpGetReview, map[string]any{"reviewId": id})
}

func (s *Service) handleNotifications(w http.ResponseWriter, r *http.Request) {
	recipient := pathID(r, "/api/notifications/")
	if recipient == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	args := map[string]any{"recipient": recipient}
	if queryBool(r, "unread") {
		args["unreadOnly"] = true
	}
	if !queryInt(w, r, "limit", args) {
		return
	}
	s.read(w, r, tools.OpGetNotifications, args)
}

func (s *Service) handlePatterns(w http.ResponseWriter, r *http.Request) {
	args := map[string]any{}
	if queryBool(r, "eligible") {
		args["eligibleOnly"] = true
	}
	s.read(w, r, tools.OpListAutoSkipPatterns, args)
}

func (s *Service) handleReviewMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	args := map[string]any{}
	for _, key := range []string{"period", "agent", "type"} {
		if v := strings.TrimSpace(q.Get(key)); v != "" {
			args[key] = v
		}
	}
	s.read(w, r, tools.OpGetReviewMetrics, args)
}

func pathID(r *http.Request, prefix string) string {
	return strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

// queryInt copies an integer query parameter into args, answering 400 and
// returning false when it does not parse.
func queryInt(w http.ResponseWriter, r *http.Request, key string, args map[string]any) bool {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, tools.Failure(core.Invalid("%s must be an integer", key)))
		return false
	}
	args[key] = n
	return true
}
