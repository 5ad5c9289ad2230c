package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mistakeknot/intercoord/internal/auth"
	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/tools"
)

// Service serves the tool surface over HTTP.
type Service struct {
	tools  *tools.Dispatcher
	logger *slog.Logger
}

func NewService(d *tools.Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tools: d, logger: logger}
}

// invoke authorizes and runs one tool, then writes its envelope with the
// status matching the envelope code.
func (s *Service) invoke(w http.ResponseWriter, r *http.Request, name string, args json.RawMessage) {
	res := s.authorize(r.Context(), name, args)
	if res == nil {
		out := s.tools.Call(r.Context(), name, args)
		res = &out
	}
	writeJSON(w, res.Code().HTTPStatus(), res)
}

// authorize returns a failure envelope when a keyed caller tries to run an
// operator tool or to act as another agent. Requests without auth info come
// from trusted in-process routers.
func (s *Service) authorize(ctx context.Context, name string, args json.RawMessage) *tools.Result {
	info, ok := auth.FromContext(ctx)
	if !ok {
		return nil
	}
	spec, found := s.tools.Lookup(name)
	if !found {
		return nil
	}
	if spec.Operator && !info.CanOperate() {
		res := tools.Failure(fmt.Errorf("%s is an operator tool (caller %s): %w", name, info.Agent, core.ErrUnauthorized))
		return &res
	}
	if spec.Actor == "" {
		return nil
	}
	actor, err := s.tools.Actor(name, args)
	if err != nil {
		// The tool rejects the same args with invalid_request.
		return nil
	}
	if !info.CanActAs(actor) {
		s.logger.Warn("caller acting as another agent", "tool", name, "caller", info.Agent, "actor", actor)
		res := tools.Failure(fmt.Errorf("key for %s cannot act as %q: %w", info.Agent, actor, core.ErrUnauthorized))
		return &res
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
