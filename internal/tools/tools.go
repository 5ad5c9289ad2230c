// Package tools exposes every coordination and review operation as a named
// tool taking a JSON argument object and returning a JSON envelope:
//
//	{"ok":true,"result":...}
//	{"ok":false,"error":{"code":"conflict","message":"...","detail":{...}}}
//
// Transports (HTTP, the CLI) only move envelopes; the mapping from domain
// errors to codes lives here.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/learning"
	"github.com/mistakeknot/intercoord/internal/ledger"
	"github.com/mistakeknot/intercoord/internal/metrics"
	"github.com/mistakeknot/intercoord/internal/notify"
	"github.com/mistakeknot/intercoord/internal/policy"
	"github.com/mistakeknot/intercoord/internal/review"
	"github.com/mistakeknot/intercoord/internal/validator"
)

// Op names a tool.
type Op string

const (
	OpClaimTask            Op = "claim_task"
	OpCompleteTask         Op = "complete_task"
	OpGetTask              Op = "get_task"
	OpAgentHeartbeat       Op = "agent_heartbeat"
	OpGetAgentStatus       Op = "get_agent_status"
	OpAcquireFileLock      Op = "acquire_file_lock"
	OpReleaseFileLock      Op = "release_file_lock"
	OpListFileLocks        Op = "list_file_locks"
	OpCheckReviewRequired  Op = "check_review_required"
	OpRequestReview        Op = "request_review"
	OpSubmitReview         Op = "submit_review"
	OpGetReview            Op = "get_review"
	OpListReviews          Op = "list_reviews"
	OpStartReview          Op = "start_review"
	OpValidateCriteria     Op = "validate_criteria"
	OpRequestReReview      Op = "request_re_review"
	OpEscalateReview       Op = "escalate_review"
	OpResolveEscalation    Op = "resolve_escalation"
	OpGetReviewMetrics     Op = "get_review_metrics"
	OpSweepReviews         Op = "sweep_reviews"
	OpGetNotifications     Op = "get_notifications"
	OpMarkNotificationRead Op = "mark_notification_read"
	OpListAutoSkipPatterns Op = "list_auto_skip_patterns"
	OpSetAutoSkip          Op = "set_auto_skip"
)

// Spec describes a tool for discovery.
type Spec struct {
	Name        Op       `json:"name"`
	Description string   `json:"description"`
	Params      []string `json:"params"`
	// Operator tools change policy-relevant state and are refused to plain
	// agent keys by the HTTP layer.
	Operator bool `json:"operator,omitempty"`
	// Actor names the argument carrying the acting agent. Keyed callers may
	// only act as themselves.
	Actor string `json:"actor,omitempty"`
}

// Code classifies a failed call.
type Code string

const (
	CodeOK             Code = "ok"
	CodeConflict       Code = "conflict"
	CodeNotFound       Code = "not_found"
	CodeUnauthorized   Code = "unauthorized"
	CodeInvalidRequest Code = "invalid_request"
	CodeInternal       Code = "internal"
)

// HTTPStatus maps a code onto the status the HTTP API answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeOK:
		return http.StatusOK
	case CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeInvalidRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Classify maps an error onto its code.
func Classify(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, core.ErrConflict):
		return CodeConflict
	case errors.Is(err, core.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, core.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, core.ErrInvalidRequest):
		return CodeInvalidRequest
	}
	return CodeInternal
}

// Error is the error half of an envelope.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// Result is the envelope returned for every call.
type Result struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Code returns CodeOK or the error code.
func (r Result) Code() Code {
	if r.Error == nil {
		return CodeOK
	}
	return r.Error.Code
}

// Failure builds the envelope for err. Internal errors keep their message
// out of the envelope; they are logged instead.
func Failure(err error) Result {
	code := Classify(err)
	e := &Error{Code: code, Message: err.Error()}
	var conflict *core.ConflictError
	var unauthorized *core.UnauthorizedError
	switch {
	case errors.As(err, &conflict):
		e.Detail = conflict
	case errors.As(err, &unauthorized):
		e.Detail = unauthorized
	}
	if code == CodeInternal {
		e.Message = "internal error"
	}
	return Result{Error: e}
}

// Services are the components tools dispatch to.
type Services struct {
	Ledger    *ledger.Ledger
	Policy    *policy.Engine
	Reviews   *review.Workflow
	Learning  *learning.Engine
	Validator *validator.Validator
	Notifier  *notify.Notifier
}

type handler struct {
	run   func(ctx context.Context, args json.RawMessage) (any, error)
	actor func(args json.RawMessage) (string, error)
}

// acting is implemented by args that name the agent performing the call.
type acting interface {
	actingAgent() string
}

type Dispatcher struct {
	svc      Services
	logger   *slog.Logger
	handlers map[Op]handler
	specs    map[Op]Spec
}

func NewDispatcher(svc Services, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{svc: svc, logger: logger, handlers: map[Op]handler{}, specs: map[Op]Spec{}}
	d.register()
	return d
}

func (d *Dispatcher) add(spec Spec, h handler) {
	d.handlers[spec.Name] = h
	d.specs[spec.Name] = spec
}

// Catalog lists every tool, sorted by name.
func (d *Dispatcher) Catalog() []Spec {
	out := make([]Spec, 0, len(d.specs))
	for _, s := range d.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the spec of a tool.
func (d *Dispatcher) Lookup(name string) (Spec, bool) {
	s, ok := d.specs[Op(name)]
	return s, ok
}

// Actor decodes args exactly as the tool will and returns the agent it acts
// as. Tools without an actor argument return "". Malformed args return the
// same invalid_request error the tool would.
func (d *Dispatcher) Actor(name string, args json.RawMessage) (string, error) {
	h, ok := d.handlers[Op(name)]
	if !ok {
		return "", core.NotFound("tool", name)
	}
	return h.actor(args)
}

// Call runs one tool. It never returns a Go error: failures are carried in
// the envelope.
func (d *Dispatcher) Call(ctx context.Context, name string, args json.RawMessage) Result {
	start := time.Now()
	res := d.call(ctx, name, args)
	metrics.RecordToolCall(name, string(res.Code()), time.Since(start))
	return res
}

func (d *Dispatcher) call(ctx context.Context, name string, args json.RawMessage) Result {
	h, ok := d.handlers[Op(name)]
	if !ok {
		return Failure(core.NotFound("tool", name))
	}
	out, err := h.run(ctx, args)
	if err != nil {
		if Classify(err) == CodeInternal {
			d.logger.Error("tool error", "tool", name, "error", err)
		}
		return Failure(err)
	}
	return Result{OK: true, Result: out}
}

// decode reads args strictly into v; absent args decode as {}.
func decode(args json.RawMessage, v any) error {
	args = bytes.TrimSpace(args)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		args = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.Invalid("arguments: %s", err.Error())
	}
	return nil
}

// bind wraps a typed handler into the raw form.
func bind[A any](fn func(ctx context.Context, a A) (any, error)) handler {
	return handler{
		run: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a A
			if err := decode(raw, &a); err != nil {
				return nil, err
			}
			return fn(ctx, a)
		},
		actor: func(raw json.RawMessage) (string, error) {
			var a A
			if err := decode(raw, &a); err != nil {
				return "", err
			}
			if v, ok := any(a).(acting); ok {
				return v.actingAgent(), nil
			}
			return "", nil
		},
	}
}
