package tools

import (
	"log/slog"

	"github.com/mistakeknot/intercoord/internal/learning"
	"github.com/mistakeknot/intercoord/internal/ledger"
	"github.com/mistakeknot/intercoord/internal/notify"
	"github.com/mistakeknot/intercoord/internal/policy"
	"github.com/mistakeknot/intercoord/internal/review"
	"github.com/mistakeknot/intercoord/internal/storage"
	"github.com/mistakeknot/intercoord/internal/validator"
)

// NewServices wires every component over one store and policy. The notifier
// has no broadcaster; servers attach theirs with WithBroadcaster.
func NewServices(store storage.Store, cfg policy.Config, logger *slog.Logger) Services {
	if logger == nil {
		logger = slog.Default()
	}
	notifier := notify.New(store, logger)
	learner := learning.New(store, cfg.EligibilityThresholds(), cfg.Learning.Window, logger).WithNotifier(notifier)
	engine := policy.NewEngine(cfg, store, learner, logger)
	return Services{
		Ledger:    ledger.New(store, logger),
		Policy:    engine,
		Reviews:   review.New(store, engine, logger).WithLearner(learner).WithNotifier(notifier),
		Learning:  learner,
		Validator: validator.New(cfg.Criteria),
		Notifier:  notifier,
	}
}
