package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/mistakeknot/intercoord/internal/core"
)

// DefaultPath is where init writes the starter policy.
const DefaultPath = ".intercoord/review-policy.yaml"

// Config is the PolicyConfiguration. It is loaded once at startup and never
// mutated afterwards.
type Config struct {
	ReviewRequired  ReviewRequired          `yaml:"review_required" toml:"review_required"`
	ReviewerMatrix  map[string]ReviewerPair `yaml:"reviewer_matrix" toml:"reviewer_matrix"`
	DefaultReviewer string                  `yaml:"default_reviewer" toml:"default_reviewer"`
	CriticalTypes   []string                `yaml:"critical_types" toml:"critical_types"`
	Learning        LearningConfig          `yaml:"learning" toml:"learning"`
	Criteria        map[string]CriteriaSet  `yaml:"criteria" toml:"criteria"`
}

type ReviewRequired struct {
	Actions []string        `yaml:"actions" toml:"actions"`
	SkipIf  []SkipCondition `yaml:"skip_if" toml:"skip_if"`
}

// SkipCondition is one skip_if entry. A single entry may combine kinds; they
// are checked autonomy level first, then action type, then learned pattern.
type SkipCondition struct {
	AutonomyLevel      string   `yaml:"autonomy_level,omitempty" toml:"autonomy_level,omitempty"`
	ExceptFor          []string `yaml:"except_for,omitempty" toml:"except_for,omitempty"`
	ActionType         string   `yaml:"action_type,omitempty" toml:"action_type,omitempty"`
	HasAutoSkipPattern bool     `yaml:"has_auto_skip_pattern,omitempty" toml:"has_auto_skip_pattern,omitempty"`
	MinConfidence      float64  `yaml:"min_confidence,omitempty" toml:"min_confidence,omitempty"`
	MinSuccesses       int      `yaml:"min_successes,omitempty" toml:"min_successes,omitempty"`
}

// Thresholds returns the pattern thresholds of the condition with defaults
// filled in.
func (c SkipCondition) Thresholds() core.Thresholds {
	return core.Thresholds{MinConfidence: c.MinConfidence, MinSuccesses: c.MinSuccesses}.WithDefaults()
}

type ReviewerPair struct {
	Primary string `yaml:"primary" toml:"primary"`
	Backup  string `yaml:"backup,omitempty" toml:"backup,omitempty"`
}

type LearningConfig struct {
	// Window bounds the recent-confidence history per pattern.
	Window int `yaml:"window" toml:"window"`
}

// CriteriaSet maps criterion keys to descriptions for one review type.
type CriteriaSet struct {
	Required map[string]string `yaml:"required" toml:"required"`
	Optional map[string]string `yaml:"optional" toml:"optional"`
}

const (
	DefaultReviewer       = "auditor"
	DefaultLearningWindow = 20
)

// Default is the permissive policy used when no policy file exists: review
// is required for the default action set, nothing is skipped, and every
// creator goes to the default reviewer.
func Default() Config {
	return Config{
		ReviewRequired: ReviewRequired{
			Actions: []string{"create_core", "create_app", "architecture_decision", "security_change", "breaking_change"},
		},
		ReviewerMatrix:  map[string]ReviewerPair{},
		DefaultReviewer: DefaultReviewer,
		CriticalTypes:   []string{"security_change", "breaking_change"},
		Learning:        LearningConfig{Window: DefaultLearningWindow},
		Criteria:        DefaultCriteria(),
	}
}

// DefaultCriteria are the built-in criterion sets per review type.
func DefaultCriteria() map[string]CriteriaSet {
	return map[string]CriteriaSet{
		"create_core": {
			Required: map[string]string{
				"has_comprehensive_tests": "At least three test cases exercise the change",
				"documentation_complete":  "Public surface is documented",
				"proper_error_handling":   "Errors are returned or handled, not dropped",
			},
			Optional: map[string]string{
				"size_appropriate":      "Under 300 lines",
				"single_responsibility": "No more than two types and five exports",
			},
		},
		"create_app": {
			Required: map[string]string{
				"proper_configuration":  "Configuration is loaded, not hard-coded",
				"has_integration_tests": "Integration tests cover the wiring",
			},
			Optional: map[string]string{
				"documentation_complete": "Usage is documented",
			},
		},
		"architecture_decision": {
			Required: map[string]string{
				"problem_clearly_stated":   "The plan states the problem",
				"options_evaluated":        "At least two options are compared",
				"recommendation_justified": "A recommendation is made",
			},
			Optional: map[string]string{
				"tradeoffs_documented": "Pros and cons are listed",
				"impacts_identified":   "Impact and breaking changes are called out",
			},
		},
	}
}

// Load reads the policy file at path, choosing TOML for a .toml extension
// and YAML otherwise. A missing file yields Default() together with an error
// wrapping core.ErrConfigurationMissing; callers log it and carry on.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), fmt.Errorf("no policy path: %w", core.ErrConfigurationMissing)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), fmt.Errorf("policy %s: %w", path, core.ErrConfigurationMissing)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read policy: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes a policy document. Fields left out keep their defaults,
// except that an explicit action list replaces the default one.
func Parse(data []byte, isTOML bool) (Config, error) {
	cfg := Default()
	cfg.ReviewRequired.Actions = nil
	cfg.Criteria = nil
	var err error
	if isTOML {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse policy: %w", err)
	}
	if cfg.ReviewRequired.Actions == nil {
		cfg.ReviewRequired.Actions = Default().ReviewRequired.Actions
	}
	if cfg.Criteria == nil {
		cfg.Criteria = DefaultCriteria()
	}
	if cfg.ReviewerMatrix == nil {
		cfg.ReviewerMatrix = map[string]ReviewerPair{}
	}
	if cfg.DefaultReviewer == "" {
		cfg.DefaultReviewer = DefaultReviewer
	}
	if cfg.Learning.Window <= 0 {
		cfg.Learning.Window = DefaultLearningWindow
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects skip conditions that match nothing and matrix entries
// without a primary reviewer.
func (c Config) Validate() error {
	for i, cond := range c.ReviewRequired.SkipIf {
		if cond.AutonomyLevel == "" && cond.ActionType == "" && !cond.HasAutoSkipPattern {
			return fmt.Errorf("skip_if[%d]: needs autonomy_level, action_type or has_auto_skip_pattern", i)
		}
		if cond.MinConfidence < 0 || cond.MinConfidence > 1 {
			return fmt.Errorf("skip_if[%d]: min_confidence must be within 0..1", i)
		}
	}
	for creator, pair := range c.ReviewerMatrix {
		if pair.Primary == "" {
			return fmt.Errorf("reviewer_matrix[%s]: primary reviewer required", creator)
		}
	}
	return nil
}

// RequiresReview reports whether action is in the required list.
func (c Config) RequiresReview(action string) bool {
	return contains(c.ReviewRequired.Actions, action)
}

// IsCritical reports whether reviewType is a configured critical type.
func (c Config) IsCritical(reviewType string) bool {
	return contains(c.CriticalTypes, reviewType)
}

// EligibilityThresholds are the thresholds the learning engine applies when
// marking patterns eligible: those of the first pattern skip condition, so
// eligibility and skipping agree.
func (c Config) EligibilityThresholds() core.Thresholds {
	for _, cond := range c.ReviewRequired.SkipIf {
		if cond.HasAutoSkipPattern {
			return cond.Thresholds()
		}
	}
	return core.DefaultThresholds
}

// Marshal renders the config as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
