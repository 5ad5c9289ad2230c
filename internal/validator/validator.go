// Package validator scores an artifact bundle against the criteria a policy
// configures for a review type.
//
// Each criterion key maps to a Check. The built-in checks are text
// heuristics over the code, tests, documentation and plan fields of the
// artifacts; callers can Register their own. Keys without a check pass with
// a note recommending manual review.
package validator

import (
	"sort"
	"sync"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/policy"
)

// Artifacts are the fields of an artifact payload the checks read.
type Artifacts struct {
	Code          string
	Tests         string
	Documentation string
	Plan          string
}

// FromPayload extracts the known string fields; anything else is ignored.
func FromPayload(p core.Payload) Artifacts {
	return Artifacts{
		Code:          p.String("code"),
		Tests:         p.String("tests"),
		Documentation: p.String("documentation"),
		Plan:          p.String("plan"),
	}
}

// Check evaluates one criterion.
type Check func(a Artifacts) (passed bool, reason string)

const unknownCriterionReason = "Auto-passed (manual review recommended)"

type Validator struct {
	criteria map[string]policy.CriteriaSet

	mu     sync.RWMutex
	checks map[string]Check
}

// New returns a validator over criteria with the built-in checks registered.
func New(criteria map[string]policy.CriteriaSet) *Validator {
	v := &Validator{criteria: criteria, checks: make(map[string]Check, len(builtins))}
	for key, check := range builtins {
		v.checks[key] = check
	}
	return v
}

// Register adds or replaces the check for a criterion key.
func (v *Validator) Register(key string, check Check) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.checks[key] = check
}

// Validate runs every required and optional criterion for reviewType.
// Passed means all required criteria passed; OverallConfidence is the
// percentage of all criteria that passed, or 100 when none are configured.
func (v *Validator) Validate(reviewType string, artifacts core.Payload) (core.ValidationResult, error) {
	if reviewType == "" {
		return core.ValidationResult{}, core.Invalid("review type required")
	}
	if err := artifacts.ValidateObject("artifacts"); err != nil {
		return core.ValidationResult{}, err
	}
	a := FromPayload(artifacts)
	set := v.criteria[reviewType]

	res := core.ValidationResult{
		ReviewType:      reviewType,
		Passed:          true,
		RequiredResults: v.run(set.Required, a),
		OptionalResults: v.run(set.Optional, a),
	}
	passed, total := 0, 0
	for _, r := range res.RequiredResults {
		if !r.Passed {
			res.Passed = false
		}
	}
	for _, group := range [][]core.CriterionResult{res.RequiredResults, res.OptionalResults} {
		for _, r := range group {
			total++
			if r.Passed {
				passed++
			}
		}
	}
	res.OverallConfidence = 100
	if total > 0 {
		res.OverallConfidence = (passed*200 + total) / (total * 2)
	}
	return res, nil
}

func (v *Validator) run(criteria map[string]string, a Artifacts) []core.CriterionResult {
	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]core.CriterionResult, 0, len(keys))
	for _, key := range keys {
		r := core.CriterionResult{Criterion: key, Description: criteria[key]}
		if check, ok := v.checks[key]; ok {
			r.Passed, r.Reason = check(a)
		} else {
			r.Passed, r.Reason = true, unknownCriterionReason
		}
		out = append(out, r)
	}
	return out
}
