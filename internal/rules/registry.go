package rules

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/policy"
)

// DefaultRuleRegistry is a simple, ordered, in-memory registry.
// Rules are evaluated in registration order.
// Register panics on duplicate rule IDs to catch wiring mistakes at startup.
type DefaultRuleRegistry struct {
	rules  []Rule
	index  map[string]struct{}
	logger logrus.FieldLogger
}

// NewDefaultRuleRegistry returns an empty registry ready for rule registration.
func NewDefaultRuleRegistry(logger logrus.FieldLogger) *DefaultRuleRegistry {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &DefaultRuleRegistry{
		index:  make(map[string]struct{}),
		logger: logger,
	}
}

// Register adds rule to the registry. Panics if the same ID is registered twice.
func (r *DefaultRuleRegistry) Register(rule Rule) {
	if _, exists := r.index[rule.ID()]; exists {
		panic(fmt.Sprintf("duplicate rule ID: %q", rule.ID()))
	}
	r.rules = append(r.rules, rule)
	r.index[rule.ID()] = struct{}{}
}

// All returns all registered rules in registration order.
func (r *DefaultRuleRegistry) All() []Rule {
	return r.rules
}

// EvaluateAll runs every enabled rule against ctx and returns the merged
// issue slice. Rules are called sequentially in registration order. A rule
// that panics contributes nothing; the remaining rules still run.
func (r *DefaultRuleRegistry) EvaluateAll(ctx RuleContext) []models.Issue {
	var issues []models.Issue
	for _, rule := range r.rules {
		if !policy.RuleEnabled(rule.ID(), ctx.Policy) {
			continue
		}
		issues = append(issues, r.evaluate(rule, ctx)...)
	}
	return issues
}

func (r *DefaultRuleRegistry) evaluate(rule Rule, ctx RuleContext) (out []models.Issue) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.WithFields(logrus.Fields{
				"rule":  rule.ID(),
				"panic": v,
			}).Error("rule panicked; skipping")
			out = nil
		}
	}()
	out = rule.Evaluate(ctx)
	for i := range out {
		if out[i].Rule == "" {
			out[i].Rule = rule.ID()
		}
	}
	return out
}
