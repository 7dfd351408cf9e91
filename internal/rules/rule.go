package rules

import (
	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/policy"
)

// RuleContext carries everything a rule may look at during one validation
// run. It is the sole input to Rule.Evaluate; rules must never touch the
// filesystem, a cluster or any other external state.
type RuleContext struct {
	// Inventory is the read-only snapshot under validation.
	Inventory *models.Inventory

	// Index holds the typed views of every K8s resource, decoded once.
	Index *k8sview.Index

	// Strategy is the deployment-strategy classification of the inventory.
	Strategy StrategyInfo

	// Project answers path questions about the on-disk layout.
	Project *ProjectFiles

	// Policy holds the active PolicyConfig for threshold overrides. May be nil
	// when no policy file is loaded; rules must treat nil as "use defaults".
	Policy *policy.PolicyConfig
}

// NewRuleContext builds the shared, derived state for inv once.
func NewRuleContext(inv *models.Inventory, cfg *policy.PolicyConfig) RuleContext {
	ix := k8sview.Build(inv.K8s.Resources)
	return RuleContext{
		Inventory: inv,
		Index:     ix,
		Strategy:  ClassifyStrategy(inv, ix),
		Project:   NewProjectFiles(inv),
		Policy:    cfg,
	}
}

// Rule is a single deterministic validation rule.
// Rules must be stateless and safe to call concurrently.
type Rule interface {
	// ID returns the unique, stable identifier for this rule (e.g. "STRUCT_WORKLOAD").
	ID() string

	// Name returns a short human-readable rule name.
	Name() string

	// Evaluate inspects the provided context and returns zero or more issues.
	// An empty slice means no issue was detected.
	Evaluate(ctx RuleContext) []models.Issue
}

// RuleRegistry manages the set of active rules and drives evaluation.
type RuleRegistry interface {
	// Register adds a rule to the registry. Panics on duplicate ID.
	Register(rule Rule)

	// All returns all registered rules in registration order.
	All() []Rule

	// EvaluateAll runs every registered rule against ctx and merges results.
	EvaluateAll(ctx RuleContext) []models.Issue
}
