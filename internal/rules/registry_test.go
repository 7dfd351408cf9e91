package rules_test

import (
	"testing"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/policy"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rules"
)

type stubRule struct {
	id     string
	issues []models.Issue
	panics bool
}

func (s stubRule) ID() string   { return s.id }
func (s stubRule) Name() string { return s.id }
func (s stubRule) Evaluate(rules.RuleContext) []models.Issue {
	if s.panics {
		panic("boom")
	}
	return s.issues
}

func TestRegistry_RegisterDuplicatePanics(t *testing.T) {
	reg := rules.NewDefaultRuleRegistry(nil)
	reg.Register(stubRule{id: "A"})
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate rule ID")
		}
	}()
	reg.Register(stubRule{id: "A"})
}

func TestRegistry_EvaluateAll(t *testing.T) {
	reg := rules.NewDefaultRuleRegistry(nil)
	reg.Register(stubRule{id: "FIRST", issues: []models.Issue{{File: "a.yaml", Detail: "first"}}})
	reg.Register(stubRule{id: "BROKEN", panics: true})
	reg.Register(stubRule{id: "OFF", issues: []models.Issue{{File: "b.yaml", Detail: "off"}}})
	reg.Register(stubRule{id: "LAST", issues: []models.Issue{{File: "c.yaml", Detail: "last", Rule: "CUSTOM"}}})

	off := false
	cfg := &policy.PolicyConfig{Rules: map[string]policy.RuleConfig{"OFF": {Enabled: &off}}}
	issues := reg.EvaluateAll(rules.NewRuleContext(&models.Inventory{}, cfg))

	if len(issues) != 2 {
		t.Fatalf("expected 2 issues; got %v", issues)
	}
	if issues[0].Rule != "FIRST" {
		t.Errorf("issues[0].Rule = %q; want FIRST", issues[0].Rule)
	}
	if issues[1].Rule != "CUSTOM" {
		t.Errorf("issues[1].Rule = %q; an explicit rule ID must be kept", issues[1].Rule)
	}
	if got := len(reg.All()); got != 4 {
		t.Errorf("All() = %d rules; want 4", got)
	}
}
