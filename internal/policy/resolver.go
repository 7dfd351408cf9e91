package policy

import (
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// ApplyPolicy filters and rewrites the issues one layer produced. It runs
// before report counts are derived, so errors/warnings always reflect the
// policy-adjusted list.
func ApplyPolicy(issues []models.Issue, layer string, cfg *PolicyConfig) []models.Issue {
	if cfg == nil {
		return issues
	}

	// Layer-level disable
	if !cfg.LayerEnabled(layer) {
		return []models.Issue{}
	}

	minRank := 0
	if l, ok := cfg.Layers[layer]; ok && l.MinSeverity != "" {
		if sev, ok := parseSeverity(l.MinSeverity); ok {
			minRank = severityRank[sev]
		}
	}

	result := make([]models.Issue, 0, len(issues))

	for _, is := range issues {
		ruleCfg, hasRule := cfg.Rules[is.Rule]

		// Rule-level disable
		if hasRule && ruleCfg.Enabled != nil && !*ruleCfg.Enabled {
			continue
		}

		// Severity override
		if hasRule && ruleCfg.Severity != "" {
			if sev, ok := parseSeverity(ruleCfg.Severity); ok {
				is.Severity = sev
			}
		}

		if severityRank[is.Severity] < minRank {
			continue
		}

		result = append(result, is)
	}

	return result
}

// RuleEnabled reports whether ruleID may run at all.
func RuleEnabled(ruleID string, cfg *PolicyConfig) bool {
	if cfg == nil {
		return true
	}
	rc, ok := cfg.Rules[ruleID]
	return !ok || rc.Enabled == nil || *rc.Enabled
}
