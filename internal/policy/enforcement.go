package policy

import (
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// ShouldFail reports whether any issue in issues has a severity at or above
// the configured fail_on_severity threshold for the given layer.
//
// It returns false when:
//   - cfg is nil (no policy loaded)
//   - no enforcement block is configured for layer
//   - fail_on_severity is empty or an unrecognised value
//   - issues is empty
//
// SeverityRank ordering: error (3) > warning (2) > info (1).
func ShouldFail(layer string, issues []models.Issue, cfg *PolicyConfig) bool {
	if cfg == nil {
		return false
	}
	enfCfg, ok := cfg.Enforcement[layer]
	if !ok || enfCfg.FailOnSeverity == "" {
		return false
	}
	sev, ok := parseSeverity(enfCfg.FailOnSeverity)
	if !ok {
		return false
	}
	threshold := severityRank[sev]
	for _, is := range issues {
		if r, ok := severityRank[is.Severity]; ok && r >= threshold {
			return true
		}
	}
	return false
}
