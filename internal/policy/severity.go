package policy

import (
	"strings"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// severityRank orders severities for min_severity and fail_on_severity.
var severityRank = map[models.Severity]int{
	models.SeverityError:   3,
	models.SeverityWarning: 2,
	models.SeverityInfo:    1,
}

// parseSeverity accepts any case and returns false for unknown values.
func parseSeverity(s string) (models.Severity, bool) {
	sev := models.Severity(strings.ToLower(strings.TrimSpace(s)))
	_, ok := severityRank[sev]
	return sev, ok
}
