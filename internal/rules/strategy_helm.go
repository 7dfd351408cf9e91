package rules

import (
	"path"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/policy"
)

// defaultLargeChartFiles is the file count above which a chart should ship
// a .helmignore.
const defaultLargeChartFiles = 25

// ── STRATEGY_HELM ────────────────────────────────────────────────────────────

// StrategyHelmRule validates the layout and metadata of every chart.
type StrategyHelmRule struct{}

func (r StrategyHelmRule) ID() string   { return "STRATEGY_HELM" }
func (r StrategyHelmRule) Name() string { return "Helm Chart Invalid" }

func (r StrategyHelmRule) Evaluate(ctx RuleContext) []models.Issue {
	large := policy.GetIntThreshold(r.ID(), "large_chart_files", defaultLargeChartFiles, ctx.Policy)
	var out []models.Issue
	for _, c := range ctx.Inventory.K8s.HelmCharts {
		out = append(out, checkChart(c, large)...)
	}
	return out
}

func chartName(c models.HelmChart) string {
	if c.Name != "" {
		return c.Name
	}
	return path.Base(cleanRel(c.Path))
}

func checkChart(c models.HelmChart, large int) []models.Issue {
	name := chartName(c)
	library := strings.EqualFold(c.Type, "library")
	issue := func(sev models.Severity, format string, args ...any) models.Issue {
		return prefixedIssue(models.PrefixHelm, c.Path, sev, "chart %q "+format, append([]any{name}, args...)...)
	}

	var out []models.Issue
	if c.Name == "" {
		out = append(out, issue(models.SeverityError, "Chart.yaml is missing the required name field"))
	}
	if c.Version == "" {
		out = append(out, issue(models.SeverityError, "Chart.yaml is missing the required version field"))
	} else if _, err := semver.StrictNewVersion(c.Version); err != nil {
		out = append(out, issue(models.SeverityWarning, "version %q is not valid SemVer 2", c.Version))
	}
	if c.APIVersion == "v1" {
		out = append(out, issue(models.SeverityWarning, "uses deprecated apiVersion v1; use v2"))
	}
	if !library && !c.HasTemplates {
		out = append(out, issue(models.SeverityError, "has no templates/ directory; an application chart renders nothing"))
	}
	if library {
		for _, t := range c.TemplateFiles {
			if !strings.HasPrefix(path.Base(t), "_") {
				out = append(out, issue(models.SeverityWarning, "is a library chart but templates/%s is not a helper (_*) file", t))
			}
		}
	}
	if !c.HasValues {
		out = append(out, issue(models.SeverityWarning, "has no values.yaml"))
	}
	if len(c.Dependencies) > 0 && !c.HasLockfile {
		out = append(out, issue(models.SeverityInfo, "declares dependencies but has no Chart.lock"))
	}
	if c.HasSubcharts && len(c.Dependencies) == 0 {
		out = append(out, issue(models.SeverityInfo, "has a charts/ directory but declares no dependencies"))
	}
	for _, d := range c.Dependencies {
		if strings.HasPrefix(d.Repository, "file://") {
			out = append(out, issue(models.SeverityWarning, "dependency %q uses local repository %s", d.Name, d.Repository))
		}
	}
	if c.FileCount > large && !c.HasHelmignore {
		out = append(out, issue(models.SeverityInfo, "has %d files and no .helmignore", c.FileCount))
	}
	if !library && c.HasTemplates {
		if !c.HasNotes {
			out = append(out, issue(models.SeverityInfo, "has no templates/NOTES.txt"))
		}
		if !c.HasHelpers {
			out = append(out, issue(models.SeverityInfo, "has no templates/_helpers.tpl"))
		}
	}
	if !c.HasSchema {
		out = append(out, issue(models.SeverityInfo, "has no values.schema.json"))
	}
	return out
}
