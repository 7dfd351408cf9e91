package rules

import (
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

var skaffoldAPIRe = regexp.MustCompile(`^skaffold/v(\d+)`)

// minSkaffoldMajor is the oldest schema generation with the manifests
// section; earlier schemas are deprecated.
const minSkaffoldMajor = 3

// ── STRATEGY_SKAFFOLD ────────────────────────────────────────────────────────

// StrategySkaffoldRule validates skaffold.yaml: referenced files, schema
// version, pipeline completeness, tagging and deployer overlap.
type StrategySkaffoldRule struct{}

func (r StrategySkaffoldRule) ID() string   { return "STRATEGY_SKAFFOLD" }
func (r StrategySkaffoldRule) Name() string { return "Skaffold Configuration Invalid" }

func (r StrategySkaffoldRule) Evaluate(ctx RuleContext) []models.Issue {
	sk := ctx.Inventory.K8s.Skaffold
	if sk == nil {
		return nil
	}
	file := orDefault(sk.Path, "skaffold.yaml")
	dir := path.Dir(cleanRel(file))
	issue := func(sev models.Severity, format string, args ...any) models.Issue {
		return prefixedIssue(models.PrefixSkaffold, file, sev, format, args...)
	}

	var out []models.Issue
	for _, m := range sk.RawYaml {
		resolved, _ := resolveRel(dir, m)
		if len(ctx.Project.Glob(resolved)) == 0 {
			out = append(out, issue(models.SeverityError, "manifests.rawYaml entry %q matches no file", m))
		}
	}
	for _, a := range sk.Artifacts {
		ctxDir, _ := resolveRel(dir, orDefault(a.Context, "."))
		df, _ := resolveRel(ctxDir, orDefault(a.Dockerfile, "Dockerfile"))
		if !ctx.Project.FileExists(df) {
			out = append(out, issue(models.SeverityError, "artifact %q builds from %s which does not exist", a.Image, df))
		}
	}

	major := skaffoldMajor(sk.APIVersion)
	if major > 0 && major < minSkaffoldMajor {
		out = append(out, issue(models.SeverityWarning, "apiVersion %s is deprecated; run skaffold fix", sk.APIVersion))
	}

	hasManifests := len(sk.RawYaml) > 0 || len(sk.KustomizePaths) > 0 || sk.HasHelmManifests
	hasDeploy := len(sk.Deployers) > 0
	switch {
	case sk.ProfilesOnly:
		out = append(out, issue(models.SeverityInfo, "all configuration lives in profiles %s; the default pipeline is empty",
			"["+strings.Join(sk.Profiles, ", ")+"]"))
	case !hasManifests && !hasDeploy && sk.HasBuild:
		out = append(out, issue(models.SeverityWarning, "builds artifacts but has no deploy or manifests section"))
	case !hasManifests && !hasDeploy:
		out = append(out, issue(models.SeverityWarning, "has no deploy or manifests section"))
	}

	switch {
	case strings.EqualFold(sk.TagPolicy, "sha256"):
		out = append(out, issue(models.SeverityInfo, "tagPolicy sha256 tags images as latest; builds are not reproducible"))
	case sk.TagPolicy == "" && len(sk.Artifacts) > 0:
		out = append(out, issue(models.SeverityInfo,
			"no tagPolicy set; images get the default gitCommit tag, which is reused across builds of a dirty tree"))
	}

	helm := sk.HasHelmManifests || slices.Contains(sk.Deployers, "helm")
	if helm && len(sk.RawYaml) > 0 {
		out = append(out, issue(models.SeverityWarning,
			"deploys with both helm and manifests.rawYaml; ownership of overlapping resources is ambiguous"))
	}
	return out
}

func skaffoldMajor(apiVersion string) int {
	m := skaffoldAPIRe.FindStringSubmatch(apiVersion)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}
