package rules

import (
	"path"

	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// ── STRATEGY_KUSTOMIZE ───────────────────────────────────────────────────────

// StrategyKustomizeRule validates every kustomization: resource entries,
// components, generators, patches and deprecated fields.
type StrategyKustomizeRule struct{}

func (r StrategyKustomizeRule) ID() string   { return "STRATEGY_KUSTOMIZE" }
func (r StrategyKustomizeRule) Name() string { return "Kustomization Invalid" }

func (r StrategyKustomizeRule) Evaluate(ctx RuleContext) []models.Issue {
	kc := ctx.Inventory.K8s.Kustomize
	var out []models.Issue
	for _, k := range kc.Kustomizations {
		out = append(out, checkKustomization(ctx, k)...)
	}
	out = append(out, checkOverlayBase(ctx, kc)...)
	return out
}

func kustomizeIssue(k models.Kustomization, sev models.Severity, format string, args ...any) models.Issue {
	return prefixedIssue(models.PrefixKustomize, k.Path, sev, "%s: "+format, append([]any{k.Path}, args...)...)
}

func checkKustomization(ctx RuleContext, k models.Kustomization) []models.Issue {
	dir := path.Dir(cleanRel(k.Path))
	overlay := overlayEnv(k.Path) != ""
	var out []models.Issue

	seen := make(map[string]bool)
	for _, entry := range k.Resources {
		if seen[entry] {
			out = append(out, kustomizeIssue(k, models.SeverityError, "resources lists %q more than once", entry))
			continue
		}
		seen[entry] = true
		if isRemoteRef(entry) {
			continue
		}
		resolved, escapes := resolveRel(dir, entry)
		switch {
		case escapes:
			out = append(out, kustomizeIssue(k, models.SeverityError, "resource %q escapes the project root", entry))
		case isManifestFile(entry):
			if !ctx.Project.FileExists(resolved) {
				out = append(out, kustomizeIssue(k, models.SeverityError, "resource file %q does not exist", entry))
			}
		case !overlay && !ctx.Project.DirExists(resolved):
			out = append(out, kustomizeIssue(k, models.SeverityError, "resource directory %q does not exist", entry))
		}
	}
	for _, b := range k.Bases {
		if _, escapes := resolveRel(dir, b); escapes && !isRemoteRef(b) {
			out = append(out, kustomizeIssue(k, models.SeverityError, "base %q escapes the project root", b))
		}
	}
	if len(k.Bases) > 0 {
		out = append(out, kustomizeIssue(k, models.SeverityInfo, "uses the deprecated bases field; list bases under resources"))
	}
	for _, c := range k.Components {
		if isRemoteRef(c) {
			continue
		}
		resolved, escapes := resolveRel(dir, c)
		if escapes {
			out = append(out, kustomizeIssue(k, models.SeverityError, "component %q escapes the project root", c))
		} else if !ctx.Project.DirExists(resolved) {
			out = append(out, kustomizeIssue(k, models.SeverityError, "component directory %q does not exist", c))
		}
	}
	for _, g := range k.SecretGenerators {
		if len(g.Literals) > 0 {
			out = append(out, kustomizeIssue(k, models.SeverityWarning,
				"secretGenerator %q embeds %d literal secret value(s)", g.Name, len(g.Literals)))
		}
	}
	if !overlay {
		for _, p := range k.Patches {
			t := p.Target
			if t.Kind == "" || t.Name == "" {
				continue
			}
			if !ctx.Index.HasName(t.Kind, t.Name) {
				out = append(out, kustomizeIssue(k, models.SeverityWarning,
					"patch target %s/%s matches no declared resource", t.Kind, t.Name))
			}
		}
	}
	if len(k.CommonLabels) > 0 {
		out = append(out, kustomizeIssue(k, models.SeverityInfo,
			"uses commonLabels, which also rewrites immutable selector.matchLabels; prefer labels with includeSelectors: false"))
	}
	if k.Namespace != "" {
		out = append(out, namespaceOverrides(ctx.Index, k, dir)...)
	}
	return out
}

func namespaceOverrides(ix *k8sview.Index, k models.Kustomization, dir string) []models.Issue {
	var out []models.Issue
	for _, obj := range ix.All() {
		if !underDir(obj.File(), dir) || !obj.ExplicitNamespace() || obj.Namespace() == k.Namespace {
			continue
		}
		out = append(out, kustomizeIssue(k, models.SeverityInfo,
			"namespace %q overrides the hardcoded namespace %q of %s", k.Namespace, obj.Namespace(), obj.ID()))
	}
	return out
}

// checkOverlayBase warns when overlays exist but no base kustomization
// does.
func checkOverlayBase(ctx RuleContext, kc models.KustomizeConfig) []models.Issue {
	var overlays []models.Kustomization
	hasBase := false
	for _, k := range kc.Kustomizations {
		if overlayEnv(k.Path) != "" {
			overlays = append(overlays, k)
		} else {
			hasBase = true
		}
	}
	if len(overlays) == 0 && len(kc.Overlays) == 0 {
		return nil
	}
	if hasBase {
		return nil
	}
	for _, d := range []string{"base", "bases", "k8s/base", "kustomize/base", "deploy/base"} {
		if ctx.Project.Known() && ctx.Project.DirExists(d) {
			return nil
		}
	}
	file := kc.Path
	if len(overlays) > 0 {
		file = overlays[0].Path
	}
	return []models.Issue{prefixedIssue(models.PrefixKustomize, orDefault(file, FileDeploymentStrategy), models.SeverityWarning,
		"overlays exist but no base kustomization was found")}
}
