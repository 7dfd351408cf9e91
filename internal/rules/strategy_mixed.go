package rules

import (
	"path"
	"strings"

	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// orchestratorKinds are the Argo CD and Flux kinds that reconcile Helm and
// Kustomize output from inside the cluster.
var orchestratorKinds = []string{"Application", "ApplicationSet", "HelmRelease", "Kustomization", "GitRepository"}

// ── STRATEGY_MIXED ───────────────────────────────────────────────────────────

// StrategyMixedRule detects resources owned by more than one deployment
// tool and manifests that no tool applies.
type StrategyMixedRule struct{}

func (r StrategyMixedRule) ID() string   { return "STRATEGY_MIXED" }
func (r StrategyMixedRule) Name() string { return "Deployment Strategies Overlap" }

func (r StrategyMixedRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	out = append(out, duplicateOwnership(ctx)...)
	out = append(out, orphanedManifests(ctx)...)

	deployers := ctx.Strategy.deployers()
	if len(deployers) > 1 && !hasDeploymentDocs(ctx.Inventory.Project.Files) {
		names := make([]string, len(deployers))
		for i, s := range deployers {
			names[i] = string(s)
		}
		out = append(out, prefixedIssue(models.PrefixMixed, FileDeploymentStrategy, models.SeverityInfo,
			"strategies %s are all active with no deployment documentation describing which owns what",
			strings.Join(names, ", ")))
	}
	if ctx.Strategy.Uses(StrategyHelm) && ctx.Strategy.Uses(StrategyKustomize) && !hasOrchestrator(ctx) {
		out = append(out, prefixedIssue(models.PrefixMixed, FileDeploymentStrategy, models.SeverityInfo,
			"Helm and Kustomize are both used with no orchestrator (Skaffold, Argo CD, Flux, helmfile) reconciling them"))
	}
	return out
}

type ownership struct {
	strategy Strategy
	file     string
}

// duplicateOwnership reports each (kind, namespace, name) rendered from
// files that belong to different strategies.
func duplicateOwnership(ctx RuleContext) []models.Issue {
	owners := make(map[k8sview.Key][]ownership)
	var order []k8sview.Key
	for _, obj := range ctx.Index.All() {
		if obj.Name() == "" {
			continue
		}
		key := k8sview.Key{Kind: obj.Kind(), Namespace: obj.Namespace(), Name: obj.Name()}
		if _, ok := owners[key]; !ok {
			order = append(order, key)
		}
		owners[key] = append(owners[key], ownership{strategy: ctx.Strategy.Origin(obj.File()), file: obj.File()})
	}
	var out []models.Issue
	for _, key := range order {
		list := owners[key]
		first := list[0]
		for _, o := range list[1:] {
			if o.strategy == first.strategy {
				continue
			}
			ns := key.Namespace
			if ns == "" {
				ns = "<cluster>"
			}
			out = append(out, prefixedIssue(models.PrefixMixed, o.file, models.SeverityWarning,
				"%s/%s in namespace %s is rendered by both %s (%s) and %s (%s)",
				key.Kind, key.Name, ns, first.strategy, first.file, o.strategy, o.file))
			break
		}
	}
	return out
}

// orphanedManifests reports YAML files that sit next to a kustomization but
// are not referenced by it.
func orphanedManifests(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, k := range ctx.Inventory.K8s.Kustomize.Kustomizations {
		dir := path.Dir(cleanRel(k.Path))
		listed := make(map[string]bool)
		mark := func(entries ...string) {
			for _, e := range entries {
				if resolved, _ := resolveRel(dir, e); resolved != "" {
					listed[resolved] = true
				}
			}
		}
		mark(k.Resources...)
		mark(k.Bases...)
		mark(k.Components...)
		for _, p := range k.Patches {
			mark(p.Path)
		}
		for _, g := range k.SecretGenerators {
			mark(g.Files...)
			mark(g.EnvFiles...)
		}
		for _, f := range ctx.Project.FilesIn(dir) {
			if !isManifestFile(f) || isKustomizationFile(f) || listed[f] {
				continue
			}
			out = append(out, prefixedIssue(models.PrefixMixed, f, models.SeverityWarning,
				"%s sits next to %s but is not listed in its resources (orphaned)", f, k.Path))
		}
	}
	return out
}

func isKustomizationFile(p string) bool {
	switch path.Base(p) {
	case "kustomization.yaml", "kustomization.yml", "Kustomization":
		return true
	}
	return false
}

func hasDeploymentDocs(files []string) bool {
	for _, f := range files {
		lower := strings.ToLower(cleanRel(f))
		if !strings.HasSuffix(lower, ".md") {
			continue
		}
		if strings.Contains(path.Base(lower), "deploy") || strings.HasPrefix(lower, "docs/deploy") {
			return true
		}
	}
	return false
}

func hasOrchestrator(ctx RuleContext) bool {
	if ctx.Strategy.Uses(StrategySkaffold) {
		return true
	}
	for _, obj := range ctx.Index.ByKind(orchestratorKinds...) {
		if av := obj.APIVersion(); strings.Contains(av, "argoproj.io") || strings.Contains(av, "fluxcd.io") {
			return true
		}
	}
	for _, f := range ctx.Inventory.Project.Files {
		switch path.Base(f) {
		case "helmfile.yaml", "helmfile.yml", "helmfile.yaml.gotmpl":
			return true
		}
	}
	return false
}
