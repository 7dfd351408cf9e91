package rules

import (
	"path"
	"strings"

	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/policy"
)

// defaultDevReplicaCeiling is the replica count above which a dev
// Deployment is considered oversized.
const defaultDevReplicaCeiling = 3

// ── ENV_DECLARED ─────────────────────────────────────────────────────────────

// EnvDeclaredRule fires for each declared environment that has neither a
// Kustomize overlay nor a Helm values-<env> file. Raw-manifest projects get
// an info per environment instead.
type EnvDeclaredRule struct{}

func (r EnvDeclaredRule) ID() string   { return "ENV_DECLARED" }
func (r EnvDeclaredRule) Name() string { return "Declared Environment Has No Configuration" }

func (r EnvDeclaredRule) Evaluate(ctx RuleContext) []models.Issue {
	k8s := ctx.Inventory.K8s
	if len(k8s.DeclaredEnvironments) == 0 {
		return nil
	}
	if !ctx.Strategy.Uses(StrategyHelm) && !ctx.Strategy.Uses(StrategyKustomize) {
		if !ctx.Strategy.Uses(StrategyRaw) {
			return nil
		}
		var out []models.Issue
		for _, env := range k8s.DeclaredEnvironments {
			out = append(out, newIssue(envSource(env), models.SeverityInfo,
				"environment %q is declared but raw manifests carry no per-environment configuration", env.Name))
		}
		return out
	}
	overlays := make(map[string]bool)
	for _, o := range k8s.Kustomize.Overlays {
		overlays[strings.ToLower(o)] = true
	}
	for _, k := range k8s.Kustomize.Kustomizations {
		if env := overlayEnv(k.Path); env != "" {
			overlays[strings.ToLower(env)] = true
		}
	}
	values := make(map[string]bool)
	for _, c := range k8s.HelmCharts {
		for _, f := range c.EnvValuesFiles {
			if env := valuesFileEnv(f); env != "" {
				values[strings.ToLower(env)] = true
			}
		}
	}

	var out []models.Issue
	for _, env := range k8s.DeclaredEnvironments {
		name := strings.ToLower(env.Name)
		if overlays[name] || values[name] {
			continue
		}
		out = append(out, newIssue(envSource(env), models.SeverityWarning,
			"environment %q is declared but has no overlays/%s directory or values-%s.yaml file",
			env.Name, env.Name, env.Name))
	}
	return out
}

func envSource(env models.Environment) string {
	if env.Source == "" {
		return FileEnvironments
	}
	return env.Source
}

// overlayEnv returns <env> for a kustomization under overlays/<env>/.
func overlayEnv(kustomizationPath string) string {
	parts := strings.Split(cleanRel(path.Dir(kustomizationPath)), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "overlays" {
			return parts[i+1]
		}
	}
	return ""
}

// valuesFileEnv returns <env> for values-<env>.yaml or values.<env>.yaml.
func valuesFileEnv(p string) string {
	base := path.Base(p)
	for _, ext := range []string{".yaml", ".yml"} {
		base = strings.TrimSuffix(base, ext)
	}
	for _, prefix := range []string{"values-", "values."} {
		if strings.HasPrefix(base, prefix) {
			return strings.TrimPrefix(base, prefix)
		}
	}
	return ""
}

// ── ENV_OVERLAY_INTEGRITY ────────────────────────────────────────────────────

// EnvOverlayIntegrityRule checks that every overlay's base directories
// exist and that every patch target names a resource of the base.
type EnvOverlayIntegrityRule struct{}

func (r EnvOverlayIntegrityRule) ID() string   { return "ENV_OVERLAY_INTEGRITY" }
func (r EnvOverlayIntegrityRule) Name() string { return "Kustomize Overlay Is Broken" }

func (r EnvOverlayIntegrityRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, k := range ctx.Inventory.K8s.Kustomize.Kustomizations {
		env := overlayEnv(k.Path)
		if env == "" {
			continue
		}
		dir := path.Dir(cleanRel(k.Path))
		var baseDirs []string
		for _, entry := range append(append([]string{}, k.Bases...), k.Resources...) {
			if isRemoteRef(entry) || isManifestFile(entry) {
				continue
			}
			resolved, escapes := resolveRel(dir, entry)
			if escapes {
				continue
			}
			if !ctx.Project.DirExists(resolved) {
				out = append(out, newIssue(k.Path, models.SeverityError,
					"overlay %q references base %q which does not exist", env, entry))
				continue
			}
			baseDirs = append(baseDirs, resolved)
		}
		out = append(out, checkOverlayPatches(ctx.Index, k, env, baseDirs)...)
	}
	return out
}

func checkOverlayPatches(ix *k8sview.Index, k models.Kustomization, env string, baseDirs []string) []models.Issue {
	if len(baseDirs) == 0 {
		return nil
	}
	var base []k8sview.Object
	for _, obj := range ix.All() {
		for _, d := range baseDirs {
			if underDir(obj.File(), d) {
				base = append(base, obj)
				break
			}
		}
	}
	if len(base) == 0 {
		return nil
	}
	var out []models.Issue
	for _, p := range k.Patches {
		t := p.Target
		if t.Kind == "" || t.Name == "" {
			continue
		}
		found := false
		for _, obj := range base {
			if obj.Kind() == t.Kind && obj.Name() == t.Name {
				found = true
				break
			}
		}
		if !found {
			out = append(out, newIssue(k.Path, models.SeverityError,
				"overlay %q patches %s/%s which is not declared in its base", env, t.Kind, t.Name))
		}
	}
	return out
}

func isManifestFile(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// ── ENV_PROD_SINGLE_REPLICA ──────────────────────────────────────────────────

// EnvProdSingleReplicaRule fires for Deployments in production-like
// namespaces that run one replica and have no HorizontalPodAutoscaler.
type EnvProdSingleReplicaRule struct{}

func (r EnvProdSingleReplicaRule) ID() string   { return "ENV_PROD_SINGLE_REPLICA" }
func (r EnvProdSingleReplicaRule) Name() string { return "Production Deployment Has One Replica" }

func (r EnvProdSingleReplicaRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, obj := range ctx.Index.ByKind("Deployment") {
		d, ok := obj.(*k8sview.Deployment)
		if !ok {
			continue
		}
		env := environmentOf(d)
		if !isProdLike(env) {
			continue
		}
		if d.Obj.Spec.Replicas != nil && *d.Obj.Spec.Replicas > 1 {
			continue
		}
		if hasHPAFor(ctx.Index, d) {
			continue
		}
		out = append(out, objectIssue(d, models.SeverityWarning,
			"runs a single replica with no HorizontalPodAutoscaler in production-like environment %q", env))
	}
	return out
}

// ── ENV_DEV_REPLICAS ─────────────────────────────────────────────────────────

// EnvDevReplicasRule notes dev Deployments above the replica ceiling
// (policy param max_replicas, default 3).
type EnvDevReplicasRule struct{}

func (r EnvDevReplicasRule) ID() string   { return "ENV_DEV_REPLICAS" }
func (r EnvDevReplicasRule) Name() string { return "Dev Deployment Oversized" }

func (r EnvDevReplicasRule) Evaluate(ctx RuleContext) []models.Issue {
	ceiling := policy.GetIntThreshold(r.ID(), "max_replicas", defaultDevReplicaCeiling, ctx.Policy)
	var out []models.Issue
	for _, obj := range ctx.Index.ByKind("Deployment") {
		d, ok := obj.(*k8sview.Deployment)
		if !ok || d.Obj.Spec.Replicas == nil {
			continue
		}
		env := environmentOf(d)
		if !isDevLike(env) || isProdLike(env) {
			continue
		}
		if n := int(*d.Obj.Spec.Replicas); n > ceiling {
			out = append(out, objectIssue(d, models.SeverityInfo,
				"runs %d replicas in dev environment %q (more than %d)", n, env, ceiling))
		}
	}
	return out
}

// environmentOf names the environment a resource deploys to: its explicit
// namespace, else the overlay directory it is declared in.
func environmentOf(obj k8sview.Object) string {
	if obj.ExplicitNamespace() {
		return obj.Namespace()
	}
	if env := overlayEnv(obj.File()); env != "" {
		return env
	}
	return obj.Namespace()
}

func hasHPAFor(ix *k8sview.Index, w k8sview.Object) bool {
	for _, obj := range ix.ByKind("HorizontalPodAutoscaler") {
		hpa, ok := obj.(*k8sview.HPA)
		if !ok || hpa.Namespace() != w.Namespace() {
			continue
		}
		t := hpa.Obj.Spec.ScaleTargetRef
		if t.Kind == w.Kind() && t.Name == w.Name() {
			return true
		}
	}
	return false
}
