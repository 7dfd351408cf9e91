package rules

import (
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/pankaj-dahiya-devops/iacvet/internal/imageref"
	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// ── STRATEGY_RAW ─────────────────────────────────────────────────────────────

// StrategyRawRule validates manifests applied directly with kubectl: they
// get no templating and no generated objects, so everything they need must
// be literally present in the manifest set.
type StrategyRawRule struct{}

func (r StrategyRawRule) ID() string   { return "STRATEGY_RAW" }
func (r StrategyRawRule) Name() string { return "Raw Manifests Incomplete" }

func (r StrategyRawRule) Evaluate(ctx RuleContext) []models.Issue {
	if !ctx.Strategy.Uses(StrategyRaw) {
		return nil
	}
	var raw []k8sview.Object
	for _, obj := range ctx.Index.All() {
		if ctx.Strategy.Origin(obj.File()) == StrategyRaw {
			raw = append(raw, obj)
		}
	}
	if len(raw) == 0 {
		return nil
	}
	var out []models.Issue
	out = append(out, rawPlaceholders(raw)...)
	out = append(out, rawNamespaces(ctx, raw)...)
	out = append(out, rawCustomKinds(ctx, raw)...)
	out = append(out, rawPlaintextSecrets(ctx, raw)...)
	out = append(out, rawEnvFrom(ctx, raw)...)
	out = append(out, rawSelectors(ctx, raw)...)
	out = append(out, rawIngressBackends(ctx, raw)...)
	out = append(out, rawStorageClasses(ctx, raw)...)
	return out
}

// rawPlaceholders emits one warning per file listing every ${VAR} that
// kubectl would apply verbatim.
func rawPlaceholders(raw []k8sview.Object) []models.Issue {
	vars := make(map[string][]string)
	var files []string
	for _, obj := range raw {
		k8sview.Strings(obj.Raw(), func(s string) {
			found := imageref.Placeholders(s)
			if len(found) == 0 {
				return
			}
			if _, seen := vars[obj.File()]; !seen {
				files = append(files, obj.File())
			}
			vars[obj.File()] = append(vars[obj.File()], found...)
		})
	}
	var out []models.Issue
	for _, f := range files {
		out = append(out, prefixedIssue(models.PrefixRawKubectl, f, models.SeverityWarning,
			"unresolved placeholders %s; kubectl applies them literally, render the file with envsubst first",
			strings.Join(uniqueSorted(vars[f]), ", ")))
	}
	return out
}

func rawNamespaces(ctx RuleContext, raw []k8sview.Object) []models.Issue {
	var out []models.Issue
	reported := make(map[string]bool)
	for _, obj := range raw {
		ns := obj.Namespace()
		if k8sview.IsClusterScoped(obj.Kind()) || ns == "" || k8sview.IsBuiltinNamespace(ns) || reported[ns] {
			continue
		}
		if ctx.Index.Has("Namespace", "", ns) {
			continue
		}
		reported[ns] = true
		out = append(out, prefixedIssue(models.PrefixRawKubectl, obj.File(), models.SeverityWarning,
			"%s uses namespace %q which no Namespace manifest creates", obj.ID(), ns))
	}
	return out
}

func rawCustomKinds(ctx RuleContext, raw []k8sview.Object) []models.Issue {
	declared := declaredCRDKinds(ctx.Index)
	served := make(map[string]bool)
	for _, r := range ctx.Inventory.Cluster.APIResources {
		served[r] = true
	}
	var out []models.Issue
	reported := make(map[string]bool)
	for _, obj := range raw {
		av := obj.APIVersion()
		if av == "" || k8sview.IsBuiltinGroup(av) || declared[obj.Kind()] || served[av+"/"+obj.Kind()] {
			continue
		}
		if reported[av+"/"+obj.Kind()] {
			continue
		}
		reported[av+"/"+obj.Kind()] = true
		out = append(out, prefixedIssue(models.PrefixRawKubectl, obj.File(), models.SeverityError,
			"%s uses custom kind %s (%s) with no CustomResourceDefinition in the manifest set; the API server will reject it",
			obj.ID(), obj.Kind(), av))
	}
	return out
}

func rawPlaintextSecrets(ctx RuleContext, raw []k8sview.Object) []models.Issue {
	if len(ctx.Index.ByKind("SealedSecret", "ExternalSecret")) > 0 {
		return nil
	}
	var out []models.Issue
	for _, obj := range raw {
		s, ok := obj.(*k8sview.Secret)
		if !ok || len(s.Obj.Data)+len(s.Obj.StringData) == 0 {
			continue
		}
		if strings.HasPrefix(string(s.Obj.Type), "kubernetes.io/service-account-token") {
			continue
		}
		out = append(out, prefixedIssue(models.PrefixRawKubectl, obj.File(), models.SeverityWarning,
			"%s commits secret values in plain text; use SealedSecrets or ExternalSecrets", obj.ID()))
	}
	return out
}

func rawEnvFrom(ctx RuleContext, raw []k8sview.Object) []models.Issue {
	var out []models.Issue
	for _, obj := range raw {
		w, ok := obj.(k8sview.Workload)
		if !ok {
			continue
		}
		for _, c := range k8sview.AllContainers(w) {
			for _, ef := range c.EnvFrom {
				kind, name, optional := "", "", false
				switch {
				case ef.ConfigMapRef != nil:
					kind, name = "ConfigMap", ef.ConfigMapRef.Name
					optional = ef.ConfigMapRef.Optional != nil && *ef.ConfigMapRef.Optional
				case ef.SecretRef != nil:
					kind, name = "Secret", ef.SecretRef.Name
					optional = ef.SecretRef.Optional != nil && *ef.SecretRef.Optional
				}
				if name == "" || optional || ctx.Index.Has(kind, w.Namespace(), name) {
					continue
				}
				out = append(out, prefixedIssue(models.PrefixRawKubectl, obj.File(), models.SeverityWarning,
					"%s/%s envFrom %s %q has no manifest", w.ID(), c.Name, kind, name))
			}
		}
	}
	return out
}

func rawSelectors(ctx RuleContext, raw []k8sview.Object) []models.Issue {
	var out []models.Issue
	for _, obj := range raw {
		svc, ok := obj.(*k8sview.Service)
		if !ok || len(svc.Obj.Spec.Selector) == 0 {
			continue
		}
		if len(selectedWorkloads(ctx.Index, svc)) == 0 {
			out = append(out, prefixedIssue(models.PrefixRawKubectl, obj.File(), models.SeverityWarning,
				"%s selector %s matches no workload in the manifest set", svc.ID(), formatLabels(svc.Obj.Spec.Selector)))
		}
	}
	return out
}

func rawIngressBackends(ctx RuleContext, raw []k8sview.Object) []models.Issue {
	var out []models.Issue
	for _, obj := range raw {
		ing, ok := obj.(*k8sview.Ingress)
		if !ok {
			continue
		}
		for _, name := range uniqueSorted(ing.BackendServices()) {
			if !ctx.Index.Has("Service", ing.Namespace(), name) {
				out = append(out, prefixedIssue(models.PrefixRawKubectl, obj.File(), models.SeverityWarning,
					"%s routes to Service %q which is not in the manifest set", ing.ID(), name))
			}
		}
	}
	return out
}

func rawStorageClasses(ctx RuleContext, raw []k8sview.Object) []models.Issue {
	var out []models.Issue
	for _, obj := range raw {
		if obj.Kind() != "PersistentVolumeClaim" {
			continue
		}
		sc, _, _ := unstructured.NestedString(obj.Raw(), "spec", "storageClassName")
		if sc == "" || ctx.Index.Has("StorageClass", "", sc) {
			continue
		}
		out = append(out, prefixedIssue(models.PrefixRawKubectl, obj.File(), models.SeverityInfo,
			"%s requests StorageClass %q which is not in the manifest set", obj.ID(), sc))
	}
	return out
}
