package rules

import (
	"fmt"
	"slices"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// podRef is one name reference made by a pod spec.
type podRef struct {
	Kind     string
	Name     string
	Via      string
	Optional bool
}

// podReferences extracts every Secret, ConfigMap and PVC reference from a
// pod spec, deduplicated by kind and name in declaration order.
func podReferences(spec corev1.PodSpec) []podRef {
	var refs []podRef
	seen := make(map[string]bool)
	add := func(kind, name, via string, optional *bool) {
		if name == "" || seen[kind+"/"+name] {
			return
		}
		seen[kind+"/"+name] = true
		refs = append(refs, podRef{Kind: kind, Name: name, Via: via, Optional: optional != nil && *optional})
	}
	containers := append(append([]corev1.Container{}, spec.InitContainers...), spec.Containers...)
	for _, c := range containers {
		for _, e := range c.Env {
			if e.ValueFrom == nil {
				continue
			}
			if s := e.ValueFrom.SecretKeyRef; s != nil {
				add("Secret", s.Name, "secretKeyRef", s.Optional)
			}
			if cm := e.ValueFrom.ConfigMapKeyRef; cm != nil {
				add("ConfigMap", cm.Name, "configMapKeyRef", cm.Optional)
			}
		}
		for _, ef := range c.EnvFrom {
			if s := ef.SecretRef; s != nil {
				add("Secret", s.Name, "envFrom", s.Optional)
			}
			if cm := ef.ConfigMapRef; cm != nil {
				add("ConfigMap", cm.Name, "envFrom", cm.Optional)
			}
		}
	}
	for _, v := range spec.Volumes {
		switch {
		case v.Secret != nil:
			add("Secret", v.Secret.SecretName, "volume "+v.Name, v.Secret.Optional)
		case v.ConfigMap != nil:
			add("ConfigMap", v.ConfigMap.Name, "volume "+v.Name, v.ConfigMap.Optional)
		case v.PersistentVolumeClaim != nil:
			add("PersistentVolumeClaim", v.PersistentVolumeClaim.ClaimName, "volume "+v.Name, nil)
		}
	}
	return refs
}

// resolver answers "does this referenced object exist" including objects
// that other mechanisms (kustomize generators, sealed/external secrets)
// will create.
type resolver struct {
	ix        *k8sview.Index
	generated map[string]bool
}

func newResolver(ctx RuleContext) *resolver {
	r := &resolver{ix: ctx.Index, generated: make(map[string]bool)}
	for _, k := range ctx.Inventory.K8s.Kustomize.Kustomizations {
		for _, g := range k.SecretGenerators {
			r.generated["Secret/"+g.Name] = true
		}
		for _, name := range k.ConfigGenerators {
			r.generated["ConfigMap/"+name] = true
		}
	}
	for _, obj := range ctx.Index.ByKind("SealedSecret", "ExternalSecret") {
		name := obj.Name()
		if target, _, _ := unstructured.NestedString(obj.Raw(), "spec", "target", "name"); target != "" {
			name = target
		}
		r.generated["Secret/"+name] = true
	}
	return r
}

func (r *resolver) exists(kind, namespace, name string) bool {
	return r.ix.Has(kind, namespace, name) || r.generated[kind+"/"+name]
}

// ── REF_SELECTOR ─────────────────────────────────────────────────────────────

// RefSelectorRule fires for each Service whose selector is not a subset of
// the pod-template labels of any workload in its namespace.
type RefSelectorRule struct{}

func (r RefSelectorRule) ID() string   { return "REF_SELECTOR" }
func (r RefSelectorRule) Name() string { return "Service Selector Matches No Workload" }

func (r RefSelectorRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, svc := range ctx.Index.Services() {
		sel := svc.Obj.Spec.Selector
		if len(sel) == 0 {
			continue
		}
		if len(selectedWorkloads(ctx.Index, svc)) == 0 {
			out = append(out, objectIssue(svc, models.SeverityWarning,
				"selector %s routes to nothing (no workload in namespace %s has matching pod labels)",
				formatLabels(sel), svc.Namespace()))
		}
	}
	return out
}

// selectedWorkloads returns the workloads in svc's namespace whose pod
// template labels satisfy its selector.
func selectedWorkloads(ix *k8sview.Index, svc *k8sview.Service) []k8sview.Workload {
	var out []k8sview.Workload
	for _, w := range ix.Workloads() {
		if w.Namespace() != svc.Namespace() {
			continue
		}
		if k8sview.SelectorMatches(svc.Obj.Spec.Selector, w.PodTemplate().Labels) {
			out = append(out, w)
		}
	}
	return out
}

// ── REF_MISSING ──────────────────────────────────────────────────────────────

// RefMissingRule resolves every Secret, ConfigMap, PVC, ServiceAccount and
// HPA target reference against the namespace-scoped index.
type RefMissingRule struct{}

func (r RefMissingRule) ID() string   { return "REF_MISSING" }
func (r RefMissingRule) Name() string { return "Referenced Resource Not Found" }

func (r RefMissingRule) Evaluate(ctx RuleContext) []models.Issue {
	res := newResolver(ctx)
	var out []models.Issue
	for _, w := range ctx.Index.Workloads() {
		spec := w.PodTemplate().Spec
		for _, ref := range podReferences(spec) {
			if ref.Optional || res.exists(ref.Kind, w.Namespace(), ref.Name) {
				continue
			}
			out = append(out, objectIssue(w, models.SeverityWarning,
				"references %s %q (%s) which is not defined in namespace %s", ref.Kind, ref.Name, ref.Via, w.Namespace()))
		}
		if sa := spec.ServiceAccountName; sa != "" && sa != "default" && !res.exists("ServiceAccount", w.Namespace(), sa) {
			out = append(out, objectIssue(w, models.SeverityInfo,
				"serviceAccountName %q is not defined in namespace %s (may be provisioned externally)", sa, w.Namespace()))
		}
	}
	for _, obj := range ctx.Index.ByKind("HorizontalPodAutoscaler") {
		hpa, ok := obj.(*k8sview.HPA)
		if !ok {
			continue
		}
		t := hpa.Obj.Spec.ScaleTargetRef
		if t.Name == "" || !k8sview.IsBuiltinKind(t.Kind) {
			continue
		}
		if !ctx.Index.Has(t.Kind, hpa.Namespace(), t.Name) {
			out = append(out, objectIssue(hpa, models.SeverityWarning,
				"scaleTargetRef %s/%s is not defined in namespace %s", t.Kind, t.Name, hpa.Namespace()))
		}
	}
	return out
}

// ── REF_PORT ─────────────────────────────────────────────────────────────────

// RefPortRule compares each Service targetPort with the container ports of
// the workloads it selects.
type RefPortRule struct{}

func (r RefPortRule) ID() string   { return "REF_PORT" }
func (r RefPortRule) Name() string { return "Service targetPort Not Exposed" }

func (r RefPortRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, svc := range ctx.Index.Services() {
		for _, w := range selectedWorkloads(ctx.Index, svc) {
			numbers, names := containerPorts(w)
			if len(numbers) == 0 && len(names) == 0 {
				continue
			}
			for _, sp := range svc.Obj.Spec.Ports {
				target := sp.TargetPort
				if target.Type == intstr.Int && target.IntVal == 0 && target.StrVal == "" {
					target = intstr.FromInt32(sp.Port)
				}
				switch target.Type {
				case intstr.String:
					if !names[target.StrVal] {
						out = append(out, objectIssue(svc, models.SeverityWarning,
							"targetPort %q is not a named port of %s", target.StrVal, w.ID()))
					}
				default:
					if !numbers[target.IntVal] {
						out = append(out, objectIssue(svc, models.SeverityWarning,
							"targetPort %d is not exposed by any container of %s (ports: %s)",
							target.IntVal, w.ID(), formatPorts(numbers)))
					}
				}
			}
		}
	}
	return out
}

func containerPorts(w k8sview.Workload) (map[int32]bool, map[string]bool) {
	numbers := make(map[int32]bool)
	names := make(map[string]bool)
	for _, c := range k8sview.Containers(w) {
		for _, p := range c.Ports {
			numbers[p.ContainerPort] = true
			if p.Name != "" {
				names[p.Name] = true
			}
		}
	}
	return numbers, names
}

func formatPorts(m map[int32]bool) string {
	ports := make([]int32, 0, len(m))
	for p := range m {
		ports = append(ports, p)
	}
	slices.Sort(ports)
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ",")
}

// ── REF_STATEFULSET_SERVICE ──────────────────────────────────────────────────

// RefStatefulSetServiceRule requires the governing Service named by
// serviceName to exist and be headless.
type RefStatefulSetServiceRule struct{}

func (r RefStatefulSetServiceRule) ID() string   { return "REF_STATEFULSET_SERVICE" }
func (r RefStatefulSetServiceRule) Name() string { return "StatefulSet Governing Service Invalid" }

func (r RefStatefulSetServiceRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, obj := range ctx.Index.ByKind("StatefulSet") {
		sts, ok := obj.(*k8sview.StatefulSet)
		if !ok || sts.Obj.Spec.ServiceName == "" {
			continue
		}
		name := sts.Obj.Spec.ServiceName
		found, ok := ctx.Index.Lookup("Service", sts.Namespace(), name)
		if !ok {
			out = append(out, objectIssue(sts, models.SeverityWarning,
				"governing Service %q is not defined in namespace %s", name, sts.Namespace()))
			continue
		}
		if svc, ok := found.(*k8sview.Service); ok && !svc.Headless() {
			out = append(out, objectIssue(sts, models.SeverityError,
				"governing Service %q must be headless (clusterIP: None)", name))
		}
	}
	return out
}

// ── REF_PVC_ACCESS ───────────────────────────────────────────────────────────

// RefPVCAccessRule fires when a ReadWriteOnce claim is mounted by a
// workload that runs more than one replica.
type RefPVCAccessRule struct{}

func (r RefPVCAccessRule) ID() string   { return "REF_PVC_ACCESS" }
func (r RefPVCAccessRule) Name() string { return "ReadWriteOnce Volume Shared By Replicas" }

func (r RefPVCAccessRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, w := range ctx.Index.Workloads() {
		replicas := w.Replicas()
		if replicas == nil || *replicas <= 1 {
			continue
		}
		for _, v := range w.PodTemplate().Spec.Volumes {
			if v.PersistentVolumeClaim == nil {
				continue
			}
			obj, ok := ctx.Index.Lookup("PersistentVolumeClaim", w.Namespace(), v.PersistentVolumeClaim.ClaimName)
			if !ok {
				continue
			}
			if pvc, ok := obj.(*k8sview.PVC); ok && pvc.ReadWriteOnce() {
				out = append(out, objectIssue(w, models.SeverityError,
					"mounts ReadWriteOnce PVC %q but runs %d replicas", pvc.Name(), *replicas))
			}
		}
	}
	return out
}

// ── REF_NAMESPACE ────────────────────────────────────────────────────────────

// RefNamespaceRule fires when resources are split across namespaces that
// have no Namespace manifest.
type RefNamespaceRule struct{}

func (r RefNamespaceRule) ID() string   { return "REF_NAMESPACE" }
func (r RefNamespaceRule) Name() string { return "Namespaces Without Manifests" }

func (r RefNamespaceRule) Evaluate(ctx RuleContext) []models.Issue {
	namespaces := ctx.Index.Namespaces()
	if len(namespaces) < 2 {
		return nil
	}
	var out []models.Issue
	for _, ns := range namespaces {
		if k8sview.IsBuiltinNamespace(ns) || ctx.Index.Has("Namespace", "", ns) {
			continue
		}
		out = append(out, newIssue(firstFileInNamespace(ctx.Index, ns), models.SeverityWarning,
			"resources span namespaces %s but namespace %q has no Namespace manifest",
			strings.Join(namespaces, ", "), ns))
	}
	return out
}

func firstFileInNamespace(ix *k8sview.Index, ns string) string {
	for _, obj := range ix.All() {
		if !k8sview.IsClusterScoped(obj.Kind()) && obj.Namespace() == ns {
			return obj.File()
		}
	}
	return ""
}

// ── REF_UNREACHABLE ──────────────────────────────────────────────────────────

// RefUnreachableRule notes long-running workloads whose pods no Service
// selects.
type RefUnreachableRule struct{}

func (r RefUnreachableRule) ID() string   { return "REF_UNREACHABLE" }
func (r RefUnreachableRule) Name() string { return "Workload Not Selected By Any Service" }

func (r RefUnreachableRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, w := range ctx.Index.Workloads() {
		switch w.(type) {
		case *k8sview.Deployment, *k8sview.StatefulSet, *k8sview.DaemonSet:
		default:
			continue
		}
		podLabels := w.PodTemplate().Labels
		if len(podLabels) == 0 {
			continue
		}
		matched := false
		for _, svc := range ctx.Index.Services() {
			if svc.Namespace() == w.Namespace() && k8sview.SelectorMatches(svc.Obj.Spec.Selector, podLabels) {
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, objectIssue(w, models.SeverityInfo,
				"pod labels %s are not selected by any Service (unreachable)", formatLabels(podLabels)))
		}
	}
	return out
}
