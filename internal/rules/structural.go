package rules

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/pankaj-dahiya-devops/iacvet/internal/imageref"
	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// cronParser accepts the five-field schedules and @descriptors the CronJob
// controller accepts, with an optional CRON_TZ/TZ prefix.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// scalableKinds are the built-in kinds that expose a scale subresource.
var scalableKinds = map[string]bool{
	"Deployment":            true,
	"StatefulSet":           true,
	"ReplicaSet":            true,
	"ReplicationController": true,
}

// ── STRUCT_DECODE ────────────────────────────────────────────────────────────

// StructDecodeRule reports resources whose attributes cannot be decoded
// into their typed view. Such resources are skipped by every typed check.
type StructDecodeRule struct{}

func (r StructDecodeRule) ID() string   { return "STRUCT_DECODE" }
func (r StructDecodeRule) Name() string { return "Resource Cannot Be Decoded" }

func (r StructDecodeRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, f := range ctx.Index.Failures() {
		out = append(out, objectIssue(f.Object, models.SeverityError, "malformed resource, skipped: %v", f.Err))
	}
	return out
}

// ── STRUCT_METADATA ──────────────────────────────────────────────────────────

// StructMetadataRule checks metadata.name and apiVersion on every resource.
type StructMetadataRule struct{}

func (r StructMetadataRule) ID() string   { return "STRUCT_METADATA" }
func (r StructMetadataRule) Name() string { return "Resource Metadata Is Incomplete" }

func (r StructMetadataRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, obj := range ctx.Index.All() {
		if name, _, _ := unstructured.NestedString(obj.Raw(), "metadata", "name"); name == "" && obj.Name() == "" {
			out = append(out, objectIssue(obj, models.SeverityError, "metadata.name is required"))
		}
		av := obj.APIVersion()
		switch {
		case av == "":
			out = append(out, objectIssue(obj, models.SeverityError, "apiVersion is required"))
		case k8sview.IsBuiltinGroup(av) && !k8sview.KnownAPIVersion(obj.Kind(), av):
			if want := k8sview.PreferredAPIVersions(obj.Kind()); len(want) > 0 {
				out = append(out, objectIssue(obj, models.SeverityWarning,
					"unrecognized apiVersion %q (expected %s)", av, strings.Join(want, " or ")))
			} else {
				out = append(out, objectIssue(obj, models.SeverityWarning, "unrecognized apiVersion %q", av))
			}
		}
	}
	return out
}

// ── STRUCT_WORKLOAD ──────────────────────────────────────────────────────────

// StructWorkloadRule dispatches kind-specific shape checks over the typed
// views of Deployments, StatefulSets, DaemonSets, Jobs and CronJobs.
type StructWorkloadRule struct{}

func (r StructWorkloadRule) ID() string   { return "STRUCT_WORKLOAD" }
func (r StructWorkloadRule) Name() string { return "Workload Spec Is Invalid" }

func (r StructWorkloadRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, obj := range ctx.Index.All() {
		switch v := obj.(type) {
		case *k8sview.Deployment:
			out = append(out, checkControllerSelector(v)...)
			out = append(out, checkHasContainers(v)...)
			if v.Obj.Spec.Replicas == nil {
				out = append(out, objectIssue(v, models.SeverityWarning, "spec.replicas not set (defaults to 1)"))
			}
			if v.Obj.Spec.Strategy.Type == "" {
				out = append(out, objectIssue(v, models.SeverityInfo, "no spec.strategy set (defaults to RollingUpdate)"))
			}
		case *k8sview.StatefulSet:
			if v.Obj.Spec.ServiceName == "" {
				out = append(out, objectIssue(v, models.SeverityError, "spec.serviceName is required"))
			}
			out = append(out, checkControllerSelector(v)...)
			out = append(out, checkHasContainers(v)...)
		case *k8sview.DaemonSet:
			if _, found, _ := unstructured.NestedFieldNoCopy(v.Raw(), "spec", "replicas"); found {
				out = append(out, objectIssue(v, models.SeverityWarning, "spec.replicas is ignored by DaemonSets (one pod per node)"))
			}
			out = append(out, checkControllerSelector(v)...)
			out = append(out, checkHasContainers(v)...)
		case *k8sview.Job:
			out = append(out, checkJobSpec(v, v.Obj.Spec, "spec")...)
			out = append(out, checkHasContainers(v)...)
		case *k8sview.CronJob:
			out = append(out, checkCronJob(v)...)
			out = append(out, checkJobSpec(v, v.Obj.Spec.JobTemplate.Spec, "spec.jobTemplate.spec")...)
			out = append(out, checkHasContainers(v)...)
		}
	}
	return out
}

// checkControllerSelector requires a selector and that it selects the
// controller's own pod template.
func checkControllerSelector(w k8sview.Workload) []models.Issue {
	sel := w.Selector()
	if sel == nil || (len(sel.MatchLabels) == 0 && len(sel.MatchExpressions) == 0) {
		return []models.Issue{objectIssue(w, models.SeverityError, "spec.selector is required")}
	}
	if !k8sview.LabelSelectorMatches(sel, w.PodTemplate().Labels) {
		return []models.Issue{objectIssue(w, models.SeverityError,
			"spec.selector does not match spec.template.metadata.labels %s", formatLabels(w.PodTemplate().Labels))}
	}
	return nil
}

func checkHasContainers(w k8sview.Workload) []models.Issue {
	if len(k8sview.Containers(w)) == 0 {
		return []models.Issue{objectIssue(w, models.SeverityError, "pod template has no containers")}
	}
	return nil
}

func checkJobSpec(obj k8sview.Object, spec batchv1.JobSpec, field string) []models.Issue {
	var out []models.Issue
	if spec.BackoffLimit != nil && *spec.BackoffLimit < 0 {
		out = append(out, objectIssue(obj, models.SeverityError, "%s.backoffLimit must be >= 0 (got %d)", field, *spec.BackoffLimit))
	}
	if spec.Parallelism != nil && spec.Completions != nil && *spec.Parallelism > *spec.Completions {
		out = append(out, objectIssue(obj, models.SeverityWarning,
			"%s.parallelism (%d) exceeds completions (%d)", field, *spec.Parallelism, *spec.Completions))
	}
	switch spec.Template.Spec.RestartPolicy {
	case corev1.RestartPolicyNever, corev1.RestartPolicyOnFailure:
	default:
		out = append(out, objectIssue(obj, models.SeverityError,
			"%s.template.spec.restartPolicy must be Never or OnFailure", field))
	}
	return out
}

func checkCronJob(c *k8sview.CronJob) []models.Issue {
	var out []models.Issue
	schedule := strings.TrimSpace(c.Obj.Spec.Schedule)
	if schedule == "" {
		out = append(out, objectIssue(c, models.SeverityError, "spec.schedule is required"))
	} else if _, err := cronParser.Parse(schedule); err != nil {
		out = append(out, objectIssue(c, models.SeverityError, "invalid cron schedule %q: %v", schedule, err))
	}
	switch c.Obj.Spec.ConcurrencyPolicy {
	case "", batchv1.AllowConcurrent, batchv1.ForbidConcurrent, batchv1.ReplaceConcurrent:
	default:
		out = append(out, objectIssue(c, models.SeverityWarning,
			"spec.concurrencyPolicy %q is not one of Allow, Forbid, Replace", c.Obj.Spec.ConcurrencyPolicy))
	}
	return out
}

// ── STRUCT_SERVICE ───────────────────────────────────────────────────────────

// StructServiceRule requires ports on Services that proxy traffic.
type StructServiceRule struct{}

func (r StructServiceRule) ID() string   { return "STRUCT_SERVICE" }
func (r StructServiceRule) Name() string { return "Service Spec Is Invalid" }

func (r StructServiceRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, svc := range ctx.Index.Services() {
		if svc.Obj.Spec.Type == corev1.ServiceTypeExternalName {
			if svc.Obj.Spec.ExternalName == "" {
				out = append(out, objectIssue(svc, models.SeverityError, "type ExternalName requires spec.externalName"))
			}
			continue
		}
		if len(svc.Obj.Spec.Ports) == 0 && !svc.Headless() {
			out = append(out, objectIssue(svc, models.SeverityError, "spec.ports is empty"))
		}
	}
	return out
}

// ── STRUCT_INGRESS ───────────────────────────────────────────────────────────

// StructIngressRule checks pathType and ingress class on every Ingress.
type StructIngressRule struct{}

func (r StructIngressRule) ID() string   { return "STRUCT_INGRESS" }
func (r StructIngressRule) Name() string { return "Ingress Spec Is Invalid" }

func (r StructIngressRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, obj := range ctx.Index.ByKind("Ingress") {
		ing, ok := obj.(*k8sview.Ingress)
		if !ok {
			continue
		}
		for _, rule := range ing.Obj.Spec.Rules {
			if rule.HTTP == nil {
				continue
			}
			for _, p := range rule.HTTP.Paths {
				if p.PathType == nil {
					out = append(out, objectIssue(ing, models.SeverityError,
						"path %q on host %q has no pathType", p.Path, hostOrWildcard(rule.Host)))
				}
			}
		}
		if ing.Obj.Spec.IngressClassName == nil && ing.Annotations()["kubernetes.io/ingress.class"] == "" {
			out = append(out, objectIssue(ing, models.SeverityWarning, "no spec.ingressClassName set"))
		}
	}
	return out
}

func hostOrWildcard(h string) string {
	if h == "" {
		return "*"
	}
	return h
}

// ── STRUCT_HPA ───────────────────────────────────────────────────────────────

// StructHPARule checks replica bounds, target kind and metrics on every
// HorizontalPodAutoscaler.
type StructHPARule struct{}

func (r StructHPARule) ID() string   { return "STRUCT_HPA" }
func (r StructHPARule) Name() string { return "HorizontalPodAutoscaler Spec Is Invalid" }

func (r StructHPARule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, obj := range ctx.Index.ByKind("HorizontalPodAutoscaler") {
		hpa, ok := obj.(*k8sview.HPA)
		if !ok {
			continue
		}
		minR := int32(1)
		if hpa.Obj.Spec.MinReplicas != nil {
			minR = *hpa.Obj.Spec.MinReplicas
		}
		if maxR := hpa.Obj.Spec.MaxReplicas; minR >= maxR {
			out = append(out, objectIssue(hpa, models.SeverityError,
				"minReplicas (%d) must be less than maxReplicas (%d)", minR, maxR))
		}
		target := hpa.Obj.Spec.ScaleTargetRef
		if k8sview.IsBuiltinKind(target.Kind) && !scalableKinds[target.Kind] {
			out = append(out, objectIssue(hpa, models.SeverityError,
				"scaleTargetRef kind %s is not scalable", target.Kind))
		}
		if !hpa.HasMetrics() {
			out = append(out, objectIssue(hpa, models.SeverityWarning, "no metrics defined"))
		}
	}
	return out
}

// ── STRUCT_CONTAINER ─────────────────────────────────────────────────────────

// StructContainerRule runs the per-container checks shared by every
// workload kind: resources, probes, securityContext and image pinning.
type StructContainerRule struct{}

func (r StructContainerRule) ID() string   { return "STRUCT_CONTAINER" }
func (r StructContainerRule) Name() string { return "Container Spec Is Incomplete" }

func (r StructContainerRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, w := range ctx.Index.Workloads() {
		for _, c := range k8sview.Containers(w) {
			out = append(out, checkContainer(w, c)...)
		}
	}
	return out
}

func checkContainer(w k8sview.Workload, c corev1.Container) []models.Issue {
	var out []models.Issue
	if len(c.Resources.Limits) == 0 {
		out = append(out, containerIssue(w, c, models.SeverityWarning, "no resource limits set"))
	}
	if len(c.Resources.Requests) == 0 {
		out = append(out, containerIssue(w, c, models.SeverityWarning, "no resource requests set"))
	}
	if c.LivenessProbe == nil {
		out = append(out, containerIssue(w, c, models.SeverityInfo, "no livenessProbe"))
	}
	if c.ReadinessProbe == nil {
		out = append(out, containerIssue(w, c, models.SeverityInfo, "no readinessProbe"))
	}
	if c.SecurityContext == nil {
		out = append(out, containerIssue(w, c, models.SeverityInfo, "no securityContext"))
	}

	if c.Image == "" {
		out = append(out, containerIssue(w, c, models.SeverityError, "no image specified"))
		return out
	}
	ref := imageref.Parse(c.Image)
	switch {
	case ref.Templated:
	case ref.Tag == "latest":
		out = append(out, containerIssue(w, c, models.SeverityWarning, "image %q uses the :latest tag", c.Image))
	case !ref.HasExplicitVersion():
		out = append(out, containerIssue(w, c, models.SeverityWarning, "image %q has no explicit tag", c.Image))
	}
	return out
}

func formatLabels(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(m))
	for _, k := range sortedStringKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%s", k, m[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
