package rules

import (
	"slices"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apiequality "k8s.io/apimachinery/pkg/api/equality"

	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// ── SEC_CONTAINER ────────────────────────────────────────────────────────────

// SecContainerRule audits the effective security context of every init and
// main container: root UID, privileged mode, privilege escalation, dropped
// capabilities and read-only root filesystem.
type SecContainerRule struct{}

func (r SecContainerRule) ID() string   { return "SEC_CONTAINER" }
func (r SecContainerRule) Name() string { return "Container Security Context Is Weak" }

func (r SecContainerRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, w := range ctx.Index.Workloads() {
		podSC := w.PodTemplate().Spec.SecurityContext
		for _, c := range k8sview.AllContainers(w) {
			sc := c.SecurityContext
			if sc == nil {
				sc = &corev1.SecurityContext{}
			}

			runAsUser := sc.RunAsUser
			if runAsUser == nil && podSC != nil {
				runAsUser = podSC.RunAsUser
			}
			if runAsUser != nil && *runAsUser == 0 {
				out = append(out, containerIssue(w, c, models.SeverityWarning, "runs as root (runAsUser: 0)"))
			}
			if sc.Privileged != nil && *sc.Privileged {
				out = append(out, containerIssue(w, c, models.SeverityError, "runs privileged"))
			}
			if sc.AllowPrivilegeEscalation == nil || *sc.AllowPrivilegeEscalation {
				out = append(out, containerIssue(w, c, models.SeverityWarning,
					"allowPrivilegeEscalation is not set to false"))
			}
			if !dropsAll(sc.Capabilities) {
				out = append(out, containerIssue(w, c, models.SeverityInfo, "capabilities not dropped (drop: [ALL])"))
			}
			if sc.ReadOnlyRootFilesystem == nil || !*sc.ReadOnlyRootFilesystem {
				out = append(out, containerIssue(w, c, models.SeverityInfo, "readOnlyRootFilesystem is not enabled"))
			}
		}
	}
	return out
}

func dropsAll(caps *corev1.Capabilities) bool {
	if caps == nil {
		return false
	}
	for _, c := range caps.Drop {
		if strings.EqualFold(string(c), "ALL") {
			return true
		}
	}
	return false
}

// ── SEC_HOST_NAMESPACES ──────────────────────────────────────────────────────

// SecHostNamespacesRule fires once per host namespace a pod shares.
type SecHostNamespacesRule struct{}

func (r SecHostNamespacesRule) ID() string   { return "SEC_HOST_NAMESPACES" }
func (r SecHostNamespacesRule) Name() string { return "Pod Shares Host Namespaces" }

func (r SecHostNamespacesRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, w := range ctx.Index.Workloads() {
		spec := w.PodTemplate().Spec
		if spec.HostNetwork {
			out = append(out, objectIssue(w, models.SeverityWarning, "hostNetwork is enabled"))
		}
		if spec.HostPID {
			out = append(out, objectIssue(w, models.SeverityWarning, "hostPID is enabled"))
		}
		if spec.HostIPC {
			out = append(out, objectIssue(w, models.SeverityWarning, "hostIPC is enabled"))
		}
	}
	return out
}

// ── SEC_SA_TOKEN ─────────────────────────────────────────────────────────────

// SecSATokenRule notes pods that mount the service account token without
// opting out explicitly.
type SecSATokenRule struct{}

func (r SecSATokenRule) ID() string   { return "SEC_SA_TOKEN" }
func (r SecSATokenRule) Name() string { return "Service Account Token Automounted" }

func (r SecSATokenRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, w := range ctx.Index.Workloads() {
		if a := w.PodTemplate().Spec.AutomountServiceAccountToken; a == nil || *a {
			out = append(out, objectIssue(w, models.SeverityInfo, "automountServiceAccountToken is not set to false"))
		}
	}
	return out
}

// ── SEC_PROBES_IDENTICAL ─────────────────────────────────────────────────────

// SecProbesIdenticalRule fires when liveness and readiness probes are the
// same definition, which makes a slow dependency restart the container.
type SecProbesIdenticalRule struct{}

func (r SecProbesIdenticalRule) ID() string   { return "SEC_PROBES_IDENTICAL" }
func (r SecProbesIdenticalRule) Name() string { return "Liveness And Readiness Probes Identical" }

func (r SecProbesIdenticalRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, w := range ctx.Index.Workloads() {
		for _, c := range k8sview.Containers(w) {
			if c.LivenessProbe == nil || c.ReadinessProbe == nil {
				continue
			}
			if apiequality.Semantic.DeepEqual(c.LivenessProbe, c.ReadinessProbe) {
				out = append(out, containerIssue(w, c, models.SeverityWarning,
					"livenessProbe and readinessProbe are identical"))
			}
		}
	}
	return out
}

// ── SEC_PDB ──────────────────────────────────────────────────────────────────

// SecPDBRule notes replicated workloads that no PodDisruptionBudget covers.
type SecPDBRule struct{}

func (r SecPDBRule) ID() string   { return "SEC_PDB" }
func (r SecPDBRule) Name() string { return "No PodDisruptionBudget" }

func (r SecPDBRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, w := range ctx.Index.Workloads() {
		replicas := w.Replicas()
		if replicas == nil || *replicas < 2 {
			continue
		}
		if !coveredByPDB(ctx.Index, w) {
			out = append(out, objectIssue(w, models.SeverityInfo,
				"runs %d replicas with no PodDisruptionBudget", *replicas))
		}
	}
	return out
}

func coveredByPDB(ix *k8sview.Index, w k8sview.Workload) bool {
	for _, obj := range ix.ByKind("PodDisruptionBudget") {
		pdb, ok := obj.(*k8sview.PDB)
		if !ok || pdb.Namespace() != w.Namespace() {
			continue
		}
		if k8sview.LabelSelectorMatches(pdb.Obj.Spec.Selector, w.PodTemplate().Labels) {
			return true
		}
	}
	return false
}

// ── SEC_PULL_POLICY_NEVER ────────────────────────────────────────────────────

// SecPullPolicyNeverRule fires for imagePullPolicy: Never when the live
// cluster is a managed cloud cluster, where no image is preloaded.
type SecPullPolicyNeverRule struct{}

func (r SecPullPolicyNeverRule) ID() string   { return "SEC_PULL_POLICY_NEVER" }
func (r SecPullPolicyNeverRule) Name() string { return "imagePullPolicy Never On Managed Cluster" }

func (r SecPullPolicyNeverRule) Evaluate(ctx RuleContext) []models.Issue {
	cl := ctx.Inventory.Cluster
	if !cl.Connected || !IsManagedCluster(cl.ClusterType.Type) {
		return nil
	}
	var out []models.Issue
	for _, w := range ctx.Index.Workloads() {
		for _, c := range k8sview.AllContainers(w) {
			if c.ImagePullPolicy == corev1.PullNever {
				out = append(out, containerIssue(w, c, models.SeverityWarning,
					"imagePullPolicy Never on a %s cluster; the image will not be present on nodes", cl.ClusterType.Type))
			}
		}
	}
	return out
}

// ── SEC_NETWORK_POLICY ───────────────────────────────────────────────────────

// SecNetworkPolicyRule notes namespaces that run Deployments but declare no
// NetworkPolicy.
type SecNetworkPolicyRule struct{}

func (r SecNetworkPolicyRule) ID() string   { return "SEC_NETWORK_POLICY" }
func (r SecNetworkPolicyRule) Name() string { return "Namespace Without NetworkPolicy" }

func (r SecNetworkPolicyRule) Evaluate(ctx RuleContext) []models.Issue {
	covered := make(map[string]bool)
	for _, np := range ctx.Index.ByKind("NetworkPolicy") {
		covered[np.Namespace()] = true
	}
	reported := make(map[string]bool)
	var out []models.Issue
	for _, d := range ctx.Index.ByKind("Deployment") {
		ns := d.Namespace()
		if covered[ns] || reported[ns] {
			continue
		}
		reported[ns] = true
		out = append(out, newIssue(d.File(), models.SeverityInfo,
			"namespace %q runs Deployments but has no NetworkPolicy", ns))
	}
	return out
}

// ── SEC_RBAC_WILDCARD ────────────────────────────────────────────────────────

// SecRBACWildcardRule fires for ClusterRole rules granting "*" verbs or
// resources.
type SecRBACWildcardRule struct{}

func (r SecRBACWildcardRule) ID() string   { return "SEC_RBAC_WILDCARD" }
func (r SecRBACWildcardRule) Name() string { return "ClusterRole Uses Wildcards" }

func (r SecRBACWildcardRule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, obj := range ctx.Index.ByKind("ClusterRole") {
		cr, ok := obj.(*k8sview.ClusterRole)
		if !ok {
			continue
		}
		verbs, resources := false, false
		for _, rule := range cr.Obj.Rules {
			verbs = verbs || slices.Contains(rule.Verbs, "*")
			resources = resources || slices.Contains(rule.Resources, "*")
		}
		if verbs {
			out = append(out, objectIssue(cr, models.SeverityWarning, "grants wildcard (*) verbs"))
		}
		if resources {
			out = append(out, objectIssue(cr, models.SeverityWarning, "grants access to wildcard (*) resources"))
		}
	}
	return out
}

// ── SEC_RBAC_DEFAULT_SA ──────────────────────────────────────────────────────

// SecRBACDefaultSARule fires for ClusterRoleBindings whose subject is a
// namespace's default ServiceAccount.
type SecRBACDefaultSARule struct{}

func (r SecRBACDefaultSARule) ID() string   { return "SEC_RBAC_DEFAULT_SA" }
func (r SecRBACDefaultSARule) Name() string { return "ClusterRole Bound To Default ServiceAccount" }

func (r SecRBACDefaultSARule) Evaluate(ctx RuleContext) []models.Issue {
	var out []models.Issue
	for _, obj := range ctx.Index.ByKind("ClusterRoleBinding") {
		crb, ok := obj.(*k8sview.ClusterRoleBinding)
		if !ok {
			continue
		}
		for _, s := range crb.Obj.Subjects {
			if s.Kind == "ServiceAccount" && s.Name == "default" {
				ns := s.Namespace
				if ns == "" {
					ns = "default"
				}
				out = append(out, objectIssue(crb, models.SeverityWarning,
					"binds %s %q to the default ServiceAccount in namespace %s", crb.Obj.RoleRef.Kind, crb.Obj.RoleRef.Name, ns))
			}
		}
	}
	return out
}
