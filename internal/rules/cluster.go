package rules

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/policy"
)

// localClusterTypes run on a workstation and have no cloud load balancer.
var localClusterTypes = map[string]bool{
	"minikube":        true,
	"kind":            true,
	"k3d":             true,
	"k3s":             true,
	"docker-desktop":  true,
	"microk8s":        true,
	"rancher-desktop": true,
	"local":           true,
}

// managedClusterTypes are cloud-provider control planes.
var managedClusterTypes = map[string]bool{
	"eks":  true,
	"gke":  true,
	"aks":  true,
	"doks": true,
	"oke":  true,
	"iks":  true,
}

// IsLocalCluster reports whether clusterType is a workstation cluster.
func IsLocalCluster(clusterType string) bool {
	return localClusterTypes[strings.ToLower(clusterType)]
}

// IsManagedCluster reports whether clusterType is a cloud-managed cluster.
func IsManagedCluster(clusterType string) bool {
	return managedClusterTypes[strings.ToLower(clusterType)]
}

// ingressControllerMarkers identify ingress controllers among infra services.
var ingressControllerMarkers = []string{
	"ingress", "traefik", "haproxy", "contour", "istio", "kong", "ambassador", "emissary", "gloo", "alb", "gce",
}

// defaultMaxMinorSkew is the client/server minor-version skew kubectl supports.
const defaultMaxMinorSkew = 1

// ── CLUSTER_TOOLS ────────────────────────────────────────────────────────────

// ClusterToolsRule fires when the deployment strategy in use needs a binary
// that the collaborator reported as not installed. It runs without a live
// cluster.
type ClusterToolsRule struct{}

func (r ClusterToolsRule) ID() string   { return "CLUSTER_TOOLS" }
func (r ClusterToolsRule) Name() string { return "Deployment Tool Not Installed" }

func (r ClusterToolsRule) Evaluate(ctx RuleContext) []models.Issue {
	tools := ctx.Inventory.K8s.ToolAvailability
	if tools == nil {
		return nil
	}
	available := func(name string) bool {
		st, ok := tools[name]
		return ok && st.Available
	}
	var out []models.Issue
	if ctx.Strategy.Uses(StrategyHelm) && !available("helm") {
		out = append(out, newIssue(FileDeploymentStrategy, models.SeverityError,
			"project deploys with Helm but the helm binary is not installed"))
	}
	if ctx.Strategy.Uses(StrategyKustomize) && !available("kustomize") && !available("kubectl") {
		out = append(out, newIssue(FileDeploymentStrategy, models.SeverityError,
			"project deploys with Kustomize but neither kustomize nor kubectl is installed"))
	}
	if ctx.Strategy.Uses(StrategySkaffold) && !available("skaffold") {
		out = append(out, newIssue(FileDeploymentStrategy, models.SeverityError,
			"project deploys with Skaffold but the skaffold binary is not installed"))
	}
	return out
}

// ── CLUSTER_LOADBALANCER ─────────────────────────────────────────────────────

// ClusterLoadBalancerRule fires for LoadBalancer Services targeting a local
// cluster, where the external IP stays pending.
type ClusterLoadBalancerRule struct{}

func (r ClusterLoadBalancerRule) ID() string   { return "CLUSTER_LOADBALANCER" }
func (r ClusterLoadBalancerRule) Name() string { return "LoadBalancer Service On Local Cluster" }

func (r ClusterLoadBalancerRule) Evaluate(ctx RuleContext) []models.Issue {
	cl := ctx.Inventory.Cluster
	if !cl.Connected || !IsLocalCluster(cl.ClusterType.Type) {
		return nil
	}
	var out []models.Issue
	for _, svc := range ctx.Index.Services() {
		if svc.Obj.Spec.Type == corev1.ServiceTypeLoadBalancer {
			out = append(out, objectIssue(svc, models.SeverityWarning,
				"type LoadBalancer on a %s cluster will keep its external IP pending", cl.ClusterType.Type))
		}
	}
	return out
}

// ── CLUSTER_INGRESS_CONTROLLER ───────────────────────────────────────────────

// ClusterIngressControllerRule fires for each Ingress when no ingress
// controller was detected in the live cluster.
type ClusterIngressControllerRule struct{}

func (r ClusterIngressControllerRule) ID() string   { return "CLUSTER_INGRESS_CONTROLLER" }
func (r ClusterIngressControllerRule) Name() string { return "No Ingress Controller Detected" }

func (r ClusterIngressControllerRule) Evaluate(ctx RuleContext) []models.Issue {
	if !ctx.Inventory.Cluster.Connected {
		return nil
	}
	if hasInfraService(ctx.Inventory.K8s.InfraServices, ingressControllerMarkers...) {
		return nil
	}
	var out []models.Issue
	for _, obj := range ctx.Index.ByKind("Ingress") {
		out = append(out, objectIssue(obj, models.SeverityWarning, "no ingress controller detected in the cluster"))
	}
	return out
}

func hasInfraService(services []models.InfraService, markers ...string) bool {
	for _, s := range services {
		for _, m := range markers {
			if containsFold(s.Name, m) {
				return true
			}
		}
	}
	return false
}

// ── CLUSTER_INFRA_DEPENDENCY ─────────────────────────────────────────────────

// infraDependency describes a platform component resources can depend on.
type infraDependency struct {
	service     string
	markers     []string
	groups      []string
	annotations []string
}

var infraDependencies = []infraDependency{
	{
		service:     "cert-manager",
		markers:     []string{"cert-manager"},
		groups:      []string{"cert-manager.io", "acme.cert-manager.io"},
		annotations: []string{"cert-manager.io/cluster-issuer", "cert-manager.io/issuer"},
	},
	{
		service:     "prometheus",
		markers:     []string{"prometheus"},
		groups:      []string{"monitoring.coreos.com"},
		annotations: []string{"prometheus.io/scrape"},
	},
}

// ClusterInfraDependencyRule fires for resources that use cert-manager or
// Prometheus kinds or annotations when that component was not detected.
type ClusterInfraDependencyRule struct{}

func (r ClusterInfraDependencyRule) ID() string   { return "CLUSTER_INFRA_DEPENDENCY" }
func (r ClusterInfraDependencyRule) Name() string { return "Platform Component Not Detected" }

func (r ClusterInfraDependencyRule) Evaluate(ctx RuleContext) []models.Issue {
	if !ctx.Inventory.Cluster.Connected {
		return nil
	}
	var out []models.Issue
	for _, dep := range infraDependencies {
		if hasInfraService(ctx.Inventory.K8s.InfraServices, dep.markers...) {
			continue
		}
		for _, obj := range ctx.Index.All() {
			if reason := usesInfra(obj, dep); reason != "" {
				out = append(out, objectIssue(obj, models.SeverityWarning,
					"%s but %s was not detected in the cluster", reason, dep.service))
			}
		}
	}
	return out
}

func usesInfra(obj k8sview.Object, dep infraDependency) string {
	for _, g := range dep.groups {
		if strings.HasPrefix(obj.APIVersion(), g+"/") {
			return "uses " + g + " kind " + obj.Kind()
		}
	}
	annotations := obj.Annotations()
	if w, ok := obj.(k8sview.Workload); ok && len(annotations) == 0 {
		annotations = w.PodTemplate().Annotations
	}
	for _, a := range dep.annotations {
		if _, ok := annotations[a]; ok {
			return "has annotation " + a
		}
	}
	return ""
}

// ── CLUSTER_NAMESPACE ────────────────────────────────────────────────────────

// ClusterNamespaceRule notes namespaces referenced by resources that are
// neither present in the live cluster nor declared as manifests.
type ClusterNamespaceRule struct{}

func (r ClusterNamespaceRule) ID() string   { return "CLUSTER_NAMESPACE" }
func (r ClusterNamespaceRule) Name() string { return "Namespace Absent From Cluster" }

func (r ClusterNamespaceRule) Evaluate(ctx RuleContext) []models.Issue {
	cl := ctx.Inventory.Cluster
	if !cl.Connected || len(cl.Namespaces) == 0 {
		return nil
	}
	live := make(map[string]bool, len(cl.Namespaces))
	for _, ns := range cl.Namespaces {
		live[ns] = true
	}
	var out []models.Issue
	for _, ns := range ctx.Index.Namespaces() {
		if live[ns] || ctx.Index.Has("Namespace", "", ns) {
			continue
		}
		out = append(out, newIssue(firstFileInNamespace(ctx.Index, ns), models.SeverityInfo,
			"namespace %q does not exist in cluster context %q and is not declared", ns, cl.Context))
	}
	return out
}

// ── CLUSTER_STORAGECLASS ─────────────────────────────────────────────────────

// ClusterStorageClassRule fires for PVCs and volume claim templates that
// name a StorageClass the live cluster does not have.
type ClusterStorageClassRule struct{}

func (r ClusterStorageClassRule) ID() string   { return "CLUSTER_STORAGECLASS" }
func (r ClusterStorageClassRule) Name() string { return "StorageClass Absent From Cluster" }

func (r ClusterStorageClassRule) Evaluate(ctx RuleContext) []models.Issue {
	cl := ctx.Inventory.Cluster
	if !cl.Connected || len(cl.StorageClasses) == 0 {
		return nil
	}
	live := make(map[string]bool, len(cl.StorageClasses))
	for _, sc := range cl.StorageClasses {
		live[sc] = true
	}
	missing := func(name string) bool {
		return name != "" && !live[name] && !ctx.Index.Has("StorageClass", "", name)
	}
	var out []models.Issue
	for _, obj := range ctx.Index.All() {
		switch v := obj.(type) {
		case *k8sview.PVC:
			if sc := v.Obj.Spec.StorageClassName; sc != nil && missing(*sc) {
				out = append(out, objectIssue(v, models.SeverityWarning,
					"storageClassName %q does not exist in the cluster", *sc))
			}
		case *k8sview.StatefulSet:
			for _, tpl := range v.Obj.Spec.VolumeClaimTemplates {
				if sc := tpl.Spec.StorageClassName; sc != nil && missing(*sc) {
					out = append(out, objectIssue(v, models.SeverityWarning,
						"volumeClaimTemplate %q uses storageClassName %q which does not exist in the cluster", tpl.Name, *sc))
				}
			}
		}
	}
	return out
}

// ── CLUSTER_CUSTOM_KIND ──────────────────────────────────────────────────────

// ClusterCustomKindRule notes kinds outside the built-in catalogue that the
// live cluster does not serve.
type ClusterCustomKindRule struct{}

func (r ClusterCustomKindRule) ID() string   { return "CLUSTER_CUSTOM_KIND" }
func (r ClusterCustomKindRule) Name() string { return "Custom Resource Kind" }

func (r ClusterCustomKindRule) Evaluate(ctx RuleContext) []models.Issue {
	cl := ctx.Inventory.Cluster
	if !cl.Connected {
		return nil
	}
	served := make(map[string]bool)
	for _, gvk := range cl.APIResources {
		served[gvk] = true
		if i := strings.LastIndex(gvk, "/"); i >= 0 {
			served[gvk[i+1:]] = true
		}
	}
	declared := declaredCRDKinds(ctx.Index)
	var out []models.Issue
	for _, obj := range ctx.Index.All() {
		kind := obj.Kind()
		if k8sview.IsBuiltinKind(kind) || declared[kind] || served[obj.APIVersion()+"/"+kind] || served[kind] {
			continue
		}
		out = append(out, objectIssue(obj, models.SeverityInfo, "custom resource, verify CRD is installed"))
	}
	return out
}

// ── CLUSTER_VERSION_SKEW ─────────────────────────────────────────────────────

// ClusterVersionSkewRule fires when kubectl and the API server differ by
// more than max_minor_skew minor versions.
type ClusterVersionSkewRule struct{}

func (r ClusterVersionSkewRule) ID() string   { return "CLUSTER_VERSION_SKEW" }
func (r ClusterVersionSkewRule) Name() string { return "Client/Server Version Skew" }

func (r ClusterVersionSkewRule) Evaluate(ctx RuleContext) []models.Issue {
	cl := ctx.Inventory.Cluster
	client, ok := ctx.Inventory.K8s.ToolAvailability["kubectl"]
	if !cl.Connected || cl.ServerVersion == "" || !ok || client.Version == "" {
		return nil
	}
	cv, err := semver.NewVersion(client.Version)
	if err != nil {
		return nil
	}
	sv, err := semver.NewVersion(cl.ServerVersion)
	if err != nil || cv.Major() != sv.Major() {
		return nil
	}
	maxSkew := policy.GetIntThreshold(r.ID(), "max_minor_skew", defaultMaxMinorSkew, ctx.Policy)
	skew := int(cv.Minor()) - int(sv.Minor())
	if skew < 0 {
		skew = -skew
	}
	if skew <= maxSkew {
		return nil
	}
	return []models.Issue{newIssue(FileCluster, models.SeverityWarning,
		"kubectl %s and server %s differ by %d minor versions (supported skew is %d)",
		client.Version, cl.ServerVersion, skew, maxSkew)}
}

// declaredCRDKinds returns the kinds defined by CustomResourceDefinition
// manifests in the inventory.
func declaredCRDKinds(ix *k8sview.Index) map[string]bool {
	out := make(map[string]bool)
	for _, crd := range ix.ByKind("CustomResourceDefinition") {
		if kind, _, _ := unstructured.NestedString(crd.Raw(), "spec", "names", "kind"); kind != "" {
			out[kind] = true
		}
	}
	return out
}
