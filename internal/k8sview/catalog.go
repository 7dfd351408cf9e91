package k8sview

import (
	"slices"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// builtinKinds maps every built-in kind to the apiVersions a current API
// server serves it under.
var builtinKinds = map[string][]string{
	"Pod":                            {"v1"},
	"Service":                        {"v1"},
	"ConfigMap":                      {"v1"},
	"Secret":                         {"v1"},
	"ServiceAccount":                 {"v1"},
	"Namespace":                      {"v1"},
	"PersistentVolume":               {"v1"},
	"PersistentVolumeClaim":          {"v1"},
	"Endpoints":                      {"v1"},
	"LimitRange":                     {"v1"},
	"ResourceQuota":                  {"v1"},
	"ReplicationController":          {"v1"},
	"Node":                           {"v1"},
	"Event":                          {"v1", "events.k8s.io/v1"},
	"Deployment":                     {"apps/v1"},
	"StatefulSet":                    {"apps/v1"},
	"DaemonSet":                      {"apps/v1"},
	"ReplicaSet":                     {"apps/v1"},
	"ControllerRevision":             {"apps/v1"},
	"Job":                            {"batch/v1"},
	"CronJob":                        {"batch/v1"},
	"Ingress":                        {"networking.k8s.io/v1"},
	"IngressClass":                   {"networking.k8s.io/v1"},
	"NetworkPolicy":                  {"networking.k8s.io/v1"},
	"HorizontalPodAutoscaler":        {"autoscaling/v1", "autoscaling/v2"},
	"PodDisruptionBudget":            {"policy/v1"},
	"Role":                           {"rbac.authorization.k8s.io/v1"},
	"RoleBinding":                    {"rbac.authorization.k8s.io/v1"},
	"ClusterRole":                    {"rbac.authorization.k8s.io/v1"},
	"ClusterRoleBinding":             {"rbac.authorization.k8s.io/v1"},
	"StorageClass":                   {"storage.k8s.io/v1"},
	"CSIDriver":                      {"storage.k8s.io/v1"},
	"VolumeAttachment":               {"storage.k8s.io/v1"},
	"CustomResourceDefinition":       {"apiextensions.k8s.io/v1"},
	"MutatingWebhookConfiguration":   {"admissionregistration.k8s.io/v1"},
	"ValidatingWebhookConfiguration": {"admissionregistration.k8s.io/v1"},
	"PriorityClass":                  {"scheduling.k8s.io/v1"},
	"RuntimeClass":                   {"node.k8s.io/v1"},
	"Lease":                          {"coordination.k8s.io/v1"},
	"EndpointSlice":                  {"discovery.k8s.io/v1"},
	"APIService":                     {"apiregistration.k8s.io/v1"},
	"CertificateSigningRequest":      {"certificates.k8s.io/v1"},
}

var clusterScopedKinds = map[string]bool{
	"Namespace":                      true,
	"Node":                           true,
	"PersistentVolume":               true,
	"ClusterRole":                    true,
	"ClusterRoleBinding":             true,
	"StorageClass":                   true,
	"CSIDriver":                      true,
	"VolumeAttachment":               true,
	"CustomResourceDefinition":       true,
	"MutatingWebhookConfiguration":   true,
	"ValidatingWebhookConfiguration": true,
	"PriorityClass":                  true,
	"RuntimeClass":                   true,
	"IngressClass":                   true,
	"APIService":                     true,
	"CertificateSigningRequest":      true,
	"ClusterIssuer":                  true,
}

var builtinNamespaces = map[string]bool{
	"default":         true,
	"kube-system":     true,
	"kube-public":     true,
	"kube-node-lease": true,
}

// WorkloadKinds are the kinds that manage pods.
var WorkloadKinds = []string{"Deployment", "StatefulSet", "DaemonSet", "Job", "CronJob"}

// IsWorkloadKind reports whether kind manages pods.
func IsWorkloadKind(kind string) bool { return slices.Contains(WorkloadKinds, kind) }

// IsClusterScoped reports whether kind lives outside any namespace.
func IsClusterScoped(kind string) bool { return clusterScopedKinds[kind] }

// IsBuiltinKind reports whether kind is served by a vanilla API server.
func IsBuiltinKind(kind string) bool {
	_, ok := builtinKinds[kind]
	return ok
}

// IsBuiltinNamespace reports whether ns exists in every cluster.
func IsBuiltinNamespace(ns string) bool { return builtinNamespaces[ns] }

// IsBuiltinGroup reports whether apiVersion belongs to an API group owned
// by Kubernetes itself (core, unqualified groups, or *.k8s.io).
func IsBuiltinGroup(apiVersion string) bool {
	gv, err := schema.ParseGroupVersion(apiVersion)
	if err != nil {
		return false
	}
	if gv.Group == "" || !strings.Contains(gv.Group, ".") {
		return true
	}
	return strings.HasSuffix(gv.Group, ".k8s.io")
}

// KnownAPIVersion reports whether apiVersion is a served version for kind.
// Kinds outside the built-in catalogue are accepted under any version of a
// built-in group.
func KnownAPIVersion(kind, apiVersion string) bool {
	versions, ok := builtinKinds[kind]
	if !ok {
		return servedGroupVersion(apiVersion)
	}
	return slices.Contains(versions, apiVersion)
}

// PreferredAPIVersions returns the served versions for a built-in kind.
func PreferredAPIVersions(kind string) []string {
	return builtinKinds[kind]
}

func servedGroupVersion(apiVersion string) bool {
	for _, versions := range builtinKinds {
		if slices.Contains(versions, apiVersion) {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
