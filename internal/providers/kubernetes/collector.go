package kubernetes

import (
	"context"
	"fmt"
	"sort"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/discovery"
	k8sclient "k8s.io/client-go/kubernetes"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// infraMarkers maps a platform component to name fragments that identify its
// Deployments and DaemonSets.
var infraMarkers = []struct {
	service string
	markers []string
}{
	{"ingress-nginx", []string{"ingress-nginx", "nginx-ingress"}},
	{"traefik", []string{"traefik"}},
	{"haproxy-ingress", []string{"haproxy-ingress"}},
	{"contour", []string{"contour"}},
	{"istio", []string{"istiod", "istio-ingressgateway"}},
	{"kong", []string{"kong"}},
	{"aws-load-balancer-controller", []string{"aws-load-balancer-controller"}},
	{"cert-manager", []string{"cert-manager"}},
	{"prometheus", []string{"prometheus"}},
	{"external-dns", []string{"external-dns"}},
	{"external-secrets", []string{"external-secrets"}},
	{"sealed-secrets", []string{"sealed-secrets"}},
	{"metrics-server", []string{"metrics-server"}},
	{"argocd", []string{"argocd-server", "argocd-application-controller"}},
	{"flux", []string{"source-controller", "kustomize-controller", "helm-controller"}},
}

// CollectClusterDomain builds the live cluster snapshot using the provided
// clientset and attaches the resolved context to the result.
//
// Nodes, namespaces and storage classes are required; an error listing any
// of them aborts the collection. Server version and API discovery are best
// effort: partial discovery results are kept and a failure leaves the field
// empty. The clientset parameter is an interface so tests can inject a fake.
func CollectClusterDomain(ctx context.Context, clientset k8sclient.Interface, info ClusterInfo) (*ClusterData, error) {
	nodes, err := collectNodes(ctx, clientset)
	if err != nil {
		return nil, fmt.Errorf("collect nodes: %w", err)
	}

	namespaces, err := collectNamespaces(ctx, clientset)
	if err != nil {
		return nil, fmt.Errorf("collect namespaces: %w", err)
	}

	storageClasses, err := collectStorageClasses(ctx, clientset)
	if err != nil {
		return nil, fmt.Errorf("collect storage classes: %w", err)
	}

	infra, err := collectInfraServices(ctx, clientset)
	if err != nil {
		return nil, fmt.Errorf("collect infra services: %w", err)
	}

	cluster := models.ClusterDomain{
		Connected:      true,
		Context:        info.ContextName,
		Namespaces:     namespaces,
		Nodes:          nodes,
		StorageClasses: storageClasses,
		ClusterType:    DetectClusterType(nodes, info),
	}
	if v, err := clientset.Discovery().ServerVersion(); err == nil && v != nil {
		cluster.ServerVersion = v.GitVersion
	}
	cluster.APIResources = collectAPIResources(clientset.Discovery())

	return &ClusterData{Cluster: cluster, InfraServices: infra}, nil
}

// collectNodes lists all nodes, copying the identity fields used for
// cluster-type detection.
func collectNodes(ctx context.Context, clientset k8sclient.Interface) ([]models.ClusterNode, error) {
	nodeList, err := clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}

	nodes := make([]models.ClusterNode, 0, len(nodeList.Items))
	for _, n := range nodeList.Items {
		labels := make(map[string]string, len(n.Labels))
		for k, v := range n.Labels {
			labels[k] = v
		}
		nodes = append(nodes, models.ClusterNode{
			Name:       n.Name,
			ProviderID: n.Spec.ProviderID,
			Labels:     labels,
		})
	}
	return nodes, nil
}

func collectNamespaces(ctx context.Context, clientset k8sclient.Interface) ([]string, error) {
	nsList, err := clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(nsList.Items))
	for _, ns := range nsList.Items {
		names = append(names, ns.Name)
	}
	sort.Strings(names)
	return names, nil
}

func collectStorageClasses(ctx context.Context, clientset k8sclient.Interface) ([]string, error) {
	scList, err := clientset.StorageV1().StorageClasses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(scList.Items))
	for _, sc := range scList.Items {
		names = append(names, sc.Name)
	}
	sort.Strings(names)
	return names, nil
}

// collectInfraServices scans Deployments and DaemonSets in every namespace
// for well-known platform components. Each component is reported once.
func collectInfraServices(ctx context.Context, clientset k8sclient.Interface) ([]models.InfraService, error) {
	deployments, err := clientset.AppsV1().Deployments("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	daemonSets, err := clientset.AppsV1().DaemonSets("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}

	type candidate struct{ kind, namespace, name string }
	var candidates []candidate
	for _, d := range deployments.Items {
		candidates = append(candidates, candidate{"deployment", d.Namespace, d.Name})
	}
	for _, d := range daemonSets.Items {
		candidates = append(candidates, candidate{"daemonset", d.Namespace, d.Name})
	}

	var out []models.InfraService
	for _, im := range infraMarkers {
		for _, c := range candidates {
			if !matchesAny(c.name, im.markers) {
				continue
			}
			out = append(out, models.InfraService{
				Name:        im.service,
				DetectedVia: fmt.Sprintf("%s %s/%s", c.kind, c.namespace, c.name),
			})
			break
		}
	}
	return out, nil
}

// collectAPIResources returns every served kind as "group/version/Kind".
func collectAPIResources(d discovery.DiscoveryInterface) []string {
	_, lists, err := d.ServerGroupsAndResources()
	if err != nil && !discovery.IsGroupDiscoveryFailedError(err) {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		if list == nil {
			continue
		}
		for _, r := range list.APIResources {
			if strings.Contains(r.Name, "/") || r.Kind == "" {
				continue
			}
			key := list.GroupVersion + "/" + r.Kind
			if !seen[key] {
				seen[key] = true
				out = append(out, key)
			}
		}
	}
	sort.Strings(out)
	return out
}

func matchesAny(name string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}
