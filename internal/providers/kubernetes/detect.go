package kubernetes

import (
	"net/url"
	"strings"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// DetectClusterType inspects node ProviderID prefixes and well-known labels,
// then falls back to the kubeconfig context name and API server host.
func DetectClusterType(nodes []models.ClusterNode, info ClusterInfo) models.ClusterType {
	for _, n := range nodes {
		switch {
		case strings.HasPrefix(n.ProviderID, "aws://"):
			return models.ClusterType{Type: "eks", DetectedVia: "node-provider-id"}
		case strings.HasPrefix(n.ProviderID, "gce://"):
			return models.ClusterType{Type: "gke", DetectedVia: "node-provider-id"}
		case strings.HasPrefix(n.ProviderID, "azure://"):
			return models.ClusterType{Type: "aks", DetectedVia: "node-provider-id"}
		case strings.HasPrefix(n.ProviderID, "kind://"):
			return models.ClusterType{Type: "kind", DetectedVia: "node-provider-id"}
		case strings.HasPrefix(n.ProviderID, "k3s://"):
			return models.ClusterType{Type: "k3d", DetectedVia: "node-provider-id"}
		}
		if _, ok := n.Labels["eks.amazonaws.com/nodegroup"]; ok {
			return models.ClusterType{Type: "eks", DetectedVia: "node-labels"}
		}
		if _, ok := n.Labels["cloud.google.com/gke-nodepool"]; ok {
			return models.ClusterType{Type: "gke", DetectedVia: "node-labels"}
		}
		if _, ok := n.Labels["kubernetes.azure.com/cluster"]; ok {
			return models.ClusterType{Type: "aks", DetectedVia: "node-labels"}
		}
		if _, ok := n.Labels["minikube.k8s.io/name"]; ok {
			return models.ClusterType{Type: "minikube", DetectedVia: "node-labels"}
		}
		if _, ok := n.Labels["microk8s.io/cluster"]; ok {
			return models.ClusterType{Type: "microk8s", DetectedVia: "node-labels"}
		}
	}

	ctxName := strings.ToLower(info.ContextName)
	switch {
	case strings.HasPrefix(ctxName, "arn:aws:eks:"):
		return models.ClusterType{Type: "eks", DetectedVia: "context-name"}
	case strings.HasPrefix(ctxName, "gke_"):
		return models.ClusterType{Type: "gke", DetectedVia: "context-name"}
	case ctxName == "minikube":
		return models.ClusterType{Type: "minikube", DetectedVia: "context-name"}
	case strings.HasPrefix(ctxName, "kind-"):
		return models.ClusterType{Type: "kind", DetectedVia: "context-name"}
	case strings.HasPrefix(ctxName, "k3d-"):
		return models.ClusterType{Type: "k3d", DetectedVia: "context-name"}
	case ctxName == "docker-desktop" || ctxName == "docker-for-desktop":
		return models.ClusterType{Type: "docker-desktop", DetectedVia: "context-name"}
	case ctxName == "microk8s":
		return models.ClusterType{Type: "microk8s", DetectedVia: "context-name"}
	case ctxName == "rancher-desktop":
		return models.ClusterType{Type: "rancher-desktop", DetectedVia: "context-name"}
	}

	if u, err := url.Parse(info.Server); err == nil {
		switch host := u.Hostname(); {
		case strings.HasSuffix(host, ".eks.amazonaws.com"):
			return models.ClusterType{Type: "eks", DetectedVia: "server-url"}
		case strings.HasSuffix(host, ".azmk8s.io"):
			return models.ClusterType{Type: "aks", DetectedVia: "server-url"}
		}
	}
	return models.ClusterType{Type: "unknown"}
}

// EKSClusterRef derives the EKS cluster name and AWS region.
// Preferred sources:
//   - cluster name: label "eks.amazonaws.com/cluster-name", else the
//     context ARN ("arn:aws:eks:<region>:<account>:cluster/<name>")
//   - region:       label "topology.kubernetes.io/region", else the ARN,
//     else the ProviderID AZ with its trailing letter stripped
func EKSClusterRef(nodes []models.ClusterNode, contextName string) (clusterName, region string) {
	if strings.HasPrefix(contextName, "arn:aws:eks:") {
		parts := strings.Split(contextName, ":")
		// parts: ["arn", "aws", "eks", "us-east-1", "123", "cluster/name"]
		if len(parts) == 6 {
			region = parts[3]
			clusterName = strings.TrimPrefix(parts[5], "cluster/")
		}
	}
	for _, n := range nodes {
		if cn, ok := n.Labels["eks.amazonaws.com/cluster-name"]; ok && cn != "" && clusterName == "" {
			clusterName = cn
		}
		if r, ok := n.Labels["topology.kubernetes.io/region"]; ok && r != "" && region == "" {
			region = r
		}
		// Fallback: derive region from ProviderID AZ ("aws:///us-east-1a/i-xxx").
		if region == "" && strings.HasPrefix(n.ProviderID, "aws://") {
			parts := strings.Split(n.ProviderID, "/")
			// parts: ["aws:", "", "", "us-east-1a", "i-xxx"]
			if len(parts) >= 4 && len(parts[3]) > 1 {
				az := parts[3]
				region = az[:len(az)-1]
			}
		}
		if clusterName != "" && region != "" {
			return
		}
	}
	return
}
