package kubernetes

import "github.com/pankaj-dahiya-devops/iacvet/internal/models"

// ClusterInfo identifies a Kubernetes cluster and the kubeconfig context used
// to connect to it.
type ClusterInfo struct {
	// ContextName is the kubeconfig context name used to connect.
	ContextName string

	// Server is the Kubernetes API server URL resolved from the kubeconfig.
	Server string
}

// ClusterData is what one live collection contributes to the Inventory: the
// cluster domain itself plus the platform components found running in it,
// which belong to the K8s domain.
type ClusterData struct {
	Cluster       models.ClusterDomain
	InfraServices []models.InfraService
}
