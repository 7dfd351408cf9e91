package models

// EKSClusterDetails is the control-plane information the EKS API confirms
// for a live cluster detected as EKS. It enriches ClusterDomain and is not
// part of the Inventory itself.
type EKSClusterDetails struct {
	ClusterName string
	Region      string

	// Version is the Kubernetes minor version, e.g. "1.29".
	Version         string
	PlatformVersion string
	Status          string
}
