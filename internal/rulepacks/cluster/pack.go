// Package cluster provides the Layer 4 rule pack. Apart from CLUSTER_TOOLS
// every rule is a no-op unless the inventory carries a connected cluster.
package cluster

import "github.com/pankaj-dahiya-devops/iacvet/internal/rules"

// New returns the live-cluster rules in evaluation order.
func New() []rules.Rule {
	return []rules.Rule{
		rules.ClusterToolsRule{},
		rules.ClusterLoadBalancerRule{},
		rules.ClusterIngressControllerRule{},
		rules.ClusterInfraDependencyRule{},
		rules.ClusterNamespaceRule{},
		rules.ClusterStorageClassRule{},
		rules.ClusterCustomKindRule{},
		rules.ClusterVersionSkewRule{},
	}
}
