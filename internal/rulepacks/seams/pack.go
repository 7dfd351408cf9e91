// Package seams provides the Layer 6 rule pack. Each rule checks one pair
// of tool domains and returns nothing when either side is absent.
package seams

import "github.com/pankaj-dahiya-devops/iacvet/internal/rules"

// New returns the seam rules in evaluation order.
func New() []rules.Rule {
	return []rules.Rule{
		rules.SeamDockerK8sRule{},
		rules.SeamDockerCIRule{},
		rules.SeamDockerTerraformRule{},
		rules.SeamDockerEnvRule{},
		rules.SeamTerraformK8sRule{},
		rules.SeamTerraformCIRule{},
		rules.SeamTerraformEnvRule{},
		rules.SeamCIK8sRule{},
		rules.SeamCIEnvRule{},
		rules.SeamCrossCuttingRule{},
	}
}
