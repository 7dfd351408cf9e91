// Package environment provides the Layer 3 rule pack: declared
// environments, overlay integrity and per-environment sizing.
package environment

import "github.com/pankaj-dahiya-devops/iacvet/internal/rules"

// New returns the environment rules in evaluation order.
func New() []rules.Rule {
	return []rules.Rule{
		rules.EnvDeclaredRule{},
		rules.EnvOverlayIntegrityRule{},
		rules.EnvProdSingleReplicaRule{},
		rules.EnvDevReplicasRule{},
	}
}
