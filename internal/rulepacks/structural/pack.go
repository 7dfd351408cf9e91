// Package structural provides the Layer 1 rule pack: per-resource shape
// checks that need no other resource.
//
// Convention: every rule pack lives in internal/rulepacks/<layer>/pack.go
// and exposes a single New() func returning []rules.Rule. The engine
// registers each pack into its own RuleRegistry in layer order.
package structural

import "github.com/pankaj-dahiya-devops/iacvet/internal/rules"

// New returns the structural rules in evaluation order. Decode failures are
// reported first so later rules can assume a typed view.
func New() []rules.Rule {
	return []rules.Rule{
		rules.StructDecodeRule{},
		rules.StructMetadataRule{},
		rules.StructWorkloadRule{},
		rules.StructServiceRule{},
		rules.StructIngressRule{},
		rules.StructHPARule{},
		rules.StructContainerRule{},
	}
}
