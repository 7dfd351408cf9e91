// Package strategy provides the Layer 7 rule pack: validation of the
// artifacts of each deployment tool and of overlaps between them.
package strategy

import "github.com/pankaj-dahiya-devops/iacvet/internal/rules"

// New returns the deployment-strategy rules in evaluation order.
func New() []rules.Rule {
	return []rules.Rule{
		rules.StrategyRawRule{},
		rules.StrategyHelmRule{},
		rules.StrategyKustomizeRule{},
		rules.StrategySkaffoldRule{},
		rules.StrategyMixedRule{},
	}
}
