// Package references provides the Layer 2 rule pack: name, selector and
// port resolution across the K8s resource set.
package references

import "github.com/pankaj-dahiya-devops/iacvet/internal/rules"

// New returns the cross-resource rules in evaluation order.
func New() []rules.Rule {
	return []rules.Rule{
		rules.RefSelectorRule{},
		rules.RefMissingRule{},
		rules.RefPortRule{},
		rules.RefStatefulSetServiceRule{},
		rules.RefPVCAccessRule{},
		rules.RefNamespaceRule{},
		rules.RefUnreachableRule{},
	}
}
