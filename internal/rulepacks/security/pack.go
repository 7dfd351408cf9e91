// Package security provides the Layer 5 rule pack: container security
// context, pod isolation, availability and RBAC posture.
package security

import "github.com/pankaj-dahiya-devops/iacvet/internal/rules"

// New returns the security rules in evaluation order.
func New() []rules.Rule {
	return []rules.Rule{
		rules.SecContainerRule{},          // runAsUser 0, privileged, escalation, capabilities, read-only rootfs
		rules.SecHostNamespacesRule{},     // hostNetwork / hostPID / hostIPC
		rules.SecSATokenRule{},            // token automount
		rules.SecProbesIdenticalRule{},    // liveness == readiness
		rules.SecPDBRule{},                // replicated workload without PDB
		rules.SecPullPolicyNeverRule{},    // pullPolicy Never on managed cluster
		rules.SecNetworkPolicyRule{},      // namespace without NetworkPolicy
		rules.SecRBACWildcardRule{},       // ClusterRole wildcards
		rules.SecRBACDefaultSARule{},      // ClusterRoleBinding to default SA
	}
}
