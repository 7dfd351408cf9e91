package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Validate checks cfg for semantic correctness and returns all validation errors
// found. An empty slice means the config is valid.
//
// Checks performed:
//   - version must be 1
//   - layer names must appear in layers
//   - layer min_severity must be a valid severity value if set
//   - rule IDs must appear in availableRuleIDs
//   - rule severity overrides must be valid severity values if set
//   - enforcement keys must be layer names
//   - enforcement fail_on_severity must be a valid severity value if set
//
// All errors are collected before returning, in a stable order.
func Validate(cfg *PolicyConfig, availableRuleIDs, layers []string) []error {
	if cfg == nil {
		return []error{fmt.Errorf("policy config is nil")}
	}

	knownIDs := make(map[string]struct{}, len(availableRuleIDs))
	for _, id := range availableRuleIDs {
		knownIDs[id] = struct{}{}
	}
	knownLayers := make(map[string]struct{}, len(layers))
	for _, l := range layers {
		knownLayers[l] = struct{}{}
	}
	layerList := strings.Join(layers, ", ")

	var errs []error

	if cfg.Version != 1 {
		errs = append(errs, fmt.Errorf("version: unsupported value %d; must be 1", cfg.Version))
	}

	for _, name := range sortedKeys(cfg.Layers) {
		lcfg := cfg.Layers[name]
		if _, ok := knownLayers[name]; !ok {
			errs = append(errs, fmt.Errorf("layers.%s: unknown layer; valid values: %s", name, layerList))
		}
		if lcfg.MinSeverity != "" {
			if _, ok := parseSeverity(lcfg.MinSeverity); !ok {
				errs = append(errs, fmt.Errorf("layers.%s.min_severity: invalid value %q; valid values: error, warning, info", name, lcfg.MinSeverity))
			}
		}
	}

	for _, ruleID := range sortedKeys(cfg.Rules) {
		rcfg := cfg.Rules[ruleID]
		if _, ok := knownIDs[ruleID]; !ok {
			errs = append(errs, fmt.Errorf("rules.%s: unknown rule ID", ruleID))
		}
		if rcfg.Severity != "" {
			if _, ok := parseSeverity(rcfg.Severity); !ok {
				errs = append(errs, fmt.Errorf("rules.%s.severity: invalid value %q; valid values: error, warning, info", ruleID, rcfg.Severity))
			}
		}
	}

	for _, layer := range sortedKeys(cfg.Enforcement) {
		enfCfg := cfg.Enforcement[layer]
		if _, ok := knownLayers[layer]; !ok {
			errs = append(errs, fmt.Errorf("enforcement.%s: unknown layer; valid values: %s", layer, layerList))
		}
		if enfCfg.FailOnSeverity != "" {
			if _, ok := parseSeverity(enfCfg.FailOnSeverity); !ok {
				errs = append(errs, fmt.Errorf("enforcement.%s.fail_on_severity: invalid value %q; valid values: error, warning, info", layer, enfCfg.FailOnSeverity))
			}
		}
	}

	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
