package policy

// PolicyConfig is the parsed policy file. Every section is optional; a nil
// *PolicyConfig means "defaults everywhere".
type PolicyConfig struct {
	Version     int                          `yaml:"version"`
	Layers      map[string]LayerConfig       `yaml:"layers"`
	Rules       map[string]RuleConfig        `yaml:"rules"`
	Enforcement map[string]EnforcementConfig `yaml:"enforcement"`
}

// LayerConfig switches a whole rule layer on or off and optionally drops
// issues below MinSeverity.
type LayerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MinSeverity string `yaml:"min_severity,omitempty"`
}

// RuleConfig overrides a single rule.
type RuleConfig struct {
	Enabled  *bool              `yaml:"enabled,omitempty"`
	Severity string             `yaml:"severity,omitempty"`
	Params   map[string]float64 `yaml:"params,omitempty"`
}

// EnforcementConfig makes the CLI exit non-zero when a layer reports an
// issue at or above FailOnSeverity, even if the report is ok.
type EnforcementConfig struct {
	FailOnSeverity string `yaml:"fail_on_severity"`
}

// LayerEnabled reports whether layer should run. Absent layers are enabled.
func (c *PolicyConfig) LayerEnabled(layer string) bool {
	if c == nil {
		return true
	}
	l, ok := c.Layers[layer]
	return !ok || l.Enabled
}
