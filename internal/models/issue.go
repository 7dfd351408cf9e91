package models

import (
	"encoding/json"
	"fmt"
)

// Severity is the impact level of an issue. Exactly three values exist and
// they are serialized verbatim.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Valid reports whether s is one of the three known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// Prefix tags cross-domain and strategy issues with the seam or strategy
// that produced them. Layers 1 to 5 leave it empty.
type Prefix string

const (
	PrefixNone            Prefix = ""
	PrefixDockerK8s       Prefix = "Docker↔K8s"
	PrefixTerraformK8s    Prefix = "Terraform↔K8s"
	PrefixCIK8s           Prefix = "CI↔K8s"
	PrefixDockerCI        Prefix = "Docker↔CI"
	PrefixDockerTerraform Prefix = "Docker↔Terraform"
	PrefixDockerEnv       Prefix = "Docker↔Environments"
	PrefixTerraformCI     Prefix = "Terraform↔CI"
	PrefixTerraformEnv    Prefix = "Terraform↔Environments"
	PrefixCIEnv           Prefix = "CI↔Environments"
	PrefixCrossCutting    Prefix = "Cross-cutting"
	PrefixHelm            Prefix = "Helm"
	PrefixKustomize       Prefix = "Kustomize"
	PrefixSkaffold        Prefix = "Skaffold"
	PrefixMixed           Prefix = "Mixed"
	PrefixRawKubectl      Prefix = "Raw kubectl"
)

// SeamPrefixes returns every prefix that belongs to a cross-domain seam
// touching domain d ("docker", "terraform", "ci", "k8s", "environments").
func SeamPrefixes(d string) []Prefix {
	switch d {
	case "docker":
		return []Prefix{PrefixDockerK8s, PrefixDockerCI, PrefixDockerTerraform, PrefixDockerEnv}
	case "terraform":
		return []Prefix{PrefixTerraformK8s, PrefixTerraformCI, PrefixTerraformEnv, PrefixDockerTerraform}
	case "ci":
		return []Prefix{PrefixCIK8s, PrefixDockerCI, PrefixTerraformCI, PrefixCIEnv}
	case "k8s":
		return []Prefix{PrefixDockerK8s, PrefixTerraformK8s, PrefixCIK8s}
	case "environments":
		return []Prefix{PrefixDockerEnv, PrefixTerraformEnv, PrefixCIEnv}
	}
	return nil
}

// Issue is one validation finding. It is a comparable value type; two issues
// are equal when every field is equal.
//
// The serialized form is {file, severity, message}. Prefix and Detail are
// kept apart internally and only joined by Message, so no rule ever has to
// parse another rule's output.
type Issue struct {
	File     string
	Severity Severity
	Prefix   Prefix
	Detail   string

	// Rule is the ID of the rule that produced the issue. It is used by
	// policy and metrics and is not part of the serialized contract.
	Rule string
}

// Message renders the user-facing message, including the layer prefix.
func (i Issue) Message() string {
	if i.Prefix == PrefixNone {
		return i.Detail
	}
	return fmt.Sprintf("%s: %s", i.Prefix, i.Detail)
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Severity, i.File, i.Message())
}

type issueJSON struct {
	File     string   `json:"file"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// MarshalJSON emits the stable {file, severity, message} shape.
func (i Issue) MarshalJSON() ([]byte, error) {
	return json.Marshal(issueJSON{File: i.File, Severity: i.Severity, Message: i.Message()})
}

// UnmarshalJSON reads the stable shape back. The prefix is not recovered;
// the whole message lands in Detail.
func (i *Issue) UnmarshalJSON(data []byte) error {
	var raw issueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = Issue{File: raw.File, Severity: raw.Severity, Detail: raw.Message}
	return nil
}

// ValidationReport is the output of one validation run. Errors and Warnings
// are always derived from Issues; OK is Errors == 0.
type ValidationReport struct {
	OK           bool    `json:"ok"`
	FilesChecked int     `json:"filesChecked"`
	Issues       []Issue `json:"issues"`
	Errors       int     `json:"errors"`
	Warnings     int     `json:"warnings"`
}

// NewValidationReport derives counts and OK from issues. A nil slice is
// normalized to an empty one so the serialized list is never null.
func NewValidationReport(issues []Issue, filesChecked int) ValidationReport {
	if issues == nil {
		issues = []Issue{}
	}
	r := ValidationReport{FilesChecked: filesChecked, Issues: issues}
	for _, is := range issues {
		switch is.Severity {
		case SeverityError:
			r.Errors++
		case SeverityWarning:
			r.Warnings++
		}
	}
	r.OK = r.Errors == 0
	return r
}

// Infos returns the number of info-level issues.
func (r ValidationReport) Infos() int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == SeverityInfo {
			n++
		}
	}
	return n
}
