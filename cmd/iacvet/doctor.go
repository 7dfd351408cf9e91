package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/pankaj-dahiya-devops/iacvet/internal/config"
	"github.com/pankaj-dahiya-devops/iacvet/internal/engine"
	"github.com/pankaj-dahiya-devops/iacvet/internal/policy"
	kube "github.com/pankaj-dahiya-devops/iacvet/internal/providers/kubernetes"
	"github.com/pankaj-dahiya-devops/iacvet/internal/providers/project"
)

// DoctorResult is the structured output of iacvet doctor. It can be
// serialised to JSON via --format=json or rendered as a table (default).
type DoctorResult struct {
	Config struct {
		File   string   `json:"file,omitempty"`
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors,omitempty"`
	} `json:"config"`

	Kubernetes struct {
		// Required is true when kube.live is set; only then does a failed
		// connection make the environment unhealthy.
		Required     bool   `json:"required"`
		KubeconfigOK bool   `json:"kubeconfig_ok"`
		Context      string `json:"context,omitempty"`
		APIReachable bool   `json:"api_reachable"`
		Error        string `json:"error,omitempty"`
	} `json:"kubernetes"`

	Tools []ToolCheck `json:"tools"`

	Policy struct {
		Path    string   `json:"path,omitempty"`
		Present bool     `json:"present"`
		Valid   bool     `json:"valid"`
		Errors  []string `json:"errors,omitempty"`
	} `json:"policy"`

	OverallHealthy bool `json:"overall_healthy"`
}

// ToolCheck reports whether one tool binary is on PATH.
type ToolCheck struct {
	Name  string `json:"name"`
	Found bool   `json:"found"`
	Path  string `json:"path,omitempty"`
}

// doctorDeps are the collaborators doctor needs; tests replace them.
type doctorDeps struct {
	kube     kube.KubeClientProvider
	lookPath func(string) (string, error)
}

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor [path]",
		Short: "Check configuration, policy, cluster access and tools for the project at path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			format, _ := cmd.Flags().GetString("format")

			cfg, cfgErr := loadConfig(cmd, root)
			kubeconfig := ""
			if cfg != nil {
				kubeconfig = cfg.Kube.Kubeconfig
			}
			deps := doctorDeps{
				kube:     kube.NewDefaultKubeClientProvider(kubeconfig),
				lookPath: exec.LookPath,
			}
			result, err := runDoctor(cmd.Context(), deps, root, cfg, cfgErr, cmd.OutOrStdout(), format)
			if err != nil {
				return err
			}
			if !result.OverallHealthy {
				return &exitError{code: 1, reason: "environment is not healthy"}
			}
			return nil
		},
	}
	cmd.Flags().String("format", "table", `Output format: "table" or "json"`)
	cmd.Flags().String("kubeconfig", "", "Kubeconfig path (default: $KUBECONFIG or ~/.kube/config)")
	cmd.Flags().String("context", "", "Kubeconfig context to probe (default: current context)")
	cmd.Flags().String("policy", "", "Policy file (default: <project>/"+defaultPolicyFile+" when present)")
	return cmd
}

// runDoctor collects all diagnostic results, renders them to w in the
// requested format, and returns the result. The returned error covers only
// rendering failures; callers inspect result.OverallHealthy.
func runDoctor(ctx context.Context, deps doctorDeps, root string, cfg *config.Config, cfgErr error, w io.Writer, format string) (DoctorResult, error) {
	result := collectDoctorResult(ctx, deps, root, cfg, cfgErr)

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return result, fmt.Errorf("encode doctor result: %w", err)
		}
	case "", "table":
		renderDoctorTable(result, w)
	default:
		return result, fmt.Errorf("unknown format %q (want table or json)", format)
	}
	return result, nil
}

// collectDoctorResult runs every check and populates a DoctorResult. A nil
// cfg means the configuration failed to load with cfgErr; the remaining
// checks then run against defaults.
func collectDoctorResult(ctx context.Context, deps doctorDeps, root string, cfg *config.Config, cfgErr error) DoctorResult {
	if ctx == nil {
		ctx = context.Background()
	}
	var result DoctorResult

	// Config: load errors are already joined per problem.
	if cfgErr != nil || cfg == nil {
		if cfgErr != nil {
			result.Config.Errors = []string{cfgErr.Error()}
		}
		cfg = &config.Config{}
	} else {
		result.Config.Valid = true
		result.Config.File = cfg.File
	}

	// Kubernetes: kubeconfig load → context → API reachability probe.
	result.Kubernetes.Required = cfg.Kube.Live
	if deps.kube != nil {
		clientset, info, err := deps.kube.ClientsetForContext(cfg.Kube.Context)
		if err != nil {
			result.Kubernetes.Error = err.Error()
		} else {
			result.Kubernetes.KubeconfigOK = true
			result.Kubernetes.Context = info.ContextName
			_, err = clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{Limit: 1})
			if err != nil {
				result.Kubernetes.Error = err.Error()
			} else {
				result.Kubernetes.APIReachable = true
			}
		}
	}

	// Tools are informational: their absence only skips tool-specific checks.
	lookPath := deps.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, tool := range project.ProbedTools() {
		check := ToolCheck{Name: tool}
		if p, err := lookPath(tool); err == nil {
			check.Found = true
			check.Path = p
		}
		result.Tools = append(result.Tools, check)
	}

	// Policy: stat → load → validate (file is optional).
	path := resolvePolicyPath(cfg, root)
	if path != "" {
		result.Policy.Path = path
		if _, statErr := os.Stat(path); statErr != nil {
			result.Policy.Present = !os.IsNotExist(statErr)
			result.Policy.Errors = []string{statErr.Error()}
		} else {
			result.Policy.Present = true
			pcfg, loadErr := policy.LoadPolicy(path)
			if loadErr != nil {
				result.Policy.Errors = []string{loadErr.Error()}
			} else if errs := policy.Validate(pcfg, allRuleIDs(), engine.LayerNames()); len(errs) > 0 {
				for _, e := range errs {
					result.Policy.Errors = append(result.Policy.Errors, e.Error())
				}
			} else {
				result.Policy.Valid = true
			}
		}
	}

	result.OverallHealthy = result.Config.Valid &&
		(!result.Kubernetes.Required || result.Kubernetes.APIReachable) &&
		len(result.Policy.Errors) == 0
	return result
}

// renderDoctorTable writes the human-readable diagnostic output from result to w.
func renderDoctorTable(result DoctorResult, w io.Writer) {
	fmt.Fprintln(w, "Environment Diagnostics")

	fmt.Fprintln(w, "\nConfig:")
	switch {
	case result.Config.Valid && result.Config.File != "":
		doctorPrint(w, "Config file", "OK", result.Config.File)
	case result.Config.Valid:
		doctorPrint(w, "Config file", "Not found (optional)", "")
	default:
		for _, e := range result.Config.Errors {
			doctorPrint(w, "Config file", "FAIL", e)
		}
	}

	if result.Kubernetes.Required {
		fmt.Fprintln(w, "\nKubernetes (live checks enabled):")
	} else {
		fmt.Fprintln(w, "\nKubernetes:")
	}
	if !result.Kubernetes.KubeconfigOK {
		doctorPrint(w, "Kubeconfig", "FAIL", result.Kubernetes.Error)
		doctorPrint(w, "Current Context", "FAIL", "skipped")
		doctorPrint(w, "API Reachable", "FAIL", "skipped")
	} else {
		doctorPrint(w, "Kubeconfig", "OK", "")
		doctorPrint(w, "Current Context", "OK", result.Kubernetes.Context)
		if result.Kubernetes.APIReachable {
			doctorPrint(w, "API Reachable", "OK", "")
		} else {
			doctorPrint(w, "API Reachable", "FAIL", result.Kubernetes.Error)
		}
	}

	fmt.Fprintln(w, "\nTools:")
	for _, t := range result.Tools {
		if t.Found {
			doctorPrint(w, t.Name, "OK", t.Path)
		} else {
			doctorPrint(w, t.Name, "Not found", "")
		}
	}

	fmt.Fprintln(w, "\nPolicy:")
	switch {
	case !result.Policy.Present && len(result.Policy.Errors) == 0:
		doctorPrint(w, "Policy file", "Not found (optional)", "")
	case result.Policy.Valid:
		doctorPrint(w, "Policy file", "OK", result.Policy.Path)
	default:
		for _, e := range result.Policy.Errors {
			doctorPrint(w, "Policy valid", "FAIL", e)
		}
	}
}

// doctorPrint writes a single diagnostic check line to w.
// When detail is non-empty it is appended in parentheses.
func doctorPrint(w io.Writer, label, status, detail string) {
	if detail != "" {
		fmt.Fprintf(w, "  %s: %s (%s)\n", label, status, detail)
	} else {
		fmt.Fprintf(w, "  %s: %s\n", label, status)
	}
}
