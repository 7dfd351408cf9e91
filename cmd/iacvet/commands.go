package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pankaj-dahiya-devops/iacvet/internal/config"
	"github.com/pankaj-dahiya-devops/iacvet/internal/engine"
	"github.com/pankaj-dahiya-devops/iacvet/internal/metrics"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/output"
	"github.com/pankaj-dahiya-devops/iacvet/internal/policy"
	"github.com/pankaj-dahiya-devops/iacvet/internal/providers/aws/eks"
	kube "github.com/pankaj-dahiya-devops/iacvet/internal/providers/kubernetes"
	"github.com/pankaj-dahiya-devops/iacvet/internal/version"
)

// defaultPolicyFile is picked up from the project root when no policy is
// configured.
const defaultPolicyFile = ".iacvet-policy.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "iacvet",
		Short:         "iacvet: cross-tool validation for Kubernetes, Docker, CI and Terraform projects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Config file (default: <project>/.iacvet.yaml)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "Log format: text or json")

	root.AddCommand(newValidateCmd())
	root.AddCommand(newRulesCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.Info())
		},
	}
}

// bindings maps viper keys to flag names; only flags the user set override
// the config file and environment.
var bindings = map[string]string{
	"log.level":           "log-level",
	"log.format":          "log-format",
	"output.format":       "format",
	"output.color":        "color",
	"output.min_severity": "min-severity",
	"policy":              "policy",
	"kube.live":           "live",
	"kube.context":        "context",
	"kube.kubeconfig":     "kubeconfig",
	"metrics.file":        "metrics-file",
	"deployment_strategy": "strategy",
	"aws.profile":         "aws-profile",
}

// loadConfig resolves the configuration for projectDir with cmd's flags
// layered on top.
func loadConfig(cmd *cobra.Command, projectDir string) (*config.Config, error) {
	v := config.New()
	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}
	file, _ := cmd.Flags().GetString("config")
	return config.Load(v, projectDir, file)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for key, name := range bindings {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// ── validate ─────────────────────────────────────────────────────────────────

// validateDeps are the collaborators validate needs; tests replace them.
type validateDeps struct {
	kube kube.KubeClientProvider
	eks  engine.EKSDataCollector
}

func defaultValidateDeps(cfg *config.Config) validateDeps {
	deps := validateDeps{kube: kube.NewDefaultKubeClientProvider(cfg.Kube.Kubeconfig)}
	if !cfg.AWS.DisableEKS {
		deps.eks = eks.NewDefaultEKSCollector(cfg.AWS.Profile)
	}
	return deps
}

func newValidateCmd() *cobra.Command {
	var snapshot string

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate the project at path (default: current directory)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			logger := cfg.NewLogger()
			logger.SetOutput(cmd.ErrOrStderr())

			_, err = runValidate(cmd.Context(), cfg, root, snapshot, defaultValidateDeps(cfg), cmd.OutOrStdout(), logger)
			return err
		},
	}

	cmd.Flags().StringVar(&snapshot, "snapshot", "", "Validate a serialized inventory (YAML or JSON) instead of scanning path")
	cmd.Flags().String("format", "table", "Output format: table or json")
	cmd.Flags().Bool("color", false, "Colour severities in table output")
	cmd.Flags().String("min-severity", "", "Hide table rows below this severity (error, warning, info)")
	cmd.Flags().String("policy", "", "Policy file (default: <project>/"+defaultPolicyFile+" when present)")
	cmd.Flags().Bool("live", false, "Collect live cluster state for cluster checks")
	cmd.Flags().String("context", "", "Kubeconfig context for --live (default: current context)")
	cmd.Flags().String("kubeconfig", "", "Kubeconfig path (default: $KUBECONFIG or ~/.kube/config)")
	cmd.Flags().String("aws-profile", "", "AWS profile for EKS enrichment (default: credential chain)")
	cmd.Flags().String("metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	cmd.Flags().String("strategy", "", "Override deployment strategy classification (raw, helm, kustomize, skaffold)")
	return cmd
}

// runValidate collects the inventory, validates it, renders the report to w
// and exports metrics. It returns an *exitError when the report is not ok or
// a policy enforcement threshold tripped; the report is rendered either way.
func runValidate(ctx context.Context, cfg *config.Config, root, snapshot string, deps validateDeps, w io.Writer, logger *logrus.Logger) (*models.ValidationReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	pol, err := loadPolicy(resolvePolicyPath(cfg, root))
	if err != nil {
		return nil, err
	}

	collector := engine.NewCollector(deps.kube, deps.eks, logger)
	inv, err := collector.Collect(ctx, engine.CollectOptions{
		Root:               root,
		SnapshotPath:       snapshot,
		Live:               cfg.Kube.Live,
		ContextName:        cfg.Kube.Context,
		Environments:       cfg.DeclaredEnvironments(root),
		DeploymentStrategy: cfg.DeploymentStrategy,
	})
	if err != nil {
		return nil, err
	}

	recorder := metrics.NewRecorder(logger)
	enforcer := &enforcement{policy: pol}
	eng := engine.NewDefaultEngine(logger,
		engine.WithPolicy(pol),
		engine.WithObserver(engine.Observers{recorder, enforcer}),
	)
	report, err := eng.Validate(inv)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	opts := output.TableOptions{
		Colored:     cfg.Output.Color,
		MinSeverity: models.Severity(cfg.Output.MinSeverity),
	}
	if err := output.Render(w, report, cfg.Output.Format, opts); err != nil {
		return report, err
	}

	if cfg.Metrics.File != "" {
		if err := recorder.WriteTextfile(cfg.Metrics.File); err != nil {
			// Metrics export never changes the validation outcome.
			logger.WithError(err).Warn("metrics export failed")
		}
	}

	switch {
	case !report.OK:
		return report, &exitError{code: 1, reason: fmt.Sprintf("validation failed: %d error(s)", report.Errors)}
	case len(enforcer.tripped) > 0:
		return report, &exitError{code: 1, reason: "policy enforcement failed for layer(s) " + strings.Join(enforcer.tripped, ", ")}
	}
	return report, nil
}

// resolvePolicyPath returns the configured policy file, or the default file
// in root when it exists.
func resolvePolicyPath(cfg *config.Config, root string) string {
	if p := cfg.PolicyPath(root); p != "" {
		return p
	}
	def := filepath.Join(root, defaultPolicyFile)
	if _, err := os.Stat(def); err == nil {
		return def
	}
	return ""
}

// loadPolicy loads and validates the policy file. An empty path means no
// policy.
func loadPolicy(path string) (*policy.PolicyConfig, error) {
	if path == "" {
		return nil, nil
	}
	cfg, err := policy.LoadPolicy(path)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	if errs := policy.Validate(cfg, allRuleIDs(), engine.LayerNames()); len(errs) > 0 {
		return nil, fmt.Errorf("invalid policy %s: %w", path, errors.Join(errs...))
	}
	return cfg, nil
}

// enforcement records the layers whose post-policy issues reach the
// configured fail_on_severity.
type enforcement struct {
	policy  *policy.PolicyConfig
	tripped []string
}

func (e *enforcement) ObserveLayer(layer string, issues []models.Issue) {
	if policy.ShouldFail(layer, issues, e.policy) {
		e.tripped = append(e.tripped, layer)
	}
}

func (e *enforcement) ObserveReport(*models.ValidationReport) {}

// ── rules ────────────────────────────────────────────────────────────────────

// ruleInfo is one row of iacvet rules.
type ruleInfo struct {
	Layer string `json:"layer"`
	ID    string `json:"id"`
	Name  string `json:"name"`
}

func newRulesCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List every rule by layer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(cmd.OutOrStdout(), format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	return cmd
}

func listRules() []ruleInfo {
	var out []ruleInfo
	for _, layer := range engine.DefaultLayers(nil) {
		for _, r := range layer.Registry.All() {
			out = append(out, ruleInfo{Layer: layer.Name, ID: r.ID(), Name: r.Name()})
		}
	}
	return out
}

// allRuleIDs returns the IDs of every rule in every layer.
func allRuleIDs() []string {
	var ids []string
	for _, r := range listRules() {
		ids = append(ids, r.ID)
	}
	return ids
}

func runRules(w io.Writer, format string) error {
	infos := listRules()
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(infos); err != nil {
			return fmt.Errorf("encode rules: %w", err)
		}
		return nil
	case "", "table":
		fmt.Fprintf(w, "%-12s  %-32s  %s\n", "LAYER", "RULE ID", "NAME")
		fmt.Fprintln(w, strings.Repeat("-", 80))
		for _, r := range infos {
			fmt.Fprintf(w, "%-12s  %-32s  %s\n", r.Layer, r.ID, r.Name)
		}
		return nil
	}
	return fmt.Errorf("unknown format %q (want table or json)", format)
}
