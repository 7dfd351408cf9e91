// Package config loads the CLI configuration from .iacvet.yaml in the
// project root, IACVET_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// FileName is the configuration file looked up in the project root.
const FileName = ".iacvet.yaml"

// EnvPrefix prefixes every environment variable override (IACVET_LOG_LEVEL,
// IACVET_KUBE_CONTEXT, ...).
const EnvPrefix = "IACVET"

// Config is the top-level CLI configuration.
type Config struct {
	// Environments is the declared environment list validated by the
	// environment layer.
	Environments []EnvironmentConfig `mapstructure:"environments"`

	// DeploymentStrategy overrides strategy classification (raw, helm,
	// kustomize, skaffold, mixed). Empty lets the engine classify.
	DeploymentStrategy string `mapstructure:"deployment_strategy"`

	// Policy is the path to the policy file. Relative paths are resolved
	// against the project root.
	Policy string `mapstructure:"policy"`

	Kube    KubeConfig    `mapstructure:"kube"`
	AWS     AWSConfig     `mapstructure:"aws"`
	Output  OutputConfig  `mapstructure:"output"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`

	// File is the configuration file that was read, empty when none exists.
	File string `mapstructure:"-"`
}

// EnvironmentConfig declares one deployment environment.
type EnvironmentConfig struct {
	Name      string `mapstructure:"name"`
	Namespace string `mapstructure:"namespace"`
}

// KubeConfig selects the cluster used for live checks.
type KubeConfig struct {
	// Live collects cluster state; without it cluster checks are skipped.
	Live bool `mapstructure:"live"`

	// Context is the kubeconfig context. Empty means the current context.
	Context string `mapstructure:"context"`

	// Kubeconfig overrides $KUBECONFIG and ~/.kube/config.
	Kubeconfig string `mapstructure:"kubeconfig"`
}

// AWSConfig configures EKS enrichment of live cluster data.
type AWSConfig struct {
	// Profile is the shared-config profile. Empty uses the default chain.
	Profile string `mapstructure:"profile"`

	// DisableEKS skips the EKS DescribeCluster call.
	DisableEKS bool `mapstructure:"disable_eks"`
}

// OutputConfig controls report rendering.
type OutputConfig struct {
	// Format is "table" or "json".
	Format string `mapstructure:"format"`

	// Color enables ANSI severity colouring in table output.
	Color bool `mapstructure:"color"`

	// MinSeverity hides table rows below this severity.
	MinSeverity string `mapstructure:"min_severity"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	// File is written after every run when set.
	File string `mapstructure:"file"`
}

// LogConfig controls diagnostic logging on stderr.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New returns a viper instance with defaults and environment binding set.
// Every key has a default so AutomaticEnv can see it during Unmarshal.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("deployment_strategy", "")
	v.SetDefault("policy", "")
	v.SetDefault("kube.live", false)
	v.SetDefault("kube.context", "")
	v.SetDefault("kube.kubeconfig", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.disable_eks", false)
	v.SetDefault("output.format", "table")
	v.SetDefault("output.color", false)
	v.SetDefault("output.min_severity", "")
	v.SetDefault("metrics.file", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration into a Config. When file is empty,
// FileName is looked up in projectDir and a missing file is not an error.
// An explicitly named file must exist.
func Load(v *viper.Viper, projectDir, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(projectDir)
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", v.ConfigFileUsed(), err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem in cfg as one joined error.
func (c *Config) Validate() error {
	var errs []error
	switch c.Output.Format {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("output.format: unknown format %q (want table or json)", c.Output.Format))
	}
	if c.Output.MinSeverity != "" && !models.Severity(c.Output.MinSeverity).Valid() {
		errs = append(errs, fmt.Errorf("output.min_severity: unknown severity %q", c.Output.MinSeverity))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q (want text or json)", c.Log.Format))
	}
	seen := make(map[string]bool)
	for i, e := range c.Environments {
		name := strings.TrimSpace(e.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("environments[%d]: name is required", i))
		case seen[name]:
			errs = append(errs, fmt.Errorf("environments[%d]: duplicate environment %q", i, name))
		}
		seen[name] = true
	}
	return errors.Join(errs...)
}

// DeclaredEnvironments converts the configured environments into the
// inventory form, attributed to the configuration file relative to
// projectDir.
func (c *Config) DeclaredEnvironments(projectDir string) []models.Environment {
	source := FileName
	if c.File != "" {
		if rel, err := filepath.Rel(projectDir, c.File); err == nil && !strings.HasPrefix(rel, "..") {
			source = filepath.ToSlash(rel)
		} else {
			source = filepath.ToSlash(c.File)
		}
	}
	out := make([]models.Environment, 0, len(c.Environments))
	for _, e := range c.Environments {
		out = append(out, models.Environment{
			Name:      strings.TrimSpace(e.Name),
			Source:    source,
			Namespace: e.Namespace,
		})
	}
	return out
}

// PolicyPath resolves the policy file against projectDir. Empty when no
// policy is configured.
func (c *Config) PolicyPath(projectDir string) string {
	if c.Policy == "" || filepath.IsAbs(c.Policy) {
		return c.Policy
	}
	return filepath.Join(projectDir, c.Policy)
}

// NewLogger builds the stderr logger described by the log section.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		logger.SetLevel(level)
	}
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
	return logger
}
