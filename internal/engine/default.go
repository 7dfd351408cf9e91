package engine

import (
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/policy"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rulepacks/cluster"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rulepacks/environment"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rulepacks/references"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rulepacks/seams"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rulepacks/security"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rulepacks/strategy"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rulepacks/structural"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rules"
)

// DefaultLayers builds one registry per layer from the rule packs, in
// evaluation order.
func DefaultLayers(logger logrus.FieldLogger) []Layer {
	packs := []struct {
		name  string
		rules []rules.Rule
	}{
		{LayerStructural, structural.New()},
		{LayerReferences, references.New()},
		{LayerEnvironment, environment.New()},
		{LayerCluster, cluster.New()},
		{LayerSecurity, security.New()},
		{LayerSeams, seams.New()},
		{LayerStrategy, strategy.New()},
	}
	layers := make([]Layer, 0, len(packs))
	for _, p := range packs {
		registry := rules.NewDefaultRuleRegistry(logger)
		for _, r := range p.rules {
			registry.Register(r)
		}
		layers = append(layers, Layer{Name: p.name, Registry: registry})
	}
	return layers
}

// DefaultEngine is the production implementation of Engine. It is built
// once and is immutable afterwards; Validate is safe to call repeatedly.
type DefaultEngine struct {
	layers   []Layer
	policy   *policy.PolicyConfig
	observer Observer
	logger   logrus.FieldLogger
}

// Option customises a DefaultEngine at construction time.
type Option func(*DefaultEngine)

// WithPolicy applies cfg after every layer. A nil config means defaults.
func WithPolicy(cfg *policy.PolicyConfig) Option {
	return func(e *DefaultEngine) { e.policy = cfg }
}

// WithObserver reports layer and run results to o.
func WithObserver(o Observer) Option {
	return func(e *DefaultEngine) { e.observer = o }
}

// WithLayers replaces the default rule layers.
func WithLayers(layers ...Layer) Option {
	return func(e *DefaultEngine) { e.layers = layers }
}

// NewDefaultEngine constructs a DefaultEngine wired to the default layers
// unless WithLayers overrides them.
func NewDefaultEngine(logger logrus.FieldLogger, opts ...Option) *DefaultEngine {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	e := &DefaultEngine{logger: logger.WithField("component", "engine")}
	for _, opt := range opts {
		opt(e)
	}
	if e.layers == nil {
		e.layers = DefaultLayers(logger)
	}
	return e
}

// Layers returns the configured layers in evaluation order.
func (e *DefaultEngine) Layers() []Layer {
	return e.layers
}

// Validate implements Engine. It checks the inventory contract, runs every
// enabled layer in order, applies policy to each layer's output and derives
// the report from the concatenated issues.
func (e *DefaultEngine) Validate(inv *models.Inventory) (*models.ValidationReport, error) {
	if err := checkInventory(inv); err != nil {
		return nil, err
	}

	rctx := rules.NewRuleContext(inv, e.policy)
	var issues []models.Issue
	for _, layer := range e.layers {
		if !e.policy.LayerEnabled(layer.Name) {
			e.logger.WithField("layer", layer.Name).Debug("layer disabled by policy")
			continue
		}
		raw := layer.Registry.EvaluateAll(rctx)
		filtered := policy.ApplyPolicy(raw, layer.Name, e.policy)
		e.logger.WithFields(logrus.Fields{
			"layer":  layer.Name,
			"raw":    len(raw),
			"issues": len(filtered),
		}).Debug("layer evaluated")
		if e.observer != nil {
			e.observer.ObserveLayer(layer.Name, filtered)
		}
		issues = append(issues, filtered...)
	}

	report := models.NewValidationReport(issues, countFiles(inv))
	if e.observer != nil {
		e.observer.ObserveReport(&report)
	}
	return &report, nil
}

// checkInventory rejects inventories no collaborator should ever produce.
// An empty Domain is accepted and means "the slice's own domain".
func checkInventory(inv *models.Inventory) error {
	if inv == nil {
		return fmt.Errorf("%w: inventory is nil", ErrMalformedInventory)
	}
	for i, r := range inv.K8s.Resources {
		if r.Domain != "" && r.Domain != models.DomainK8s {
			return fmt.Errorf("%w: k8s resource %d (%s) has domain %q", ErrMalformedInventory, i, r.SourceFile, r.Domain)
		}
		if strings.TrimSpace(r.Kind) == "" {
			return fmt.Errorf("%w: k8s resource %d (%s) has no kind", ErrMalformedInventory, i, r.SourceFile)
		}
	}
	for i, r := range inv.Terraform.Resources {
		if r.Domain != "" && r.Domain != models.DomainTerraform {
			return fmt.Errorf("%w: terraform resource %d (%s) has domain %q", ErrMalformedInventory, i, r.SourceFile, r.Domain)
		}
		if strings.TrimSpace(r.Kind) == "" {
			return fmt.Errorf("%w: terraform resource %d (%s) has no type", ErrMalformedInventory, i, r.SourceFile)
		}
	}
	return nil
}

// countFiles returns the number of distinct source files the layers
// inspected: manifests, chart directories, kustomizations, skaffold,
// Dockerfiles, compose, workflows, Terraform and dotenv files.
func countFiles(inv *models.Inventory) int {
	seen := make(map[string]struct{})
	add := func(p string) {
		p = strings.TrimSpace(p)
		if p == "" {
			return
		}
		seen[path.Clean(strings.TrimPrefix(p, "./"))] = struct{}{}
	}

	for _, r := range inv.K8s.Resources {
		add(r.SourceFile)
	}
	for _, m := range inv.K8s.ManifestFiles {
		add(m.Path)
	}
	for _, c := range inv.K8s.HelmCharts {
		add(c.Path)
	}
	for _, k := range inv.K8s.Kustomize.Kustomizations {
		add(k.Path)
	}
	if inv.K8s.Skaffold != nil {
		add(inv.K8s.Skaffold.Path)
	}
	for _, d := range inv.Docker.Dockerfiles {
		add(d.Path)
	}
	add(inv.Docker.ComposeFile)
	for _, w := range inv.CI.Workflows {
		add(w.File)
	}
	for _, f := range inv.Terraform.Files {
		add(f)
	}
	for _, r := range inv.Terraform.Resources {
		add(r.SourceFile)
	}
	for _, f := range inv.Project.EnvFiles {
		add(f.Path)
	}
	return len(seen)
}
