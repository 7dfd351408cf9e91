package rules

import (
	"path"
	"sort"
	"strings"

	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// Strategy is a deployment mechanism for K8s resources.
type Strategy string

const (
	StrategyRaw       Strategy = "raw_kubectl"
	StrategyHelm      Strategy = "helm"
	StrategyKustomize Strategy = "kustomize"
	StrategySkaffold  Strategy = "skaffold"
	StrategyMixed     Strategy = "mixed"
	StrategyNone      Strategy = "none"
)

// StrategyInfo is the classification of one inventory.
type StrategyInfo struct {
	// Strategy is the overall classification.
	Strategy Strategy

	// Active lists every concrete strategy with artifacts present, sorted.
	Active []Strategy

	chartDirs []string
	kustDirs  []string
}

// Uses reports whether s is among the active strategies.
func (si StrategyInfo) Uses(s Strategy) bool {
	for _, a := range si.Active {
		if a == s {
			return true
		}
	}
	return false
}

// Origin returns the strategy that renders a resource declared in file:
// helm below a chart directory, kustomize below a kustomization directory,
// raw_kubectl otherwise.
func (si StrategyInfo) Origin(file string) Strategy {
	for _, d := range si.chartDirs {
		if underDir(file, d) {
			return StrategyHelm
		}
	}
	for _, d := range si.kustDirs {
		if underDir(file, d) {
			return StrategyKustomize
		}
	}
	return StrategyRaw
}

// ParseStrategy normalizes the spellings collaborators use.
func ParseStrategy(s string) Strategy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw", "kubectl", "raw_kubectl", "raw-kubectl", "manifests":
		return StrategyRaw
	case "helm":
		return StrategyHelm
	case "kustomize":
		return StrategyKustomize
	case "skaffold":
		return StrategySkaffold
	case "mixed":
		return StrategyMixed
	case "", "none":
		return StrategyNone
	}
	return StrategyNone
}

// ClassifyStrategy derives the active strategies from the artifacts in inv.
// A non-empty collaborator classification names the overall strategy and is
// always counted as active.
func ClassifyStrategy(inv *models.Inventory, ix *k8sview.Index) StrategyInfo {
	si := StrategyInfo{}
	for _, c := range inv.K8s.HelmCharts {
		si.chartDirs = append(si.chartDirs, cleanRel(c.Path))
	}
	for _, k := range inv.K8s.Kustomize.Kustomizations {
		si.kustDirs = append(si.kustDirs, path.Dir(cleanRel(k.Path)))
	}
	if len(si.kustDirs) == 0 && inv.K8s.Kustomize.Exists && inv.K8s.Kustomize.Path != "" {
		si.kustDirs = append(si.kustDirs, cleanRel(inv.K8s.Kustomize.Path))
	}

	active := make(map[Strategy]bool)
	if len(inv.K8s.HelmCharts) > 0 {
		active[StrategyHelm] = true
	}
	if inv.K8s.Kustomize.Exists || len(inv.K8s.Kustomize.Kustomizations) > 0 {
		active[StrategyKustomize] = true
	}
	if inv.K8s.Skaffold != nil {
		active[StrategySkaffold] = true
	}
	for _, obj := range ix.All() {
		if si.Origin(obj.File()) == StrategyRaw {
			active[StrategyRaw] = true
			break
		}
	}

	declared := ParseStrategy(inv.K8s.DeploymentStrategy)
	if declared != StrategyNone && declared != StrategyMixed {
		active[declared] = true
	}

	for s := range active {
		si.Active = append(si.Active, s)
	}
	sort.Slice(si.Active, func(i, j int) bool { return si.Active[i] < si.Active[j] })

	switch {
	case inv.K8s.DeploymentStrategy != "":
		si.Strategy = declared
	case len(si.Active) == 0:
		si.Strategy = StrategyNone
	case active[StrategySkaffold]:
		si.Strategy = StrategySkaffold
	case len(si.Active) == 1:
		si.Strategy = si.Active[0]
	default:
		si.Strategy = StrategyMixed
	}
	return si
}

// deployers returns the active strategies other than the skaffold
// orchestrator.
func (si StrategyInfo) deployers() []Strategy {
	var out []Strategy
	for _, s := range si.Active {
		if s != StrategySkaffold {
			out = append(out, s)
		}
	}
	return out
}
