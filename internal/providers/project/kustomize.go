package project

import (
	"path"
	"sort"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"
	"sigs.k8s.io/yaml"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

var kustomizationNames = map[string]bool{
	"kustomization.yaml": true,
	"kustomization.yml":  true,
	"Kustomization":      true,
}

type kustomizeTarget struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// kustomizationFile is the subset of kustomization.yaml the validator reads,
// including the deprecated patch fields.
type kustomizationFile struct {
	Resources             []string          `json:"resources"`
	Bases                 []string          `json:"bases"`
	Components            []string          `json:"components"`
	Namespace             string            `json:"namespace"`
	CommonLabels          map[string]string `json:"commonLabels"`
	PatchesStrategicMerge []string          `json:"patchesStrategicMerge"`
	Patches               []struct {
		Path   string           `json:"path"`
		Patch  string           `json:"patch"`
		Target *kustomizeTarget `json:"target"`
	} `json:"patches"`
	PatchesJSON6902 []struct {
		Path   string          `json:"path"`
		Target kustomizeTarget `json:"target"`
	} `json:"patchesJson6902"`
	SecretGenerator []struct {
		Name     string   `json:"name"`
		Literals []string `json:"literals"`
		Files    []string `json:"files"`
		Envs     []string `json:"envs"`
		Env      string   `json:"env"`
	} `json:"secretGenerator"`
	ConfigMapGenerator []struct {
		Name string `json:"name"`
	} `json:"configMapGenerator"`
}

// scanKustomize parses every kustomization and consumes it together with
// the patch files it references.
func (s *scanner) scanKustomize() models.KustomizeConfig {
	var kc models.KustomizeConfig
	overlays := make(map[string]bool)
	var bases []string

	for _, f := range s.tree.files {
		if !kustomizationNames[path.Base(f)] {
			continue
		}
		s.consumed[f] = true
		data, err := s.tree.read(f)
		if err != nil {
			s.logger.WithError(err).WithField("file", f).Warn("read kustomization failed; skipping")
			continue
		}
		var kf kustomizationFile
		if err := yaml.Unmarshal(data, &kf); err != nil {
			s.logger.WithError(err).WithField("file", f).Warn("parse kustomization failed; skipping")
			continue
		}
		k := s.toKustomization(f, kf)
		kc.Kustomizations = append(kc.Kustomizations, k)

		if env := overlayName(path.Dir(f)); env != "" {
			overlays[env] = true
		} else {
			bases = append(bases, path.Dir(f))
		}
	}

	kc.Exists = len(kc.Kustomizations) > 0
	for env := range overlays {
		kc.Overlays = append(kc.Overlays, env)
	}
	sort.Strings(kc.Overlays)
	if len(bases) > 0 {
		kc.Path = depthSorted(bases)[0]
	}
	return kc
}

func (s *scanner) toKustomization(file string, kf kustomizationFile) models.Kustomization {
	dir := path.Dir(file)
	k := models.Kustomization{
		Path:         file,
		Resources:    kf.Resources,
		Bases:        kf.Bases,
		Components:   kf.Components,
		Namespace:    kf.Namespace,
		CommonLabels: kf.CommonLabels,
	}

	for _, p := range kf.Patches {
		patch := models.KustomizePatch{Path: p.Path}
		if p.Target != nil {
			patch.Target = models.PatchTarget(*p.Target)
		} else if p.Path != "" {
			patch.Target = s.patchTarget(path.Join(dir, p.Path))
		}
		s.consumePatch(dir, p.Path)
		k.Patches = append(k.Patches, patch)
	}
	for _, p := range kf.PatchesStrategicMerge {
		// Inline patches are YAML documents, not paths.
		if strings.Contains(p, "\n") {
			continue
		}
		k.Patches = append(k.Patches, models.KustomizePatch{
			Path:   p,
			Target: s.patchTarget(path.Join(dir, p)),
		})
		s.consumePatch(dir, p)
	}
	for _, p := range kf.PatchesJSON6902 {
		k.Patches = append(k.Patches, models.KustomizePatch{Path: p.Path, Target: models.PatchTarget(p.Target)})
		s.consumePatch(dir, p.Path)
	}

	for _, g := range kf.SecretGenerator {
		envs := g.Envs
		if g.Env != "" {
			envs = append(envs, g.Env)
		}
		k.SecretGenerators = append(k.SecretGenerators, models.SecretGenerator{
			Name:     g.Name,
			Literals: g.Literals,
			Files:    g.Files,
			EnvFiles: envs,
		})
	}
	for _, g := range kf.ConfigMapGenerator {
		k.ConfigGenerators = append(k.ConfigGenerators, g.Name)
	}
	return k
}

func (s *scanner) consumePatch(dir, rel string) {
	if rel == "" {
		return
	}
	s.consumed[path.Join(dir, rel)] = true
}

// patchTarget reads kind and metadata.name from a strategic-merge patch
// file. A missing or unreadable file yields an empty target.
func (s *scanner) patchTarget(file string) models.PatchTarget {
	if !s.tree.hasFile(file) {
		return models.PatchTarget{}
	}
	data, err := s.tree.read(file)
	if err != nil {
		return models.PatchTarget{}
	}
	var doc struct {
		Kind     string `yaml:"kind"`
		Metadata struct {
			Name      string `yaml:"name"`
			Namespace string `yaml:"namespace"`
		} `yaml:"metadata"`
	}
	if err := yamlv3.Unmarshal(data, &doc); err != nil {
		return models.PatchTarget{}
	}
	return models.PatchTarget{Kind: doc.Kind, Name: doc.Metadata.Name, Namespace: doc.Metadata.Namespace}
}

// overlayName returns <env> for a directory below overlays/<env>.
func overlayName(dir string) string {
	parts := strings.Split(dir, "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "overlays" {
			return parts[i+1]
		}
	}
	return ""
}
