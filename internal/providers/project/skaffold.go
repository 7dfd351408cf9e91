package project

import (
	"path"
	"sort"

	"sigs.k8s.io/yaml"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

type skaffoldBuild struct {
	Artifacts []struct {
		Image   string `json:"image"`
		Context string `json:"context"`
		Docker  *struct {
			Dockerfile string `json:"dockerfile"`
		} `json:"docker"`
	} `json:"artifacts"`
	TagPolicy map[string]any `json:"tagPolicy"`
}

type skaffoldManifests struct {
	RawYaml   []string `json:"rawYaml"`
	Kustomize *struct {
		Paths []string `json:"paths"`
	} `json:"kustomize"`
	Helm map[string]any `json:"helm"`
}

// skaffoldFile is the subset of skaffold.yaml the validator reads. Both the
// v2 (deploy.kubectl.manifests) and v3+ (manifests.rawYaml) layouts are
// accepted.
type skaffoldFile struct {
	APIVersion string             `json:"apiVersion"`
	Build      *skaffoldBuild     `json:"build"`
	Deploy     map[string]any     `json:"deploy"`
	Manifests  *skaffoldManifests `json:"manifests"`
	Profiles   []struct {
		Name      string         `json:"name"`
		Build     map[string]any `json:"build"`
		Deploy    map[string]any `json:"deploy"`
		Manifests map[string]any `json:"manifests"`
	} `json:"profiles"`
}

// scanSkaffold parses the project's skaffold.yaml, preferring the one
// closest to the root. It returns nil when there is none.
func (s *scanner) scanSkaffold() *models.SkaffoldConfig {
	var candidates []string
	for _, f := range s.tree.files {
		if b := path.Base(f); b == "skaffold.yaml" || b == "skaffold.yml" {
			candidates = append(candidates, f)
			s.consumed[f] = true
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	file := depthSorted(candidates)[0]
	sk := &models.SkaffoldConfig{Path: file}

	data, err := s.tree.read(file)
	if err != nil {
		s.logger.WithError(err).WithField("file", file).Warn("read skaffold config failed")
		return sk
	}
	var sf skaffoldFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		s.logger.WithError(err).WithField("file", file).Warn("parse skaffold config failed")
		return sk
	}

	sk.APIVersion = sf.APIVersion
	if sf.Build != nil {
		sk.HasBuild = len(sf.Build.Artifacts) > 0
		for _, a := range sf.Build.Artifacts {
			art := models.SkaffoldArtifact{Image: a.Image, Context: a.Context}
			if a.Docker != nil {
				art.Dockerfile = a.Docker.Dockerfile
			}
			sk.Artifacts = append(sk.Artifacts, art)
		}
		sk.TagPolicy = firstKey(sf.Build.TagPolicy)
	}
	for k := range sf.Deploy {
		if k == "statusCheck" || k == "statusCheckDeadlineSeconds" || k == "logs" {
			continue
		}
		sk.Deployers = append(sk.Deployers, k)
	}
	sort.Strings(sk.Deployers)

	if sf.Manifests != nil {
		sk.RawYaml = sf.Manifests.RawYaml
		if sf.Manifests.Kustomize != nil {
			sk.KustomizePaths = sf.Manifests.Kustomize.Paths
		}
		sk.HasHelmManifests = len(sf.Manifests.Helm) > 0
	}
	// v2 schemas list manifests under deploy.kubectl.
	if kubectl, ok := sf.Deploy["kubectl"].(map[string]any); ok {
		if list, ok := kubectl["manifests"].([]any); ok {
			for _, m := range list {
				if str, ok := m.(string); ok {
					sk.RawYaml = append(sk.RawYaml, str)
				}
			}
		}
	}

	profileHasPipeline := false
	for _, p := range sf.Profiles {
		sk.Profiles = append(sk.Profiles, p.Name)
		if len(p.Build) > 0 || len(p.Deploy) > 0 || len(p.Manifests) > 0 {
			profileHasPipeline = true
		}
	}
	topLevel := sf.Build != nil || len(sf.Deploy) > 0 || sf.Manifests != nil
	sk.ProfilesOnly = profileHasPipeline && !topLevel
	return sk
}

// firstKey returns the lexically first key of m, or "" when m is empty.
func firstKey(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
