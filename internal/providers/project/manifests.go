package project

import (
	"bytes"
	"errors"
	"io"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// configFiles are the validator's own YAML files.
var configFiles = map[string]bool{
	".iacvet.yaml": true,
	".iacvet.yml":  true,
}

// scanManifests decodes every unconsumed YAML file into K8s ResourceRefs.
// Chart templates are attempted too; most fail before rendering and are
// skipped without a warning.
func (s *scanner) scanManifests(charts []models.HelmChart) ([]models.ResourceRef, []models.ManifestFile) {
	templateDirs := make([]string, 0, len(charts))
	for _, c := range charts {
		templateDirs = append(templateDirs, path.Join(c.Path, "templates")+"/")
	}
	inTemplates := func(f string) bool {
		for _, d := range templateDirs {
			if strings.HasPrefix(f, d) {
				return true
			}
		}
		return false
	}

	var (
		resources []models.ResourceRef
		files     []models.ManifestFile
	)
	for _, f := range s.tree.files {
		if !isYAML(f) || s.consumed[f] || configFiles[path.Base(f)] {
			continue
		}
		template := inTemplates(f)
		data, err := s.tree.read(f)
		if err != nil {
			s.logger.WithError(err).WithField("file", f).Warn("read manifest failed; skipping")
			continue
		}
		refs, err := decodeManifests(f, data)
		if err != nil {
			entry := s.logger.WithError(err).WithField("file", f)
			if template {
				entry.Debug("chart template does not decode before rendering; skipping")
			} else {
				entry.Warn("decode manifest failed; skipping")
			}
			continue
		}
		if len(refs) == 0 {
			continue
		}
		mf := models.ManifestFile{Path: f}
		for _, r := range refs {
			mf.Resources = append(mf.Resources, models.ManifestSummary{
				Kind:       r.Kind,
				Name:       r.Name,
				Namespace:  r.Namespace,
				APIVersion: str(r.Attributes["apiVersion"]),
			})
		}
		resources = append(resources, refs...)
		files = append(files, mf)
	}
	return resources, files
}

// decodeManifests splits a multi-document YAML file into ResourceRefs.
// Documents without apiVersion and kind are not K8s objects and are
// dropped. List kinds are expanded into their items.
func decodeManifests(file string, data []byte) ([]models.ResourceRef, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var out []models.ResourceRef
	for {
		var doc map[string]any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, objectRefs(file, doc)...)
	}
}

func objectRefs(file string, doc map[string]any) []models.ResourceRef {
	apiVersion, kind := str(doc["apiVersion"]), str(doc["kind"])
	if apiVersion == "" || kind == "" {
		return nil
	}
	if items, ok := doc["items"].([]any); ok && strings.HasSuffix(kind, "List") {
		var out []models.ResourceRef
		for _, it := range items {
			if m, ok := it.(map[string]any); ok {
				out = append(out, objectRefs(file, m)...)
			}
		}
		return out
	}
	ref := models.ResourceRef{
		Domain:     models.DomainK8s,
		Kind:       kind,
		SourceFile: file,
		Attributes: doc,
	}
	if meta, ok := doc["metadata"].(map[string]any); ok {
		ref.Name = str(meta["name"])
		ref.Namespace = str(meta["namespace"])
	}
	return []models.ResourceRef{ref}
}
