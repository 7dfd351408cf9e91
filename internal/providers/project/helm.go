package project

import (
	"path"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"sigs.k8s.io/yaml"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// chartFile is the subset of Chart.yaml the validator reads.
type chartFile struct {
	APIVersion   string                   `json:"apiVersion"`
	Name         string                   `json:"name"`
	Version      string                   `json:"version"`
	AppVersion   string                   `json:"appVersion"`
	Type         string                   `json:"type"`
	Dependencies []models.ChartDependency `json:"dependencies"`
}

// scanCharts finds every Chart.yaml and describes its directory. Values and
// Chart.* files are consumed; templates are left for the manifest pass.
func (s *scanner) scanCharts() []models.HelmChart {
	var charts []models.HelmChart
	for _, f := range s.tree.files {
		if path.Base(f) != "Chart.yaml" {
			continue
		}
		dir := path.Dir(f)
		// Vendored subcharts belong to their parent chart.
		if s.insideChart(dir) {
			continue
		}
		s.consumed[f] = true

		c := models.HelmChart{Path: dir}
		data, err := s.tree.read(f)
		if err != nil {
			s.logger.WithError(err).WithField("file", f).Warn("read Chart.yaml failed; skipping chart metadata")
		} else {
			var cf chartFile
			if err := yaml.Unmarshal(data, &cf); err != nil {
				s.logger.WithError(err).WithField("file", f).Warn("parse Chart.yaml failed; skipping chart metadata")
			} else {
				c.APIVersion = cf.APIVersion
				c.Name = cf.Name
				c.Version = cf.Version
				c.AppVersion = cf.AppVersion
				c.Type = cf.Type
				c.Dependencies = cf.Dependencies
			}
		}
		s.describeChart(&c)
		charts = append(charts, c)
	}
	return charts
}

func (s *scanner) describeChart(c *models.HelmChart) {
	join := func(p string) string { return path.Join(c.Path, p) }
	t := s.tree

	c.HasValues = t.hasFile(join("values.yaml")) || t.hasFile(join("values.yml"))
	c.HasTemplates = t.hasDir(join("templates"))
	c.HasSubcharts = t.hasDir(join("charts"))
	c.HasLockfile = t.hasFile(join("Chart.lock")) || t.hasFile(join("requirements.lock"))
	c.HasHelmignore = t.hasFile(join(".helmignore"))
	c.HasNotes = t.hasFile(join("templates/NOTES.txt"))
	c.HasHelpers = t.hasFile(join("templates/_helpers.tpl"))
	c.HasSchema = t.hasFile(join("values.schema.json"))

	var matcher *ignore.GitIgnore
	if c.HasHelmignore {
		if data, err := t.read(join(".helmignore")); err == nil {
			matcher = ignore.CompileIgnoreLines(strings.Split(string(data), "\n")...)
		}
	}

	templatesDir := join("templates") + "/"
	for _, f := range t.filesUnder(c.Path) {
		rel := strings.TrimPrefix(f, c.Path+"/")
		if matcher == nil || !matcher.MatchesPath(rel) {
			c.FileCount++
		}
		if strings.HasPrefix(f, templatesDir) {
			c.TemplateFiles = append(c.TemplateFiles, strings.TrimPrefix(f, templatesDir))
			continue
		}
		if path.Dir(f) == c.Path && isYAML(f) {
			s.consumed[f] = true
			if isValuesFile(path.Base(f)) && path.Base(f) != "values.yaml" && path.Base(f) != "values.yml" {
				c.EnvValuesFiles = append(c.EnvValuesFiles, f)
			}
		}
		if strings.HasPrefix(rel, "charts/") || strings.HasPrefix(rel, "ci/") {
			s.consumed[f] = true
		}
	}
}

// insideChart reports whether an ancestor of dir holds a Chart.yaml.
func (s *scanner) insideChart(dir string) bool {
	for d := path.Dir(dir); ; d = path.Dir(d) {
		if s.tree.hasFile(path.Join(d, "Chart.yaml")) {
			return true
		}
		if d == "." || d == "/" {
			return false
		}
	}
}

// isValuesFile matches values.yaml, values-<env>.yaml and values.<env>.yaml.
func isValuesFile(base string) bool {
	return strings.HasPrefix(base, "values") && isYAML(base)
}
