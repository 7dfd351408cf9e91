package project

import (
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

const (
	providerGitHubActions = "github-actions"
	providerGitLabCI      = "gitlab-ci"
)

func (s *scanner) scanCI() models.CIDomain {
	var ci models.CIDomain
	providers := make(map[string]bool)
	for _, f := range s.tree.files {
		var (
			wf  *models.Workflow
			err error
		)
		switch {
		case strings.HasPrefix(f, ".github/workflows/") && isYAML(f):
			s.consumed[f] = true
			wf, err = s.parseGitHubWorkflow(f)
		case f == ".gitlab-ci.yml" || f == ".gitlab-ci.yaml":
			s.consumed[f] = true
			wf, err = s.parseGitLabCI(f)
		default:
			continue
		}
		if err != nil {
			s.logger.WithError(err).WithField("file", f).Warn("parse CI workflow failed; skipping")
			continue
		}
		providers[wf.Provider] = true
		ci.Workflows = append(ci.Workflows, *wf)
	}
	for p := range providers {
		ci.Providers = append(ci.Providers, p)
	}
	sort.Strings(ci.Providers)
	return ci
}

// ── GitHub Actions ───────────────────────────────────────────────────────────

type ghStep struct {
	Name string         `yaml:"name"`
	Uses string         `yaml:"uses"`
	Run  string         `yaml:"run"`
	With map[string]any `yaml:"with"`
	Env  map[string]any `yaml:"env"`
}

type ghJob struct {
	Name        string         `yaml:"name"`
	RunsOn      any            `yaml:"runs-on"`
	Needs       any            `yaml:"needs"`
	Environment any            `yaml:"environment"`
	Env         map[string]any `yaml:"env"`
	Steps       []ghStep       `yaml:"steps"`
}

type ghWorkflow struct {
	Name string    `yaml:"name"`
	On   any       `yaml:"on"`
	Jobs yaml.Node `yaml:"jobs"`
}

func (s *scanner) parseGitHubWorkflow(file string) (*models.Workflow, error) {
	data, err := s.tree.read(file)
	if err != nil {
		return nil, err
	}
	var doc ghWorkflow
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	wf := &models.Workflow{
		File:     file,
		Provider: providerGitHubActions,
		Name:     doc.Name,
		Triggers: stringList(doc.On),
	}

	// Decode jobs pairwise to keep document order.
	if doc.Jobs.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(doc.Jobs.Content); i += 2 {
			id := doc.Jobs.Content[i].Value
			var gj ghJob
			if err := doc.Jobs.Content[i+1].Decode(&gj); err != nil {
				return nil, err
			}
			job := models.Job{
				ID:          id,
				Name:        gj.Name,
				RunsOn:      strings.Join(stringList(gj.RunsOn), ","),
				Needs:       stringList(gj.Needs),
				Environment: environmentName(gj.Environment),
				Env:         stringMap(gj.Env),
			}
			for _, st := range gj.Steps {
				job.Steps = append(job.Steps, models.Step{
					Name: st.Name,
					Uses: st.Uses,
					Run:  st.Run,
					With: stringMap(st.With),
					Env:  stringMap(st.Env),
				})
			}
			wf.Jobs = append(wf.Jobs, job)
		}
	}
	return wf, nil
}

// environmentName accepts "environment: prod" and "environment: {name: prod}".
func environmentName(v any) string {
	if m, ok := v.(map[string]any); ok {
		return str(m["name"])
	}
	return str(v)
}

func stringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = str(v)
	}
	return out
}

// ── GitLab CI ────────────────────────────────────────────────────────────────

// gitlabReserved are top-level keys that are not jobs.
var gitlabReserved = map[string]bool{
	"stages": true, "variables": true, "default": true, "include": true, "workflow": true,
	"image": true, "services": true, "before_script": true, "after_script": true, "cache": true,
}

func (s *scanner) parseGitLabCI(file string) (*models.Workflow, error) {
	data, err := s.tree.read(file)
	if err != nil {
		return nil, err
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	wf := &models.Workflow{File: file, Provider: providerGitLabCI, Name: path.Base(file)}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return wf, nil
	}
	doc := root.Content[0]

	triggers := map[string]bool{"push": true}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, val := doc.Content[i].Value, doc.Content[i+1]
		if key == "workflow" {
			collectGitLabSources(val, triggers)
			continue
		}
		if gitlabReserved[key] || strings.HasPrefix(key, ".") || val.Kind != yaml.MappingNode {
			continue
		}
		var gj map[string]any
		if err := val.Decode(&gj); err != nil {
			return nil, err
		}
		collectGitLabSources(val, triggers)
		wf.Jobs = append(wf.Jobs, gitlabJob(key, gj))
	}
	for t := range triggers {
		wf.Triggers = append(wf.Triggers, t)
	}
	sort.Strings(wf.Triggers)
	return wf, nil
}

func gitlabJob(id string, gj map[string]any) models.Job {
	job := models.Job{
		ID:          id,
		RunsOn:      str(gj["image"]),
		Environment: environmentName(gj["environment"]),
	}
	if vars, ok := gj["variables"].(map[string]any); ok {
		job.Env = stringMap(vars)
	}
	if needs, ok := gj["needs"].([]any); ok {
		for _, n := range needs {
			if m, ok := n.(map[string]any); ok {
				job.Needs = append(job.Needs, str(m["job"]))
				continue
			}
			job.Needs = append(job.Needs, str(n))
		}
	}
	for _, section := range []string{"before_script", "script", "after_script"} {
		for _, line := range stringList(gj[section]) {
			job.Steps = append(job.Steps, models.Step{Name: section, Run: line})
		}
	}
	return job
}

// collectGitLabSources records pipeline sources named in only/rules clauses,
// e.g. "merge_requests" or $CI_PIPELINE_SOURCE == "merge_request_event".
func collectGitLabSources(n *yaml.Node, into map[string]bool) {
	if n == nil {
		return
	}
	if n.Kind == yaml.ScalarNode {
		v := n.Value
		switch {
		case v == "merge_requests":
			into[v] = true
		case strings.Contains(v, "CI_PIPELINE_SOURCE") && strings.Contains(v, "merge_request_event"):
			into["merge_request_event"] = true
		case strings.Contains(v, "CI_PIPELINE_SOURCE") && strings.Contains(v, "schedule"):
			into["schedule"] = true
		}
		return
	}
	for _, c := range n.Content {
		collectGitLabSources(c, into)
	}
}
