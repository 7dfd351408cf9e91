package project

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

var composeFileRe = regexp.MustCompile(`^(docker-)?compose([.-][\w.-]+)?\.ya?ml$`)

func isDockerfile(p string) bool {
	b := path.Base(p)
	return b == "Dockerfile" || strings.HasPrefix(b, "Dockerfile.") || strings.HasSuffix(b, ".Dockerfile") ||
		b == "Containerfile"
}

func (s *scanner) scanDocker() models.DockerDomain {
	var d models.DockerDomain
	var composeFiles []string
	for _, f := range s.tree.files {
		switch {
		case isDockerfile(f):
			data, err := s.tree.read(f)
			if err != nil {
				s.logger.WithError(err).WithField("file", f).Warn("read Dockerfile failed; skipping")
				continue
			}
			d.Dockerfiles = append(d.Dockerfiles, parseDockerfile(f, string(data)))
		case composeFileRe.MatchString(path.Base(f)):
			s.consumed[f] = true
			composeFiles = append(composeFiles, f)
		}
	}
	if len(composeFiles) == 0 {
		return d
	}

	// Only the primary compose file is modelled; overrides are consumed.
	file := depthSorted(composeFiles)[0]
	data, err := s.tree.read(file)
	if err != nil {
		s.logger.WithError(err).WithField("file", file).Warn("read compose file failed; skipping")
		return d
	}
	services, volumes, err := parseCompose(data)
	if err != nil {
		s.logger.WithError(err).WithField("file", file).Warn("parse compose file failed; skipping")
		return d
	}
	d.ComposeFile = file
	d.ComposeServices = services
	d.ComposeVolumes = volumes
	return d
}

// ── Dockerfile ───────────────────────────────────────────────────────────────

// parseDockerfile extracts FROM images, stage names and EXPOSE ports.
// Continuation lines are joined before instructions are split.
func parseDockerfile(file, content string) models.Dockerfile {
	df := models.Dockerfile{Path: file}
	for _, line := range logicalLines(content) {
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		args := parts[1:]
		switch strings.ToUpper(parts[0]) {
		case "FROM":
			for len(args) > 0 && strings.HasPrefix(args[0], "--") {
				args = args[1:]
			}
			if len(args) == 0 {
				continue
			}
			df.BaseImages = append(df.BaseImages, args[0])
			if len(args) >= 3 && strings.EqualFold(args[1], "AS") {
				df.Stages = append(df.Stages, args[2])
			}
			if !strings.Contains(args[0], ":") && !strings.Contains(args[0], "@") &&
				args[0] != "scratch" && !strings.HasPrefix(args[0], "$") && !isStage(df.Stages, args[0]) {
				df.Warnings = append(df.Warnings, fmt.Sprintf("base image %s has no tag", args[0]))
			}
		case "EXPOSE":
			for _, a := range args {
				port := strings.SplitN(a, "/", 2)[0]
				if n, err := strconv.Atoi(port); err == nil {
					df.Ports = append(df.Ports, n)
				}
			}
		}
	}
	return df
}

func isStage(stages []string, name string) bool {
	for _, s := range stages {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// logicalLines drops comments and joins backslash continuations.
func logicalLines(content string) []string {
	var out []string
	var cur strings.Builder
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, "\\") {
			cur.WriteString(strings.TrimSuffix(line, "\\"))
			cur.WriteString(" ")
			continue
		}
		cur.WriteString(line)
		if l := strings.TrimSpace(cur.String()); l != "" {
			out = append(out, l)
		}
		cur.Reset()
	}
	if l := strings.TrimSpace(cur.String()); l != "" {
		out = append(out, l)
	}
	return out
}

// ── Compose ──────────────────────────────────────────────────────────────────

// composeService mirrors the compose spec; the polymorphic fields (short
// and long syntax) are decoded as any and normalised afterwards.
type composeService struct {
	Image       string `yaml:"image"`
	Build       any    `yaml:"build"`
	Ports       []any  `yaml:"ports"`
	Environment any    `yaml:"environment"`
	Volumes     []any  `yaml:"volumes"`
	DependsOn   any    `yaml:"depends_on"`
	EnvFile     any    `yaml:"env_file"`
	Healthcheck *struct {
		Test    any  `yaml:"test"`
		Disable bool `yaml:"disable"`
	} `yaml:"healthcheck"`
}

type composeDoc struct {
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]any            `yaml:"volumes"`
}

func parseCompose(data []byte) ([]models.ComposeService, []string, error) {
	var doc composeDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, err
	}

	names := make([]string, 0, len(doc.Services))
	for n := range doc.Services {
		names = append(names, n)
	}
	sort.Strings(names)

	services := make([]models.ComposeService, 0, len(names))
	for _, n := range names {
		cs := doc.Services[n]
		svc := models.ComposeService{
			Name:        n,
			Image:       cs.Image,
			Build:       composeBuild(cs.Build),
			Environment: envMap(cs.Environment),
			DependsOn:   stringList(cs.DependsOn),
			EnvFile:     envFiles(cs.EnvFile),
		}
		for _, p := range cs.Ports {
			svc.Ports = append(svc.Ports, composePort(p))
		}
		for _, v := range cs.Volumes {
			svc.Volumes = append(svc.Volumes, composeVolume(v))
		}
		if cs.Healthcheck != nil {
			svc.Healthcheck = &models.Healthcheck{
				Test:    stringList(cs.Healthcheck.Test),
				Disable: cs.Healthcheck.Disable,
			}
		}
		services = append(services, svc)
	}

	var volumes []string
	for v := range doc.Volumes {
		volumes = append(volumes, v)
	}
	sort.Strings(volumes)
	return services, volumes, nil
}

func composeBuild(v any) *models.ComposeBuild {
	switch b := v.(type) {
	case string:
		return &models.ComposeBuild{Context: b}
	case map[string]any:
		return &models.ComposeBuild{
			Context:    str(b["context"]),
			Dockerfile: str(b["dockerfile"]),
			Target:     str(b["target"]),
		}
	}
	return nil
}

// composePort renders long-syntax ports as "published:target".
func composePort(v any) string {
	if m, ok := v.(map[string]any); ok {
		target, published := str(m["target"]), str(m["published"])
		if published == "" {
			return target
		}
		return published + ":" + target
	}
	return str(v)
}

// composeVolume renders long-syntax volumes as "source:target".
func composeVolume(v any) string {
	if m, ok := v.(map[string]any); ok {
		src, dst := str(m["source"]), str(m["target"])
		if src == "" {
			return dst
		}
		return src + ":" + dst
	}
	return str(v)
}

// envMap accepts both the mapping and the KEY=VALUE list syntax.
func envMap(v any) map[string]string {
	switch e := v.(type) {
	case map[string]any:
		out := make(map[string]string, len(e))
		for k, val := range e {
			out[k] = str(val)
		}
		return out
	case []any:
		out := make(map[string]string, len(e))
		for _, item := range e {
			k, val, _ := strings.Cut(str(item), "=")
			out[k] = val
		}
		return out
	}
	return nil
}

// stringList accepts a scalar, a list, or a mapping (whose keys are taken,
// as for long-syntax depends_on).
func stringList(v any) []string {
	switch l := v.(type) {
	case string:
		return []string{l}
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			out = append(out, str(item))
		}
		return out
	case map[string]any:
		out := make([]string, 0, len(l))
		for k := range l {
			out = append(out, k)
		}
		sort.Strings(out)
		return out
	}
	return nil
}

// envFiles accepts a path, a list of paths, or a list of {path, required}.
func envFiles(v any) []string {
	if l, ok := v.([]any); ok {
		out := make([]string, 0, len(l))
		for _, item := range l {
			if m, ok := item.(map[string]any); ok {
				out = append(out, str(m["path"]))
				continue
			}
			out = append(out, str(item))
		}
		return out
	}
	return stringList(v)
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
