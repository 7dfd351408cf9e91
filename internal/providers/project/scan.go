// Package project builds a models.Inventory from a project checkout on disk.
//
// The scanner only reads files. It never invokes kubectl, helm or terraform;
// tool availability is probed with a PATH lookup. Every parse failure is
// contained to its file: the file is logged and skipped and the scan goes on.
package project

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/sirupsen/logrus"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// defaultIgnores are never scanned, whatever .gitignore says.
var defaultIgnores = []string{
	".git/",
	"node_modules/",
	"vendor/",
	".terraform/",
	".idea/",
	".vscode/",
}

// probedTools are looked up on PATH to fill K8sDomain.ToolAvailability.
var probedTools = []string{"kubectl", "helm", "kustomize", "skaffold", "docker", "terraform"}

// ProbedTools returns the tool binaries a scan looks up on PATH.
func ProbedTools() []string {
	return append([]string(nil), probedTools...)
}

// Options configures one scan.
type Options struct {
	// Environments is the declared environment list, usually from .iacvet.yaml.
	Environments []models.Environment

	// DeploymentStrategy overrides strategy classification when non-empty.
	DeploymentStrategy string

	// LookPath resolves tool binaries. Defaults to exec.LookPath.
	LookPath func(string) (string, error)

	Logger logrus.FieldLogger
}

// tree is the walked project layout.
type tree struct {
	root  string
	files []string
	dirs  map[string]bool
	set   map[string]bool
}

func (t *tree) hasFile(p string) bool { return t.set[p] }
func (t *tree) hasDir(p string) bool  { return t.dirs[p] }

func (t *tree) read(rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(t.root, filepath.FromSlash(rel)))
}

// filesUnder returns every file below dir, in walk order.
func (t *tree) filesUnder(dir string) []string {
	var out []string
	prefix := dir + "/"
	if dir == "." {
		prefix = ""
	}
	for _, f := range t.files {
		if strings.HasPrefix(f, prefix) {
			out = append(out, f)
		}
	}
	return out
}

// scanner carries per-scan state.
type scanner struct {
	opts   Options
	logger logrus.FieldLogger
	tree   *tree

	// consumed marks YAML files owned by a tool (charts, kustomizations,
	// patches, CI, compose, skaffold) that must not become ResourceRefs.
	consumed map[string]bool
}

// Scan walks root and returns the assembled Inventory. It fails only when
// root cannot be walked or ctx is cancelled.
func Scan(ctx context.Context, root string, opts Options) (*models.Inventory, error) {
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	logger := opts.Logger
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root %q: %w", root, err)
	}

	t, err := walk(ctx, abs)
	if err != nil {
		return nil, err
	}

	s := &scanner{
		opts:     opts,
		logger:   logger.WithField("component", "project-scanner"),
		tree:     t,
		consumed: make(map[string]bool),
	}

	inv := &models.Inventory{}
	inv.Project = models.ProjectDomain{Root: abs, Files: t.files}
	for d := range t.dirs {
		inv.Project.Dirs = append(inv.Project.Dirs, d)
	}
	sort.Strings(inv.Project.Dirs)

	// Tool-owned files first so the manifest pass knows what to skip.
	inv.K8s.HelmCharts = s.scanCharts()
	inv.K8s.Kustomize = s.scanKustomize()
	inv.K8s.Skaffold = s.scanSkaffold()
	inv.Docker = s.scanDocker()
	inv.CI = s.scanCI()
	inv.Terraform = s.scanTerraform()
	inv.Project.EnvFiles = s.scanEnvFiles()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inv.K8s.Resources, inv.K8s.ManifestFiles = s.scanManifests(inv.K8s.HelmCharts)

	inv.K8s.DeploymentStrategy = opts.DeploymentStrategy
	inv.K8s.DeclaredEnvironments = opts.Environments
	inv.K8s.ToolAvailability = make(map[string]models.ToolStatus, len(probedTools))
	for _, tool := range probedTools {
		_, err := opts.LookPath(tool)
		inv.K8s.ToolAvailability[tool] = models.ToolStatus{Available: err == nil}
	}

	s.logger.WithFields(logrus.Fields{
		"files":     len(t.files),
		"resources": len(inv.K8s.Resources),
		"charts":    len(inv.K8s.HelmCharts),
		"workflows": len(inv.CI.Workflows),
	}).Debug("project scanned")
	return inv, nil
}

// walk lists every file and directory below root, honouring the root
// .gitignore and defaultIgnores. Paths are slash-separated and relative.
func walk(ctx context.Context, root string) (*tree, error) {
	patterns := append([]string{}, defaultIgnores...)
	if data, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		patterns = append(patterns, strings.Split(string(data), "\n")...)
	}
	matcher := ignore.CompileIgnoreLines(patterns...)

	t := &tree{root: root, dirs: make(map[string]bool), set: make(map[string]bool)}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if matcher.MatchesPath(rel) || (d.IsDir() && matcher.MatchesPath(rel+"/")) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			t.dirs[rel] = true
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		t.files = append(t.files, rel)
		t.set[rel] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk project %q: %w", root, err)
	}
	sort.Strings(t.files)
	return t, nil
}

func isYAML(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	return ext == ".yaml" || ext == ".yml"
}

// depthSorted orders paths by directory depth, then lexically, so the
// project-root copy of a file wins.
func depthSorted(paths []string) []string {
	out := append([]string{}, paths...)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := strings.Count(out[i], "/"), strings.Count(out[j], "/")
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out
}
