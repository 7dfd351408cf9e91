package rules

import (
	"path"
	"sort"
	"strings"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// ProjectFiles answers existence questions about the project layout using
// only the paths the collaborator recorded. When the inventory carries no
// layout at all (a snapshot produced elsewhere), every path is assumed to
// exist so that no rule reports a file as missing on no evidence.
type ProjectFiles struct {
	known bool
	files map[string]struct{}
	dirs  map[string]struct{}
}

// NewProjectFiles indexes inv.Project.
func NewProjectFiles(inv *models.Inventory) *ProjectFiles {
	pf := &ProjectFiles{
		files: make(map[string]struct{}),
		dirs:  make(map[string]struct{}),
	}
	pf.known = len(inv.Project.Files) > 0 || len(inv.Project.Dirs) > 0
	for _, f := range inv.Project.Files {
		f = cleanRel(f)
		pf.files[f] = struct{}{}
		for d := path.Dir(f); d != "." && d != "/"; d = path.Dir(d) {
			pf.dirs[d] = struct{}{}
		}
	}
	for _, d := range inv.Project.Dirs {
		pf.dirs[cleanRel(d)] = struct{}{}
	}
	return pf
}

// Known reports whether a project layout was supplied.
func (pf *ProjectFiles) Known() bool { return pf.known }

// FileExists reports whether the relative file path exists.
func (pf *ProjectFiles) FileExists(p string) bool {
	if !pf.known {
		return true
	}
	_, ok := pf.files[cleanRel(p)]
	return ok
}

// DirExists reports whether the relative directory exists.
func (pf *ProjectFiles) DirExists(p string) bool {
	if !pf.known {
		return true
	}
	p = cleanRel(p)
	if p == "." {
		return true
	}
	_, ok := pf.dirs[p]
	return ok
}

// Exists reports whether p is a file or directory.
func (pf *ProjectFiles) Exists(p string) bool {
	return pf.FileExists(p) || pf.DirExists(p)
}

// FilesIn returns the sorted files directly inside dir.
func (pf *ProjectFiles) FilesIn(dir string) []string {
	dir = cleanRel(dir)
	var out []string
	for f := range pf.files {
		if path.Dir(f) == dir {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Glob returns the sorted files matching a path.Match pattern. With no
// layout recorded it reports the pattern itself as a match.
func (pf *ProjectFiles) Glob(pattern string) []string {
	pattern = cleanRel(pattern)
	if !pf.known {
		return []string{pattern}
	}
	var out []string
	for f := range pf.files {
		if ok, _ := path.Match(pattern, f); ok {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// cleanRel normalizes a project-relative path.
func cleanRel(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

// resolveRel joins rel onto dir and reports whether the result escapes the
// project root.
func resolveRel(dir, rel string) (string, bool) {
	if strings.HasPrefix(rel, "/") {
		return path.Clean(rel), true
	}
	joined := path.Clean(path.Join(cleanRel(dir), rel))
	escapes := joined == ".." || strings.HasPrefix(joined, "../")
	return joined, escapes
}

// isRemoteRef reports kustomize remote targets (git URLs, http).
func isRemoteRef(p string) bool {
	return strings.Contains(p, "://") || strings.HasPrefix(p, "github.com/") ||
		strings.HasPrefix(p, "git@") || strings.Contains(p, "?ref=")
}

// underDir reports whether file lives below dir.
func underDir(file, dir string) bool {
	dir = cleanRel(dir)
	if dir == "." {
		return true
	}
	return strings.HasPrefix(cleanRel(file), dir+"/")
}
