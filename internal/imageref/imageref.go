// Package imageref parses container image references the way the container
// runtime does and answers the questions the rules ask about them.
package imageref

import (
	"path"
	"regexp"
	"strings"

	"github.com/distribution/reference"
)

var placeholderRe = regexp.MustCompile(`\$\{[^}]*\}|\$[A-Za-z_][A-Za-z0-9_]*|\{\{[^}]*\}\}`)

// publicRegistries host images anyone can pull without credentials.
var publicRegistries = map[string]bool{
	"docker.io":           true,
	"registry.k8s.io":     true,
	"k8s.gcr.io":          true,
	"quay.io":             true,
	"ghcr.io":             true,
	"gcr.io":              true,
	"mcr.microsoft.com":   true,
	"public.ecr.aws":      true,
	"registry.gitlab.com": true,
}

// Ref is a parsed image reference.
type Ref struct {
	Raw string

	// Domain is the registry host after normalization (docker.io for
	// short names).
	Domain string

	// Path is the repository path without the registry host.
	Path   string
	Tag    string
	Digest string

	// ExplicitRegistry is true when Raw names a registry host itself.
	ExplicitRegistry bool

	// Templated is true when Raw contains ${VAR} or {{ }} placeholders.
	Templated bool

	// Valid is false when Raw could not be parsed even after placeholder
	// substitution.
	Valid bool
}

// Parse parses s. It never fails; check Valid.
func Parse(s string) Ref {
	r := Ref{Raw: s}
	s = strings.TrimSpace(s)
	if s == "" {
		return r
	}
	candidate := s
	if placeholderRe.MatchString(s) {
		r.Templated = true
		candidate = placeholderRe.ReplaceAllString(s, "x")
	}
	r.ExplicitRegistry = hasRegistryHost(candidate)

	named, err := reference.ParseNormalizedNamed(candidate)
	if err != nil {
		return r
	}
	r.Valid = true
	r.Domain = reference.Domain(named)
	r.Path = reference.Path(named)
	if tagged, ok := named.(reference.Tagged); ok && !r.Templated {
		r.Tag = tagged.Tag()
	} else if ok {
		r.Tag = templatedTag(s)
	}
	if digested, ok := named.(reference.Digested); ok {
		r.Digest = digested.Digest().String()
	}
	return r
}

// templatedTag returns the tag text of a templated reference verbatim.
func templatedTag(s string) string {
	last := strings.LastIndex(s, "/")
	if i := strings.LastIndex(s, ":"); i > last {
		return s[i+1:]
	}
	return ""
}

func hasRegistryHost(s string) bool {
	i := strings.Index(s, "/")
	if i < 0 {
		return false
	}
	first := s[:i]
	return strings.ContainsAny(first, ".:") || first == "localhost"
}

// HasExplicitVersion reports whether the reference pins a tag or digest.
func (r Ref) HasExplicitVersion() bool {
	return r.Tag != "" || r.Digest != ""
}

// IsLatest reports whether the reference resolves to the moving latest tag,
// either explicitly or by omission.
func (r Ref) IsLatest() bool {
	if r.Digest != "" {
		return false
	}
	return r.Tag == "" || r.Tag == "latest"
}

// Repository returns the registry-qualified repository name without tag.
func (r Ref) Repository() string {
	if !r.Valid {
		return ""
	}
	return r.Domain + "/" + r.Path
}

// Base returns the last path element of the repository (api for
// registry.io/team/api:v1).
func (r Ref) Base() string {
	if !r.Valid {
		return ""
	}
	return path.Base(r.Path)
}

// IsPublicRegistry reports whether the registry host serves anonymous pulls.
func (r Ref) IsPublicRegistry() bool {
	return publicRegistries[r.Domain]
}

// IsPrivateRegistry reports whether the reference explicitly names a
// registry host that is not a well-known public one.
func (r Ref) IsPrivateRegistry() bool {
	return r.Valid && r.ExplicitRegistry && !r.IsPublicRegistry() && !r.IsLocalRegistry()
}

// IsLocalRegistry reports a localhost registry such as localhost:5000.
func (r Ref) IsLocalRegistry() bool {
	host := r.Domain
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host == "localhost" || host == "127.0.0.1"
}

// IsLocallyBuilt reports an image that can only exist in a local daemon:
// a short name without registry or namespace, or a localhost registry.
func (r Ref) IsLocallyBuilt() bool {
	if !r.Valid {
		return false
	}
	if r.IsLocalRegistry() {
		return true
	}
	return !r.ExplicitRegistry && strings.HasPrefix(r.Path, "library/")
}

// Placeholders returns the ${VAR} names found in s in order of appearance.
func Placeholders(s string) []string {
	var out []string
	for _, m := range envsubstRe.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}
	return out
}

var envsubstRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
