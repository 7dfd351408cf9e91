package k8sview

import (
	"sort"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// Key addresses one object in the index.
type Key struct {
	Kind      string
	Namespace string
	Name      string
}

// Failure records a resource whose typed view could not be built.
type Failure struct {
	Object Object
	Err    error
}

// Index is the name index over the K8s resource set of one inventory.
// It is built once and never modified afterwards.
type Index struct {
	objects  []Object
	byKey    map[Key]Object
	byKind   map[string][]Object
	failures []Failure
}

// Build decodes every ResourceRef of domain k8s. Resources of other domains
// are ignored. The first resource wins when two share a key.
func Build(resources []models.ResourceRef) *Index {
	ix := &Index{
		byKey:  make(map[Key]Object),
		byKind: make(map[string][]Object),
	}
	for _, ref := range resources {
		if ref.Domain != "" && ref.Domain != models.DomainK8s {
			continue
		}
		obj, err := Decode(ref)
		if err != nil {
			ix.failures = append(ix.failures, Failure{Object: obj, Err: err})
		}
		ix.objects = append(ix.objects, obj)
		ix.byKind[obj.Kind()] = append(ix.byKind[obj.Kind()], obj)
		k := Key{Kind: obj.Kind(), Namespace: obj.Namespace(), Name: obj.Name()}
		if _, exists := ix.byKey[k]; !exists {
			ix.byKey[k] = obj
		}
	}
	return ix
}

// All returns every object in inventory order.
func (ix *Index) All() []Object { return ix.objects }

// Len returns the number of indexed objects.
func (ix *Index) Len() int { return len(ix.objects) }

// Failures returns the decode failures in inventory order.
func (ix *Index) Failures() []Failure { return ix.failures }

// ByKind returns the objects of the given kinds in inventory order.
func (ix *Index) ByKind(kinds ...string) []Object {
	if len(kinds) == 1 {
		return ix.byKind[kinds[0]]
	}
	var out []Object
	for _, obj := range ix.objects {
		for _, k := range kinds {
			if obj.Kind() == k {
				out = append(out, obj)
				break
			}
		}
	}
	return out
}

// Lookup finds an object by kind, effective namespace and name.
func (ix *Index) Lookup(kind, namespace, name string) (Object, bool) {
	if IsClusterScoped(kind) {
		namespace = ""
	}
	obj, ok := ix.byKey[Key{Kind: kind, Namespace: namespace, Name: name}]
	return obj, ok
}

// Has reports whether the object exists.
func (ix *Index) Has(kind, namespace, name string) bool {
	_, ok := ix.Lookup(kind, namespace, name)
	return ok
}

// HasName reports whether any object of kind carries name, in any namespace.
func (ix *Index) HasName(kind, name string) bool {
	for _, obj := range ix.byKind[kind] {
		if obj.Name() == name {
			return true
		}
	}
	return false
}

// Workloads returns every decoded workload in inventory order.
func (ix *Index) Workloads() []Workload {
	var out []Workload
	for _, obj := range ix.objects {
		if w, ok := obj.(Workload); ok {
			out = append(out, w)
		}
	}
	return out
}

// Services returns every decoded Service in inventory order.
func (ix *Index) Services() []*Service {
	var out []*Service
	for _, obj := range ix.byKind["Service"] {
		if s, ok := obj.(*Service); ok {
			out = append(out, s)
		}
	}
	return out
}

// Namespaces returns the sorted distinct effective namespaces of all
// namespaced objects.
func (ix *Index) Namespaces() []string {
	seen := make(map[string]struct{})
	for _, obj := range ix.objects {
		if IsClusterScoped(obj.Kind()) {
			continue
		}
		seen[obj.Namespace()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// SelectorMatches reports whether a Service-style equality selector is a
// subset of podLabels. An empty selector matches nothing.
func SelectorMatches(selector, podLabels map[string]string) bool {
	if len(selector) == 0 {
		return false
	}
	return labels.SelectorFromSet(selector).Matches(labels.Set(podLabels))
}

// LabelSelectorMatches evaluates a controller LabelSelector (matchLabels and
// matchExpressions) against podLabels. A nil or invalid selector matches
// nothing.
func LabelSelectorMatches(sel *metav1.LabelSelector, podLabels map[string]string) bool {
	if sel == nil {
		return false
	}
	s, err := metav1.LabelSelectorAsSelector(sel)
	if err != nil || s.Empty() {
		return false
	}
	return s.Matches(labels.Set(podLabels))
}
