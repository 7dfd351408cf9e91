// Package k8sview turns K8s ResourceRefs into typed views exactly once per
// validation run. Every rule reads the typed view instead of walking the
// nested attribute map, so two rules can never disagree on the shape of a
// field.
package k8sview

import (
	"fmt"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	policyv1 "k8s.io/api/policy/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// Object is the common surface of every typed view. Concrete variants are
// *Deployment, *StatefulSet, *DaemonSet, *Job, *CronJob, *Service,
// *Ingress, *HPA, *PVC, *Secret, *ConfigMap, *ServiceAccount, *PDB,
// *NetworkPolicy, *ClusterRole, *ClusterRoleBinding and *Generic.
type Object interface {
	Kind() string
	Name() string

	// Namespace is the effective namespace: explicit, else "default" for
	// namespaced kinds, else empty for cluster-scoped kinds.
	Namespace() string

	// ExplicitNamespace reports whether the manifest or collaborator set a
	// namespace rather than relying on the default.
	ExplicitNamespace() bool

	APIVersion() string
	File() string
	Labels() map[string]string
	Annotations() map[string]string

	// Raw is the JSON-compatible copy of the resource attributes.
	Raw() map[string]any

	// ID renders "Kind/name" for messages.
	ID() string
}

// Workload is an Object that manages pods.
type Workload interface {
	Object

	// PodTemplate never returns nil.
	PodTemplate() *corev1.PodTemplateSpec

	// Selector is the controller's label selector, nil when absent.
	Selector() *metav1.LabelSelector

	// Replicas is nil when the field is absent or meaningless for the kind.
	Replicas() *int32
}

type base struct {
	ref        models.ResourceRef
	raw        map[string]any
	meta       metav1.ObjectMeta
	apiVersion string
	namespace  string
	explicitNS bool
}

func (b *base) Kind() string                   { return b.ref.Kind }
func (b *base) Namespace() string              { return b.namespace }
func (b *base) ExplicitNamespace() bool        { return b.explicitNS }
func (b *base) APIVersion() string             { return b.apiVersion }
func (b *base) File() string                   { return b.ref.SourceFile }
func (b *base) Labels() map[string]string      { return b.meta.Labels }
func (b *base) Annotations() map[string]string { return b.meta.Annotations }
func (b *base) Raw() map[string]any            { return b.raw }

func (b *base) Name() string {
	if b.meta.Name != "" {
		return b.meta.Name
	}
	return b.ref.Name
}

func (b *base) ID() string {
	name := b.Name()
	if name == "" {
		name = "<unnamed>"
	}
	return b.ref.Kind + "/" + name
}

// Deployment is the apps/v1 Deployment view.
type Deployment struct {
	base
	Obj appsv1.Deployment
}

func (d *Deployment) PodTemplate() *corev1.PodTemplateSpec { return &d.Obj.Spec.Template }
func (d *Deployment) Selector() *metav1.LabelSelector      { return d.Obj.Spec.Selector }
func (d *Deployment) Replicas() *int32                     { return d.Obj.Spec.Replicas }

// StatefulSet is the apps/v1 StatefulSet view.
type StatefulSet struct {
	base
	Obj appsv1.StatefulSet
}

func (s *StatefulSet) PodTemplate() *corev1.PodTemplateSpec { return &s.Obj.Spec.Template }
func (s *StatefulSet) Selector() *metav1.LabelSelector      { return s.Obj.Spec.Selector }
func (s *StatefulSet) Replicas() *int32                     { return s.Obj.Spec.Replicas }

// DaemonSet is the apps/v1 DaemonSet view.
type DaemonSet struct {
	base
	Obj appsv1.DaemonSet
}

func (d *DaemonSet) PodTemplate() *corev1.PodTemplateSpec { return &d.Obj.Spec.Template }
func (d *DaemonSet) Selector() *metav1.LabelSelector      { return d.Obj.Spec.Selector }
func (d *DaemonSet) Replicas() *int32                     { return nil }

// Job is the batch/v1 Job view.
type Job struct {
	base
	Obj batchv1.Job
}

func (j *Job) PodTemplate() *corev1.PodTemplateSpec { return &j.Obj.Spec.Template }
func (j *Job) Selector() *metav1.LabelSelector      { return j.Obj.Spec.Selector }
func (j *Job) Replicas() *int32                     { return nil }

// CronJob is the batch/v1 CronJob view.
type CronJob struct {
	base
	Obj batchv1.CronJob
}

func (c *CronJob) PodTemplate() *corev1.PodTemplateSpec {
	return &c.Obj.Spec.JobTemplate.Spec.Template
}
func (c *CronJob) Selector() *metav1.LabelSelector { return c.Obj.Spec.JobTemplate.Spec.Selector }
func (c *CronJob) Replicas() *int32                { return nil }

// Service is the core/v1 Service view.
type Service struct {
	base
	Obj corev1.Service
}

// Headless reports clusterIP: None.
func (s *Service) Headless() bool {
	return strings.EqualFold(s.Obj.Spec.ClusterIP, corev1.ClusterIPNone)
}

// Ingress is the networking/v1 Ingress view.
type Ingress struct {
	base
	Obj networkingv1.Ingress
}

// BackendServices returns every Service name referenced by the default
// backend and the rule paths, in declaration order.
func (i *Ingress) BackendServices() []string {
	var out []string
	if b := i.Obj.Spec.DefaultBackend; b != nil && b.Service != nil {
		out = append(out, b.Service.Name)
	}
	for _, rule := range i.Obj.Spec.Rules {
		if rule.HTTP == nil {
			continue
		}
		for _, p := range rule.HTTP.Paths {
			if p.Backend.Service != nil {
				out = append(out, p.Backend.Service.Name)
			}
		}
	}
	return out
}

// HPA is the autoscaling/v2 HorizontalPodAutoscaler view. autoscaling/v1
// manifests decode into the same shape; their targetCPUUtilizationPercentage
// is surfaced by HasMetrics.
type HPA struct {
	base
	Obj autoscalingv2.HorizontalPodAutoscaler
}

// HasMetrics reports whether any scaling signal is declared.
func (h *HPA) HasMetrics() bool {
	if len(h.Obj.Spec.Metrics) > 0 {
		return true
	}
	_, found, _ := unstructured.NestedFieldNoCopy(h.raw, "spec", "targetCPUUtilizationPercentage")
	return found
}

// PVC is the core/v1 PersistentVolumeClaim view.
type PVC struct {
	base
	Obj corev1.PersistentVolumeClaim
}

// ReadWriteOnce reports whether the claim can only be mounted by one node.
func (p *PVC) ReadWriteOnce() bool {
	for _, m := range p.Obj.Spec.AccessModes {
		if m == corev1.ReadWriteOnce || m == corev1.ReadWriteOncePod {
			return true
		}
	}
	return false
}

// Secret is the core/v1 Secret view.
type Secret struct {
	base
	Obj corev1.Secret
}

// ConfigMap is the core/v1 ConfigMap view.
type ConfigMap struct {
	base
	Obj corev1.ConfigMap
}

// ServiceAccount is the core/v1 ServiceAccount view.
type ServiceAccount struct {
	base
	Obj corev1.ServiceAccount
}

// PDB is the policy/v1 PodDisruptionBudget view.
type PDB struct {
	base
	Obj policyv1.PodDisruptionBudget
}

// NetworkPolicy is the networking/v1 NetworkPolicy view.
type NetworkPolicy struct {
	base
	Obj networkingv1.NetworkPolicy
}

// ClusterRole is the rbac/v1 ClusterRole view.
type ClusterRole struct {
	base
	Obj rbacv1.ClusterRole
}

// ClusterRoleBinding is the rbac/v1 ClusterRoleBinding view.
type ClusterRoleBinding struct {
	base
	Obj rbacv1.ClusterRoleBinding
}

// Generic is the fallback view for every kind without a typed variant and
// for resources whose typed decode failed.
type Generic struct {
	base
}

// Decode builds the typed view for ref. The returned error describes a
// decode failure; the Object is then a *Generic so the resource stays
// addressable by name.
func Decode(ref models.ResourceRef) (Object, error) {
	raw := normalizeMap(ref.Attributes)
	b := base{ref: ref, raw: raw}
	b.apiVersion, _, _ = unstructured.NestedString(raw, "apiVersion")
	if m, ok := raw["metadata"].(map[string]any); ok {
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(m, &b.meta); err != nil {
			b.fillNamespace()
			return &Generic{base: b}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	b.fillNamespace()

	var (
		obj    Object
		target any
	)
	switch ref.Kind {
	case "Deployment":
		v := &Deployment{base: b}
		obj, target = v, &v.Obj
	case "StatefulSet":
		v := &StatefulSet{base: b}
		obj, target = v, &v.Obj
	case "DaemonSet":
		v := &DaemonSet{base: b}
		obj, target = v, &v.Obj
	case "Job":
		v := &Job{base: b}
		obj, target = v, &v.Obj
	case "CronJob":
		v := &CronJob{base: b}
		obj, target = v, &v.Obj
	case "Service":
		v := &Service{base: b}
		obj, target = v, &v.Obj
	case "Ingress":
		v := &Ingress{base: b}
		obj, target = v, &v.Obj
	case "HorizontalPodAutoscaler":
		v := &HPA{base: b}
		obj, target = v, &v.Obj
	case "PersistentVolumeClaim":
		v := &PVC{base: b}
		obj, target = v, &v.Obj
	case "Secret":
		v := &Secret{base: b}
		obj, target = v, &v.Obj
	case "ConfigMap":
		v := &ConfigMap{base: b}
		obj, target = v, &v.Obj
	case "ServiceAccount":
		v := &ServiceAccount{base: b}
		obj, target = v, &v.Obj
	case "PodDisruptionBudget":
		v := &PDB{base: b}
		obj, target = v, &v.Obj
	case "NetworkPolicy":
		v := &NetworkPolicy{base: b}
		obj, target = v, &v.Obj
	case "ClusterRole":
		v := &ClusterRole{base: b}
		obj, target = v, &v.Obj
	case "ClusterRoleBinding":
		v := &ClusterRoleBinding{base: b}
		obj, target = v, &v.Obj
	default:
		return &Generic{base: b}, nil
	}

	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(raw, target); err != nil {
		return &Generic{base: b}, fmt.Errorf("decode %s: %w", ref.Kind, err)
	}
	return obj, nil
}

func (b *base) fillNamespace() {
	switch {
	case b.ref.Namespace != "":
		b.namespace, b.explicitNS = b.ref.Namespace, true
	case b.meta.Namespace != "":
		b.namespace, b.explicitNS = b.meta.Namespace, true
	case IsClusterScoped(b.ref.Kind):
		b.namespace = ""
	default:
		b.namespace = metav1.NamespaceDefault
	}
}

// Containers returns the main containers of a workload.
func Containers(w Workload) []corev1.Container {
	return w.PodTemplate().Spec.Containers
}

// AllContainers returns init containers followed by main containers.
func AllContainers(w Workload) []corev1.Container {
	spec := w.PodTemplate().Spec
	out := make([]corev1.Container, 0, len(spec.InitContainers)+len(spec.Containers))
	out = append(out, spec.InitContainers...)
	return append(out, spec.Containers...)
}
