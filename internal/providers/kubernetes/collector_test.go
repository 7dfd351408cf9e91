package kubernetes

import (
	"context"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/version"
	fakediscovery "k8s.io/client-go/discovery/fake"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// makeNode is a test helper that builds a corev1.Node with the given name,
// providerID and labels.
func makeNode(name, providerID string, labels map[string]string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
		Spec:       corev1.NodeSpec{ProviderID: providerID},
	}
}

// makeNamespace is a test helper that builds a corev1.Namespace.
func makeNamespace(name string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}
}

func makeStorageClass(name string) *storagev1.StorageClass {
	return &storagev1.StorageClass{
		ObjectMeta:  metav1.ObjectMeta{Name: name},
		Provisioner: "kubernetes.io/no-provisioner",
	}
}

func makeDeployment(namespace, name string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
}

func makeDaemonSet(namespace, name string) *appsv1.DaemonSet {
	return &appsv1.DaemonSet{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
}

func TestCollectClusterDomain_NodesNamespacesStorageClasses(t *testing.T) {
	fakeClient := fake.NewSimpleClientset(
		makeNode("node-1", "", nil),
		makeNode("node-2", "", nil),
		makeNamespace("production"),
		makeNamespace("default"),
		makeNamespace("kube-system"),
		makeStorageClass("standard"),
		makeStorageClass("fast"),
	)

	info := ClusterInfo{ContextName: "test-context", Server: "https://127.0.0.1:6443"}
	data, err := CollectClusterDomain(context.Background(), fakeClient, info)
	if err != nil {
		t.Fatalf("CollectClusterDomain error: %v", err)
	}

	cl := data.Cluster
	if !cl.Connected {
		t.Error("Connected = false; want true")
	}
	if cl.Context != "test-context" {
		t.Errorf("Context = %q; want test-context", cl.Context)
	}
	if len(cl.Nodes) != 2 {
		t.Errorf("Nodes count = %d; want 2", len(cl.Nodes))
	}
	wantNS := []string{"default", "kube-system", "production"}
	if len(cl.Namespaces) != len(wantNS) {
		t.Fatalf("Namespaces = %v; want %v", cl.Namespaces, wantNS)
	}
	for i, ns := range wantNS {
		if cl.Namespaces[i] != ns {
			t.Errorf("Namespaces[%d] = %q; want %q", i, cl.Namespaces[i], ns)
		}
	}
	if len(cl.StorageClasses) != 2 || cl.StorageClasses[0] != "fast" || cl.StorageClasses[1] != "standard" {
		t.Errorf("StorageClasses = %v; want [fast standard]", cl.StorageClasses)
	}
}

// TestCollectClusterDomain_EmptyCluster verifies that an empty cluster still
// yields a connected, unknown-type snapshot rather than an error.
func TestCollectClusterDomain_EmptyCluster(t *testing.T) {
	data, err := CollectClusterDomain(context.Background(), fake.NewSimpleClientset(), ClusterInfo{})
	if err != nil {
		t.Fatalf("CollectClusterDomain error: %v", err)
	}
	if !data.Cluster.Connected {
		t.Error("Connected = false; want true")
	}
	if data.Cluster.ClusterType.Type != "unknown" {
		t.Errorf("ClusterType = %q; want unknown", data.Cluster.ClusterType.Type)
	}
	if len(data.InfraServices) != 0 {
		t.Errorf("InfraServices = %v; want none", data.InfraServices)
	}
}

func TestCollectClusterDomain_NodeLabelsCopied(t *testing.T) {
	labels := map[string]string{"eks.amazonaws.com/nodegroup": "ng-1"}
	fakeClient := fake.NewSimpleClientset(makeNode("ip-10-0-0-1", "aws:///us-east-1a/i-0abc", labels))

	data, err := CollectClusterDomain(context.Background(), fakeClient, ClusterInfo{})
	if err != nil {
		t.Fatalf("CollectClusterDomain error: %v", err)
	}
	n := data.Cluster.Nodes[0]
	if n.ProviderID != "aws:///us-east-1a/i-0abc" {
		t.Errorf("ProviderID = %q", n.ProviderID)
	}
	labels["eks.amazonaws.com/nodegroup"] = "mutated"
	if n.Labels["eks.amazonaws.com/nodegroup"] != "ng-1" {
		t.Error("node labels must be copied, not shared")
	}
	if data.Cluster.ClusterType.Type != "eks" || data.Cluster.ClusterType.DetectedVia != "node-provider-id" {
		t.Errorf("ClusterType = %+v; want eks via node-provider-id", data.Cluster.ClusterType)
	}
}

func TestCollectClusterDomain_InfraServices(t *testing.T) {
	fakeClient := fake.NewSimpleClientset(
		makeDeployment("ingress-nginx", "ingress-nginx-controller"),
		makeDeployment("cert-manager", "cert-manager"),
		makeDeployment("cert-manager", "cert-manager-webhook"),
		makeDaemonSet("monitoring", "prometheus-node-exporter"),
		makeDeployment("default", "api"),
	)

	data, err := CollectClusterDomain(context.Background(), fakeClient, ClusterInfo{})
	if err != nil {
		t.Fatalf("CollectClusterDomain error: %v", err)
	}

	got := make(map[string]string)
	for _, s := range data.InfraServices {
		if _, dup := got[s.Name]; dup {
			t.Errorf("service %q reported twice", s.Name)
		}
		got[s.Name] = s.DetectedVia
	}
	for _, want := range []string{"ingress-nginx", "cert-manager", "prometheus"} {
		if _, ok := got[want]; !ok {
			t.Errorf("infra service %q not detected; got %v", want, got)
		}
	}
	if via := got["prometheus"]; via != "daemonset monitoring/prometheus-node-exporter" {
		t.Errorf("prometheus DetectedVia = %q", via)
	}
	if len(got) != 3 {
		t.Errorf("InfraServices = %v; want exactly 3", got)
	}
}

func TestCollectClusterDomain_DiscoveryData(t *testing.T) {
	fakeClient := fake.NewSimpleClientset()
	fakeClient.Resources = []*metav1.APIResourceList{
		{
			GroupVersion: "v1",
			APIResources: []metav1.APIResource{
				{Name: "pods", Kind: "Pod"},
				{Name: "pods/log", Kind: "Pod"},
			},
		},
		{
			GroupVersion: "cert-manager.io/v1",
			APIResources: []metav1.APIResource{{Name: "certificates", Kind: "Certificate"}},
		},
	}
	fakeClient.Discovery().(*fakediscovery.FakeDiscovery).FakedServerVersion = &version.Info{GitVersion: "v1.29.4"}

	data, err := CollectClusterDomain(context.Background(), fakeClient, ClusterInfo{})
	if err != nil {
		t.Fatalf("CollectClusterDomain error: %v", err)
	}
	if data.Cluster.ServerVersion != "v1.29.4" {
		t.Errorf("ServerVersion = %q; want v1.29.4", data.Cluster.ServerVersion)
	}
	want := []string{"cert-manager.io/v1/Certificate", "v1/Pod"}
	if len(data.Cluster.APIResources) != len(want) {
		t.Fatalf("APIResources = %v; want %v", data.Cluster.APIResources, want)
	}
	for i := range want {
		if data.Cluster.APIResources[i] != want[i] {
			t.Errorf("APIResources[%d] = %q; want %q", i, data.Cluster.APIResources[i], want[i])
		}
	}
}

func TestDetectClusterType(t *testing.T) {
	tests := []struct {
		name  string
		nodes []models.ClusterNode
		info  ClusterInfo
		want  models.ClusterType
	}{
		{
			name:  "gke provider id",
			nodes: []models.ClusterNode{{ProviderID: "gce://proj/us-central1-a/gke-node"}},
			want:  models.ClusterType{Type: "gke", DetectedVia: "node-provider-id"},
		},
		{
			name:  "aks label",
			nodes: []models.ClusterNode{{Labels: map[string]string{"kubernetes.azure.com/cluster": "rg"}}},
			want:  models.ClusterType{Type: "aks", DetectedVia: "node-labels"},
		},
		{
			name:  "minikube label",
			nodes: []models.ClusterNode{{Labels: map[string]string{"minikube.k8s.io/name": "minikube"}}},
			want:  models.ClusterType{Type: "minikube", DetectedVia: "node-labels"},
		},
		{
			name: "kind context",
			info: ClusterInfo{ContextName: "kind-dev"},
			want: models.ClusterType{Type: "kind", DetectedVia: "context-name"},
		},
		{
			name: "eks context arn",
			info: ClusterInfo{ContextName: "arn:aws:eks:eu-west-1:123456789012:cluster/prod"},
			want: models.ClusterType{Type: "eks", DetectedVia: "context-name"},
		},
		{
			name: "docker desktop",
			info: ClusterInfo{ContextName: "docker-desktop"},
			want: models.ClusterType{Type: "docker-desktop", DetectedVia: "context-name"},
		},
		{
			name: "aks server url",
			info: ClusterInfo{ContextName: "prod", Server: "https://prod-dns-1234.hcp.westeurope.azmk8s.io:443"},
			want: models.ClusterType{Type: "aks", DetectedVia: "server-url"},
		},
		{
			name: "unknown",
			info: ClusterInfo{ContextName: "on-prem", Server: "https://10.0.0.1:6443"},
			want: models.ClusterType{Type: "unknown"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectClusterType(tt.nodes, tt.info); got != tt.want {
				t.Errorf("DetectClusterType = %+v; want %+v", got, tt.want)
			}
		})
	}
}

func TestEKSClusterRef_Labels(t *testing.T) {
	nodes := []models.ClusterNode{{
		Labels: map[string]string{
			"eks.amazonaws.com/cluster-name": "payments",
			"topology.kubernetes.io/region":  "us-west-2",
		},
	}}
	name, region := EKSClusterRef(nodes, "some-context")
	if name != "payments" || region != "us-west-2" {
		t.Errorf("EKSClusterRef = (%q, %q); want (payments, us-west-2)", name, region)
	}
}

func TestEKSClusterRef_ContextARN(t *testing.T) {
	name, region := EKSClusterRef(nil, "arn:aws:eks:eu-central-1:123456789012:cluster/orders")
	if name != "orders" || region != "eu-central-1" {
		t.Errorf("EKSClusterRef = (%q, %q); want (orders, eu-central-1)", name, region)
	}
}

// TestEKSClusterRef_ProviderIDFallback verifies the region is derived from
// the ProviderID AZ when the topology label is absent.
func TestEKSClusterRef_ProviderIDFallback(t *testing.T) {
	nodes := []models.ClusterNode{{
		ProviderID: "aws:///ap-south-1b/i-0123",
		Labels:     map[string]string{"eks.amazonaws.com/cluster-name": "core"},
	}}
	name, region := EKSClusterRef(nodes, "")
	if name != "core" || region != "ap-south-1" {
		t.Errorf("EKSClusterRef = (%q, %q); want (core, ap-south-1)", name, region)
	}
}
