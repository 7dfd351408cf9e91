package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	kube "github.com/pankaj-dahiya-devops/iacvet/internal/providers/kubernetes"
)

// fakeKubeProvider is a test double for kube.KubeClientProvider that returns
// a pre-built fake clientset.
type fakeKubeProvider struct {
	clientset k8sclient.Interface
	info      kube.ClusterInfo
	err       error
	requested string
}

func (f *fakeKubeProvider) ClientsetForContext(contextName string) (k8sclient.Interface, kube.ClusterInfo, error) {
	f.requested = contextName
	return f.clientset, f.info, f.err
}

type fakeEKSCollector struct {
	details *models.EKSClusterDetails
	err     error
	calls   int
	name    string
	region  string
}

func (f *fakeEKSCollector) CollectEKSData(_ context.Context, clusterName, region string) (*models.EKSClusterDetails, error) {
	f.calls++
	f.name, f.region = clusterName, region
	return f.details, f.err
}

func eksNode(name string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				"eks.amazonaws.com/nodegroup":    "default",
				"eks.amazonaws.com/cluster-name": "prod",
				"topology.kubernetes.io/region":  "eu-west-1",
			},
		},
		Spec: corev1.NodeSpec{ProviderID: "aws:///eu-west-1a/i-0abc"},
	}
}

func projectDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "k8s"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "k8s", "app.yaml"),
		[]byte(apiDeployment("registry.io/api:1.0.0")), 0o644))
	return root
}

func TestCollector_ScanOnly(t *testing.T) {
	c := NewCollector(nil, nil, nil)
	inv, err := c.Collect(context.Background(), CollectOptions{
		Root:         projectDir(t),
		Environments: []models.Environment{{Name: "prod"}},
	})
	require.NoError(t, err)

	require.Len(t, inv.K8s.Resources, 1)
	assert.Equal(t, "k8s/app.yaml", inv.K8s.Resources[0].SourceFile)
	assert.Equal(t, "prod", inv.K8s.DeclaredEnvironments[0].Name)
	assert.False(t, inv.Cluster.Connected)
}

func TestCollector_Snapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`k8s:
  resources:
    - domain: k8s
      kind: ConfigMap
      name: settings
      sourceFile: k8s/cm.yaml
      attributes:
        apiVersion: v1
        kind: ConfigMap
        metadata:
          name: settings
cluster:
  connected: false
  clusterType:
    type: unknown
`), 0o644))

	inv, err := NewCollector(nil, nil, nil).Collect(context.Background(), CollectOptions{
		SnapshotPath: path,
		Environments: []models.Environment{{Name: "dev"}},
	})
	require.NoError(t, err)
	require.Len(t, inv.K8s.Resources, 1)
	assert.Equal(t, "settings", inv.K8s.Resources[0].Name)
	assert.Equal(t, []models.Environment{{Name: "dev"}}, inv.K8s.DeclaredEnvironments)

	_, err = NewDefaultEngine(nil).Validate(inv)
	assert.NoError(t, err)
}

func TestCollector_SnapshotMissing(t *testing.T) {
	_, err := NewCollector(nil, nil, nil).Collect(context.Background(), CollectOptions{
		SnapshotPath: filepath.Join(t.TempDir(), "absent.json"),
	})
	require.Error(t, err)
}

func TestCollector_LiveWithEKSEnrichment(t *testing.T) {
	provider := &fakeKubeProvider{
		clientset: fake.NewSimpleClientset(
			eksNode("node-1"),
			&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "default"}},
		),
		info: kube.ClusterInfo{ContextName: "prod-ctx"},
	}
	eks := &fakeEKSCollector{details: &models.EKSClusterDetails{ClusterName: "prod", Region: "eu-west-1", Version: "1.29"}}

	inv, err := NewCollector(provider, eks, nil).Collect(context.Background(), CollectOptions{
		Root:        projectDir(t),
		Live:        true,
		ContextName: "prod-ctx",
	})
	require.NoError(t, err)

	assert.Equal(t, "prod-ctx", provider.requested)
	assert.True(t, inv.Cluster.Connected)
	assert.Equal(t, "eks", inv.Cluster.ClusterType.Type)
	assert.Equal(t, "eks-api", inv.Cluster.ClusterType.DetectedVia)
	assert.Equal(t, []string{"default"}, inv.Cluster.Namespaces)
	assert.Equal(t, 1, eks.calls)
	assert.Equal(t, "prod", eks.name)
	assert.Equal(t, "eu-west-1", eks.region)
	// The fake discovery reports a server version, which takes precedence.
	assert.NotEqual(t, "v1.29", inv.Cluster.ServerVersion)
}

func TestCollector_EKSFailureIsNonFatal(t *testing.T) {
	provider := &fakeKubeProvider{
		clientset: fake.NewSimpleClientset(eksNode("node-1")),
		info:      kube.ClusterInfo{ContextName: "prod-ctx"},
	}
	eks := &fakeEKSCollector{err: errors.New("AccessDenied")}

	inv, err := NewCollector(provider, eks, nil).Collect(context.Background(), CollectOptions{
		Root: projectDir(t),
		Live: true,
	})
	require.NoError(t, err)
	assert.True(t, inv.Cluster.Connected)
	assert.Equal(t, "eks", inv.Cluster.ClusterType.Type)
	assert.NotEqual(t, "eks-api", inv.Cluster.ClusterType.DetectedVia)
}

func TestCollector_ConnectFailureLeavesClusterDisconnected(t *testing.T) {
	provider := &fakeKubeProvider{err: errors.New("no kubeconfig")}

	inv, err := NewCollector(provider, nil, nil).Collect(context.Background(), CollectOptions{
		Root: projectDir(t),
		Live: true,
	})
	require.NoError(t, err)
	assert.False(t, inv.Cluster.Connected)
	require.Len(t, inv.K8s.Resources, 1)
}

func TestCollector_LiveNotRequested(t *testing.T) {
	provider := &fakeKubeProvider{clientset: fake.NewSimpleClientset(eksNode("node-1"))}

	inv, err := NewCollector(provider, nil, nil).Collect(context.Background(), CollectOptions{Root: projectDir(t)})
	require.NoError(t, err)
	assert.False(t, inv.Cluster.Connected)
	assert.Empty(t, provider.requested)
}
