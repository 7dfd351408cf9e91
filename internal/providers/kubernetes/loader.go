package kubernetes

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// requestTimeout bounds every API call made while collecting the snapshot.
const requestTimeout = 15 * time.Second

// userAgent identifies live collection requests in API server audit logs.
const userAgent = "iacvet"

// ErrContextNotFound is returned when the requested context is not defined
// in the kubeconfig.
var ErrContextNotFound = errors.New("kubeconfig context not found")

// ResolveKubeconfigPath returns the effective kubeconfig file path: the first
// entry of $KUBECONFIG, else ~/.kube/config.
func ResolveKubeconfigPath() string {
	for _, p := range filepath.SplitList(os.Getenv(clientcmd.RecommendedConfigPathEnvVar)) {
		if p != "" {
			return p
		}
	}
	return clientcmd.RecommendedHomeFile
}

// LoadClientset builds a clientset from the kubeconfig at kubeconfigPath for
// contextName (empty = current context). The returned ClusterInfo carries the
// resolved context and API server URL.
func LoadClientset(kubeconfigPath, contextName string) (k8sclient.Interface, ClusterInfo, error) {
	if _, err := os.Stat(kubeconfigPath); err != nil {
		return nil, ClusterInfo{}, fmt.Errorf("kubeconfig %q: %w", kubeconfigPath, err)
	}
	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: contextName}
	cfg := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)

	raw, err := cfg.RawConfig()
	if err != nil {
		return nil, ClusterInfo{}, fmt.Errorf("load kubeconfig %q: %w", kubeconfigPath, err)
	}

	effective := raw.CurrentContext
	if contextName != "" {
		effective = contextName
	}
	kctx, ok := raw.Contexts[effective]
	switch {
	case effective == "":
		return nil, ClusterInfo{}, fmt.Errorf("kubeconfig %q has no current context", kubeconfigPath)
	case !ok:
		return nil, ClusterInfo{}, fmt.Errorf("%w: %q in %s", ErrContextNotFound, effective, kubeconfigPath)
	}
	info := ClusterInfo{ContextName: effective}
	if cluster, ok := raw.Clusters[kctx.Cluster]; ok {
		info.Server = cluster.Server
	}

	restCfg, err := cfg.ClientConfig()
	if err != nil {
		return nil, ClusterInfo{}, fmt.Errorf("build REST config for context %q: %w", effective, err)
	}
	restCfg.Timeout = requestTimeout
	restCfg.UserAgent = userAgent

	clientset, err := k8sclient.NewForConfig(restCfg)
	if err != nil {
		return nil, ClusterInfo{}, fmt.Errorf("build clientset for context %q: %w", effective, err)
	}
	return clientset, info, nil
}
