package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/providers/project"
	kube "github.com/pankaj-dahiya-devops/iacvet/internal/providers/kubernetes"
)

// EKSDataCollector confirms EKS control-plane details from the AWS EKS API.
// The interface is defined here so the engine stays independent of any AWS
// provider implementation; callers inject the concrete collector.
// Nil disables EKS enrichment.
type EKSDataCollector interface {
	CollectEKSData(ctx context.Context, clusterName, region string) (*models.EKSClusterDetails, error)
}

// CollectOptions carries the parameters for assembling one Inventory.
type CollectOptions struct {
	// Root is the project directory to scan. Ignored when SnapshotPath is set.
	Root string

	// SnapshotPath loads a serialized Inventory instead of scanning Root.
	SnapshotPath string

	// Live adds the live cluster state reachable through ContextName.
	Live bool

	// ContextName is the kubeconfig context to connect to.
	// An empty string means use the current context.
	ContextName string

	Environments       []models.Environment
	DeploymentStrategy string
}

// Collector assembles the Inventory from the project on disk (or a
// snapshot) and, optionally, the live cluster. All I/O happens here so
// that validation itself only ever sees a finished snapshot.
type Collector struct {
	provider     kube.KubeClientProvider // nil disables live collection
	eksCollector EKSDataCollector        // optional
	logger       logrus.FieldLogger
}

// NewCollector constructs a Collector. provider and eksCollector may be nil.
func NewCollector(provider kube.KubeClientProvider, eksCollector EKSDataCollector, logger logrus.FieldLogger) *Collector {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	return &Collector{
		provider:     provider,
		eksCollector: eksCollector,
		logger:       logger.WithField("component", "collector"),
	}
}

// Collect builds one Inventory. Only a failed scan or snapshot load is
// fatal; live cluster problems leave Cluster.Connected false and are logged.
func (c *Collector) Collect(ctx context.Context, opts CollectOptions) (*models.Inventory, error) {
	var (
		inv *models.Inventory
		err error
	)
	if opts.SnapshotPath != "" {
		inv, err = project.LoadSnapshot(opts.SnapshotPath)
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		if len(inv.K8s.DeclaredEnvironments) == 0 {
			inv.K8s.DeclaredEnvironments = opts.Environments
		}
	} else {
		inv, err = project.Scan(ctx, opts.Root, project.Options{
			Environments:       opts.Environments,
			DeploymentStrategy: opts.DeploymentStrategy,
			Logger:             c.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
	}

	if opts.Live {
		c.collectLive(ctx, inv, opts.ContextName)
	}
	return inv, nil
}

func (c *Collector) collectLive(ctx context.Context, inv *models.Inventory, contextName string) {
	if c.provider == nil {
		c.logger.Warn("live cluster requested but no kube client provider is configured")
		return
	}
	clientset, info, err := c.provider.ClientsetForContext(contextName)
	if err != nil {
		c.logger.WithError(err).Warn("connect to cluster failed; cluster checks are skipped")
		return
	}
	data, err := kube.CollectClusterDomain(ctx, clientset, info)
	if err != nil {
		c.logger.WithError(err).WithField("context", info.ContextName).
			Warn("collect cluster state failed; cluster checks are skipped")
		return
	}

	inv.Cluster = data.Cluster
	inv.K8s.InfraServices = append(inv.K8s.InfraServices, data.InfraServices...)

	// ── EKS enrichment (non-fatal) ───────────────────────────────────────────
	if inv.Cluster.ClusterType.Type == "eks" && c.eksCollector != nil {
		c.enrichEKS(ctx, &inv.Cluster)
	}

	c.logger.WithFields(logrus.Fields{
		"context":      inv.Cluster.Context,
		"cluster_type": inv.Cluster.ClusterType.Type,
		"nodes":        len(inv.Cluster.Nodes),
		"namespaces":   len(inv.Cluster.Namespaces),
	}).Debug("live cluster collected")
}

func (c *Collector) enrichEKS(ctx context.Context, cluster *models.ClusterDomain) {
	name, region := kube.EKSClusterRef(cluster.Nodes, cluster.Context)
	if name == "" || region == "" {
		c.logger.Debug("EKS cluster name or region unknown; skipping EKS enrichment")
		return
	}
	details, err := c.eksCollector.CollectEKSData(ctx, name, region)
	if err != nil {
		c.logger.WithError(err).WithField("cluster", name).Warn("EKS describe failed; keeping detected cluster type")
		return
	}
	cluster.ClusterType.DetectedVia = "eks-api"
	if cluster.ServerVersion == "" && details.Version != "" {
		cluster.ServerVersion = "v" + details.Version
	}
}
