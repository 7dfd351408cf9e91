package eks

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awseks "github.com/aws/aws-sdk-go-v2/service/eks"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// DefaultEKSCollector implements EKSCollector using the AWS SDK v2.
// Credentials come from the default chain (env vars, ~/.aws/credentials,
// instance profile) unless Profile names a shared-config profile; the cluster
// name and region are derived from the nodes or the kubeconfig context.
type DefaultEKSCollector struct {
	Profile string
}

// NewDefaultEKSCollector returns an EKSCollector backed by the real AWS SDK.
func NewDefaultEKSCollector(profile string) *DefaultEKSCollector {
	return &DefaultEKSCollector{Profile: profile}
}

// CollectEKSData implements EKSCollector.
func (d *DefaultEKSCollector) CollectEKSData(ctx context.Context, clusterName, region string) (*models.EKSClusterDetails, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if d.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(d.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config for EKS region %q: %w", region, err)
	}
	return collectWithClient(ctx, awseks.NewFromConfig(cfg), clusterName, region)
}

// collectWithClient is the testable core: it accepts an injectable eksAPIClient.
func collectWithClient(ctx context.Context, client eksAPIClient, clusterName, region string) (*models.EKSClusterDetails, error) {
	out, err := client.DescribeCluster(ctx, &awseks.DescribeClusterInput{
		Name: aws.String(clusterName),
	})
	if err != nil {
		return nil, fmt.Errorf("describe EKS cluster %q: %w", clusterName, err)
	}
	if out.Cluster == nil {
		return nil, fmt.Errorf("describe EKS cluster %q: empty response", clusterName)
	}

	return &models.EKSClusterDetails{
		ClusterName:     clusterName,
		Region:          region,
		Version:         aws.ToString(out.Cluster.Version),
		PlatformVersion: aws.ToString(out.Cluster.PlatformVersion),
		Status:          string(out.Cluster.Status),
	}, nil
}
