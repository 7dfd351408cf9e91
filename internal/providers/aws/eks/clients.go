package eks

import (
	"context"

	awseks "github.com/aws/aws-sdk-go-v2/service/eks"
)

// eksAPIClient is the subset of EKS API operations used by the collector.
// Using a narrow interface instead of the full SDK client makes unit testing
// trivial: create a struct that satisfies the interface and return canned data.
type eksAPIClient interface {
	DescribeCluster(
		ctx context.Context,
		params *awseks.DescribeClusterInput,
		optFns ...func(*awseks.Options),
	) (*awseks.DescribeClusterOutput, error)
}
