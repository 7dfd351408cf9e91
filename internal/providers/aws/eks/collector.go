package eks

import (
	"context"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// EKSCollector fetches control-plane details for an EKS cluster.
// Implementations must be stateless and safe to call concurrently.
// They must never apply validation rules or produce issues.
type EKSCollector interface {
	// CollectEKSData queries the EKS API for the named cluster in the given
	// region. Returns a non-nil error only when the API call itself fails.
	CollectEKSData(ctx context.Context, clusterName, region string) (*models.EKSClusterDetails, error)
}
