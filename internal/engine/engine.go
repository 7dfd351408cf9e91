package engine

import (
	"errors"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
	"github.com/pankaj-dahiya-devops/iacvet/internal/rules"
)

// ErrMalformedInventory is returned by Validate when the caller hands over an
// Inventory that violates the collaborator contract. It is never turned into
// an issue.
var ErrMalformedInventory = errors.New("malformed inventory")

// Layer names, in evaluation order. They double as policy keys and metric
// labels.
const (
	LayerStructural  = "structural"
	LayerReferences  = "references"
	LayerEnvironment = "environment"
	LayerCluster     = "cluster"
	LayerSecurity    = "security"
	LayerSeams       = "seams"
	LayerStrategy    = "strategy"
)

// LayerNames returns every layer name in evaluation order.
func LayerNames() []string {
	return []string{
		LayerStructural,
		LayerReferences,
		LayerEnvironment,
		LayerCluster,
		LayerSecurity,
		LayerSeams,
		LayerStrategy,
	}
}

// Layer is one named rule registry. Layers run strictly in slice order.
type Layer struct {
	Name     string
	Registry rules.RuleRegistry
}

// Observer receives per-layer and per-run results. Implementations must not
// retain or modify the slices they are handed.
type Observer interface {
	ObserveLayer(layer string, issues []models.Issue)
	ObserveReport(report *models.ValidationReport)
}

// Observers fans every notification out to each member in order.
type Observers []Observer

func (obs Observers) ObserveLayer(layer string, issues []models.Issue) {
	for _, o := range obs {
		o.ObserveLayer(layer, issues)
	}
}

func (obs Observers) ObserveReport(report *models.ValidationReport) {
	for _, o := range obs {
		o.ObserveReport(report)
	}
}

// Engine is the validation entry point.
//
// Engine performs no I/O: it evaluates an already-assembled Inventory and
// returns the report. Assembling the Inventory is the Collector's job.
type Engine interface {
	Validate(inv *models.Inventory) (*models.ValidationReport, error)
}
