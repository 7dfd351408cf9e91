// Package metrics records validation outcomes as Prometheus metrics.
//
// The CLI is a short-lived process, so metrics are not served over HTTP;
// they are written to a node-exporter textfile after the run.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// Recorder implements engine.Observer. Each Recorder owns its registry so
// several can coexist in one process (tests, repeated runs).
type Recorder struct {
	registry *prometheus.Registry
	logger   logrus.FieldLogger

	issuesTotal  *prometheus.CounterVec
	runsTotal    *prometheus.CounterVec
	filesChecked prometheus.Gauge
	layerIssues  *prometheus.GaugeVec
}

// NewRecorder builds a Recorder with every metric registered.
func NewRecorder(logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		logger = l
	}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		logger:   logger.WithField("component", "metrics"),

		issuesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iacvet_issues_total",
				Help: "Validation issues reported, by layer and severity",
			},
			[]string{"layer", "severity"},
		),

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iacvet_validation_runs_total",
				Help: "Completed validation runs, by outcome",
			},
			[]string{"ok"},
		),

		filesChecked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "iacvet_files_checked",
				Help: "Distinct source files inspected by the last validation run",
			},
		),

		layerIssues: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "iacvet_layer_issues",
				Help: "Issues reported by each layer in the last validation run",
			},
			[]string{"layer"},
		),
	}
	r.registry.MustRegister(r.issuesTotal, r.runsTotal, r.filesChecked, r.layerIssues)
	return r
}

// ObserveLayer counts the post-policy issues of one layer.
func (r *Recorder) ObserveLayer(layer string, issues []models.Issue) {
	for _, sev := range []models.Severity{models.SeverityError, models.SeverityWarning, models.SeverityInfo} {
		// Touch every series so absent severities export as zero.
		r.issuesTotal.WithLabelValues(layer, string(sev))
	}
	for _, is := range issues {
		r.issuesTotal.WithLabelValues(layer, string(is.Severity)).Inc()
	}
	r.layerIssues.WithLabelValues(layer).Set(float64(len(issues)))
}

// ObserveReport records the run outcome.
func (r *Recorder) ObserveReport(report *models.ValidationReport) {
	r.runsTotal.WithLabelValues(strconv.FormatBool(report.OK)).Inc()
	r.filesChecked.Set(float64(report.FilesChecked))
}

// Registry exposes the recorder's registry, e.g. for a push gateway.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile atomically writes every metric to path in the text
// exposition format read by node-exporter's textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	r.logger.WithField("path", path).Debug("metrics written")
	return nil
}
