package scan

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	gsmetrics "github.com/gateshift/gateshift/pkg/metrics"
)

var (
	// Scanner runtimes spread from sub-second lint-style tools to
	// multi-minute vulnerability database scans.
	scanDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "gateshift",
		Subsystem: "scan",
		Name:      "task_duration_seconds",
		Help:      "Duration of one scanner invocation, in seconds.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{gsmetrics.LabelTool, gsmetrics.LabelStage, gsmetrics.LabelStatus})

	batchDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "gateshift",
		Subsystem: "scan",
		Name:      "batch_duration_seconds",
		Help:      "Duration of a whole scan batch (bounded by the slowest task), in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 900},
	}, []string{gsmetrics.LabelStage, gsmetrics.LabelOutcome})
)
