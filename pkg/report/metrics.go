package report

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	gsmetrics "github.com/gateshift/gateshift/pkg/metrics"
)

var (
	publishDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "gateshift",
		Subsystem: "report",
		Name:      "publish_duration_seconds",
		Help:      "Duration of one sink publish, retries included, in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{gsmetrics.LabelSuccess})
)
