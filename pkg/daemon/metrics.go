package daemon

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	gsmetrics "github.com/gateshift/gateshift/pkg/metrics"
)

var (
	jobDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "gateshift",
		Subsystem: "daemon",
		Name:      "job_duration_seconds",
		Help:      "Duration of job execution, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{gsmetrics.LabelSuccess})
	queueLength = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "gateshift",
		Subsystem: "daemon",
		Name:      "queue_length_count",
		Help:      "Count of jobs waiting in the queue to be run.",
	}, []string{})
)
