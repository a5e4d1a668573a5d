package rollout

import (
	kitprom "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	gsmetrics "github.com/gateshift/gateshift/pkg/metrics"
)

var (
	rolloutDuration = kitprom.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "gateshift",
		Subsystem: "rollout",
		Name:      "duration_seconds",
		Help:      "Duration of rollouts from launch to terminal state, in seconds.",
		Buckets:   []float64{10, 60, 300, 600, 1800, 3600, 7200},
	}, []string{gsmetrics.LabelStrategy, gsmetrics.LabelStatus})

	activeRollouts = kitprom.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "gateshift",
		Subsystem: "rollout",
		Name:      "active",
		Help:      "Number of rollouts currently in a non-terminal state.",
	}, []string{gsmetrics.LabelEnvironment})
)
