package history

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/gateshift/gateshift/pkg/event"
	gsmetrics "github.com/gateshift/gateshift/pkg/metrics"
)

type Metrics struct {
	LogEventDuration         metrics.Histogram
	AllEventsDuration        metrics.Histogram
	EventsForServiceDuration metrics.Histogram
	EventsForRunDuration     metrics.Histogram
}

func NewMetrics() Metrics {
	return Metrics{
		LogEventDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: "gateshift",
			Subsystem: "history",
			Name:      "log_event_duration_seconds",
			Help:      "LogEvent method duration in seconds.",
			Buckets:   stdprometheus.DefBuckets,
		}, []string{gsmetrics.LabelSuccess}),
		AllEventsDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: "gateshift",
			Subsystem: "history",
			Name:      "all_events_duration_seconds",
			Help:      "AllEvents method duration in seconds.",
			Buckets:   stdprometheus.DefBuckets,
		}, []string{gsmetrics.LabelSuccess}),
		EventsForServiceDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: "gateshift",
			Subsystem: "history",
			Name:      "events_for_service_duration_seconds",
			Help:      "EventsForService method duration in seconds.",
			Buckets:   stdprometheus.DefBuckets,
		}, []string{gsmetrics.LabelService, gsmetrics.LabelSuccess}),
		EventsForRunDuration: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: "gateshift",
			Subsystem: "history",
			Name:      "events_for_run_duration_seconds",
			Help:      "EventsForRun method duration in seconds.",
			Buckets:   stdprometheus.DefBuckets,
		}, []string{gsmetrics.LabelSuccess}),
	}
}

type instrumentedDB struct {
	db DB
	m  Metrics
}

func InstrumentedDB(db DB, m Metrics) DB {
	return &instrumentedDB{db, m}
}

func (i *instrumentedDB) LogEvent(ctx context.Context, e event.Event) (err error) {
	defer func(begin time.Time) {
		i.m.LogEventDuration.With(
			gsmetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())
	return i.db.LogEvent(ctx, e)
}

func (i *instrumentedDB) AllEvents(ctx context.Context, limit int) (e []event.Event, err error) {
	defer func(begin time.Time) {
		i.m.AllEventsDuration.With(
			gsmetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())
	return i.db.AllEvents(ctx, limit)
}

func (i *instrumentedDB) EventsForService(ctx context.Context, service string, limit int) (e []event.Event, err error) {
	defer func(begin time.Time) {
		i.m.EventsForServiceDuration.With(
			gsmetrics.LabelService, service,
			gsmetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())
	return i.db.EventsForService(ctx, service, limit)
}

func (i *instrumentedDB) EventsForRun(ctx context.Context, runID string) (e []event.Event, err error) {
	defer func(begin time.Time) {
		i.m.EventsForRunDuration.With(
			gsmetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(begin).Seconds())
	}(time.Now())
	return i.db.EventsForRun(ctx, runID)
}

func (i *instrumentedDB) Close() error {
	return i.db.Close()
}
