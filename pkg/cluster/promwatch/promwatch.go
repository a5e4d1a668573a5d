// Package promwatch layers Prometheus-derived health signals over a
// cluster that can only actuate. The deployment target stays one
// interface; this decorator answers HealthSignals with real request
// metrics while delegating traffic shifts to the inner cluster.
package promwatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/pkg/errors"
	"github.com/prometheus/common/model"

	"github.com/gateshift/gateshift/pkg/cluster"
)

// Queries are PromQL templates with %s placeholders for (service,
// version, window). They are configuration because metric naming is a
// property of the environment, not of this orchestrator.
type Queries struct {
	// ErrorRate must evaluate to a 0..1 fraction, e.g.
	//   sum(rate(http_requests_total{service="%s",version="%s",code=~"5.."}[%s]))
	//   / sum(rate(http_requests_total{service="%s",version="%s"}[%s]))
	ErrorRate string
	// LatencyP99 must evaluate to seconds, e.g.
	//   histogram_quantile(0.99, sum by (le)
	//   (rate(http_request_duration_seconds_bucket{service="%s",version="%s"}[%s])))
	LatencyP99 string
	// RequestCount must evaluate to the number of requests observed in
	// the window; it fills HealthSignals.Samples.
	RequestCount string
}

// Cluster queries Prometheus for health and passes actuation through.
type Cluster struct {
	next    cluster.Cluster
	queries Queries
	api     promv1.API
	logger  log.Logger
}

var _ cluster.Cluster = &Cluster{}

func New(next cluster.Cluster, promURL string, queries Queries, logger log.Logger) (*Cluster, error) {
	client, err := promapi.NewClient(promapi.Config{Address: promURL})
	if err != nil {
		return nil, errors.Wrap(err, "creating prometheus client")
	}
	return &Cluster{next: next, queries: queries, api: promv1.NewAPI(client), logger: logger}, nil
}

func (c *Cluster) SetTrafficWeight(ctx context.Context, service, version string, weight int) error {
	return c.next.SetTrafficWeight(ctx, service, version, weight)
}

func (c *Cluster) Ping(ctx context.Context) error {
	if _, err := c.api.Config(ctx); err != nil {
		return errors.Wrap(err, "pinging prometheus")
	}
	return c.next.Ping(ctx)
}

func (c *Cluster) HealthSignals(ctx context.Context, service, version string, window time.Duration) (cluster.HealthSignals, error) {
	win := model.Duration(window).String()

	errorRate, err := c.scalar(ctx, c.queries.ErrorRate, service, version, win)
	if err != nil {
		return cluster.HealthSignals{}, errors.Wrap(err, "querying error rate")
	}
	p99, err := c.scalar(ctx, c.queries.LatencyP99, service, version, win)
	if err != nil {
		return cluster.HealthSignals{}, errors.Wrap(err, "querying latency")
	}
	count, err := c.scalar(ctx, c.queries.RequestCount, service, version, win)
	if err != nil {
		return cluster.HealthSignals{}, errors.Wrap(err, "querying request count")
	}

	return cluster.HealthSignals{
		ErrorRate:  errorRate,
		LatencyP99: time.Duration(p99 * float64(time.Second)),
		Samples:    int(count),
		ObservedAt: time.Now(),
	}, nil
}

// scalar evaluates a query template and reduces the result to a
// single float. An empty vector (no traffic yet) evaluates to zero
// with no error; the rollout criteria decide what to make of that.
func (c *Cluster) scalar(ctx context.Context, tmpl, service, version, window string) (float64, error) {
	if tmpl == "" {
		return 0, nil
	}
	query := expand(tmpl, service, version, window)
	value, warnings, err := c.api.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	for _, w := range warnings {
		c.logger.Log("warning", w, "query", query)
	}
	switch v := value.(type) {
	case *model.Scalar:
		return nanZero(float64(v.Value)), nil
	case model.Vector:
		if len(v) == 0 {
			return 0, nil
		}
		return nanZero(float64(v[0].Value)), nil
	default:
		return 0, errors.Errorf("unexpected result type %s", value.Type())
	}
}

// expand substitutes as many (service, version, window) triples as the
// template has %s placeholders for, so ratio queries naming the
// service twice work unchanged.
func expand(tmpl, service, version, window string) string {
	triple := []interface{}{service, version, window}
	args := make([]interface{}, countVerbs(tmpl))
	for i := range args {
		args[i] = triple[i%3]
	}
	return fmt.Sprintf(tmpl, args...)
}

func countVerbs(tmpl string) int {
	var n int
	for i := 0; i+1 < len(tmpl); i++ {
		if tmpl[i] == '%' {
			if tmpl[i+1] == '%' {
				i++
				continue
			}
			n++
		}
	}
	return n
}

// nanZero maps NaN (a 0/0 rate ratio) to zero.
func nanZero(f float64) float64 {
	if f != f {
		return 0
	}
	return f
}
