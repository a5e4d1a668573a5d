// Package consul implements the deployment target on a Consul service
// mesh: traffic weights become service-splitter config entries, and
// health signals are derived from the health checks of the version's
// registered instances.
package consul

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	consulapi "github.com/hashicorp/consul/api"
	"github.com/pkg/errors"

	"github.com/gateshift/gateshift/pkg/cluster"
)

// Cluster actuates and observes through a Consul agent. Service
// versions are expected to be registered as service subsets named
// after the artifact tag (the resolver defining subsets is part of
// the environment, not something this package writes).
type Cluster struct {
	client *consulapi.Client
	// StableSubset names the subset that receives the remainder of
	// the traffic. Defaults to "stable".
	StableSubset string
	logger       log.Logger
}

var _ cluster.Cluster = &Cluster{}

func New(addr string, logger log.Logger) (*Cluster, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating consul client")
	}
	return &Cluster{client: client, StableSubset: "stable", logger: logger}, nil
}

// SetTrafficWeight writes a service-splitter config entry sending
// weight% to the version subset and the rest to the stable subset.
// Consul treats writing an identical entry as a no-op, which gives us
// the idempotency the interface asks for.
func (c *Cluster) SetTrafficWeight(ctx context.Context, service, version string, weight int) error {
	if weight < 0 || weight > 100 {
		return errors.Errorf("weight %d out of range 0..100", weight)
	}
	entry := &consulapi.ServiceSplitterConfigEntry{
		Kind: consulapi.ServiceSplitter,
		Name: service,
		Splits: []consulapi.ServiceSplit{
			{Weight: float32(100 - weight), ServiceSubset: c.StableSubset},
			{Weight: float32(weight), ServiceSubset: version},
		},
	}
	// A split with weight 0 is not accepted alongside a 100; collapse
	// to a single split at the edges.
	switch weight {
	case 0:
		entry.Splits = entry.Splits[:1]
		entry.Splits[0].Weight = 100
	case 100:
		entry.Splits = entry.Splits[1:]
	}

	_, _, err := c.client.ConfigEntries().Set(entry, (&consulapi.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "setting traffic split for %s", service)
	}
	c.logger.Log("service", service, "version", version, "weight", weight)
	return nil
}

// HealthSignals derives an error rate from the health checks of the
// version's instances: the fraction of instances whose checks are
// critical. Latency is not observable from Consul health checks and
// is reported as zero; wrap this cluster in promwatch when latency
// criteria matter.
func (c *Cluster) HealthSignals(ctx context.Context, service, version string, window time.Duration) (cluster.HealthSignals, error) {
	entries, _, err := c.client.Health().Service(service, version, false,
		(&consulapi.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return cluster.HealthSignals{}, errors.Wrapf(err, "reading health for %s", service)
	}

	var critical int
	for _, entry := range entries {
		if worstCheck(entry.Checks) == consulapi.HealthCritical {
			critical++
		}
	}
	signals := cluster.HealthSignals{
		Samples:    len(entries),
		ObservedAt: time.Now(),
	}
	if len(entries) > 0 {
		signals.ErrorRate = float64(critical) / float64(len(entries))
	}
	return signals, nil
}

func (c *Cluster) Ping(ctx context.Context) error {
	_, err := c.client.Status().Leader()
	return errors.Wrap(err, "pinging consul")
}

func worstCheck(checks consulapi.HealthChecks) string {
	worst := consulapi.HealthPassing
	for _, check := range checks {
		switch check.Status {
		case consulapi.HealthCritical:
			return consulapi.HealthCritical
		case consulapi.HealthWarning:
			worst = consulapi.HealthWarning
		}
	}
	return worst
}
