// Package cluster defines the deployment target as the rollout
// controller sees it: one place to shift traffic, one place to read
// health back. Everything the environment actually is (a service
// mesh, a load balancer, Consul) hides behind this interface.
package cluster

import (
	"context"
	"fmt"
	"time"
)

// HealthSignals is one observation of a service version over a
// sampling window.
type HealthSignals struct {
	// ErrorRate is the fraction of requests that failed, 0..1.
	ErrorRate  float64       `json:"errorRate"`
	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP90 time.Duration `json:"latencyP90"`
	LatencyP99 time.Duration `json:"latencyP99"`
	// Samples is how many requests the observation is based on. Zero
	// means the window was empty; the caller decides whether that is
	// reassuring or alarming.
	Samples int `json:"samples"`

	ObservedAt time.Time `json:"observedAt"`
}

func (h HealthSignals) String() string {
	return fmt.Sprintf("errorRate=%.4f p50=%s p90=%s p99=%s samples=%d",
		h.ErrorRate, h.LatencyP50, h.LatencyP90, h.LatencyP99, h.Samples)
}

// Cluster is the sole actuation and observation point for rollouts.
//
// SetTrafficWeight routes the given percentage (0..100) of the
// service's traffic to the named version; the remainder goes to the
// current stable version. Implementations must make this idempotent:
// setting the same weight twice is a no-op.
//
// HealthSignals reports how the named version has behaved over the
// trailing window.
type Cluster interface {
	SetTrafficWeight(ctx context.Context, service, version string, weight int) error
	HealthSignals(ctx context.Context, service, version string, window time.Duration) (HealthSignals, error)
	Ping(ctx context.Context) error
}
