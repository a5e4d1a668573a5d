package mock

import (
	"context"
	"sync"
	"time"

	"github.com/gateshift/gateshift/pkg/cluster"
)

// Mock is a cluster.Cluster with pluggable behaviour, for tests. It
// records every weight change so tests can assert on the actuation
// sequence, not just the end state.
type Mock struct {
	SetTrafficWeightFunc func(ctx context.Context, service, version string, weight int) error
	HealthSignalsFunc    func(ctx context.Context, service, version string, window time.Duration) (cluster.HealthSignals, error)
	PingFunc             func(ctx context.Context) error

	mu      sync.Mutex
	weights []WeightChange
}

var _ cluster.Cluster = &Mock{}

// WeightChange is one recorded SetTrafficWeight call.
type WeightChange struct {
	Service string
	Version string
	Weight  int
}

func (m *Mock) SetTrafficWeight(ctx context.Context, service, version string, weight int) error {
	m.mu.Lock()
	m.weights = append(m.weights, WeightChange{Service: service, Version: version, Weight: weight})
	m.mu.Unlock()
	if m.SetTrafficWeightFunc != nil {
		return m.SetTrafficWeightFunc(ctx, service, version, weight)
	}
	return nil
}

func (m *Mock) HealthSignals(ctx context.Context, service, version string, window time.Duration) (cluster.HealthSignals, error) {
	if m.HealthSignalsFunc != nil {
		return m.HealthSignalsFunc(ctx, service, version, window)
	}
	return cluster.HealthSignals{ObservedAt: time.Now()}, nil
}

func (m *Mock) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// WeightChanges is the actuation history in call order.
func (m *Mock) WeightChanges() []WeightChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WeightChange, len(m.weights))
	copy(out, m.weights)
	return out
}

// LastWeight is the most recent weight set for the service+version,
// or -1 if it was never set.
func (m *Mock) LastWeight(service, version string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.weights) - 1; i >= 0; i-- {
		w := m.weights[i]
		if w.Service == service && w.Version == version {
			return w.Weight
		}
	}
	return -1
}
