// Package rollout drives progressive traffic shifts: a plan of
// weighted stages with health evaluation between them, executed by a
// controller that owns the rollout state exclusively and rolls back
// on regression. Blue-green is the two-stage special case of the same
// machine.
package rollout

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/gateshift/gateshift/pkg/artifact"
	"github.com/gateshift/gateshift/pkg/cluster"
)

type Strategy string

const (
	StrategyCanary    Strategy = "canary"
	StrategyBlueGreen Strategy = "blue-green"
)

// Criteria is what a stage's health must look like for the rollout to
// advance. Zero-valued criteria admit nothing above zero errors;
// thresholds always come from configuration, never from defaults
// baked in here.
type Criteria struct {
	// MaxErrorRate is the highest tolerable request failure fraction, 0..1.
	MaxErrorRate float64 `json:"maxErrorRate"`
	// MaxLatencyP99 bounds tail latency; zero means not evaluated.
	MaxLatencyP99 time.Duration `json:"maxLatencyP99,omitempty"`
	// AllowMissing lets a stage pass with no traffic observed. Without
	// it an empty window counts as a violation: not being able to see
	// a version is no reason to trust it.
	AllowMissing bool `json:"allowMissing,omitempty"`
}

// Check reports nil if the observation satisfies the criteria, or an
// error saying which signal violated them.
func (c Criteria) Check(s cluster.HealthSignals) error {
	if s.Samples == 0 {
		if c.AllowMissing {
			return nil
		}
		return errors.New("no traffic observed in evaluation window")
	}
	if s.ErrorRate > c.MaxErrorRate {
		return errors.Errorf("error rate %.4f above %.4f", s.ErrorRate, c.MaxErrorRate)
	}
	if c.MaxLatencyP99 > 0 && s.LatencyP99 > c.MaxLatencyP99 {
		return errors.Errorf("p99 latency %s above %s", s.LatencyP99, c.MaxLatencyP99)
	}
	return nil
}

// Stage is one increment of the shift: route Weight percent of
// traffic to the new version, watch it for Window, then judge it
// against Criteria.
type Stage struct {
	Weight   int           `json:"weight"`
	Window   time.Duration `json:"window"`
	Criteria Criteria      `json:"criteria"`
}

func (s Stage) String() string {
	return fmt.Sprintf("%d%% for %s", s.Weight, s.Window)
}

// Plan is one attempt to roll an artifact out to an environment. A
// plan is created per deployment request, consumed by its controller,
// and retired on completion or rollback; retrying means a new plan.
type Plan struct {
	ID          string            `json:"id"`
	RunID       string            `json:"runID,omitempty"`
	Service     string            `json:"service"`
	Environment string            `json:"environment"`
	Strategy    Strategy          `json:"strategy"`
	Artifact    artifact.Artifact `json:"artifact"`
	Stages      []Stage           `json:"stages"`
}

// Key identifies the service+environment pair a plan occupies; at
// most one plan per key may be active.
func (p Plan) Key() string {
	return p.Service + "|" + p.Environment
}

func (p Plan) String() string {
	return fmt.Sprintf("%s/%s %s of %s", p.Environment, p.Service, p.Strategy, p.Artifact.Tag)
}

// Validate checks the structural invariants: weights strictly
// ascending within 0..100, finishing at 100, every window positive.
func (p Plan) Validate() error {
	if p.Service == "" || p.Environment == "" {
		return errors.New("plan needs a service and an environment")
	}
	switch p.Strategy {
	case StrategyCanary, StrategyBlueGreen:
	default:
		return errors.Errorf("unknown strategy %q", p.Strategy)
	}
	if len(p.Stages) == 0 {
		return errors.New("plan has no stages")
	}
	prev := -1
	for i, stage := range p.Stages {
		if stage.Weight < 0 || stage.Weight > 100 {
			return errors.Errorf("stage %d: weight %d out of range 0..100", i, stage.Weight)
		}
		if stage.Weight <= prev {
			return errors.Errorf("stage %d: weight %d does not increase on %d", i, stage.Weight, prev)
		}
		if stage.Window <= 0 {
			return errors.Errorf("stage %d: evaluation window must be positive", i)
		}
		prev = stage.Weight
	}
	if last := p.Stages[len(p.Stages)-1].Weight; last != 100 {
		return errors.Errorf("last stage must reach 100%%, got %d%%", last)
	}
	return nil
}

// BlueGreenStages is the degenerate two-stage plan: verify the new
// version at 0% (shadow), then cut over to 100%.
func BlueGreenStages(verifyWindow, confirmWindow time.Duration, criteria Criteria) []Stage {
	verify := criteria
	// at 0% the new version receives no traffic, so an empty window is
	// the expected case, not a regression
	verify.AllowMissing = true
	return []Stage{
		{Weight: 0, Window: verifyWindow, Criteria: verify},
		{Weight: 100, Window: confirmWindow, Criteria: criteria},
	}
}
