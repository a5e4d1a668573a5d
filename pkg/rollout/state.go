package rollout

import (
	"time"

	"github.com/gateshift/gateshift/pkg/cluster"
)

type Status string

const (
	StatusAdvancing   Status = "advancing"
	StatusPaused      Status = "paused"
	StatusRollingBack Status = "rolling_back"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transitions can happen. A
// terminal rollout is retried by creating a new plan, never by
// reviving this one.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// maxSamples bounds the health window kept in state; older samples
// have already been judged and only the recent ones are worth showing
// an operator.
const maxSamples = 32

// State is the live position of one rollout. It is owned exclusively
// by the controller goroutine; everyone else sees copies.
type State struct {
	Status     Status `json:"status"`
	StageIndex int    `json:"stageIndex"`
	Weight     int    `json:"weight"`
	// Samples is the trailing health window for the current stage.
	Samples []cluster.HealthSignals `json:"samples,omitempty"`
	// Reason says why the rollout failed or is rolling back.
	Reason string `json:"reason,omitempty"`
	// Offending is the observation that violated the stage criteria.
	Offending *cluster.HealthSignals `json:"offending,omitempty"`

	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s State) clone() State {
	out := s
	out.Samples = append([]cluster.HealthSignals(nil), s.Samples...)
	if s.Offending != nil {
		offending := *s.Offending
		out.Offending = &offending
	}
	return out
}

func (s *State) addSample(sig cluster.HealthSignals) {
	s.Samples = append(s.Samples, sig)
	if len(s.Samples) > maxSamples {
		s.Samples = s.Samples[len(s.Samples)-maxSamples:]
	}
}
