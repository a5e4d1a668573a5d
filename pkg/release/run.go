// Package release executes one pipeline run end to end: source scans,
// gate, build, image scans, final gate, and the handoff to gitops and
// the rollout coordinator.
package release

import (
	"sync"
	"time"

	"github.com/gateshift/gateshift/pkg/artifact"
	"github.com/gateshift/gateshift/pkg/event"
	"github.com/gateshift/gateshift/pkg/gate"
	"github.com/gateshift/gateshift/pkg/scan"
)

// Outcome is how a run ended.
type Outcome string

const (
	// OutcomeReleased: both gates passed, the artifact was dispatched
	// and its rollout launched.
	OutcomeReleased Outcome = "released"
	// OutcomeBlocked: a gate said no. Not a failure; the pipeline did
	// its job.
	OutcomeBlocked Outcome = "blocked"
	// OutcomeFailed: the run could not finish (export or build broke).
	OutcomeFailed Outcome = "failed"
	// OutcomeSuperseded: a newer change for the same service+branch
	// took over before this run finished.
	OutcomeSuperseded Outcome = "superseded"
)

// Run is the record of one pipeline run. Once Finished it never
// changes.
type Run struct {
	ID     string       `json:"id"`
	Change event.Change `json:"change"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`

	Outcome Outcome `json:"outcome,omitempty"`

	SourceResults []scan.Result `json:"sourceResults,omitempty"`
	ImageResults  []scan.Result `json:"imageResults,omitempty"`
	// Decision is the combined gate decision, once both stages ran; a
	// source-stage block carries just the source decision.
	Decision *gate.Decision     `json:"decision,omitempty"`
	Artifact *artifact.Artifact `json:"artifact,omitempty"`

	// RolloutLaunched is set when the run handed a plan to the
	// coordinator; from then on the rollout has its own lifecycle.
	RolloutLaunched bool   `json:"rolloutLaunched,omitempty"`
	Error           string `json:"error,omitempty"`
}

func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Store keeps finished and in-flight runs for the API to answer
// questions about. Bounded: the oldest finished runs fall off.
type Store struct {
	mu    sync.Mutex
	byID  map[string]*Run
	order []string
	keep  int
}

func NewStore(keep int) *Store {
	if keep <= 0 {
		keep = 256
	}
	return &Store{byID: map[string]*Run{}, keep: keep}
}

func (s *Store) Put(r Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; !ok {
		s.order = append(s.order, r.ID)
		if len(s.order) > s.keep {
			evict := s.order[0]
			s.order = s.order[1:]
			delete(s.byID, evict)
		}
	}
	copied := r
	s.byID[r.ID] = &copied
}

func (s *Store) Get(id string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return Run{}, false
	}
	return *r, true
}

// Recent lists runs newest first, at most limit (0 means all kept).
func (s *Store) Recent(limit int) []Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Run
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.byID[s.order[i]])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
