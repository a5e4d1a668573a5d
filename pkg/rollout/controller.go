package rollout

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/gateshift/gateshift/pkg/cluster"
	"github.com/gateshift/gateshift/pkg/event"
	"github.com/gateshift/gateshift/pkg/history"
	gsmetrics "github.com/gateshift/gateshift/pkg/metrics"
)

const (
	// DefaultSampleInterval is how often health is sampled within a
	// stage window, for operator visibility between evaluations.
	DefaultSampleInterval = 15 * time.Second
	// rollbackTimeout bounds the traffic restore once a rollback has
	// been decided. The run context may already be dead by then (a
	// superseded rollout still has to put traffic back), so the
	// restore runs on its own deadline.
	rollbackTimeout = 2 * time.Minute
)

// ErrFinished is returned by operator actions on a rollout that has
// already reached a terminal state.
var ErrFinished = errors.New("rollout already finished")

type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdCancel
)

type command struct {
	kind   commandKind
	reason string
}

// Controller executes one plan. All state mutation happens inside the
// Run goroutine; Pause, Resume and Cancel just post commands to it,
// and State returns copies.
type Controller struct {
	plan    Plan
	cluster cluster.Cluster
	events  history.EventWriter
	logger  log.Logger

	// SampleInterval may be lowered before Run for tests.
	SampleInterval time.Duration

	commands chan command
	finished chan struct{}

	mu      sync.Mutex
	state   State
	shifted bool
}

func NewController(plan Plan, cl cluster.Cluster, events history.EventWriter, logger log.Logger) *Controller {
	return &Controller{
		plan:           plan,
		cluster:        cl,
		events:         events,
		logger:         log.With(logger, "service", plan.Service, "environment", plan.Environment, "tag", plan.Artifact.Tag),
		SampleInterval: DefaultSampleInterval,
		commands:       make(chan command),
		finished:       make(chan struct{}),
		state:          State{Status: StatusAdvancing, StartedAt: time.Now(), UpdatedAt: time.Now()},
	}
}

func (c *Controller) Plan() Plan { return c.plan }

// State is a copy of the current rollout state, safe to hold.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Pause holds the rollout at its current stage; no further traffic
// shifts until Resume.
func (c *Controller) Pause() error { return c.post(command{kind: cmdPause}) }

// Resume continues a paused rollout at the same stage, restarting its
// evaluation window.
func (c *Controller) Resume() error { return c.post(command{kind: cmdResume}) }

// Cancel stops the rollout. If traffic has already shifted the
// controller rolls back first; otherwise it goes straight to Failed.
func (c *Controller) Cancel(reason string) error {
	return c.post(command{kind: cmdCancel, reason: reason})
}

func (c *Controller) post(cmd command) error {
	select {
	case c.commands <- cmd:
		return nil
	case <-c.finished:
		return ErrFinished
	}
}

// Run drives the plan to a terminal state and returns it. It must be
// called exactly once.
func (c *Controller) Run(ctx context.Context) State {
	defer close(c.finished)
	begin := time.Now()

	final := c.run(ctx)

	rolloutDuration.With(
		gsmetrics.LabelStrategy, string(c.plan.Strategy),
		gsmetrics.LabelStatus, string(final.Status),
	).Observe(time.Since(begin).Seconds())
	c.logger.Log("status", final.Status, "stage", final.StageIndex, "took", time.Since(begin))
	return final
}

func (c *Controller) run(ctx context.Context) State {
	c.emit(event.EventRolloutStarted, event.LogLevelInfo, nil, "")

	for i := 0; i < len(c.plan.Stages); i++ {
		stage := c.plan.Stages[i]
		c.update(func(s *State) {
			s.Status = StatusAdvancing
			s.StageIndex = i
			s.Weight = stage.Weight
			s.Samples = nil
		})

		if err := c.cluster.SetTrafficWeight(ctx, c.plan.Service, c.plan.Artifact.Tag, stage.Weight); err != nil {
			return c.abort(errors.Wrapf(err, "setting weight to %d%%", stage.Weight).Error(), nil)
		}
		if stage.Weight > 0 {
			c.mu.Lock()
			c.shifted = true
			c.mu.Unlock()
		}
		if i > 0 {
			c.emit(event.EventRolloutAdvanced, event.LogLevelInfo, nil, "")
		}
		c.logger.Log("stage", i, "weight", stage.Weight, "window", stage.Window)

		if verdict, signals := c.observeStage(ctx, stage); verdict != nil {
			return c.abort(verdict.Error(), signals)
		}
	}

	c.update(func(s *State) { s.Status = StatusCompleted })
	c.emit(event.EventRolloutCompleted, event.LogLevelInfo, nil, "")
	return c.State()
}

// observeStage waits out the stage's evaluation window, sampling
// health as it goes, and returns nil if the criteria held. Pause
// restarts the window on resume; cancellation and context death
// surface as verdicts.
func (c *Controller) observeStage(ctx context.Context, stage Stage) (error, *cluster.HealthSignals) {
	for {
		timer := time.NewTimer(stage.Window)
		ticker := time.NewTicker(c.SampleInterval)

		again, verdict, offending := c.watchWindow(ctx, stage, timer, ticker)
		timer.Stop()
		ticker.Stop()
		if !again {
			return verdict, offending
		}
	}
}

// watchWindow runs one attempt at a stage window. again=true means
// the window was interrupted by pause/resume and should restart.
func (c *Controller) watchWindow(ctx context.Context, stage Stage, timer *time.Timer, ticker *time.Ticker) (again bool, verdict error, offending *cluster.HealthSignals) {
	for {
		select {
		case <-ctx.Done():
			return false, errors.New("superseded by a newer change"), nil

		case cmd := <-c.commands:
			switch cmd.kind {
			case cmdPause:
				if done := c.paused(ctx); done != nil {
					return false, done, nil
				}
				return true, nil, nil // resumed: restart window
			case cmdCancel:
				return false, cancelReason(cmd.reason), nil
			case cmdResume:
				// not paused; nothing to do
			}

		case <-ticker.C:
			sig, err := c.cluster.HealthSignals(ctx, c.plan.Service, c.plan.Artifact.Tag, c.SampleInterval)
			if err != nil {
				c.logger.Log("warning", "health sample failed", "err", err)
				continue
			}
			c.update(func(s *State) { s.addSample(sig) })

		case <-timer.C:
			sig, err := c.cluster.HealthSignals(ctx, c.plan.Service, c.plan.Artifact.Tag, stage.Window)
			if err != nil {
				if stage.Criteria.AllowMissing {
					return false, nil, nil
				}
				return false, errors.Wrap(err, "health signals unavailable at evaluation"), nil
			}
			c.update(func(s *State) { s.addSample(sig) })
			if err := stage.Criteria.Check(sig); err != nil {
				return false, err, &sig
			}
			return false, nil, nil
		}
	}
}

// paused parks the controller until resume, cancel, or context death.
// A non-nil return is the verdict that ends the rollout.
func (c *Controller) paused(ctx context.Context) error {
	c.update(func(s *State) { s.Status = StatusPaused })
	c.emit(event.EventRolloutPaused, event.LogLevelInfo, nil, "")
	for {
		select {
		case <-ctx.Done():
			return errors.New("superseded by a newer change")
		case cmd := <-c.commands:
			switch cmd.kind {
			case cmdResume:
				c.update(func(s *State) { s.Status = StatusAdvancing })
				c.emit(event.EventRolloutResumed, event.LogLevelInfo, nil, "")
				return nil
			case cmdCancel:
				return cancelReason(cmd.reason)
			case cmdPause:
				// already paused
			}
		}
	}
}

// abort takes the rollout to Failed, rolling traffic back first if
// any ever shifted. The restore runs on its own context: the decision
// to roll back must survive the run being cancelled.
func (c *Controller) abort(reason string, offending *cluster.HealthSignals) State {
	c.mu.Lock()
	shifted := c.shifted
	c.mu.Unlock()

	c.update(func(s *State) {
		s.Reason = reason
		s.Offending = offending
	})

	if shifted {
		c.update(func(s *State) { s.Status = StatusRollingBack })
		c.emit(event.EventRollingBack, event.LogLevelWarn, offending, reason)

		restoreCtx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
		defer cancel()
		if err := c.cluster.SetTrafficWeight(restoreCtx, c.plan.Service, c.plan.Artifact.Tag, 0); err != nil {
			// traffic may still be flowing to a bad version; nothing
			// left to do from here but say so loudly
			c.logger.Log("error", "failed to restore traffic during rollback", "err", err)
		}
		c.update(func(s *State) { s.Weight = 0 })
	}

	c.update(func(s *State) { s.Status = StatusFailed })
	c.emit(event.EventRolloutFailed, event.LogLevelError, offending, reason)
	return c.State()
}

func (c *Controller) update(f func(*State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(&c.state)
	c.state.UpdatedAt = time.Now()
}

func (c *Controller) emit(typ, level string, signals *cluster.HealthSignals, reason string) {
	if c.events == nil {
		return
	}
	st := c.State()
	now := time.Now()
	e := event.Event{
		Service:   c.plan.Service,
		RunID:     c.plan.RunID,
		Type:      typ,
		StartedAt: now,
		EndedAt:   now,
		LogLevel:  level,
		Metadata: &event.RolloutMetadata{
			Environment: c.plan.Environment,
			Strategy:    string(c.plan.Strategy),
			Tag:         c.plan.Artifact.Tag,
			StageIndex:  st.StageIndex,
			Weight:      st.Weight,
			Signals:     signals,
			Reason:      reason,
		},
	}
	if err := c.events.LogEvent(context.Background(), e); err != nil {
		c.logger.Log("warning", "failed to log event", "event", typ, "err", err)
	}
}

func cancelReason(reason string) error {
	if reason == "" {
		return errors.New("cancelled by operator")
	}
	return errors.New(reason)
}
