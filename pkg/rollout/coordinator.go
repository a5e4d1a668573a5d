package rollout

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/gateshift/gateshift/pkg/cluster"
	"github.com/gateshift/gateshift/pkg/history"
	gsmetrics "github.com/gateshift/gateshift/pkg/metrics"
)

var (
	// ErrRolloutActive: the service+environment pair already has a
	// live rollout and the request did not ask to supersede it.
	ErrRolloutActive = errors.New("a rollout is already active for this service and environment")
	// ErrNoActiveRollout: there is nothing to pause, resume or cancel.
	ErrNoActiveRollout = errors.New("no active rollout for this service and environment")
)

// Coordinator enforces the one-active-plan-per-service+environment
// invariant and owns the controller goroutines.
type Coordinator struct {
	cluster cluster.Cluster
	events  history.EventWriter
	logger  log.Logger

	// SampleInterval is handed to every controller; lowered in tests.
	SampleInterval time.Duration

	mu     sync.Mutex
	active map[string]*running
	wait   sync.WaitGroup
}

type running struct {
	controller *Controller
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewCoordinator(cl cluster.Cluster, events history.EventWriter, logger log.Logger) *Coordinator {
	return &Coordinator{
		cluster:        cl,
		events:         events,
		logger:         logger,
		SampleInterval: DefaultSampleInterval,
		active:         map[string]*running{},
	}
}

// Launch validates the plan and starts its controller. If a rollout
// is already active for the same service+environment, supersede=true
// cancels it (rolling traffic back if it had shifted) and waits for
// it to finish before starting; supersede=false refuses. Rollouts
// never run alongside each other for one pair.
func (co *Coordinator) Launch(ctx context.Context, plan Plan, supersede bool) (*Controller, error) {
	if err := plan.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid rollout plan")
	}
	key := plan.Key()

	for {
		co.mu.Lock()
		current := co.active[key]
		if current == nil {
			r := co.start(key, plan)
			co.mu.Unlock()
			return r.controller, nil
		}
		co.mu.Unlock()

		if !supersede {
			return nil, ErrRolloutActive
		}
		if err := current.controller.Cancel("superseded by " + plan.Artifact.Tag); err != nil && err != ErrFinished {
			return nil, err
		}
		select {
		case <-current.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// start must be called with the mutex held.
func (co *Coordinator) start(key string, plan Plan) *running {
	runCtx, cancel := context.WithCancel(context.Background())
	ctrl := NewController(plan, co.cluster, co.events, co.logger)
	ctrl.SampleInterval = co.SampleInterval
	r := &running{controller: ctrl, cancel: cancel, done: make(chan struct{})}
	co.active[key] = r

	co.wait.Add(1)
	go func() {
		defer co.wait.Done()
		defer close(r.done)
		activeRollouts.With(gsmetrics.LabelEnvironment, plan.Environment).Add(1)
		defer activeRollouts.With(gsmetrics.LabelEnvironment, plan.Environment).Add(-1)

		ctrl.Run(runCtx)
		cancel()

		co.mu.Lock()
		if co.active[key] == r {
			delete(co.active, key)
		}
		co.mu.Unlock()
	}()
	return r
}

func (co *Coordinator) Pause(service, environment string) error {
	return co.operate(service, environment, (*Controller).Pause)
}

func (co *Coordinator) Resume(service, environment string) error {
	return co.operate(service, environment, (*Controller).Resume)
}

func (co *Coordinator) Cancel(service, environment, reason string) error {
	return co.operate(service, environment, func(c *Controller) error {
		return c.Cancel(reason)
	})
}

func (co *Coordinator) operate(service, environment string, op func(*Controller) error) error {
	r := co.lookup(service, environment)
	if r == nil {
		return ErrNoActiveRollout
	}
	if err := op(r.controller); err == ErrFinished {
		return ErrNoActiveRollout
	} else if err != nil {
		return err
	}
	return nil
}

// Status reports the plan and live state of the active rollout for
// the pair, if any.
func (co *Coordinator) Status(service, environment string) (Plan, State, error) {
	r := co.lookup(service, environment)
	if r == nil {
		return Plan{}, State{}, ErrNoActiveRollout
	}
	return r.controller.Plan(), r.controller.State(), nil
}

// Info is a snapshot of one active rollout.
type Info struct {
	Plan  Plan  `json:"plan"`
	State State `json:"state"`
}

// List snapshots every active rollout, ordered by service then
// environment.
func (co *Coordinator) List() []Info {
	co.mu.Lock()
	controllers := make([]*Controller, 0, len(co.active))
	for _, r := range co.active {
		controllers = append(controllers, r.controller)
	}
	co.mu.Unlock()

	infos := make([]Info, 0, len(controllers))
	for _, ctrl := range controllers {
		infos = append(infos, Info{Plan: ctrl.Plan(), State: ctrl.State()})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Plan.Key() < infos[j].Plan.Key()
	})
	return infos
}

// Stop tears every active rollout down and waits for the controller
// goroutines. Used on daemon shutdown; in-flight rollouts put their
// traffic back before exiting.
func (co *Coordinator) Stop() {
	co.mu.Lock()
	for _, r := range co.active {
		r.cancel()
	}
	co.mu.Unlock()
	co.wait.Wait()
}

func (co *Coordinator) lookup(service, environment string) *running {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.active[Plan{Service: service, Environment: environment}.Key()]
}
