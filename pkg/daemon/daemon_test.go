package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateshift/gateshift/pkg/cluster/mock"
	"github.com/gateshift/gateshift/pkg/event"
	"github.com/gateshift/gateshift/pkg/history"
	"github.com/gateshift/gateshift/pkg/job"
	"github.com/gateshift/gateshift/pkg/release"
	"github.com/gateshift/gateshift/pkg/rollout"
)

type stubExecutor struct {
	fn func(ctx context.Context, change event.Change) (release.Run, error)
}

func (s stubExecutor) Execute(ctx context.Context, change event.Change) (release.Run, error) {
	return s.fn(ctx, change)
}

func newTestDaemon(t *testing.T, exec Executor) *Daemon {
	stop := make(chan struct{})
	wg := &sync.WaitGroup{}
	t.Cleanup(func() {
		close(stop)
		wg.Wait()
	})

	logger := log.NewNopLogger()
	d := &Daemon{
		V:           "test",
		Releaser:    exec,
		Runs:        release.NewStore(0),
		Rollouts:    rollout.NewCoordinator(&mock.Mock{}, history.NewInMemDB(), logger),
		Events:      history.NewInMemDB(),
		Cluster:     &mock.Mock{},
		Jobs:        job.NewQueue(stop, wg),
		JobStatuses: job.NewStatusCache(0),
		Logger:      logger,
	}
	wg.Add(1)
	go d.Loop(stop, wg, logger)
	return d
}

func waitForStatus(t *testing.T, d *Daemon, id job.ID, want job.StatusString) job.Status {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s, ok := d.JobStatuses.Status(id); ok && s.StatusString == want {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return job.Status{}
}

func TestNotifyChangeRunsJob(t *testing.T) {
	d := newTestDaemon(t, stubExecutor{fn: func(_ context.Context, change event.Change) (release.Run, error) {
		return release.Run{ID: "run-1", Change: change, Outcome: release.OutcomeReleased}, nil
	}})

	id, err := d.NotifyChange(context.Background(), event.Change{
		Service: "checkout-service", Revision: "0123abcd", Branch: "main",
	})
	require.NoError(t, err)

	status := waitForStatus(t, d, id, job.StatusSucceeded)
	assert.Equal(t, "run-1", status.RunID)
}

func TestNotifyChangeRejectsIncompleteChange(t *testing.T) {
	d := newTestDaemon(t, stubExecutor{fn: func(context.Context, event.Change) (release.Run, error) {
		t.Fatal("executor should not run")
		return release.Run{}, nil
	}})

	_, err := d.NotifyChange(context.Background(), event.Change{Service: "checkout-service"})
	assert.Error(t, err)
	_, err = d.NotifyChange(context.Background(), event.Change{Revision: "0123abcd"})
	assert.Error(t, err)
}

func TestNewerChangeSupersedesInflightRun(t *testing.T) {
	started := make(chan struct{})
	d := newTestDaemon(t, stubExecutor{fn: func(ctx context.Context, change event.Change) (release.Run, error) {
		if change.Revision == "rev-1" {
			close(started)
			<-ctx.Done()
			return release.Run{ID: "run-1", Change: change, Outcome: release.OutcomeSuperseded}, nil
		}
		return release.Run{ID: "run-2", Change: change, Outcome: release.OutcomeReleased}, nil
	}})

	id1, err := d.NotifyChange(context.Background(), event.Change{
		Service: "checkout-service", Revision: "rev-1", Branch: "main",
	})
	require.NoError(t, err)
	<-started

	id2, err := d.NotifyChange(context.Background(), event.Change{
		Service: "checkout-service", Revision: "rev-2", Branch: "main",
	})
	require.NoError(t, err)

	s1 := waitForStatus(t, d, id1, job.StatusSucceeded)
	assert.Equal(t, "run-1", s1.RunID)
	s2 := waitForStatus(t, d, id2, job.StatusSucceeded)
	assert.Equal(t, "run-2", s2.RunID)
}

func TestJobStatusUnknownJob(t *testing.T) {
	d := newTestDaemon(t, stubExecutor{fn: func(context.Context, event.Change) (release.Run, error) {
		return release.Run{}, nil
	}})
	_, err := d.JobStatus(context.Background(), job.ID("nope"))
	assert.Error(t, err)
}

func TestRolloutOperationsWithoutRollout(t *testing.T) {
	d := newTestDaemon(t, stubExecutor{fn: func(context.Context, event.Change) (release.Run, error) {
		return release.Run{}, nil
	}})
	assert.Error(t, d.PauseRollout(context.Background(), "svc", "production"))
	assert.Error(t, d.ResumeRollout(context.Background(), "svc", "production"))
	assert.Error(t, d.CancelRollout(context.Background(), "svc", "production", ""))
	_, err := d.RolloutStatus(context.Background(), "svc", "production")
	assert.Error(t, err)
}
