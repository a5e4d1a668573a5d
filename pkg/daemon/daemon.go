// Package daemon combines the pieces of gateshiftd into the server
// the API talks to: the job queue, the releaser, the rollout
// coordinator and the event history.
package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/kit/log"

	"github.com/gateshift/gateshift/pkg/api"
	"github.com/gateshift/gateshift/pkg/cluster"
	"github.com/gateshift/gateshift/pkg/event"
	"github.com/gateshift/gateshift/pkg/history"
	"github.com/gateshift/gateshift/pkg/job"
	"github.com/gateshift/gateshift/pkg/release"
	"github.com/gateshift/gateshift/pkg/rollout"
)

// Executor runs one pipeline run to completion; satisfied by
// *release.Releaser.
type Executor interface {
	Execute(ctx context.Context, change event.Change) (release.Run, error)
}

// Daemon implements api.Server. Fields are assembled by the command
// and not touched afterwards.
type Daemon struct {
	V           string
	Releaser    Executor
	Runs        *release.Store
	Rollouts    *rollout.Coordinator
	Events      history.EventReader
	Cluster     cluster.Cluster
	Jobs        *job.Queue
	JobStatuses *job.StatusCache
	Logger      log.Logger

	// inflight maps service|branch to the run that currently owns that
	// pair, so a newer change can supersede it.
	inflightMu sync.Mutex
	inflight   map[string]*inflightRun
}

type inflightRun struct {
	jobID  job.ID
	cancel context.CancelFunc
}

var _ api.Server = &Daemon{}

func (d *Daemon) Ping(ctx context.Context) error {
	return d.Cluster.Ping(ctx)
}

func (d *Daemon) Version(_ context.Context) (string, error) {
	return d.V, nil
}

// NotifyChange queues a pipeline run. A change for a service|branch
// pair that already has a queued or running job supersedes it: the
// older run's context is cancelled, and any live rollout for the
// service is cancelled too, rolling traffic back if it had shifted.
func (d *Daemon) NotifyChange(ctx context.Context, change event.Change) (job.ID, error) {
	if change.Service == "" || change.Revision == "" {
		return "", errMalformedChange(change)
	}

	id := job.NewID()
	key := changeKey(change)
	// The run outlives the HTTP request that queued it.
	runCtx, cancel := context.WithCancel(context.Background())

	d.inflightMu.Lock()
	if prior, ok := d.inflight[key]; ok {
		prior.cancel()
	}
	if d.inflight == nil {
		d.inflight = map[string]*inflightRun{}
	}
	d.inflight[key] = &inflightRun{jobID: id, cancel: cancel}
	d.inflightMu.Unlock()

	d.supersedeRollouts(change)

	d.JobStatuses.SetStatus(id, job.Status{StatusString: job.StatusQueued})
	d.Jobs.Enqueue(&job.Job{
		ID:  id,
		Key: key,
		Do: func(logger log.Logger) error {
			defer d.clearInflight(key, id)
			d.JobStatuses.SetStatus(id, job.Status{StatusString: job.StatusRunning})
			run, err := d.Releaser.Execute(runCtx, change)
			cancel()
			status := job.Status{RunID: run.ID, StatusString: job.StatusSucceeded}
			if err != nil {
				status.Err = err.Error()
				status.StatusString = job.StatusFailed
			}
			d.JobStatuses.SetStatus(id, status)
			return err
		},
	})
	d.Logger.Log("info", "change queued", "jobID", id, "service", change.Service, "revision", change.Revision)
	return id, nil
}

// supersedeRollouts cancels live rollouts for the changed service.
// A rollout that has already shifted traffic rolls back before it
// finishes; one that already completed has nothing left to cancel.
func (d *Daemon) supersedeRollouts(change event.Change) {
	for _, info := range d.Rollouts.List() {
		if info.Plan.Service != change.Service {
			continue
		}
		reason := fmt.Sprintf("superseded by revision %s", change.Revision)
		if err := d.Rollouts.Cancel(info.Plan.Service, info.Plan.Environment, reason); err != nil && err != rollout.ErrNoActiveRollout {
			d.Logger.Log("warning", "could not supersede rollout", "service", info.Plan.Service, "environment", info.Plan.Environment, "err", err)
		}
	}
}

func (d *Daemon) clearInflight(key string, id job.ID) {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	if cur, ok := d.inflight[key]; ok && cur.jobID == id {
		delete(d.inflight, key)
	}
}

func (d *Daemon) JobStatus(_ context.Context, id job.ID) (job.Status, error) {
	if status, ok := d.JobStatuses.Status(id); ok {
		return status, nil
	}
	return job.Status{}, errUnknownJob(id)
}

func (d *Daemon) ListRuns(_ context.Context, limit int) ([]release.Run, error) {
	return d.Runs.Recent(limit), nil
}

func (d *Daemon) GetRun(_ context.Context, id string) (release.Run, error) {
	run, ok := d.Runs.Get(id)
	if !ok {
		return release.Run{}, errUnknownRun(id)
	}
	return run, nil
}

func (d *Daemon) ListRollouts(_ context.Context) ([]rollout.Info, error) {
	return d.Rollouts.List(), nil
}

func (d *Daemon) RolloutStatus(_ context.Context, service, environment string) (rollout.Info, error) {
	plan, state, err := d.Rollouts.Status(service, environment)
	if err != nil {
		return rollout.Info{}, errNoRollout(service, environment, err)
	}
	return rollout.Info{Plan: plan, State: state}, nil
}

func (d *Daemon) PauseRollout(_ context.Context, service, environment string) error {
	if err := d.Rollouts.Pause(service, environment); err != nil {
		return errNoRollout(service, environment, err)
	}
	return nil
}

func (d *Daemon) ResumeRollout(_ context.Context, service, environment string) error {
	if err := d.Rollouts.Resume(service, environment); err != nil {
		return errNoRollout(service, environment, err)
	}
	return nil
}

func (d *Daemon) CancelRollout(_ context.Context, service, environment, reason string) error {
	if reason == "" {
		reason = "cancelled by operator"
	}
	if err := d.Rollouts.Cancel(service, environment, reason); err != nil {
		return errNoRollout(service, environment, err)
	}
	return nil
}

func (d *Daemon) History(ctx context.Context, service string, limit int) ([]event.Event, error) {
	if service == "" {
		return d.Events.AllEvents(ctx, limit)
	}
	return d.Events.EventsForService(ctx, service, limit)
}

func changeKey(change event.Change) string {
	return change.Service + "|" + change.Branch
}
