// Package api declares what the daemon can be asked to do, shared
// between the HTTP server and the client so they cannot drift apart.
package api

import (
	"context"

	"github.com/gateshift/gateshift/pkg/event"
	"github.com/gateshift/gateshift/pkg/job"
	"github.com/gateshift/gateshift/pkg/release"
	"github.com/gateshift/gateshift/pkg/rollout"
)

type Server interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)

	// NotifyChange queues a pipeline run for the change and returns
	// immediately with a job ID to poll.
	NotifyChange(ctx context.Context, change event.Change) (job.ID, error)
	JobStatus(ctx context.Context, id job.ID) (job.Status, error)

	ListRuns(ctx context.Context, limit int) ([]release.Run, error)
	GetRun(ctx context.Context, id string) (release.Run, error)

	ListRollouts(ctx context.Context) ([]rollout.Info, error)
	RolloutStatus(ctx context.Context, service, environment string) (rollout.Info, error)
	PauseRollout(ctx context.Context, service, environment string) error
	ResumeRollout(ctx context.Context, service, environment string) error
	CancelRollout(ctx context.Context, service, environment, reason string) error

	// History lists recorded events, newest first; an empty service
	// means every service.
	History(ctx context.Context, service string, limit int) ([]event.Event, error)
}
