package release

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gateshift/gateshift/pkg/artifact"
	"github.com/gateshift/gateshift/pkg/config"
	"github.com/gateshift/gateshift/pkg/event"
	"github.com/gateshift/gateshift/pkg/gate"
	"github.com/gateshift/gateshift/pkg/gitops"
	"github.com/gateshift/gateshift/pkg/history"
	"github.com/gateshift/gateshift/pkg/rollout"
	"github.com/gateshift/gateshift/pkg/scan"
)

// ErrNoPipeline: the change does not select any configured pipeline;
// there is nothing to run.
var ErrNoPipeline = errors.New("no pipeline configured for this change")

// SourceExporter produces a working tree for a change. How the tree
// is obtained (git mirror, CI workspace, tarball) is the
// environment's business.
type SourceExporter interface {
	Export(ctx context.Context, change event.Change) (dir string, cleanup func() error, err error)
}

// Aggregator runs a scan batch; satisfied by *scan.Aggregator.
type Aggregator interface {
	Evaluate(ctx context.Context, tasks []scan.Task, target scan.Target) ([]scan.Result, gate.Decision)
}

// Publisher pushes results to the vulnerability sink without blocking;
// satisfied by *report.Reporter.
type Publisher interface {
	Publish(target scan.Target, results []scan.Result)
}

// Builder produces artifacts; satisfied by *artifact.Builder.
type Builder interface {
	Build(ctx context.Context, req artifact.BuildRequest) (artifact.Artifact, error)
}

// RolloutLauncher hands plans to the coordinator; satisfied by
// *rollout.Coordinator.
type RolloutLauncher interface {
	Launch(ctx context.Context, plan rollout.Plan, supersede bool) (*rollout.Controller, error)
}

// Deps is everything a releaser needs. All fields are required except
// Events.
type Deps struct {
	Spec       config.Spec
	Exporter   SourceExporter
	Aggregator Aggregator
	Reporter   Publisher
	Builder    Builder
	Registry   artifact.Registry
	Rollouts   RolloutLauncher
	Dispatcher gitops.Dispatcher
	Events     history.EventWriter
	Runs       *Store
	Logger     log.Logger
}

// Releaser drives single pipeline runs. It holds no per-run state;
// everything about a run lives in its Run record.
type Releaser struct {
	d Deps
}

func NewReleaser(d Deps) *Releaser {
	return &Releaser{d: d}
}

// Execute runs the whole pipeline for one change. A blocked gate is a
// completed run, not an error; errors mean the run could not finish.
func (r *Releaser) Execute(ctx context.Context, change event.Change) (Run, error) {
	pipeline, ok := r.d.Spec.PipelineFor(change.Service, change.Paths)
	if !ok {
		return Run{}, ErrNoPipeline
	}

	run := Run{
		ID:        uuid.New().String(),
		Change:    change,
		StartedAt: time.Now(),
	}
	r.d.Runs.Put(run)
	logger := log.With(r.d.Logger, "run", run.ID, "service", change.Service, "revision", change.Revision)
	r.emit(run, event.EventRunStarted, event.LogLevelInfo, &event.RunMetadata{Change: change})
	logger.Log("branch", change.Branch, "paths", len(change.Paths))

	final, err := r.execute(ctx, logger, pipeline, run)
	final.FinishedAt = time.Now()
	r.d.Runs.Put(final)

	meta := &event.RunMetadata{Change: change, Outcome: string(final.Outcome), Error: final.Error}
	level := event.LogLevelInfo
	if final.Outcome == OutcomeFailed {
		level = event.LogLevelError
	}
	r.emit(final, event.EventRunCompleted, level, meta)
	logger.Log("outcome", final.Outcome, "took", final.FinishedAt.Sub(final.StartedAt))
	return final, err
}

func (r *Releaser) execute(ctx context.Context, logger log.Logger, pipeline config.PipelineSpec, run Run) (Run, error) {
	change := run.Change

	dir, cleanup, err := r.d.Exporter.Export(ctx, change)
	if err != nil {
		run.Outcome = OutcomeFailed
		run.Error = errors.Wrap(err, "exporting source").Error()
		return run, errors.Wrap(err, "exporting source")
	}
	defer func() {
		if err := cleanup(); err != nil {
			logger.Log("warning", "source cleanup failed", "err", err)
		}
	}()

	// source stage: every scanner runs, nothing short-circuits
	sourceTarget := scan.Target{Service: change.Service, Revision: change.Revision, Dir: dir}
	sourceResults, sourceDecision := r.d.Aggregator.Evaluate(ctx, pipeline.ScanTasks(scan.StageSource), sourceTarget)
	run.SourceResults = sourceResults
	r.d.Reporter.Publish(sourceTarget, sourceResults)
	r.emit(run, event.EventScanCompleted, event.LogLevelInfo, &event.ScanMetadata{
		Stage:    string(scan.StageSource),
		Target:   sourceTarget.Key(),
		Results:  sourceResults,
		Decision: sourceDecision,
	})

	if superseded := ctx.Err(); superseded != nil {
		return r.supersededRun(run), nil
	}
	if !sourceDecision.Allowed() {
		return r.blockedRun(run, scan.StageSource, sourceDecision), nil
	}

	// the gates passed on the source; now there is something to build
	built, err := r.d.Builder.Build(ctx, artifact.BuildRequest{
		Service:  change.Service,
		Branch:   change.Branch,
		Revision: change.Revision,
		Workdir:  dir,
		Command:  pipeline.Build.Command,
		Timeout:  pipeline.Build.Timeout.StdDuration(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return r.supersededRun(run), nil
		}
		run.Outcome = OutcomeFailed
		run.Error = err.Error()
		return run, errors.Wrap(err, "building artifact")
	}
	run.Artifact = &built
	r.emit(run, event.EventArtifactBuilt, event.LogLevelInfo, &event.ArtifactMetadata{Artifact: built})

	// image stage, against the artifact
	imageTarget := scan.Target{
		Service:  change.Service,
		Revision: change.Revision,
		Image:    built.Ref(),
		Digest:   built.Digest.String(),
	}
	imageResults, imageDecision := r.d.Aggregator.Evaluate(ctx, pipeline.ScanTasks(scan.StageImage), imageTarget)
	run.ImageResults = imageResults
	r.d.Reporter.Publish(imageTarget, imageResults)
	r.emit(run, event.EventScanCompleted, event.LogLevelInfo, &event.ScanMetadata{
		Stage:    string(scan.StageImage),
		Target:   imageTarget.Key(),
		Results:  imageResults,
		Decision: imageDecision,
	})

	if superseded := ctx.Err(); superseded != nil {
		return r.supersededRun(run), nil
	}

	combined := gate.Combine(sourceDecision, imageDecision)
	run.Decision = &combined
	if !combined.Allowed() {
		// the artifact stays in the registry un-promoted, for forensics
		return r.blockedRun(run, scan.StageImage, combined), nil
	}

	if err := r.d.Registry.Promote(ctx, built.Digest); err != nil {
		run.Outcome = OutcomeFailed
		run.Error = errors.Wrap(err, "promoting artifact").Error()
		return run, errors.Wrap(err, "promoting artifact")
	}

	r.dispatch(run, built, logger)

	plan := pipeline.Plan(uuid.New().String(), run.ID, built)
	if _, err := r.d.Rollouts.Launch(ctx, plan, true); err != nil {
		run.Outcome = OutcomeFailed
		run.Error = errors.Wrap(err, "launching rollout").Error()
		return run, errors.Wrap(err, "launching rollout")
	}
	run.RolloutLaunched = true

	run.Outcome = OutcomeReleased
	return run, nil
}

// dispatch tells the gitops pipeline about the approved digest.
// Exhausted retries degrade to an event and a log line; the release
// itself is already decided.
func (r *Releaser) dispatch(run Run, built artifact.Artifact, logger log.Logger) {
	attempts, err := r.d.Dispatcher.Dispatch(context.Background(), gitops.Notification{
		Service: built.Service,
		Digest:  built.Digest.String(),
		Tag:     built.Tag,
	})
	meta := &event.DispatchMetadata{Digest: built.Digest.String(), Attempts: attempts, Delivered: err == nil}
	level := event.LogLevelInfo
	if err != nil {
		level = event.LogLevelWarn
		logger.Log("warning", "gitops dispatch undelivered", "err", err)
	}
	r.emit(run, event.EventGitOpsDispatched, level, meta)
}

func (r *Releaser) blockedRun(run Run, stage scan.Stage, decision gate.Decision) Run {
	run.Outcome = OutcomeBlocked
	if run.Decision == nil {
		run.Decision = &decision
	}
	r.emit(run, event.EventGateBlocked, event.LogLevelWarn, &event.GateMetadata{
		Stage:    string(stage),
		Decision: decision,
	})
	return run
}

func (r *Releaser) supersededRun(run Run) Run {
	run.Outcome = OutcomeSuperseded
	r.emit(run, event.EventRunSuperseded, event.LogLevelInfo, &event.SupersededMetadata{
		RunID: run.ID,
	})
	return run
}

func (r *Releaser) emit(run Run, typ, level string, metadata event.Metadata) {
	if r.d.Events == nil {
		return
	}
	now := time.Now()
	e := event.Event{
		Service:   run.Change.Service,
		RunID:     run.ID,
		Type:      typ,
		StartedAt: now,
		EndedAt:   now,
		LogLevel:  level,
		Metadata:  metadata,
	}
	if err := r.d.Events.LogEvent(context.Background(), e); err != nil {
		r.d.Logger.Log("warning", "failed to log event", "event", typ, "err", err)
	}
}
