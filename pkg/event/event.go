package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/gateshift/gateshift/pkg/artifact"
	"github.com/gateshift/gateshift/pkg/cluster"
	"github.com/gateshift/gateshift/pkg/gate"
	"github.com/gateshift/gateshift/pkg/scan"
)

// These are all the types of events.
const (
	EventRunStarted       = "run_started"
	EventScanCompleted    = "scan_completed"
	EventGateBlocked      = "gate_blocked"
	EventArtifactBuilt    = "artifact_built"
	EventRunCompleted     = "run_completed"
	EventRunSuperseded    = "run_superseded"
	EventGitOpsDispatched = "gitops_dispatched"
	EventReportingFailed  = "reporting_failed"
	EventRolloutStarted   = "rollout_started"
	EventRolloutAdvanced  = "rollout_advanced"
	EventRolloutPaused    = "rollout_paused"
	EventRolloutResumed   = "rollout_resumed"
	EventRollingBack      = "rolling_back"
	EventRolloutCompleted = "rollout_completed"
	EventRolloutFailed    = "rollout_failed"

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type EventID int64

type Event struct {
	// ID is assigned by the history store when the event is logged.
	ID EventID `json:"id"`

	// Service the event concerns. Every event belongs to exactly one
	// service; there are no cross-service events.
	Service string `json:"service"`

	// RunID ties the event to one pipeline run, when there is one.
	// Rollout events carry the run that created the plan.
	RunID string `json:"runID,omitempty"`

	// Type is one of the Event... constants above.
	Type string `json:"type"`

	// StartedAt is the time the event began.
	StartedAt time.Time `json:"startedAt"`

	// EndedAt is the time the event ended. For instantaneous events,
	// this will be the same as StartedAt.
	EndedAt time.Time `json:"endedAt"`

	// LogLevel indicates how important the event is: debug|info|warn|error.
	LogLevel string `json:"logLevel"`

	// Message is a pre-formatted string, only used when metadata is empty.
	Message string `json:"message,omitempty"`

	// Metadata is Event.Type-specific metadata. If an event has no
	// metadata, this will be nil.
	Metadata Metadata `json:"metadata,omitempty"`
}

// Change is the trigger input: one source change for one service,
// delivered by the VCS or CI webhook. Immutable; consumed once per
// pipeline run.
type Change struct {
	Service  string   `json:"service"`
	Revision string   `json:"revision"`
	Branch   string   `json:"branch"`
	Paths    []string `json:"paths,omitempty"`
}

func (c Change) String() string {
	return fmt.Sprintf("%s@%s (%s)", c.Service, shortRevision(c.Revision), c.Branch)
}

func (e Event) String() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Type {
	case EventRunStarted:
		metadata := e.Metadata.(*RunMetadata)
		return fmt.Sprintf("Run started: %s at %s", e.Service, shortRevision(metadata.Change.Revision))
	case EventScanCompleted:
		metadata := e.Metadata.(*ScanMetadata)
		return fmt.Sprintf("Scans (%s): %s, %d task(s), %s", metadata.Stage, e.Service,
			len(metadata.Results), metadata.Decision.Outcome)
	case EventGateBlocked:
		metadata := e.Metadata.(*GateMetadata)
		return fmt.Sprintf("Blocked: %s, %d reason(s)", e.Service, len(metadata.Decision.Reasons))
	case EventArtifactBuilt:
		metadata := e.Metadata.(*ArtifactMetadata)
		return fmt.Sprintf("Built: %s", metadata.Artifact)
	case EventRunCompleted:
		metadata := e.Metadata.(*RunMetadata)
		return fmt.Sprintf("Run %s: %s", metadata.Outcome, e.Service)
	case EventRunSuperseded:
		metadata := e.Metadata.(*SupersededMetadata)
		return fmt.Sprintf("Superseded: %s, by revision %s", e.Service, shortRevision(metadata.ByRevision))
	case EventGitOpsDispatched:
		metadata := e.Metadata.(*DispatchMetadata)
		return fmt.Sprintf("Dispatched: %s at %s", e.Service, metadata.Digest)
	case EventReportingFailed:
		return fmt.Sprintf("Reporting failed: %s", e.Service)
	case EventRolloutStarted, EventRolloutAdvanced, EventRolloutPaused, EventRolloutResumed,
		EventRollingBack, EventRolloutCompleted, EventRolloutFailed:
		metadata := e.Metadata.(*RolloutMetadata)
		return fmt.Sprintf("Rollout (%s): %s in %s, stage %d at %d%%",
			e.Type, e.Service, metadata.Environment, metadata.StageIndex, metadata.Weight)
	default:
		return fmt.Sprintf("Unknown event: %s", e.Type)
	}
}

func shortRevision(rev string) string {
	if len(rev) <= 8 {
		return rev
	}
	return rev[:8]
}

// Metadata is the type-specific part of an event.
type Metadata interface {
	MetadataType() string
}

// RunMetadata accompanies run_started and run_completed events.
type RunMetadata struct {
	Change Change `json:"change"`
	// Outcome is set on run_completed: proceed, blocked, failed, superseded.
	Outcome string `json:"outcome,omitempty"`
	// Error carries the failure detail for failed runs.
	Error string `json:"error,omitempty"`
}

func (m *RunMetadata) MetadataType() string { return "run" }

// ScanMetadata accompanies scan_completed events, one per stage.
type ScanMetadata struct {
	Stage    string        `json:"stage"`
	Target   string        `json:"target"`
	Results  []scan.Result `json:"results"`
	Decision gate.Decision `json:"decision"`
}

func (m *ScanMetadata) MetadataType() string { return "scan" }

// GateMetadata accompanies gate_blocked events.
type GateMetadata struct {
	Stage    string        `json:"stage"`
	Decision gate.Decision `json:"decision"`
}

func (m *GateMetadata) MetadataType() string { return "gate" }

// ArtifactMetadata accompanies artifact_built events.
type ArtifactMetadata struct {
	Artifact artifact.Artifact `json:"artifact"`
}

func (m *ArtifactMetadata) MetadataType() string { return "artifact" }

// SupersededMetadata accompanies run_superseded events.
type SupersededMetadata struct {
	RunID      string `json:"runID"`
	ByRevision string `json:"byRevision"`
}

func (m *SupersededMetadata) MetadataType() string { return "superseded" }

// DispatchMetadata accompanies gitops_dispatched events.
type DispatchMetadata struct {
	Digest   string `json:"digest"`
	Attempts int    `json:"attempts"`
	// Delivered is false when retries were exhausted and delivery is
	// left to the receiver's reconciliation.
	Delivered bool `json:"delivered"`
}

func (m *DispatchMetadata) MetadataType() string { return "dispatch" }

// ReportMetadata accompanies reporting_failed events.
type ReportMetadata struct {
	Target string `json:"target"`
	Error  string `json:"error"`
}

func (m *ReportMetadata) MetadataType() string { return "report" }

// RolloutMetadata accompanies every rollout event.
type RolloutMetadata struct {
	Environment string `json:"environment"`
	Strategy    string `json:"strategy"`
	Tag         string `json:"tag"`
	StageIndex  int    `json:"stageIndex"`
	Weight      int    `json:"weight"`
	// Signals is set on rolling_back and rollout_failed: the
	// observation that violated the stage criteria.
	Signals *cluster.HealthSignals `json:"signals,omitempty"`
	Reason  string                 `json:"reason,omitempty"`
}

func (m *RolloutMetadata) MetadataType() string { return "rollout" }

// UnmarshalJSON for events: we have to dispatch on the type of the
// event to know which struct the metadata should decode into.
func (e *Event) UnmarshalJSON(in []byte) error {
	type alias Event
	var wireEvent struct {
		*alias
		MetadataBytes json.RawMessage `json:"metadata,omitempty"`
	}
	wireEvent.alias = (*alias)(e)

	if err := json.Unmarshal(in, &wireEvent); err != nil {
		return err
	}
	if len(wireEvent.MetadataBytes) == 0 {
		e.Metadata = nil
		return nil
	}

	var metadata Metadata
	switch wireEvent.Type {
	case EventRunStarted, EventRunCompleted:
		metadata = &RunMetadata{}
	case EventScanCompleted:
		metadata = &ScanMetadata{}
	case EventGateBlocked:
		metadata = &GateMetadata{}
	case EventArtifactBuilt:
		metadata = &ArtifactMetadata{}
	case EventRunSuperseded:
		metadata = &SupersededMetadata{}
	case EventGitOpsDispatched:
		metadata = &DispatchMetadata{}
	case EventReportingFailed:
		metadata = &ReportMetadata{}
	case EventRolloutStarted, EventRolloutAdvanced, EventRolloutPaused, EventRolloutResumed,
		EventRollingBack, EventRolloutCompleted, EventRolloutFailed:
		metadata = &RolloutMetadata{}
	default:
		return errors.Errorf("unknown event type: %s", wireEvent.Type)
	}
	if err := json.Unmarshal(wireEvent.MetadataBytes, metadata); err != nil {
		return err
	}
	e.Metadata = metadata
	return nil
}
