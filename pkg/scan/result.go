package scan

import (
	"time"
)

// Status classifies what a scanner invocation produced.
type Status string

const (
	// StatusSuccess: the tool ran and reported nothing.
	StatusSuccess Status = "success"
	// StatusFindings: the tool ran and reported findings; whether they
	// block is for the aggregator to decide, not the runner.
	StatusFindings Status = "findings"
	// StatusToolError: the tool crashed, timed out, or produced output
	// the adapter could not make sense of. Never fatal by itself.
	StatusToolError Status = "tool_error"
)

// Result is the normalised outcome of one task against one target.
// Results are immutable once produced.
type Result struct {
	TaskID   string         `json:"taskID"`
	Tool     string         `json:"tool"`
	Stage    Stage          `json:"stage"`
	Status   Status         `json:"status"`
	Findings SeverityCounts `json:"findings,omitempty"`
	// RawRef locates the tool's unmodified report in the report store,
	// for audit. Empty when storing failed or no store is configured;
	// that never fails the scan.
	RawRef     string    `json:"rawRef,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	// Err carries the failure detail for tool_error results.
	Err string `json:"error,omitempty"`
}

// Duration is how long the tool invocation took.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Target is the subject of a scan batch: a source checkout or a built
// artifact.
type Target struct {
	Service  string `json:"service"`
	Revision string `json:"revision"`
	// Dir is the checked-out working tree, for source-stage tasks.
	Dir string `json:"dir,omitempty"`
	// Image is the artifact reference, for image-stage tasks.
	Image string `json:"image,omitempty"`
	// Digest is the artifact content digest, once one exists.
	Digest string `json:"digest,omitempty"`
}

// Key is a stable identity for the target, used for report dedup.
// Image targets are identified by digest, source targets by revision.
func (t Target) Key() string {
	if t.Digest != "" {
		return t.Digest
	}
	return t.Revision
}
