package scan

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateshift/gateshift/pkg/gate"
)

// stubRunner returns canned results, optionally after a delay, so
// tests can control completion order.
type stubRunner struct {
	results map[string]Result
	delays  map[string]time.Duration
}

func (s *stubRunner) Run(_ context.Context, task Task, _ Target) Result {
	if d := s.delays[task.ID]; d > 0 {
		time.Sleep(d)
	}
	res, ok := s.results[task.ID]
	if !ok {
		res = Result{TaskID: task.ID, Tool: task.Tool, Stage: task.Stage, Status: StatusSuccess}
	}
	return res
}

func success(id string) Result {
	return Result{TaskID: id, Status: StatusSuccess, Findings: SeverityCounts{}}
}

func findings(id string, counts SeverityCounts) Result {
	return Result{TaskID: id, Status: StatusFindings, Findings: counts}
}

func toolError(id, msg string) Result {
	return Result{TaskID: id, Status: StatusToolError, Err: msg}
}

func sourceTasks() []Task {
	return []Task{
		{ID: "gitleaks-source", Tool: "gitleaks", Stage: StageSource, Required: true, FailClosed: true, Threshold: SeverityCritical},
		{ID: "sast-source", Tool: "semgrep", Stage: StageSource, Required: true, Threshold: SeverityHigh},
		{ID: "deps-source", Tool: "grype", Stage: StageSource, Required: true, Threshold: SeverityHigh},
		{ID: "license-source", Tool: "licensecheck", Stage: StageSource, Required: true, Threshold: SeverityHigh},
		{ID: "style-source", Tool: "lint", Stage: StageSource, Required: false, Threshold: SeverityLow},
	}
}

func TestEvaluateAllRequiredCleanProceeds(t *testing.T) {
	runner := &stubRunner{results: map[string]Result{
		"gitleaks-source": success("gitleaks-source"),
		"sast-source":     success("sast-source"),
		"deps-source":     success("deps-source"),
		"license-source":  success("license-source"),
		// advisory noise must not matter
		"style-source": findings("style-source", SeverityCounts{SeverityLow: 40}),
	}}
	agg := NewAggregator(runner, log.NewNopLogger())

	results, decision := agg.Evaluate(context.Background(), sourceTasks(), execTarget())
	require.Len(t, results, 5)
	assert.True(t, decision.Allowed())
	assert.Empty(t, decision.Reasons)
}

func TestEvaluateRequiredFindingsBlock(t *testing.T) {
	runner := &stubRunner{results: map[string]Result{
		"deps-source": findings("deps-source", SeverityCounts{SeverityCritical: 1, SeverityLow: 3}),
	}}
	agg := NewAggregator(runner, log.NewNopLogger())

	_, decision := agg.Evaluate(context.Background(), sourceTasks(), execTarget())
	require.False(t, decision.Allowed())
	require.Len(t, decision.Reasons, 1)
	reason := decision.Reasons[0]
	assert.Equal(t, "deps-source", reason.TaskID)
	assert.Equal(t, gate.CauseFindings, reason.Cause)
	assert.Contains(t, reason.Detail, "critical:1")
}

func TestEvaluateFindingsBelowThresholdProceed(t *testing.T) {
	runner := &stubRunner{results: map[string]Result{
		"deps-source": findings("deps-source", SeverityCounts{SeverityMedium: 9}),
	}}
	agg := NewAggregator(runner, log.NewNopLogger())

	_, decision := agg.Evaluate(context.Background(), sourceTasks(), execTarget())
	assert.True(t, decision.Allowed())
}

func TestEvaluateAdvisoryToolErrorNeverBlocks(t *testing.T) {
	// any combination of advisory results must not change the outcome
	runner := &stubRunner{results: map[string]Result{
		"style-source": toolError("style-source", "linter segfaulted"),
	}}
	agg := NewAggregator(runner, log.NewNopLogger())

	_, decision := agg.Evaluate(context.Background(), sourceTasks(), execTarget())
	assert.True(t, decision.Allowed())
}

func TestEvaluateFailClosedToolErrorBlocks(t *testing.T) {
	// the secret scanner crashing must block: no evidence of absence
	runner := &stubRunner{results: map[string]Result{
		"gitleaks-source": toolError("gitleaks-source", "gitleaks timed out"),
	}}
	agg := NewAggregator(runner, log.NewNopLogger())

	_, decision := agg.Evaluate(context.Background(), sourceTasks(), execTarget())
	require.False(t, decision.Allowed())
	require.Len(t, decision.Reasons, 1)
	assert.Equal(t, "gitleaks-source", decision.Reasons[0].TaskID)
	assert.Equal(t, gate.CauseToolError, decision.Reasons[0].Cause)
	assert.Contains(t, decision.Reasons[0].Detail, "timed out")
}

func TestEvaluateFailOpenToolErrorProceeds(t *testing.T) {
	runner := &stubRunner{results: map[string]Result{
		"sast-source": toolError("sast-source", "OOM killed"),
	}}
	agg := NewAggregator(runner, log.NewNopLogger())

	_, decision := agg.Evaluate(context.Background(), sourceTasks(), execTarget())
	assert.True(t, decision.Allowed())
}

func TestEvaluateReasonsKeepConfigOrder(t *testing.T) {
	// make the later-configured task finish first; the reasons must
	// still come out in config order
	runner := &stubRunner{
		results: map[string]Result{
			"sast-source": findings("sast-source", SeverityCounts{SeverityHigh: 2}),
			"deps-source": findings("deps-source", SeverityCounts{SeverityCritical: 1}),
		},
		delays: map[string]time.Duration{
			"sast-source": 50 * time.Millisecond,
		},
	}
	agg := NewAggregator(runner, log.NewNopLogger())

	_, first := agg.Evaluate(context.Background(), sourceTasks(), execTarget())
	require.Len(t, first.Reasons, 2)
	assert.Equal(t, "sast-source", first.Reasons[0].TaskID)
	assert.Equal(t, "deps-source", first.Reasons[1].TaskID)

	// and identical inputs give an identical decision
	_, second := agg.Evaluate(context.Background(), sourceTasks(), execTarget())
	assert.Equal(t, first, second)
}

func TestEvaluateResultsKeepTaskOrder(t *testing.T) {
	runner := &stubRunner{delays: map[string]time.Duration{
		"gitleaks-source": 30 * time.Millisecond,
	}}
	agg := NewAggregator(runner, log.NewNopLogger())

	results, _ := agg.Evaluate(context.Background(), sourceTasks(), execTarget())
	for i, task := range sourceTasks() {
		assert.Equal(t, task.ID, results[i].TaskID)
	}
}

func TestEvaluateEmptyBatchProceeds(t *testing.T) {
	agg := NewAggregator(&stubRunner{}, log.NewNopLogger())
	results, decision := agg.Evaluate(context.Background(), nil, execTarget())
	assert.Empty(t, results)
	assert.True(t, decision.Allowed())
}
