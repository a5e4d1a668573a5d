package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/gateshift/gateshift/pkg/gate"
	gsmetrics "github.com/gateshift/gateshift/pkg/metrics"
)

// Aggregator fans a batch of tasks out over the runner, waits for
// every one of them, and classifies the whole batch into a gate
// decision. There is no early exit: a required failure does not stop
// the other scanners, their results are still wanted for the report.
type Aggregator struct {
	runner Runner
	logger log.Logger
}

func NewAggregator(runner Runner, logger log.Logger) *Aggregator {
	return &Aggregator{runner: runner, logger: logger}
}

// Evaluate runs every task concurrently against the target and
// returns all results, in task order, together with the decision for
// the batch. Each task bounds itself by its own timeout, so the batch
// as a whole is bounded by the slowest task.
func (a *Aggregator) Evaluate(ctx context.Context, tasks []Task, target Target) ([]Result, gate.Decision) {
	begin := time.Now()
	results := make([]Result, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			results[i] = a.runner.Run(ctx, task, target)
		}(i, task)
	}
	wg.Wait()

	decision := Classify(tasks, results)

	stage := batchStage(tasks)
	batchDuration.With(
		gsmetrics.LabelStage, stage,
		gsmetrics.LabelOutcome, string(decision.Outcome),
	).Observe(time.Since(begin).Seconds())
	a.logger.Log("service", target.Service, "revision", target.Revision, "stage", stage,
		"tasks", len(tasks), "outcome", decision.Outcome, "took", time.Since(begin))

	return results, decision
}

// Classify derives the gate decision for a batch. It walks tasks in
// config order, so identical inputs always produce identical
// decisions no matter which scanner finished first. Only required
// tasks can block: findings at or above the task threshold always do,
// a tool error does only when the task is fail-closed.
func Classify(tasks []Task, results []Result) gate.Decision {
	var reasons []gate.Reason
	for i, task := range tasks {
		if !task.Required {
			continue
		}
		res := results[i]
		switch res.Status {
		case StatusFindings:
			if n := res.Findings.AtOrAbove(task.Threshold); n > 0 {
				reasons = append(reasons, gate.Reason{
					TaskID:    task.ID,
					Tool:      task.Tool,
					Stage:     string(task.Stage),
					Cause:     gate.CauseFindings,
					Threshold: string(task.Threshold),
					Detail:    fmt.Sprintf("%d finding(s) at or above %s (%s)", n, task.Threshold, res.Findings),
				})
			}
		case StatusToolError:
			if task.FailClosed {
				reasons = append(reasons, gate.Reason{
					TaskID: task.ID,
					Tool:   task.Tool,
					Stage:  string(task.Stage),
					Cause:  gate.CauseToolError,
					Detail: res.Err,
				})
			}
		}
	}
	if len(reasons) > 0 {
		return gate.Block(reasons...)
	}
	return gate.Allow()
}

func batchStage(tasks []Task) string {
	if len(tasks) == 0 {
		return ""
	}
	return string(tasks[0].Stage)
}
