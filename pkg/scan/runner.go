package scan

import (
	"context"
	"time"

	gsmetrics "github.com/gateshift/gateshift/pkg/metrics"
)

// Runner runs one task against one target. Implementations must bound
// themselves by the task timeout and report failure through the
// result's status, never by panicking or hanging.
type Runner interface {
	Run(ctx context.Context, task Task, target Target) Result
}

type instrumentedRunner struct {
	next Runner
}

func NewInstrumentedRunner(next Runner) Runner {
	return &instrumentedRunner{
		next: next,
	}
}

func (m *instrumentedRunner) Run(ctx context.Context, task Task, target Target) Result {
	start := time.Now()
	res := m.next.Run(ctx, task, target)
	scanDuration.With(
		gsmetrics.LabelTool, task.Tool,
		gsmetrics.LabelStage, string(task.Stage),
		gsmetrics.LabelStatus, string(res.Status),
	).Observe(time.Since(start).Seconds())
	return res
}
