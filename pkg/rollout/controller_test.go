package rollout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateshift/gateshift/pkg/artifact"
	"github.com/gateshift/gateshift/pkg/cluster"
	"github.com/gateshift/gateshift/pkg/cluster/mock"
)

const testWindow = 30 * time.Millisecond

func testPlan(strategy Strategy, stages []Stage) Plan {
	return Plan{
		ID:          "plan-1",
		RunID:       "run-1",
		Service:     "checkout-service",
		Environment: "production",
		Strategy:    strategy,
		Artifact: artifact.Artifact{
			Service: "checkout-service",
			Tag:     "main-0123abcd",
			Digest:  "sha256:4355a46b19d348dc2f57c046f8ef63d4538ebb936000f3c9ee954a27460dd865",
		},
		Stages: stages,
	}
}

func canaryStages(criteria Criteria) []Stage {
	return []Stage{
		{Weight: 10, Window: testWindow, Criteria: criteria},
		{Weight: 50, Window: testWindow, Criteria: criteria},
		{Weight: 100, Window: testWindow, Criteria: criteria},
	}
}

func healthy() cluster.HealthSignals {
	return cluster.HealthSignals{ErrorRate: 0.001, Samples: 5000, ObservedAt: time.Now()}
}

func newTestController(plan Plan, target *mock.Mock) *Controller {
	c := NewController(plan, target, nil, log.NewNopLogger())
	c.SampleInterval = 5 * time.Millisecond
	return c
}

func TestCanaryAdvancesOneStageAtATime(t *testing.T) {
	target := &mock.Mock{
		HealthSignalsFunc: func(context.Context, string, string, time.Duration) (cluster.HealthSignals, error) {
			return healthy(), nil
		},
	}
	plan := testPlan(StrategyCanary, canaryStages(Criteria{MaxErrorRate: 0.05}))

	final := newTestController(plan, target).Run(context.Background())

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Weight)

	// the actuation sequence is exactly the configured stages; no
	// stage is ever skipped
	var weights []int
	for _, w := range target.WeightChanges() {
		require.Equal(t, "main-0123abcd", w.Version)
		weights = append(weights, w.Weight)
	}
	assert.Equal(t, []int{10, 50, 100}, weights)
}

func TestHealthRegressionRollsBackThenFails(t *testing.T) {
	// stage 0 (10%) is healthy, stage 1 (50%) exceeds the error rate
	var mu sync.Mutex
	currentWeight := 0
	target := &mock.Mock{}
	target.SetTrafficWeightFunc = func(_ context.Context, _, _ string, weight int) error {
		mu.Lock()
		currentWeight = weight
		mu.Unlock()
		return nil
	}
	target.HealthSignalsFunc = func(context.Context, string, string, time.Duration) (cluster.HealthSignals, error) {
		mu.Lock()
		defer mu.Unlock()
		if currentWeight >= 50 {
			return cluster.HealthSignals{ErrorRate: 0.20, Samples: 1000}, nil
		}
		return healthy(), nil
	}
	plan := testPlan(StrategyCanary, canaryStages(Criteria{MaxErrorRate: 0.05}))

	final := newTestController(plan, target).Run(context.Background())

	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, 1, final.StageIndex, "failure happened evaluating stage 1")
	assert.Equal(t, 0, final.Weight, "traffic restored to the stable version")
	require.NotNil(t, final.Offending)
	assert.Equal(t, 0.20, final.Offending.ErrorRate)
	assert.Contains(t, final.Reason, "error rate")

	changes := target.WeightChanges()
	require.NotEmpty(t, changes)
	assert.Equal(t, 0, changes[len(changes)-1].Weight, "last actuation is the rollback")
}

func TestBlueGreenCutsOverAndCompletes(t *testing.T) {
	target := &mock.Mock{
		HealthSignalsFunc: func(context.Context, string, string, time.Duration) (cluster.HealthSignals, error) {
			return healthy(), nil
		},
	}
	stages := BlueGreenStages(testWindow, testWindow, Criteria{MaxErrorRate: 0.05})
	plan := testPlan(StrategyBlueGreen, stages)
	require.NoError(t, plan.Validate())

	final := newTestController(plan, target).Run(context.Background())

	assert.Equal(t, StatusCompleted, final.Status)
	var weights []int
	for _, w := range target.WeightChanges() {
		weights = append(weights, w.Weight)
	}
	assert.Equal(t, []int{0, 100}, weights)
}

func TestCancelBeforeTrafficShiftFailsWithoutRollback(t *testing.T) {
	// blue-green holds at 0% in its first stage: cancelling there must
	// not actuate a rollback, there is nothing to roll back
	target := &mock.Mock{
		HealthSignalsFunc: func(context.Context, string, string, time.Duration) (cluster.HealthSignals, error) {
			return cluster.HealthSignals{}, nil
		},
	}
	stages := BlueGreenStages(time.Hour, time.Hour, Criteria{MaxErrorRate: 0.05})
	plan := testPlan(StrategyBlueGreen, stages)
	ctrl := newTestController(plan, target)

	done := make(chan State, 1)
	go func() { done <- ctrl.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return ctrl.State().Status == StatusAdvancing && len(target.WeightChanges()) == 1
	}, time.Second, time.Millisecond)
	require.NoError(t, ctrl.Cancel("superseded by a newer change"))

	final := <-done
	assert.Equal(t, StatusFailed, final.Status)

	changes := target.WeightChanges()
	require.Len(t, changes, 1, "only the initial 0%% actuation, no rollback")
	assert.Equal(t, 0, changes[0].Weight)
}

func TestCancelAfterTrafficShiftRollsBack(t *testing.T) {
	target := &mock.Mock{
		HealthSignalsFunc: func(context.Context, string, string, time.Duration) (cluster.HealthSignals, error) {
			return healthy(), nil
		},
	}
	stages := []Stage{
		{Weight: 10, Window: time.Hour, Criteria: Criteria{MaxErrorRate: 0.05}},
		{Weight: 100, Window: time.Hour, Criteria: Criteria{MaxErrorRate: 0.05}},
	}
	ctrl := newTestController(testPlan(StrategyCanary, stages), target)

	done := make(chan State, 1)
	go func() { done <- ctrl.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return target.LastWeight("checkout-service", "main-0123abcd") == 10
	}, time.Second, time.Millisecond)
	require.NoError(t, ctrl.Cancel(""))

	final := <-done
	assert.Equal(t, StatusFailed, final.Status)
	assert.Equal(t, 0, final.Weight)
	assert.Equal(t, 0, target.LastWeight("checkout-service", "main-0123abcd"))
}

func TestPauseHoldsAndResumeRestartsSameStage(t *testing.T) {
	target := &mock.Mock{
		HealthSignalsFunc: func(context.Context, string, string, time.Duration) (cluster.HealthSignals, error) {
			return healthy(), nil
		},
	}
	stages := []Stage{
		{Weight: 10, Window: 50 * time.Millisecond, Criteria: Criteria{MaxErrorRate: 0.05}},
		{Weight: 100, Window: 20 * time.Millisecond, Criteria: Criteria{MaxErrorRate: 0.05}},
	}
	ctrl := newTestController(testPlan(StrategyCanary, stages), target)

	done := make(chan State, 1)
	go func() { done <- ctrl.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return ctrl.State().Status == StatusAdvancing
	}, time.Second, time.Millisecond)
	require.NoError(t, ctrl.Pause())
	require.Eventually(t, func() bool {
		return ctrl.State().Status == StatusPaused
	}, time.Second, time.Millisecond)

	// paused longer than the stage window: nothing may advance
	time.Sleep(100 * time.Millisecond)
	st := ctrl.State()
	assert.Equal(t, StatusPaused, st.Status)
	assert.Equal(t, 0, st.StageIndex)

	require.NoError(t, ctrl.Resume())
	final := <-done
	assert.Equal(t, StatusCompleted, final.Status)
}

func TestNoTrafficObservedIsARegression(t *testing.T) {
	target := &mock.Mock{
		HealthSignalsFunc: func(context.Context, string, string, time.Duration) (cluster.HealthSignals, error) {
			return cluster.HealthSignals{Samples: 0}, nil
		},
	}
	stages := canaryStages(Criteria{MaxErrorRate: 0.05})
	final := newTestController(testPlan(StrategyCanary, stages), target).Run(context.Background())

	assert.Equal(t, StatusFailed, final.Status)
	assert.Contains(t, final.Reason, "no traffic observed")
}

func TestOperatorActionsAfterTerminalState(t *testing.T) {
	target := &mock.Mock{
		HealthSignalsFunc: func(context.Context, string, string, time.Duration) (cluster.HealthSignals, error) {
			return healthy(), nil
		},
	}
	stages := []Stage{{Weight: 100, Window: 10 * time.Millisecond, Criteria: Criteria{MaxErrorRate: 0.05}}}
	ctrl := newTestController(testPlan(StrategyCanary, stages), target)
	ctrl.Run(context.Background())

	assert.Equal(t, ErrFinished, ctrl.Pause())
	assert.Equal(t, ErrFinished, ctrl.Cancel(""))
}
