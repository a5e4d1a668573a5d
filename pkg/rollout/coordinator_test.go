package rollout

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateshift/gateshift/pkg/cluster"
	"github.com/gateshift/gateshift/pkg/cluster/mock"
)

func newTestCoordinator(target *mock.Mock) *Coordinator {
	co := NewCoordinator(target, nil, log.NewNopLogger())
	co.SampleInterval = 5 * time.Millisecond
	return co
}

func TestCoordinatorRefusesConcurrentRollouts(t *testing.T) {
	target := &mock.Mock{
		HealthSignalsFunc: func(context.Context, string, string, time.Duration) (cluster.HealthSignals, error) {
			return healthy(), nil
		},
	}
	co := newTestCoordinator(target)
	defer co.Stop()

	slow := testPlan(StrategyCanary, []Stage{
		{Weight: 10, Window: time.Hour, Criteria: Criteria{MaxErrorRate: 0.05}},
		{Weight: 100, Window: time.Hour, Criteria: Criteria{MaxErrorRate: 0.05}},
	})
	_, err := co.Launch(context.Background(), slow, false)
	require.NoError(t, err)

	next := slow
	next.ID = "plan-2"
	next.Artifact.Tag = "main-deadbeef"
	_, err = co.Launch(context.Background(), next, false)
	assert.Equal(t, ErrRolloutActive, err)

	// a different service is unrelated and may roll out concurrently
	other := slow
	other.ID = "plan-3"
	other.Service = "payments"
	other.Artifact.Service = "payments"
	_, err = co.Launch(context.Background(), other, false)
	assert.NoError(t, err)
}

func TestCoordinatorSupersedeCancelsAndStartsNext(t *testing.T) {
	target := &mock.Mock{
		HealthSignalsFunc: func(context.Context, string, string, time.Duration) (cluster.HealthSignals, error) {
			return healthy(), nil
		},
	}
	co := newTestCoordinator(target)
	defer co.Stop()

	slow := testPlan(StrategyCanary, []Stage{
		{Weight: 10, Window: time.Hour, Criteria: Criteria{MaxErrorRate: 0.05}},
		{Weight: 100, Window: time.Hour, Criteria: Criteria{MaxErrorRate: 0.05}},
	})
	first, err := co.Launch(context.Background(), slow, false)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return target.LastWeight("checkout-service", "main-0123abcd") == 10
	}, time.Second, time.Millisecond)

	next := slow
	next.ID = "plan-2"
	next.Artifact.Tag = "main-deadbeef"
	second, err := co.Launch(context.Background(), next, true)
	require.NoError(t, err)

	// the superseded rollout rolled its traffic back before the new
	// one started
	firstState := first.State()
	assert.Equal(t, StatusFailed, firstState.Status)
	assert.Contains(t, firstState.Reason, "superseded")
	assert.Equal(t, 0, target.LastWeight("checkout-service", "main-0123abcd"))

	plan, _, err := co.Status("checkout-service", "production")
	require.NoError(t, err)
	assert.Equal(t, second.Plan().ID, plan.ID)
}

func TestCoordinatorPauseResumeCancel(t *testing.T) {
	target := &mock.Mock{
		HealthSignalsFunc: func(context.Context, string, string, time.Duration) (cluster.HealthSignals, error) {
			return healthy(), nil
		},
	}
	co := newTestCoordinator(target)
	defer co.Stop()

	plan := testPlan(StrategyCanary, []Stage{
		{Weight: 10, Window: time.Hour, Criteria: Criteria{MaxErrorRate: 0.05}},
		{Weight: 100, Window: time.Hour, Criteria: Criteria{MaxErrorRate: 0.05}},
	})
	ctrl, err := co.Launch(context.Background(), plan, false)
	require.NoError(t, err)

	assert.Equal(t, ErrNoActiveRollout, co.Pause("payments", "production"))

	require.NoError(t, co.Pause("checkout-service", "production"))
	require.Eventually(t, func() bool {
		return ctrl.State().Status == StatusPaused
	}, time.Second, time.Millisecond)

	require.NoError(t, co.Resume("checkout-service", "production"))
	require.Eventually(t, func() bool {
		return ctrl.State().Status == StatusAdvancing
	}, time.Second, time.Millisecond)

	require.NoError(t, co.Cancel("checkout-service", "production", "operator says no"))
	require.Eventually(t, func() bool {
		_, _, err := co.Status("checkout-service", "production")
		return err == ErrNoActiveRollout
	}, time.Second, time.Millisecond)
	assert.Equal(t, StatusFailed, ctrl.State().Status)
	assert.Contains(t, ctrl.State().Reason, "operator says no")
}

func TestCoordinatorListSnapshotsActiveRollouts(t *testing.T) {
	target := &mock.Mock{
		HealthSignalsFunc: func(context.Context, string, string, time.Duration) (cluster.HealthSignals, error) {
			return healthy(), nil
		},
	}
	co := newTestCoordinator(target)
	defer co.Stop()

	a := testPlan(StrategyCanary, []Stage{{Weight: 100, Window: time.Hour, Criteria: Criteria{MaxErrorRate: 0.05}}})
	b := a
	b.ID = "plan-2"
	b.Service = "payments"
	b.Artifact.Service = "payments"

	_, err := co.Launch(context.Background(), a, false)
	require.NoError(t, err)
	_, err = co.Launch(context.Background(), b, false)
	require.NoError(t, err)

	infos := co.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "checkout-service", infos[0].Plan.Service)
	assert.Equal(t, "payments", infos[1].Plan.Service)
}
