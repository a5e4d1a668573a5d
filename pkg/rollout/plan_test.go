package rollout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gateshift/gateshift/pkg/cluster"
)

func TestPlanValidate(t *testing.T) {
	valid := testPlan(StrategyCanary, canaryStages(Criteria{MaxErrorRate: 0.05}))
	assert.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*Plan){
		"no service":          func(p *Plan) { p.Service = "" },
		"no stages":           func(p *Plan) { p.Stages = nil },
		"unknown strategy":    func(p *Plan) { p.Strategy = "thousand-island" },
		"weight over 100":     func(p *Plan) { p.Stages[2].Weight = 150 },
		"weights not rising":  func(p *Plan) { p.Stages[1].Weight = 10 },
		"zero window":         func(p *Plan) { p.Stages[0].Window = 0 },
		"ends short of 100":   func(p *Plan) { p.Stages[2].Weight = 90 },
		"negative weight":     func(p *Plan) { p.Stages[0].Weight = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			p := testPlan(StrategyCanary, canaryStages(Criteria{MaxErrorRate: 0.05}))
			mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestCriteriaCheck(t *testing.T) {
	c := Criteria{MaxErrorRate: 0.05, MaxLatencyP99: 500 * time.Millisecond}

	assert.NoError(t, c.Check(cluster.HealthSignals{ErrorRate: 0.01, LatencyP99: 100 * time.Millisecond, Samples: 100}))
	assert.Error(t, c.Check(cluster.HealthSignals{ErrorRate: 0.10, Samples: 100}), "error rate above threshold")
	assert.Error(t, c.Check(cluster.HealthSignals{LatencyP99: time.Second, Samples: 100}), "latency above threshold")
	assert.Error(t, c.Check(cluster.HealthSignals{}), "empty window blocks by default")

	c.AllowMissing = true
	assert.NoError(t, c.Check(cluster.HealthSignals{}), "empty window allowed when configured")

	// latency unbounded when not configured
	open := Criteria{MaxErrorRate: 0.05}
	assert.NoError(t, open.Check(cluster.HealthSignals{LatencyP99: time.Hour, Samples: 1}))
}

func TestBlueGreenStagesShape(t *testing.T) {
	stages := BlueGreenStages(5*time.Minute, time.Minute, Criteria{MaxErrorRate: 0.05})
	assert.Len(t, stages, 2)
	assert.Equal(t, 0, stages[0].Weight)
	assert.Equal(t, 100, stages[1].Weight)
	assert.True(t, stages[0].Criteria.AllowMissing, "shadow stage sees no traffic")
	assert.False(t, stages[1].Criteria.AllowMissing)
}
