package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateshift/gateshift/pkg/artifact"
	"github.com/gateshift/gateshift/pkg/rollout"
	"github.com/gateshift/gateshift/pkg/scan"
)

func TestLoadPipelineDefinition(t *testing.T) {
	spec, err := Load("testdata/pipelines.yaml")
	require.NoError(t, err)
	require.Len(t, spec.Pipelines, 2)

	checkout := spec.Pipelines[0]
	assert.Equal(t, "checkout-service", checkout.Service)

	source := checkout.ScanTasks(scan.StageSource)
	require.Len(t, source, 4)
	gitleaks := source[0]
	assert.Equal(t, "gitleaks-source", gitleaks.ID)
	assert.True(t, gitleaks.Required)
	assert.True(t, gitleaks.FailClosed)
	assert.Equal(t, scan.SeverityHigh, gitleaks.Threshold)
	assert.Equal(t, 5*time.Minute, gitleaks.Timeout)
	assert.Equal(t, scan.StageSource, gitleaks.Stage)

	licenses := source[3]
	assert.False(t, licenses.Required)
	assert.Equal(t, "findings", licenses.AdapterName(), "parser overrides tool for adapter lookup")

	image := checkout.ScanTasks(scan.StageImage)
	require.Len(t, image, 2)
	assert.Equal(t, scan.StageImage, image[0].Stage)

	plan := checkout.Plan("plan-1", "run-1", artifact.Artifact{Service: "checkout-service", Tag: "main-0123abcd"})
	require.NoError(t, plan.Validate())
	assert.Equal(t, rollout.StrategyCanary, plan.Strategy)
	require.Len(t, plan.Stages, 3)
	assert.Equal(t, 10, plan.Stages[0].Weight)
	assert.Equal(t, 5*time.Minute, plan.Stages[0].Window)
	assert.Equal(t, 0.05, plan.Stages[0].Criteria.MaxErrorRate)
	assert.Equal(t, 500*time.Millisecond, plan.Stages[0].Criteria.MaxLatencyP99)
}

func TestBlueGreenSpecExpandsToTwoStages(t *testing.T) {
	spec, err := Load("testdata/pipelines.yaml")
	require.NoError(t, err)

	billing := spec.Pipelines[1]
	plan := billing.Plan("plan-1", "run-1", artifact.Artifact{Service: "billing-service", Tag: "main-0123abcd"})
	require.NoError(t, plan.Validate())
	require.Len(t, plan.Stages, 2)
	assert.Equal(t, 0, plan.Stages[0].Weight)
	assert.Equal(t, 10*time.Minute, plan.Stages[0].Window)
	assert.True(t, plan.Stages[0].Criteria.AllowMissing)
	assert.Equal(t, 100, plan.Stages[1].Weight)
	assert.Equal(t, 5*time.Minute, plan.Stages[1].Window)
}

func TestPipelineSelectionByChangedPaths(t *testing.T) {
	spec, err := Load("testdata/pipelines.yaml")
	require.NoError(t, err)

	_, ok := spec.PipelineFor("checkout-service", []string{"services/checkout/handler.go"})
	assert.True(t, ok)

	_, ok = spec.PipelineFor("checkout-service", []string{"shared/payments-sdk/client.go"})
	assert.True(t, ok, "shared path patterns select the pipeline too")

	_, ok = spec.PipelineFor("checkout-service", []string{"docs/README.md"})
	assert.False(t, ok, "unrelated paths select nothing")

	_, ok = spec.PipelineFor("billing-service", []string{"anything/at/all.go"})
	assert.True(t, ok, "no path patterns means every change applies")

	_, ok = spec.PipelineFor("mystery-service", []string{"services/checkout/handler.go"})
	assert.False(t, ok)
}

func TestParseRejectsBadDefinitions(t *testing.T) {
	base := `
version: v1
pipelines:
  - service: svc
    build: {command: "make image"}
    sourceTasks:
      - {id: t1, tool: gitleaks, command: "gitleaks", required: true, threshold: high}
    rollout:
      environment: production
      strategy: canary
      stages:
        - weight: 100
          window: 5m
          criteria: {maxErrorRate: 0.05}
`
	_, err := Parse([]byte(base))
	require.NoError(t, err)

	for name, doc := range map[string]string{
		"wrong version":  `{version: v2, pipelines: [{service: s}]}`,
		"no pipelines":   `{version: v1, pipelines: []}`,
		"bad threshold":  `{version: v1, pipelines: [{service: s, build: {command: c}, sourceTasks: [{id: t, tool: x, command: c, threshold: enormous}], rollout: {environment: e, strategy: canary, stages: [{weight: 100, window: 5m}]}}]}`,
		"no build":       `{version: v1, pipelines: [{service: s, sourceTasks: [{id: t, tool: x, command: c, threshold: high}], rollout: {environment: e, strategy: canary, stages: [{weight: 100, window: 5m}]}}]}`,
		"short of 100":   `{version: v1, pipelines: [{service: s, build: {command: c}, sourceTasks: [{id: t, tool: x, command: c, threshold: high}], rollout: {environment: e, strategy: canary, stages: [{weight: 50, window: 5m}]}}]}`,
		"duplicate task": `{version: v1, pipelines: [{service: s, build: {command: c}, sourceTasks: [{id: t, tool: x, command: c, threshold: high}, {id: t, tool: y, command: c, threshold: high}], rollout: {environment: e, strategy: canary, stages: [{weight: 100, window: 5m}]}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}
