// Package config holds the pipeline definition: which services are
// gated, by which scan tasks, and how their rollouts progress. The
// definition is loaded once at daemon start and never mutated at
// runtime; numbers like thresholds and windows live here, not in
// code.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"

	"github.com/gateshift/gateshift/pkg/artifact"
	"github.com/gateshift/gateshift/pkg/policy"
	"github.com/gateshift/gateshift/pkg/rollout"
	"github.com/gateshift/gateshift/pkg/scan"
)

const SpecVersion = "v1"

// Duration is time.Duration that reads from YAML/JSON as a string
// like "5m" or "500ms".
type Duration time.Duration

func (d Duration) StdDuration() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "parsing duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// TaskSpec configures one scanner invocation.
type TaskSpec struct {
	ID         string        `json:"id"`
	Tool       string        `json:"tool"`
	Parser     string        `json:"parser,omitempty"`
	Command    string        `json:"command"`
	Required   bool          `json:"required"`
	FailClosed bool          `json:"failClosed,omitempty"`
	Threshold  scan.Severity `json:"threshold"`
	Timeout    Duration      `json:"timeout,omitempty"`
}

func (t TaskSpec) Task(stage scan.Stage) scan.Task {
	return scan.Task{
		ID:         t.ID,
		Tool:       t.Tool,
		Parser:     t.Parser,
		Stage:      stage,
		Command:    t.Command,
		Required:   t.Required,
		FailClosed: t.FailClosed,
		Threshold:  t.Threshold,
		Timeout:    t.Timeout.StdDuration(),
	}
}

// CriteriaSpec is rollout.Criteria in config form.
type CriteriaSpec struct {
	MaxErrorRate  float64  `json:"maxErrorRate"`
	MaxLatencyP99 Duration `json:"maxLatencyP99,omitempty"`
	AllowMissing  bool     `json:"allowMissing,omitempty"`
}

func (c CriteriaSpec) Criteria() rollout.Criteria {
	return rollout.Criteria{
		MaxErrorRate:  c.MaxErrorRate,
		MaxLatencyP99: c.MaxLatencyP99.StdDuration(),
		AllowMissing:  c.AllowMissing,
	}
}

// StageSpec is one traffic increment of a canary rollout.
type StageSpec struct {
	Weight   int          `json:"weight"`
	Window   Duration     `json:"window"`
	Criteria CriteriaSpec `json:"criteria"`
}

// RolloutSpec configures how an approved artifact reaches the
// environment. Canary plans list their stages; blue-green plans give
// the two windows and let the controller derive its degenerate
// two-stage shape.
type RolloutSpec struct {
	Environment string           `json:"environment"`
	Strategy    rollout.Strategy `json:"strategy"`
	Stages      []StageSpec      `json:"stages,omitempty"`
	// Blue-green only:
	VerifyWindow  Duration     `json:"verifyWindow,omitempty"`
	ConfirmWindow Duration     `json:"confirmWindow,omitempty"`
	Criteria      CriteriaSpec `json:"criteria,omitempty"`
}

// PlanStages expands the spec into controller stages.
func (r RolloutSpec) PlanStages() []rollout.Stage {
	if r.Strategy == rollout.StrategyBlueGreen && len(r.Stages) == 0 {
		return rollout.BlueGreenStages(r.VerifyWindow.StdDuration(), r.ConfirmWindow.StdDuration(), r.Criteria.Criteria())
	}
	stages := make([]rollout.Stage, len(r.Stages))
	for i, s := range r.Stages {
		stages[i] = rollout.Stage{
			Weight:   s.Weight,
			Window:   s.Window.StdDuration(),
			Criteria: s.Criteria.Criteria(),
		}
	}
	return stages
}

// BuildSpec is the opaque build command for a service.
type BuildSpec struct {
	Command string   `json:"command"`
	Timeout Duration `json:"timeout,omitempty"`
}

// PipelineSpec is the whole gated path for one service.
type PipelineSpec struct {
	Service string `json:"service"`
	// Paths selects this pipeline by changed path; policy patterns
	// (glob:, regexp:). Empty means every change to the service applies.
	Paths       []string    `json:"paths,omitempty"`
	Build       BuildSpec   `json:"build"`
	SourceTasks []TaskSpec  `json:"sourceTasks"`
	ImageTasks  []TaskSpec  `json:"imageTasks,omitempty"`
	Rollout     RolloutSpec `json:"rollout"`
}

// Matches reports whether a change with the given paths selects this
// pipeline.
func (p PipelineSpec) Matches(changedPaths []string) bool {
	if len(p.Paths) == 0 {
		return true
	}
	for _, pattern := range p.Paths {
		if policy.MatchesAny(policy.NewPattern(pattern), changedPaths) {
			return true
		}
	}
	return false
}

// ScanTasks resolves the task specs for one stage.
func (p PipelineSpec) ScanTasks(stage scan.Stage) []scan.Task {
	var specs []TaskSpec
	switch stage {
	case scan.StageSource:
		specs = p.SourceTasks
	case scan.StageImage:
		specs = p.ImageTasks
	}
	tasks := make([]scan.Task, len(specs))
	for i, s := range specs {
		tasks[i] = s.Task(stage)
	}
	return tasks
}

// Plan instantiates the rollout plan for a built artifact.
func (p PipelineSpec) Plan(id, runID string, a artifact.Artifact) rollout.Plan {
	return rollout.Plan{
		ID:          id,
		RunID:       runID,
		Service:     p.Service,
		Environment: p.Rollout.Environment,
		Strategy:    p.Rollout.Strategy,
		Artifact:    a,
		Stages:      p.Rollout.PlanStages(),
	}
}

// Spec is the top-level pipeline definition document.
type Spec struct {
	Version   string         `json:"version"`
	Pipelines []PipelineSpec `json:"pipelines"`
}

// PipelineFor selects the pipeline for a change: first pipeline whose
// service matches and whose path patterns match any changed path.
func (s Spec) PipelineFor(service string, changedPaths []string) (PipelineSpec, bool) {
	for _, p := range s.Pipelines {
		if p.Service == service && p.Matches(changedPaths) {
			return p, true
		}
	}
	return PipelineSpec{}, false
}

// Load reads and validates a pipeline definition file.
func Load(path string) (Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, errors.Wrap(err, "reading pipeline definition")
	}
	return Parse(b)
}

// Parse decodes and validates a pipeline definition.
func Parse(b []byte) (Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Spec{}, errors.Wrap(err, "parsing pipeline definition")
	}
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

func (s Spec) Validate() error {
	if s.Version != SpecVersion {
		return errors.Errorf("unsupported pipeline definition version %q (want %q)", s.Version, SpecVersion)
	}
	if len(s.Pipelines) == 0 {
		return errors.New("pipeline definition has no pipelines")
	}
	seen := map[string]bool{}
	for i, p := range s.Pipelines {
		if err := p.validate(); err != nil {
			return errors.Wrapf(err, "pipeline %d (%s)", i, p.Service)
		}
		key := p.Service + "|" + p.Rollout.Environment
		if seen[key] {
			return errors.Errorf("pipeline %d: duplicate service %q for environment %q", i, p.Service, p.Rollout.Environment)
		}
		seen[key] = true
	}
	return nil
}

func (p PipelineSpec) validate() error {
	if p.Service == "" {
		return errors.New("missing service")
	}
	if p.Build.Command == "" {
		return errors.New("missing build command")
	}
	ids := map[string]bool{}
	for _, t := range append(append([]TaskSpec{}, p.SourceTasks...), p.ImageTasks...) {
		if t.ID == "" || t.Tool == "" || t.Command == "" {
			return errors.Errorf("task %q needs id, tool and command", t.ID)
		}
		if !t.Threshold.Valid() {
			return errors.Errorf("task %q: invalid severity threshold %q", t.ID, t.Threshold)
		}
		if ids[t.ID] {
			return errors.Errorf("duplicate task id %q", t.ID)
		}
		ids[t.ID] = true
	}
	if p.Rollout.Environment == "" {
		return errors.New("rollout needs an environment")
	}
	// validate the rollout shape with a placeholder artifact; the
	// structural rules do not depend on what is being rolled out
	plan := p.Plan("validate", "", artifact.Artifact{Service: p.Service, Tag: "validate"})
	if err := plan.Validate(); err != nil {
		return err
	}
	return nil
}
