package scan

import (
	"time"
)

// Stage says which phase of the pipeline a task belongs to: source
// tasks run against the checked-out tree before anything is built,
// image tasks run against the built artifact.
type Stage string

const (
	StageSource Stage = "source"
	StageImage  Stage = "image"
)

// DefaultTimeout bounds a task that does not configure its own. No
// scanner gets to hold the pipeline open indefinitely.
const DefaultTimeout = 10 * time.Minute

// Task is one configured scanner invocation. Tasks come from pipeline
// config and are immutable once loaded.
type Task struct {
	// ID identifies the task within its pipeline, e.g. "gitleaks-source".
	ID string `json:"id"`
	// Tool is the human name of the scanner, used in logs and reports.
	Tool  string `json:"tool"`
	Stage Stage  `json:"stage"`
	// Command is the shell command to run, with {{workdir}}, {{target}},
	// {{revision}} and {{output}} expanded per target. The orchestrator
	// treats it as opaque; all tool knowledge lives in the adapter.
	Command string `json:"command"`
	// Parser names the adapter that normalises this tool's report.
	// Empty means use the adapter registered under Tool.
	Parser string `json:"parser,omitempty"`
	// Required tasks can block the release; advisory tasks never do.
	Required bool `json:"required"`
	// FailClosed makes a tool crash or timeout on a required task count
	// as a blocking result instead of an advisory one.
	FailClosed bool `json:"failClosed"`
	// Threshold is the least severe finding level that counts against
	// the gate for this task.
	Threshold Severity `json:"threshold"`
	Timeout   time.Duration `json:"timeout,omitempty"`
}

// EffectiveTimeout is the task timeout, or DefaultTimeout when unset.
func (t Task) EffectiveTimeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultTimeout
}

// AdapterName is the adapter registry key for this task.
func (t Task) AdapterName() string {
	if t.Parser != "" {
		return t.Parser
	}
	return t.Tool
}
