// Package gate holds the release decision model. A decision is derived
// from scan results and never mutated; combining stage decisions is a
// pure function so the same inputs always gate the same way.
package gate

import (
	"fmt"
	"strings"
)

type Outcome string

const (
	Proceed Outcome = "proceed"
	Blocked Outcome = "blocked"
)

// Cause says why a reason blocks.
type Cause string

const (
	// CauseFindings: a required task reported findings at or above its
	// configured threshold.
	CauseFindings Cause = "findings"
	// CauseToolError: a required fail-closed task crashed or timed out,
	// so the absence of results counts against the release.
	CauseToolError Cause = "tool-error"
)

// Reason is one scan result that contributed to blocking. Reasons keep
// the order the tasks were configured in, not the order results
// happened to arrive, so a decision is reproducible.
type Reason struct {
	TaskID    string `json:"taskID"`
	Tool      string `json:"tool"`
	Stage     string `json:"stage"`
	Cause     Cause  `json:"cause"`
	Threshold string `json:"threshold,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

func (r Reason) String() string {
	return fmt.Sprintf("%s (%s, %s): %s", r.TaskID, r.Stage, r.Cause, r.Detail)
}

// Decision is the outcome of gating one scan batch, or of combining
// the source and image batches.
type Decision struct {
	Outcome Outcome  `json:"outcome"`
	Reasons []Reason `json:"reasons,omitempty"`
}

// Allowed reports whether the decision lets the release continue.
func (d Decision) Allowed() bool {
	return d.Outcome == Proceed
}

func (d Decision) String() string {
	if d.Allowed() {
		return string(Proceed)
	}
	msgs := make([]string, len(d.Reasons))
	for i, r := range d.Reasons {
		msgs[i] = r.String()
	}
	return fmt.Sprintf("%s: %s", Blocked, strings.Join(msgs, "; "))
}

// Allow is the decision that lets the release continue.
func Allow() Decision {
	return Decision{Outcome: Proceed}
}

// Block is a blocked decision carrying every contributing reason.
func Block(reasons ...Reason) Decision {
	return Decision{Outcome: Blocked, Reasons: reasons}
}

// Combine gates a release on both its stages. The release proceeds
// only if both the source and image decisions allow it; otherwise the
// combined decision carries the union of blocking reasons, source
// stage first.
func Combine(source, image Decision) Decision {
	if source.Allowed() && image.Allowed() {
		return Allow()
	}
	reasons := make([]Reason, 0, len(source.Reasons)+len(image.Reasons))
	reasons = append(reasons, source.Reasons...)
	reasons = append(reasons, image.Reasons...)
	return Block(reasons...)
}
