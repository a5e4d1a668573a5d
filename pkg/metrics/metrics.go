package metrics

/*
Labels and so on for metrics used in gateshift.
*/

const (
	LabelMethod  = "method"
	LabelRoute   = "route"
	LabelService = "service"
	LabelSuccess = "success"

	// Labels for scan metrics
	LabelTool   = "tool"
	LabelStage  = "stage"
	LabelStatus = "status"

	// Labels for rollout metrics
	LabelEnvironment = "environment"
	LabelStrategy    = "strategy"
	LabelOutcome     = "outcome"
)
