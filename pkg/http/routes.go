package http

// Route names, shared by the server (to attach handlers) and the
// client (to construct URLs) so the two cannot drift apart.
const (
	Ping    = "Ping"
	Version = "Version"
	Notify  = "Notify"

	JobStatus = "JobStatus"

	ListRuns = "ListRuns"
	GetRun   = "GetRun"

	ListRollouts  = "ListRollouts"
	RolloutStatus = "RolloutStatus"
	PauseRollout  = "PauseRollout"
	ResumeRollout = "ResumeRollout"
	CancelRollout = "CancelRollout"

	History     = "History"
	WatchEvents = "WatchEvents"
)
