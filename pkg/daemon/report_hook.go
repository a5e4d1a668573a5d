package daemon

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/gateshift/gateshift/pkg/event"
	"github.com/gateshift/gateshift/pkg/history"
	"github.com/gateshift/gateshift/pkg/scan"
)

// ReportFailureHook builds the reporter's failure callback: a batch
// that exhausted its upload retries becomes a reporting_failed event
// in the service's history. Reporting trouble never fails a run, but
// it must not be invisible either.
func ReportFailureHook(events history.EventWriter, logger log.Logger) func(scan.Target, error) {
	return func(target scan.Target, err error) {
		now := time.Now()
		e := event.Event{
			Service:   target.Service,
			Type:      event.EventReportingFailed,
			StartedAt: now,
			EndedAt:   now,
			LogLevel:  event.LogLevelWarn,
			Metadata:  &event.ReportMetadata{Target: target.Key(), Error: err.Error()},
		}
		if logErr := events.LogEvent(context.Background(), e); logErr != nil {
			logger.Log("warning", "failed to record reporting failure", "target", target.Key(), "err", logErr)
		}
	}
}
