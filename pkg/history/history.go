// Package history records the events of pipeline runs and rollouts so
// an operator can answer "what happened to this service and why".
package history

import (
	"context"
	"io"

	"github.com/gateshift/gateshift/pkg/event"
)

// EventWriter is the side of the store the pipeline writes to.
type EventWriter interface {
	// LogEvent records an event in the history of a service.
	LogEvent(ctx context.Context, e event.Event) error
}

// EventReader is the side the API reads from. Events come back in
// descending timestamp order.
type EventReader interface {
	// AllEvents returns events for every service, newest first, at
	// most limit of them (0 means no limit).
	AllEvents(ctx context.Context, limit int) ([]event.Event, error)

	// EventsForService returns the history of one service, newest first.
	EventsForService(ctx context.Context, service string, limit int) ([]event.Event, error)

	// EventsForRun returns every event of one pipeline run, oldest
	// first, the order they happened in.
	EventsForRun(ctx context.Context, runID string) ([]event.Event, error)
}

// DB is a history backend.
type DB interface {
	EventWriter
	EventReader
	io.Closer
}
