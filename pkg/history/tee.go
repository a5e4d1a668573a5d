package history

import (
	"context"

	"github.com/gateshift/gateshift/pkg/event"
)

type teeWriter struct {
	writers []EventWriter
}

// TeeWriter writes each event to all the given writers. The first
// error wins, but every writer still sees the event.
func TeeWriter(writers ...EventWriter) EventWriter {
	return teeWriter{writers: writers}
}

func (t teeWriter) LogEvent(ctx context.Context, e event.Event) error {
	var first error
	for _, w := range t.writers {
		if err := w.LogEvent(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
