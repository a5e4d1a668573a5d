package history

import (
	"context"
	"sync"

	"github.com/gateshift/gateshift/pkg/event"
)

// NewInMemDB is the history used in tests and single-node deployments:
// everything in memory, gone on restart.
func NewInMemDB() DB {
	return &inmem{}
}

type inmem struct {
	mtx    sync.Mutex
	events []event.Event
	nextID event.EventID
}

func (db *inmem) LogEvent(_ context.Context, e event.Event) error {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	db.nextID++
	e.ID = db.nextID
	db.events = append(db.events, e)
	return nil
}

func (db *inmem) AllEvents(_ context.Context, limit int) ([]event.Event, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	return db.filter(limit, func(event.Event) bool { return true }, true), nil
}

func (db *inmem) EventsForService(_ context.Context, service string, limit int) ([]event.Event, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	return db.filter(limit, func(e event.Event) bool { return e.Service == service }, true), nil
}

func (db *inmem) EventsForRun(_ context.Context, runID string) ([]event.Event, error) {
	db.mtx.Lock()
	defer db.mtx.Unlock()
	return db.filter(0, func(e event.Event) bool { return e.RunID == runID }, false), nil
}

func (db *inmem) Close() error { return nil }

// filter walks stored events, newest first when reversed, collecting
// those that match until the limit is reached.
func (db *inmem) filter(limit int, match func(event.Event) bool, newestFirst bool) []event.Event {
	var out []event.Event
	if newestFirst {
		for i := len(db.events) - 1; i >= 0; i-- {
			if match(db.events[i]) {
				out = append(out, db.events[i])
				if limit > 0 && len(out) == limit {
					break
				}
			}
		}
		return out
	}
	for _, e := range db.events {
		if match(e) {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}
