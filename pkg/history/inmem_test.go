package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateshift/gateshift/pkg/event"
)

func TestInMemOrderingAndFilters(t *testing.T) {
	ctx := context.Background()
	db := NewInMemDB()

	log := func(service, runID, typ string) {
		require.NoError(t, db.LogEvent(ctx, event.Event{
			Service: service, RunID: runID, Type: typ,
			LogLevel: event.LogLevelInfo, Message: typ,
		}))
	}
	log("checkout-service", "run-1", event.EventRunStarted)
	log("payments", "run-2", event.EventRunStarted)
	log("checkout-service", "run-1", event.EventRunCompleted)

	all, err := db.AllEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, event.EventRunCompleted, all[0].Type, "newest first")

	forService, err := db.EventsForService(ctx, "checkout-service", 1)
	require.NoError(t, err)
	require.Len(t, forService, 1)
	assert.Equal(t, event.EventRunCompleted, forService[0].Type)

	forRun, err := db.EventsForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, forRun, 2)
	assert.Equal(t, event.EventRunStarted, forRun[0].Type, "run history is oldest first")
	assert.Less(t, forRun[0].ID, forRun[1].ID)
}
