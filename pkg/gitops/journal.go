package gitops

import (
	"context"
	"time"

	"github.com/gateshift/gateshift/pkg/cache"
)

// journalExpiry is how long a delivery record suppresses redelivery.
// Superseded runs for the same digest inside this window stay silent.
const journalExpiry = 24 * time.Hour

// JournaledDispatcher suppresses dispatches the journal has already
// seen delivered, so a run retried after a crash does not notify the
// config repository twice. Journal misses and write failures degrade
// to a duplicate dispatch, which the receiver deduplicates anyway.
type JournaledDispatcher struct {
	next    Dispatcher
	journal cache.Client
}

var _ Dispatcher = &JournaledDispatcher{}

func NewJournaledDispatcher(next Dispatcher, journal cache.Client) *JournaledDispatcher {
	return &JournaledDispatcher{next: next, journal: journal}
}

func (j *JournaledDispatcher) Dispatch(ctx context.Context, n Notification) (int, error) {
	k := cache.NewDispatchKey(n.Service, n.Digest)
	if _, err := j.journal.GetKey(k); err == nil {
		return 0, nil
	}
	attempts, err := j.next.Dispatch(ctx, n)
	if err != nil {
		return attempts, err
	}
	j.journal.SetKey(k, time.Now().Add(journalExpiry), []byte{'t'})
	return attempts, nil
}
