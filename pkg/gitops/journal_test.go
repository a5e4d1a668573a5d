package gitops

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateshift/gateshift/pkg/cache"
)

type countingDispatcher struct {
	calls int
	err   error
}

func (c *countingDispatcher) Dispatch(context.Context, Notification) (int, error) {
	c.calls++
	return 1, c.err
}

func TestJournaledDispatchSuppressesRedelivery(t *testing.T) {
	next := &countingDispatcher{}
	d := NewJournaledDispatcher(next, cache.NewMem())
	n := Notification{Service: "checkout-service", Digest: "sha256:d1"}

	_, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)

	// a different digest is a different delivery
	_, err = d.Dispatch(context.Background(), Notification{Service: "checkout-service", Digest: "sha256:d2"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestJournaledDispatchRecordsOnlySuccesses(t *testing.T) {
	next := &countingDispatcher{err: errors.New("endpoint down")}
	d := NewJournaledDispatcher(next, cache.NewMem())
	n := Notification{Service: "checkout-service", Digest: "sha256:d1"}

	_, err := d.Dispatch(context.Background(), n)
	assert.Error(t, err)

	next.err = nil
	_, err = d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}
