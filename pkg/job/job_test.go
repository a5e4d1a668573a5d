package job

import (
	"sync"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
)

func TestQueueOrdering(t *testing.T) {
	stop := make(chan struct{})
	wg := &sync.WaitGroup{}
	defer func() {
		close(stop)
		wg.Wait()
	}()

	q := NewQueue(stop, wg)
	for _, id := range []ID{"a", "b", "c"} {
		q.Enqueue(&Job{ID: id, Do: func(log.Logger) error { return nil }})
	}
	q.Sync()
	assert.Equal(t, 3, q.Len())

	var seen []ID
	q.ForEach(func(_ int, j *Job) bool {
		seen = append(seen, j.ID)
		return true
	})
	assert.Equal(t, []ID{"a", "b", "c"}, seen)

	for _, want := range []ID{"a", "b", "c"} {
		got := <-q.Ready()
		assert.Equal(t, want, got.ID)
	}
	q.Sync()
	assert.Equal(t, 0, q.Len())
}

func TestStatusCacheEvictsOldest(t *testing.T) {
	c := NewStatusCache(2)
	c.SetStatus("a", Status{StatusString: StatusQueued})
	c.SetStatus("b", Status{StatusString: StatusQueued})
	c.SetStatus("a", Status{StatusString: StatusRunning})
	c.SetStatus("c", Status{StatusString: StatusQueued})

	_, ok := c.Status("a")
	assert.False(t, ok, "oldest entry evicted")
	s, ok := c.Status("b")
	assert.True(t, ok)
	assert.Equal(t, StatusQueued, s.StatusString)
	_, ok = c.Status("c")
	assert.True(t, ok)
}
