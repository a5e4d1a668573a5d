package report

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gateshift/gateshift/pkg/cache"
	"github.com/gateshift/gateshift/pkg/scan"
)

// newTestReporter retries without the production pauses.
func newTestReporter(sink Sink, journal cache.Client) *Reporter {
	r := NewReporter(sink, journal, log.NewNopLogger())
	r.newBackoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), maxRetries)
	}
	return r
}

type recordingSink struct {
	mu      sync.Mutex
	batches []Batch
	failN   int // fail this many uploads before succeeding
}

func (s *recordingSink) Upload(_ context.Context, batch Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("sink unavailable")
	}
	s.batches = append(s.batches, batch)
	return nil
}

func (s *recordingSink) uploaded() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Batch{}, s.batches...)
}

func imageTarget() scan.Target {
	return scan.Target{Service: "checkout-service", Revision: "0123abcd", Digest: "sha256:d1"}
}

func someResults() []scan.Result {
	return []scan.Result{
		{TaskID: "trivy-image", Tool: "trivy", Stage: scan.StageImage, Status: scan.StatusFindings,
			Findings: scan.SeverityCounts{scan.SeverityHigh: 2}},
		{TaskID: "grype-image", Tool: "grype", Stage: scan.StageImage, Status: scan.StatusSuccess},
	}
}

func TestPublishUploadsBatch(t *testing.T) {
	sink := &recordingSink{}
	r := newTestReporter(sink, cache.NewMem())

	r.Publish(imageTarget(), someResults())
	r.Stop()

	batches := sink.uploaded()
	require.Len(t, batches, 1)
	assert.Equal(t, "checkout-service", batches[0].Service)
	assert.Equal(t, "sha256:d1", batches[0].Target)
	assert.Len(t, batches[0].Results, 2)
	assert.NotEmpty(t, batches[0].Key)
}

func TestPublishDeduplicates(t *testing.T) {
	sink := &recordingSink{}
	r := newTestReporter(sink, cache.NewMem())

	r.Publish(imageTarget(), someResults())
	r.Stop()
	// the same results for the same target are old news
	r.Publish(imageTarget(), someResults())
	r.Stop()

	assert.Len(t, sink.uploaded(), 1)
}

func TestPublishResendsChangedContent(t *testing.T) {
	sink := &recordingSink{}
	r := newTestReporter(sink, cache.NewMem())

	r.Publish(imageTarget(), someResults())
	r.Stop()

	// the advisory DB moved on; same task, new findings
	changed := someResults()
	changed[0].Findings = scan.SeverityCounts{scan.SeverityHigh: 2, scan.SeverityCritical: 1}
	r.Publish(imageTarget(), changed)
	r.Stop()

	batches := sink.uploaded()
	require.Len(t, batches, 2)
	// only the changed result needs re-publishing
	require.Len(t, batches[1].Results, 1)
	assert.Equal(t, "trivy-image", batches[1].Results[0].TaskID)
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	sink := &recordingSink{failN: 2}
	r := newTestReporter(sink, cache.NewMem())

	r.Publish(imageTarget(), someResults())
	r.Stop()

	assert.Len(t, sink.uploaded(), 1)
}

func TestPublishFailureIsReportedNotFatal(t *testing.T) {
	sink := &recordingSink{failN: 100} // more than the retry budget
	r := newTestReporter(sink, cache.NewMem())

	var mu sync.Mutex
	var failures int
	r.OnFailure = func(target scan.Target, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures++
		assert.Equal(t, "checkout-service", target.Service)
		assert.Error(t, err)
	}

	r.Publish(imageTarget(), someResults())
	r.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, failures)
	assert.Empty(t, sink.uploaded())
}

func TestPublishNothingForEmptyResults(t *testing.T) {
	sink := &recordingSink{}
	r := newTestReporter(sink, cache.NewMem())
	r.Publish(imageTarget(), nil)
	r.Stop()
	assert.Empty(t, sink.uploaded())
}

func TestPublishReturnsImmediately(t *testing.T) {
	slow := &slowSink{release: make(chan struct{})}
	r := newTestReporter(slow, cache.NewMem())

	done := make(chan struct{})
	go func() {
		r.Publish(imageTarget(), someResults())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on the sink")
	}
	close(slow.release)
	r.Stop()
}

type slowSink struct {
	release chan struct{}
}

func (s *slowSink) Upload(ctx context.Context, _ Batch) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestResultSumIgnoresTimestamps(t *testing.T) {
	a := someResults()[0]
	b := a
	b.StartedAt = time.Now()
	b.FinishedAt = b.StartedAt.Add(time.Minute)
	b.RawRef = "s3://elsewhere"
	assert.Equal(t, resultSum(a), resultSum(b))

	c := a
	c.Findings = scan.SeverityCounts{scan.SeverityCritical: 9}
	assert.NotEqual(t, resultSum(a), resultSum(c))
}
