package report

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/kit/log"
	"github.com/opencontainers/go-digest"

	"github.com/gateshift/gateshift/pkg/cache"
	gsmetrics "github.com/gateshift/gateshift/pkg/metrics"
	"github.com/gateshift/gateshift/pkg/scan"
)

const (
	// how long one publish attempt chain may take, all retries included
	publishTimeout = 2 * time.Minute
	// journal entries outlive any plausible rescan of the same content
	journalRetention = 14 * 24 * time.Hour
	maxRetries       = 3
)

// Reporter publishes scan results to the vulnerability sink without
// ever getting in the way of a release: Publish returns immediately,
// uploads retry with bounded backoff, and a batch that has already
// been published for the same content is not sent again.
type Reporter struct {
	sink    Sink
	journal cache.Client
	logger  log.Logger

	// OnFailure, when set, is told about batches that exhausted their
	// retries. The daemon uses it to record an event; nothing else
	// ever comes of it.
	OnFailure func(target scan.Target, err error)

	newBackoff func() backoff.BackOff
	wait       sync.WaitGroup
}

func NewReporter(sink Sink, journal cache.Client, logger log.Logger) *Reporter {
	return &Reporter{
		sink:    sink,
		journal: journal,
		logger:  logger,
		newBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
		},
	}
}

// Publish queues the batch for upload and returns. The upload runs on
// its own context: a run being superseded moments later must not tear
// down reporting that is already in flight.
func (r *Reporter) Publish(target scan.Target, results []scan.Result) {
	if len(results) == 0 {
		return
	}
	r.wait.Add(1)
	go func() {
		defer r.wait.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := r.publish(ctx, target, results); err != nil {
			r.logger.Log("service", target.Service, "target", target.Key(), "err", err)
			if r.OnFailure != nil {
				r.OnFailure(target, err)
			}
		}
	}()
}

// Stop waits for in-flight uploads. Called on daemon shutdown.
func (r *Reporter) Stop() {
	r.wait.Wait()
}

func (r *Reporter) publish(ctx context.Context, target scan.Target, results []scan.Result) error {
	unsent, sums := r.filterSent(target, results)
	if len(unsent) == 0 {
		r.logger.Log("service", target.Service, "target", target.Key(), "skipped", "already published")
		return nil
	}

	batch := Batch{
		Service: target.Service,
		Target:  target.Key(),
		Key:     batchKey(target, sums),
		Results: unsent,
		SentAt:  time.Now(),
	}

	bo := backoff.WithContext(r.newBackoff(), ctx)
	attempt := func() error {
		return r.sink.Upload(ctx, batch)
	}
	begin := time.Now()
	err := backoff.Retry(attempt, bo)
	publishDuration.With(gsmetrics.LabelSuccess, success(err)).Observe(time.Since(begin).Seconds())
	if err != nil {
		return err
	}

	expiry := time.Now().Add(journalRetention)
	for i, res := range unsent {
		k := cache.NewPublishKey(res.TaskID, target.Key(), sums[i])
		if jerr := r.journal.SetKey(k, expiry, []byte(batch.Key)); jerr != nil {
			// journal unavailability only risks a duplicate later
			r.logger.Log("warning", "publish journal write failed", "err", jerr)
		}
	}
	r.logger.Log("service", target.Service, "target", target.Key(), "published", len(unsent), "took", time.Since(begin))
	return nil
}

// filterSent drops results whose content has already been published
// for this target, and returns the content sum for each survivor.
func (r *Reporter) filterSent(target scan.Target, results []scan.Result) ([]scan.Result, []string) {
	var unsent []scan.Result
	var sums []string
	for _, res := range results {
		sum := resultSum(res)
		k := cache.NewPublishKey(res.TaskID, target.Key(), sum)
		if _, err := r.journal.GetKey(k); err == nil {
			continue
		} else if err != cache.ErrNotCached {
			// can't tell; publish rather than drop
			r.logger.Log("warning", "publish journal read failed", "err", err)
		}
		unsent = append(unsent, res)
		sums = append(sums, sum)
	}
	return unsent, sums
}

// resultSum fingerprints what the sink would receive for one result.
// Timestamps are zeroed first: rerunning a scanner that finds the
// same things again is not news.
func resultSum(res scan.Result) string {
	res.StartedAt = time.Time{}
	res.FinishedAt = time.Time{}
	res.RawRef = ""
	b, _ := json.Marshal(res)
	return digest.FromBytes(b).Encoded()[:16]
}

func batchKey(target scan.Target, sums []string) string {
	joined := target.Service + "|" + target.Key()
	for _, s := range sums {
		joined += "|" + s
	}
	return digest.FromString(joined).Encoded()[:32]
}

func success(err error) string {
	if err != nil {
		return "false"
	}
	return "true"
}
