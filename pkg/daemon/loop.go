package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/gateshift/gateshift/pkg/job"
	gsmetrics "github.com/gateshift/gateshift/pkg/metrics"
	"github.com/gateshift/gateshift/pkg/release"
)

const queueGaugeInterval = 10 * time.Second

// Loop dequeues and runs jobs, one at a time, until told to stop.
func (d *Daemon) Loop(stop chan struct{}, wg *sync.WaitGroup, logger log.Logger) {
	defer wg.Done()

	gauge := time.NewTicker(queueGaugeInterval)
	defer gauge.Stop()

	for {
		select {
		case <-stop:
			logger.Log("stopping", "true")
			return
		case <-gauge.C:
			queueLength.Set(float64(d.Jobs.Len()))
		case j := <-d.Jobs.Ready():
			queueLength.Set(float64(d.Jobs.Len()))
			d.runJob(j, logger)
		}
	}
}

func (d *Daemon) runJob(j *job.Job, logger log.Logger) {
	logger = log.With(logger, "jobID", j.ID)
	logger.Log("state", "in-progress")
	start := time.Now()
	err := j.Do(logger)
	jobDuration.With(gsmetrics.LabelSuccess, fmt.Sprint(err == nil)).Observe(time.Since(start).Seconds())
	if err != nil {
		// No pipeline for the change is business as usual, not a
		// daemon problem.
		if err == release.ErrNoPipeline {
			logger.Log("state", "skipped", "reason", err)
			return
		}
		logger.Log("state", "done", "success", "false", "err", err)
		return
	}
	logger.Log("state", "done", "success", "true")
}
