package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gateshift/gateshift/pkg/event"
	"github.com/gateshift/gateshift/pkg/job"
)

type notifyOpts struct {
	*rootOpts
	service  string
	revision string
	branch   string
	paths    []string
	wait     bool
}

func newNotify(parent *rootOpts) *notifyOpts {
	return &notifyOpts{rootOpts: parent}
}

func (opts *notifyOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Tell the daemon about a change, queueing a pipeline run",
		Example: makeExample(
			"gateshiftctl notify --service=checkout-service --revision=0123abcd --branch=main",
			"gateshiftctl notify --service=checkout-service --revision=0123abcd --path=services/checkout/handler.go --wait",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.service, "service", "s", "", "Service the change belongs to")
	cmd.Flags().StringVarP(&opts.revision, "revision", "r", "", "Revision that changed")
	cmd.Flags().StringVarP(&opts.branch, "branch", "b", "main", "Branch the revision is on")
	cmd.Flags().StringArrayVar(&opts.paths, "path", nil, "Changed path; repeat for several")
	cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "Wait for the queued run to finish and report its outcome")
	return cmd
}

func (opts *notifyOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if opts.service == "" || opts.revision == "" {
		return newUsageError("please supply both --service and --revision")
	}

	ctx := context.Background()
	id, err := opts.API.NotifyChange(ctx, event.Change{
		Service:  opts.service,
		Revision: opts.revision,
		Branch:   opts.branch,
		Paths:    opts.paths,
	})
	if err != nil {
		return err
	}
	fmt.Println("job queued:", id)

	if !opts.wait {
		return nil
	}
	return opts.await(ctx, id)
}

func (opts *notifyOpts) await(ctx context.Context, id job.ID) error {
	for range time.Tick(time.Second) {
		status, err := opts.API.JobStatus(ctx, id)
		if err != nil {
			return err
		}
		switch status.StatusString {
		case job.StatusQueued, job.StatusRunning:
			continue
		case job.StatusFailed:
			return fmt.Errorf("run failed: %s", status.Err)
		case job.StatusSucceeded:
			run, err := opts.API.GetRun(ctx, status.RunID)
			if err != nil {
				return err
			}
			fmt.Printf("run %s finished: %s\n", run.ID, run.Outcome)
			return nil
		}
	}
	return nil
}
