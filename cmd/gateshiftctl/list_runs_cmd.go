package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type listRunsOpts struct {
	*rootOpts
	limit int
}

func newListRuns(parent *rootOpts) *listRunsOpts {
	return &listRunsOpts{rootOpts: parent}
}

func (opts *listRunsOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-runs",
		Short: "List recent pipeline runs, newest first",
		Example: makeExample(
			"gateshiftctl list-runs",
			"gateshiftctl list-runs --limit=5",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Maximum number of runs to show; 0 shows all the daemon remembers")
	return cmd
}

func (opts *listRunsOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	runs, err := opts.API.ListRuns(context.Background(), opts.limit)
	if err != nil {
		return err
	}

	out := newTabwriter()
	fmt.Fprintln(out, "RUN\tSERVICE\tREVISION\tOUTCOME\tSTARTED\tTOOK")
	for _, r := range runs {
		outcome := string(r.Outcome)
		took := ""
		if r.Finished() {
			took = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		} else {
			outcome = "in progress"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Change.Service, shortRevision(r.Change.Revision), outcome,
			r.StartedAt.Format(time.RFC822), took)
	}
	out.Flush()
	return nil
}

func shortRevision(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
