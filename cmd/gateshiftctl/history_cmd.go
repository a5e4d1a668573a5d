package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type historyOpts struct {
	*rootOpts
	service string
	limit   int
}

func newHistory(parent *rootOpts) *historyOpts {
	return &historyOpts{rootOpts: parent}
}

func (opts *historyOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the event history of a service, or of all services",
		Example: makeExample(
			"gateshiftctl history --service=checkout-service",
			"gateshiftctl history",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.service, "service", "s", "", "Service for which to show history; if left empty, history for all services is shown")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 50, "Maximum number of events to show")
	return cmd
}

func (opts *historyOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	events, err := opts.API.History(context.Background(), opts.service, opts.limit)
	if err != nil {
		return err
	}

	out := newTabwriter()
	if opts.service != "" {
		fmt.Fprintln(out, "TIME\tEVENT\tRUN")
		for _, e := range events {
			fmt.Fprintf(out, "%s\t%s\t%s\n", e.StartedAt.Format(time.RFC822), e.String(), e.RunID)
		}
	} else {
		fmt.Fprintln(out, "TIME\tSERVICE\tEVENT\tRUN")
		for _, e := range events {
			fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", e.StartedAt.Format(time.RFC822), e.Service, e.String(), e.RunID)
		}
	}
	out.Flush()
	return nil
}
