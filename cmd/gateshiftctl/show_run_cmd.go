package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gateshift/gateshift/pkg/scan"
)

type showRunOpts struct {
	*rootOpts
	run string
}

func newShowRun(parent *rootOpts) *showRunOpts {
	return &showRunOpts{rootOpts: parent}
}

func (opts *showRunOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show-run",
		Short: "Show one pipeline run in detail, scan results and all",
		Example: makeExample(
			"gateshiftctl show-run --run=4e6f2c1a-...",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.run, "run", "r", "", "ID of the run to show")
	return cmd
}

func (opts *showRunOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if opts.run == "" {
		return newUsageError("please supply --run")
	}

	run, err := opts.API.GetRun(context.Background(), opts.run)
	if err != nil {
		return err
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Service:  %s\n", run.Change.Service)
	fmt.Printf("Revision: %s (%s)\n", run.Change.Revision, run.Change.Branch)
	fmt.Printf("Started:  %s\n", run.StartedAt.Format(time.RFC822))
	if run.Finished() {
		fmt.Printf("Outcome:  %s (took %s)\n", run.Outcome, run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	} else {
		fmt.Printf("Outcome:  in progress\n")
	}
	if run.Artifact != nil {
		fmt.Printf("Artifact: %s (%s, promoted=%v)\n", run.Artifact.Ref(), run.Artifact.Digest, run.Artifact.Promoted)
	}
	if run.Error != "" {
		fmt.Printf("Error:    %s\n", run.Error)
	}

	printResults("Source scans", run.SourceResults)
	printResults("Image scans", run.ImageResults)

	if run.Decision != nil && !run.Decision.Allowed() {
		fmt.Println("\nBlocked because:")
		for _, reason := range run.Decision.Reasons {
			fmt.Printf("  - %s\n", reason)
		}
	}
	return nil
}

func printResults(heading string, results []scan.Result) {
	if len(results) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", heading)
	out := newTabwriter()
	fmt.Fprintln(out, "  TASK\tTOOL\tSTATUS\tFINDINGS")
	for _, r := range results {
		findings := ""
		switch r.Status {
		case scan.StatusFindings:
			findings = r.Findings.String()
		case scan.StatusToolError:
			findings = r.Err
		}
		fmt.Fprintf(out, "  %s\t%s\t%s\t%s\n", r.TaskID, r.Tool, r.Status, findings)
	}
	out.Flush()
}
