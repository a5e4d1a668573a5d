package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type listRolloutsOpts struct {
	*rootOpts
}

func newListRollouts(parent *rootOpts) *listRolloutsOpts {
	return &listRolloutsOpts{rootOpts: parent}
}

func (opts *listRolloutsOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "list-rollouts",
		Short: "List rollouts that are currently shifting traffic",
		RunE:  opts.RunE,
	}
}

func (opts *listRolloutsOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	infos, err := opts.API.ListRollouts(context.Background())
	if err != nil {
		return err
	}

	out := newTabwriter()
	fmt.Fprintln(out, "SERVICE\tENVIRONMENT\tSTRATEGY\tTAG\tSTATUS\tSTAGE\tWEIGHT")
	for _, info := range infos {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%d%%\n",
			info.Plan.Service, info.Plan.Environment, info.Plan.Strategy,
			info.Plan.Artifact.Tag, info.State.Status,
			info.State.StageIndex+1, len(info.Plan.Stages), info.State.Weight)
	}
	out.Flush()
	return nil
}
