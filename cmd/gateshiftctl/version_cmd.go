package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var version = "unversioned"

type versionOpts struct {
	*rootOpts
}

func newVersion(parent *rootOpts) *versionOpts {
	return &versionOpts{rootOpts: parent}
}

func (opts *versionOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Output the version of gateshiftctl and, if reachable, gateshiftd",
		RunE:  opts.RunE,
	}
}

func (opts *versionOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	fmt.Println("client:", version)
	v, err := opts.API.Version(context.Background())
	if err != nil {
		fmt.Println("daemon: unreachable:", err)
		return nil
	}
	fmt.Println("daemon:", v)
	return nil
}
