package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type rolloutOpts struct {
	*rootOpts
	service     string
	environment string
	reason      string
}

func newRollout(parent *rootOpts) *rolloutOpts {
	return &rolloutOpts{rootOpts: parent}
}

func (opts *rolloutOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "Inspect or steer the active rollout of a service",
		Example: makeExample(
			"gateshiftctl rollout status --service=checkout-service --environment=production",
			"gateshiftctl rollout pause --service=checkout-service --environment=production",
			"gateshiftctl rollout cancel --service=checkout-service --environment=production --reason=\"bad deploy\"",
		),
	}
	cmd.PersistentFlags().StringVarP(&opts.service, "service", "s", "", "Service whose rollout to operate on")
	cmd.PersistentFlags().StringVarP(&opts.environment, "environment", "e", "", "Environment the rollout is in")

	status := &cobra.Command{Use: "status", Short: "Show the rollout's plan and live state", RunE: opts.status}
	pause := &cobra.Command{Use: "pause", Short: "Hold the rollout at its current traffic weight", RunE: opts.pause}
	resume := &cobra.Command{Use: "resume", Short: "Let a paused rollout continue; the stage window restarts", RunE: opts.resume}
	cancel := &cobra.Command{Use: "cancel", Short: "Abort the rollout, rolling traffic back if any was shifted", RunE: opts.cancel}
	cancel.Flags().StringVar(&opts.reason, "reason", "", "Why the rollout is being cancelled")

	cmd.AddCommand(status, pause, resume, cancel)
	return cmd
}

func (opts *rolloutOpts) checkArgs(args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}
	if opts.service == "" || opts.environment == "" {
		return newUsageError("please supply both --service and --environment")
	}
	return nil
}

func (opts *rolloutOpts) status(_ *cobra.Command, args []string) error {
	if err := opts.checkArgs(args); err != nil {
		return err
	}
	info, err := opts.API.RolloutStatus(context.Background(), opts.service, opts.environment)
	if err != nil {
		return err
	}

	fmt.Printf("Service:     %s\n", info.Plan.Service)
	fmt.Printf("Environment: %s\n", info.Plan.Environment)
	fmt.Printf("Strategy:    %s\n", info.Plan.Strategy)
	fmt.Printf("Artifact:    %s\n", info.Plan.Artifact.Ref())
	fmt.Printf("Status:      %s\n", info.State.Status)
	fmt.Printf("Stage:       %d of %d (weight %d%%)\n", info.State.StageIndex+1, len(info.Plan.Stages), info.State.Weight)
	fmt.Printf("Started:     %s\n", info.State.StartedAt.Format(time.RFC822))
	if info.State.Reason != "" {
		fmt.Printf("Reason:      %s\n", info.State.Reason)
	}
	return nil
}

func (opts *rolloutOpts) pause(_ *cobra.Command, args []string) error {
	if err := opts.checkArgs(args); err != nil {
		return err
	}
	if err := opts.API.PauseRollout(context.Background(), opts.service, opts.environment); err != nil {
		return err
	}
	fmt.Println("rollout paused")
	return nil
}

func (opts *rolloutOpts) resume(_ *cobra.Command, args []string) error {
	if err := opts.checkArgs(args); err != nil {
		return err
	}
	if err := opts.API.ResumeRollout(context.Background(), opts.service, opts.environment); err != nil {
		return err
	}
	fmt.Println("rollout resumed")
	return nil
}

func (opts *rolloutOpts) cancel(_ *cobra.Command, args []string) error {
	if err := opts.checkArgs(args); err != nil {
		return err
	}
	if err := opts.API.CancelRollout(context.Background(), opts.service, opts.environment, opts.reason); err != nil {
		return err
	}
	fmt.Println("rollout cancelled")
	return nil
}
