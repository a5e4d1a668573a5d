package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	transport "github.com/gateshift/gateshift/pkg/http"
	"github.com/gateshift/gateshift/pkg/http/client"
)

const (
	EnvVariableURL   = "GATESHIFT_URL"
	EnvVariableToken = "GATESHIFT_SERVICE_TOKEN"
)

type rootOpts struct {
	URL   string
	Token string
	API   *client.Client
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
gateshiftctl talks to gateshiftd, the security-gated release daemon.

Workflow:
  gateshiftctl notify --service=checkout-service --revision=0123abcd --branch=main  # Kick off a pipeline run.
  gateshiftctl list-runs                                                            # How did recent runs end?
  gateshiftctl rollout status --service=checkout-service --environment=production   # Where is traffic right now?
  gateshiftctl watch                                                                # Follow events live.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "gateshiftctl",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.URL, "url", "u", "http://localhost:3030",
		fmt.Sprintf("base URL of the gateshiftd API server; you can also set the environment variable %s", EnvVariableURL))
	cmd.PersistentFlags().StringVarP(&opts.Token, "token", "t", "",
		fmt.Sprintf("service token; you can also set the environment variable %s", EnvVariableToken))

	cmd.AddCommand(
		newVersion(opts).Command(),
		newNotify(opts).Command(),
		newListRuns(opts).Command(),
		newShowRun(opts).Command(),
		newListRollouts(opts).Command(),
		newRollout(opts).Command(),
		newHistory(opts).Command(),
		newWatch(opts).Command(),
	)

	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	url := os.Getenv(EnvVariableURL)
	if cmd.Flags().Changed("url") || url == "" {
		url = opts.URL
	}
	token := os.Getenv(EnvVariableToken)
	if cmd.Flags().Changed("token") || token == "" {
		token = opts.Token
	}

	opts.API = client.New(http.DefaultClient, transport.NewAPIRouter(), url, client.Token(token))
	return nil
}
