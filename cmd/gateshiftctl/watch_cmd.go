package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/gateshift/gateshift/pkg/event"
	"github.com/gateshift/gateshift/pkg/http/websocket"
)

type watchOpts struct {
	*rootOpts
}

func newWatch(parent *rootOpts) *watchOpts {
	return &watchOpts{rootOpts: parent}
}

func (opts *watchOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events as they happen; interrupt to stop",
		RunE:  opts.RunE,
	}
}

func (opts *watchOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return errorWantedNoArgs
	}

	u, err := opts.API.WatchURL()
	if err != nil {
		return err
	}
	ws, err := websocket.Dial(http.DefaultClient, "gateshiftctl/"+version, opts.API.Token(), u)
	if err != nil {
		return err
	}
	defer ws.Close()

	dec := json.NewDecoder(ws)
	for {
		var e event.Event
		if err := dec.Decode(&e); err != nil {
			if websocket.IsExpectedWSCloseError(err) {
				return nil
			}
			return err
		}
		fmt.Printf("%s %s %s\n", time.Now().Format(time.RFC3339), e.Service, e.String())
	}
}
