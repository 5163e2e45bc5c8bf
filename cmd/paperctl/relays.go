package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/carsonminor/nostr-research-client/internal/types"
)

type relayStatus struct {
	URL   string           `json:"url"`
	State string           `json:"state"`
	Info  *types.RelayInfo `json:"info,omitempty"`
}

var relays = &cli.Command{
	Name:  "relays",
	Usage: "connects to the relays and prints their state and information documents",
	Action: withEnv(false, func(c *cli.Context, e *env) error {
		connected := e.connect(c.Context)
		var out []relayStatus
		for _, s := range e.session.Pool().Relays() {
			out = append(out, relayStatus{URL: s.URL, State: s.State.String(), Info: s.Info})
		}
		if err := printJSON(c.App.Writer, out); err != nil {
			return err
		}
		if len(connected) == 0 {
			return fmt.Errorf("no relay could be reached")
		}
		return nil
	}),
}
