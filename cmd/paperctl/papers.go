package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/carsonminor/nostr-research-client/internal/nips"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

var publishPaper = &cli.Command{
	Name:      "publish-paper",
	Usage:     "publishes a paper (kind 30023) to the relays",
	ArgsUsage: "[file]",
	Description: `reads the paper body from the given file or from stdin.

example:
		paperctl publish-paper --title "On Relays" --abstract "..." paper.md`,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "title", Required: true},
		&cli.StringFlag{Name: "abstract", Aliases: []string{"summary"}},
		&cli.StringFlag{Name: "identifier", Aliases: []string{"d"}, Usage: "d tag; defaults to the title"},
	},
	Action: withEnv(true, func(c *cli.Context, e *env) error {
		content, err := readContent(c.Args().First())
		if err != nil {
			return err
		}
		identifier := c.String("identifier")
		if identifier == "" {
			identifier = c.String("title")
		}

		evt, err := e.factory.Paper(c.Context, c.String("title"), content, c.String("abstract"), identifier)
		if err != nil {
			return err
		}
		e.connect(c.Context)
		results := e.session.Pool().Publish(c.Context, *evt, e.relays)

		note, _ := nips.EncodeEventID(evt.ID)
		fmt.Fprintf(c.App.Writer, "%s (%s)\n", evt.ID, note)
		printResults(c.App.Writer, results)
		for _, ok := range results {
			if ok {
				return nil
			}
		}
		return fmt.Errorf("no relay accepted the paper")
	}),
}

var filterFlags = []cli.Flag{
	&cli.StringSliceFlag{Name: "author", Aliases: []string{"a"}, Usage: "only accept events from these authors (pubkey as hex)", Category: CategoryFilter},
	&cli.StringSliceFlag{Name: "id", Aliases: []string{"i"}, Usage: "only accept events with these ids (hex)", Category: CategoryFilter},
	&cli.IntSliceFlag{Name: "kind", Aliases: []string{"k"}, Usage: "only accept events with these kind numbers", Category: CategoryFilter},
	&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "takes a tag like -t e=<id>, only accept events with these tags", Category: CategoryFilter},
	&cli.Int64Flag{Name: "since", Aliases: []string{"s"}, Usage: "only accept events newer than this (unix timestamp)", Category: CategoryFilter},
	&cli.Int64Flag{Name: "until", Aliases: []string{"u"}, Usage: "only accept events older than this (unix timestamp)", Category: CategoryFilter},
	&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "only accept up to this number of events", Category: CategoryFilter},
}

func filterFromFlags(c *cli.Context) (types.Filter, error) {
	tags, err := parseTags(c.StringSlice("tag"))
	if err != nil {
		return types.Filter{}, err
	}
	f := types.Filter{
		IDs:     c.StringSlice("id"),
		Authors: c.StringSlice("author"),
		Kinds:   c.IntSlice("kind"),
		Tags:    tags,
		Limit:   c.Int("limit"),
	}
	if c.IsSet("since") {
		since := c.Int64("since")
		f.Since = &since
	}
	if c.IsSet("until") {
		until := c.Int64("until")
		f.Until = &until
	}
	if len(f.Kinds) == 0 && len(f.IDs) == 0 {
		f.Kinds = []int{types.KindPaper}
	}
	return f, nil
}

var query = &cli.Command{
	Name:  "query",
	Usage: "queries the relays and prints the merged, deduplicated events newest first",
	Description: `without --kind or --id, papers (kind 30023) are listed.

example:
		paperctl query -k 9802 -t e=<paper-id>`,
	Flags: filterFlags,
	Action: withEnv(false, func(c *cli.Context, e *env) error {
		f, err := filterFromFlags(c)
		if err != nil {
			return err
		}
		urls := e.connect(c.Context)
		if len(urls) == 0 {
			return fmt.Errorf("no relay could be reached")
		}
		enc := json.NewEncoder(c.App.Writer)
		for _, evt := range e.session.Pool().Query(c.Context, []types.Filter{f}, urls) {
			if err := enc.Encode(evt); err != nil {
				return err
			}
		}
		return nil
	}),
}

var watch = &cli.Command{
	Name:  "watch",
	Usage: "streams matching events from every relay until interrupted",
	Description: `events are printed once per relay that delivers them, so the same
event may appear more than once.`,
	Flags: filterFlags,
	Action: withEnv(false, func(c *cli.Context, e *env) error {
		f, err := filterFromFlags(c)
		if err != nil {
			return err
		}
		if len(e.connect(c.Context)) == 0 {
			return fmt.Errorf("no relay could be reached")
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
		defer stop()

		lines := make(chan string, 64)
		pool := e.session.Pool()
		subID := pool.Subscribe([]types.Filter{f}, func(relayURL string, evt types.Event) {
			select {
			case lines <- relayURL + " " + shortEvent(evt):
			default: // terminal fell behind
			}
		}, nil)
		defer pool.Unsubscribe(subID)

		for {
			select {
			case <-ctx.Done():
				if ctx.Err() == context.Canceled {
					return nil
				}
				return ctx.Err()
			case line := <-lines:
				fmt.Fprintln(c.App.Writer, line)
			}
		}
	}),
}
