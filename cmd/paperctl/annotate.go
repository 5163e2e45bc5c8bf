package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/carsonminor/nostr-research-client/internal/events"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

// publishEvent sends evt to the connected relays and prints the outcome.
func publishEvent(c *cli.Context, e *env, evt *types.Event) error {
	e.connect(c.Context)
	results := e.session.Pool().Publish(c.Context, *evt, e.relays)
	fmt.Fprintln(c.App.Writer, evt.ID)
	printResults(c.App.Writer, results)
	for _, ok := range results {
		if ok {
			return nil
		}
	}
	return fmt.Errorf("no relay accepted event %s", evt.ID)
}

var highlight = &cli.Command{
	Name:      "highlight",
	Usage:     "highlights a passage of a paper (kind 9802)",
	ArgsUsage: "<paper-id>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "text", Required: true, Usage: "the highlighted passage"},
		&cli.StringFlag{Name: "context", Usage: "surrounding text"},
		&cli.StringFlag{Name: "range", Usage: "character offsets as start:end"},
	},
	Action: withEnv(true, func(c *cli.Context, e *env) error {
		paperID, err := eventArg(c, "paper-id")
		if err != nil {
			return err
		}
		var r *events.Range
		if c.IsSet("range") {
			parsed, err := events.ParseRange(c.String("range"))
			if err != nil {
				return err
			}
			r = &parsed
		}
		evt, err := e.factory.Highlight(c.Context, c.String("text"), paperID, c.String("context"), r)
		if err != nil {
			return err
		}
		return publishEvent(c, e, evt)
	}),
}

var comment = &cli.Command{
	Name:      "comment",
	Usage:     "comments on a highlight or in a paper's discussion thread",
	ArgsUsage: "<event-id>",
	Description: `with --highlight the event id names a highlight and a kind 1 note is sent.
otherwise it names the paper and a kind 1111 comment is sent, optionally as
a reply to --parent.`,
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "content", Required: true},
		&cli.BoolFlag{Name: "highlight", Usage: "comment on a highlight"},
		&cli.StringFlag{Name: "parent", Usage: "id of the comment being replied to"},
	},
	Action: withEnv(true, func(c *cli.Context, e *env) error {
		target, err := eventArg(c, "event-id")
		if err != nil {
			return err
		}
		var evt *types.Event
		if c.Bool("highlight") {
			evt, err = e.factory.HighlightComment(c.Context, c.String("content"), target)
		} else {
			evt, err = e.factory.ThreadComment(c.Context, c.String("content"), target, c.String("parent"))
		}
		if err != nil {
			return err
		}
		return publishEvent(c, e, evt)
	}),
}

var react = &cli.Command{
	Name:      "react",
	Usage:     "likes a comment (kind 7)",
	ArgsUsage: "<event-id>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "content", Value: "+", Usage: "reaction content"},
	},
	Action: withEnv(true, func(c *cli.Context, e *env) error {
		target, err := eventArg(c, "event-id")
		if err != nil {
			return err
		}
		evt, err := e.factory.Reaction(c.Context, target, c.String("content"))
		if err != nil {
			return err
		}
		return publishEvent(c, e, evt)
	}),
}

var annotations = &cli.Command{
	Name:      "annotations",
	Usage:     "prints the highlights and discussion thread of a paper",
	ArgsUsage: "<paper-id>",
	Action: withEnv(false, func(c *cli.Context, e *env) error {
		paperID, err := eventArg(c, "paper-id")
		if err != nil {
			return err
		}
		urls := e.connect(c.Context)
		if len(urls) == 0 {
			return fmt.Errorf("no relay could be reached")
		}
		pool := e.session.Pool()

		found := pool.Query(c.Context, []types.Filter{
			{Kinds: []int{types.KindHighlight}, Tags: map[string][]string{"e": {paperID}}},
			{Kinds: []int{types.KindComment}, Tags: map[string][]string{"E": {paperID}}},
		}, urls)

		var highlightIDs, commentIDs []string
		for _, evt := range found {
			switch evt.Kind {
			case types.KindHighlight:
				highlightIDs = append(highlightIDs, evt.ID)
			case types.KindComment:
				commentIDs = append(commentIDs, evt.ID)
			}
		}

		if len(highlightIDs) > 0 {
			notes := pool.Query(c.Context, []types.Filter{{
				Kinds: []int{types.KindNote},
				Tags:  map[string][]string{"e": highlightIDs, "k": {strconv.Itoa(types.KindHighlight)}},
			}}, urls)
			for _, evt := range notes {
				commentIDs = append(commentIDs, evt.ID)
			}
			found = append(found, notes...)
		}
		if len(commentIDs) > 0 {
			found = append(found, pool.Query(c.Context, []types.Filter{{
				Kinds: []int{types.KindReaction},
				Tags:  map[string][]string{"e": commentIDs},
			}}, urls)...)
		}

		return printJSON(c.App.Writer, struct {
			Highlights []events.Highlight `json:"highlights"`
			Thread     []events.Comment   `json:"thread"`
		}{
			Highlights: events.BuildHighlights(paperID, found),
			Thread:     events.BuildThread(paperID, found),
		})
	}),
}
