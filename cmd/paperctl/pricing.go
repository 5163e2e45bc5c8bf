package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/skip2/go-qrcode"
	"github.com/urfave/cli/v2"
)

var sizeFlags = []cli.Flag{
	&cli.Int64Flag{Name: "size", Usage: "payload size in bytes", Category: CategoryPricing},
	&cli.StringFlag{Name: "file", Usage: "take the payload size from this file", Category: CategoryPricing},
	&cli.IntFlag{Name: "years", Usage: "storage duration in years (default from config)", Category: CategoryPricing},
}

func sizeFromFlags(c *cli.Context) (int64, error) {
	if path := c.String("file"); path != "" {
		st, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		return st.Size(), nil
	}
	if size := c.Int64("size"); size > 0 {
		return size, nil
	}
	return 0, fmt.Errorf("specify --size or --file")
}

func yearsFromFlags(c *cli.Context, e *env) int {
	if c.IsSet("years") {
		return c.Int("years")
	}
	return e.cfg.Pricing.DurationYears
}

var pricingCmd = &cli.Command{
	Name:  "pricing",
	Usage: "asks every relay for a storage quote",
	Flags: sizeFlags,
	Action: withEnv(false, func(c *cli.Context, e *env) error {
		size, err := sizeFromFlags(c)
		if err != nil {
			return err
		}
		e.registerPricing()
		quotes := e.session.Pricing().CalculatePricingForAllRelays(c.Context, size, yearsFromFlags(c, e))
		for _, u := range e.relays {
			if _, ok := quotes[u]; !ok {
				fmt.Fprintf(os.Stderr, "%s: pricing unavailable\n", u)
			}
		}
		return printJSON(c.App.Writer, quotes)
	}),
}

var invoice = &cli.Command{
	Name:      "invoice",
	Usage:     "requests lightning invoices for storing an event on the relays",
	ArgsUsage: "<event-id>",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "comment", Usage: "request a comment invoice instead of a paper invoice"},
		&cli.StringFlag{Name: "qr-dir", Usage: "write a QR code PNG per invoice into this directory"},
	}, sizeFlags...),
	Action: withEnv(false, func(c *cli.Context, e *env) error {
		eventID, err := eventArg(c, "event-id")
		if err != nil {
			return err
		}
		size, err := sizeFromFlags(c)
		if err != nil {
			return err
		}
		e.registerPricing()
		agg := e.session.Pricing()

		invoices := make(map[string]any)
		requests := make(map[string]string)
		if c.Bool("comment") {
			for _, u := range e.relays {
				client, ok := agg.Client(u)
				if !ok {
					continue
				}
				inv, err := client.CreateCommentInvoice(c.Context, eventID, size)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", u, err)
					continue
				}
				invoices[u] = inv
				requests[u] = inv.PaymentRequest
			}
		} else {
			for u, inv := range agg.CreateInvoicesForSelectedRelays(c.Context, eventID, size, e.relays, yearsFromFlags(c, e)) {
				invoices[u] = inv
				requests[u] = inv.PaymentRequest
			}
		}

		if dir := c.String("qr-dir"); dir != "" {
			if err := writeQRCodes(dir, requests); err != nil {
				return err
			}
		}
		return printJSON(c.App.Writer, invoices)
	}),
}

// writeQRCodes renders each payment request as <dir>/<relay-host>.png.
func writeQRCodes(dir string, requests map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	urls := make([]string, 0, len(requests))
	for u := range requests {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	for _, u := range urls {
		png, err := qrcode.Encode(strings.ToUpper("lightning:"+requests[u]), qrcode.Medium, 256)
		if err != nil {
			return fmt.Errorf("qr for %s: %w", u, err)
		}
		path := filepath.Join(dir, qrFileName(u))
		if err := os.WriteFile(path, png, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s: %s\n", u, path)
	}
	return nil
}

func qrFileName(relayURL string) string {
	name := relayURL
	for _, p := range []string{"wss://", "ws://"} {
		name = strings.TrimPrefix(name, p)
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '_'
	}, name)
	return name + ".png"
}

var payment = &cli.Command{
	Name:      "payment",
	Usage:     "checks whether invoices have been paid",
	ArgsUsage: "<relay-url>=<payment-hash>...",
	Action: withEnv(false, func(c *cli.Context, e *env) error {
		hashes, err := parseHashes(c.Args().Slice())
		if err != nil {
			return err
		}
		agg := e.session.Pricing()
		for u := range hashes {
			agg.AddRelay(u)
		}
		printResults(c.App.Writer, agg.CheckPaymentsForAllRelays(c.Context, hashes))
		return nil
	}),
}

var published = &cli.Command{
	Name:      "published",
	Usage:     "lists the papers a relay's storage API holds, or prints one paper",
	ArgsUsage: "[event-id]",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 50},
	},
	Action: withEnv(false, func(c *cli.Context, e *env) error {
		e.registerPricing()
		agg := e.session.Pricing()

		if c.Args().Present() {
			eventID, err := eventArg(c, "event-id")
			if err != nil {
				return err
			}
			for _, u := range agg.RelayURLs() {
				client, _ := agg.Client(u)
				paper, err := client.PaperContent(c.Context, eventID)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", u, err)
					continue
				}
				return printJSON(c.App.Writer, paper)
			}
			return fmt.Errorf("paper %s not found on any relay", eventID)
		}

		out := make(map[string]any)
		for _, u := range agg.RelayURLs() {
			client, _ := agg.Client(u)
			papers, err := client.PublishedPapers(c.Context, c.Int("limit"))
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", u, err)
				continue
			}
			out[u] = papers
		}
		return printJSON(c.App.Writer, out)
	}),
}
