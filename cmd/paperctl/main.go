// Command paperctl publishes, queries and annotates research papers across
// a set of Nostr relays and talks to the relays' storage pricing API.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	CategoryFilter  = "FILTER ATTRIBUTES"
	CategoryPricing = "PRICING"
)

var app = &cli.App{
	Name:  "paperctl",
	Usage: "publish and annotate research papers on nostr relays",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to a YAML config file",
			EnvVars: []string{"PAPERS_CONFIG"},
		},
		&cli.StringSliceFlag{
			Name:    "relay",
			Aliases: []string{"r"},
			Usage:   "relay url to use instead of the configured set (repeatable)",
		},
		&cli.StringFlag{
			Name:    "bunker",
			Usage:   "sign through a NIP-46 remote signer (bunker://<pubkey>?relay=...&secret=...)",
			EnvVars: []string{"PAPERS_BUNKER"},
		},
		&cli.StringFlag{
			Name:    "sec",
			Usage:   "secret key (hex or nsec) to sign in with for this run only; it is not stored",
			EnvVars: []string{"NOSTR_SECRET_KEY"},
		},
	},
	Commands: []*cli.Command{
		keygen,
		signin,
		whoami,
		signout,
		relays,
		publishPaper,
		query,
		watch,
		highlight,
		comment,
		react,
		annotations,
		pricingCmd,
		invoice,
		payment,
		published,
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
