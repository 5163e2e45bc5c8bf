package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/carsonminor/nostr-research-client/internal/identity"
)

var keygen = &cli.Command{
	Name:  "keygen",
	Usage: "generates a new secret key and signs in with it",
	Description: `the key is kept in the configured store (by default an on-disk store under
the user config directory). with store.backend memory it only lives for
this run, so copy the printed nsec somewhere safe.`,
	Action: withEnv(false, func(c *cli.Context, e *env) error {
		id, err := e.session.SignInGenerate(c.Context)
		if err != nil {
			return err
		}
		return printIdentity(c, id, true)
	}),
}

var signin = &cli.Command{
	Name:      "signin",
	Usage:     "imports a secret key (hex or nsec) into the store",
	ArgsUsage: "<secret-key>",
	Description: `later runs sign in with the stored key. to sign a single run without
storing anything, pass --sec instead.`,
	Action: withEnv(false, func(c *cli.Context, e *env) error {
		key := c.Args().First()
		if key == "" {
			return fmt.Errorf("specify the <secret-key>")
		}
		id, err := e.session.SignInLocal(c.Context, key)
		if err != nil {
			return err
		}
		return printIdentity(c, id, false)
	}),
}

var whoami = &cli.Command{
	Name:  "whoami",
	Usage: "prints the active identity",
	Action: withEnv(true, func(c *cli.Context, e *env) error {
		return printIdentity(c, e.session.Identity(), false)
	}),
}

var signout = &cli.Command{
	Name:  "signout",
	Usage: "deletes the stored secret key",
	Action: withEnv(false, func(c *cli.Context, e *env) error {
		if _, err := e.session.Restore(c.Context); err != nil {
			return err
		}
		if err := e.session.SignOut(c.Context); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "signed out")
		return nil
	}),
}

func printIdentity(c *cli.Context, id *identity.Identity, withSecret bool) error {
	out := map[string]string{
		"mode":   id.Mode().String(),
		"pubkey": id.PublicKey(),
		"npub":   id.Npub(),
	}
	if withSecret {
		if nsec, ok := id.Nsec(); ok {
			out["nsec"] = nsec
		}
	}
	return printJSON(c.App.Writer, out)
}
