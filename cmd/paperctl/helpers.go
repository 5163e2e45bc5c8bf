package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/carsonminor/nostr-research-client/internal/cache"
	"github.com/carsonminor/nostr-research-client/internal/config"
	"github.com/carsonminor/nostr-research-client/internal/events"
	"github.com/carsonminor/nostr-research-client/internal/identity"
	"github.com/carsonminor/nostr-research-client/internal/logging"
	"github.com/carsonminor/nostr-research-client/internal/nips"
	"github.com/carsonminor/nostr-research-client/internal/nostr"
	"github.com/carsonminor/nostr-research-client/internal/pricing"
	"github.com/carsonminor/nostr-research-client/internal/relay"
	"github.com/carsonminor/nostr-research-client/internal/session"
	"github.com/carsonminor/nostr-research-client/internal/signer/nip46"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

// env is everything one command invocation needs.
type env struct {
	cfg     *config.Config
	backend cache.Backend
	session *session.Session
	factory *events.Factory
	relays  []string
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Log.Level, os.Stderr)

	backend, _ := cache.Open(c.Context, cache.Config{
		Backend:         cfg.Store.Backend,
		RedisURL:        cfg.Store.RedisURL,
		Dir:             cfg.Store.Dir,
		Prefix:          cfg.Store.Prefix,
		MaxSize:         cache.DefaultConfig().MaxSize,
		CleanupInterval: cache.DefaultConfig().CleanupInterval,
		RelayInfoTTL:    cfg.Relay.InfoCacheTTL,
	})

	pool := relay.NewPool(relay.Options{
		ConnectTimeout: cfg.Relay.ConnectTimeout,
		InfoTimeout:    cfg.Relay.InfoTimeout,
		PublishTimeout: cfg.Relay.PublishTimeout,
		QueryTimeout:   cfg.Relay.QueryTimeout,
		InfoCache:      cache.NewRelayInfoCache(backend, cfg.Relay.InfoCacheTTL),
	})
	agg := pricing.NewAggregator(pricing.NewHTTPClient(cfg.Pricing.HTTPTimeout))
	sess := session.New(session.NewKeyStore(backend), pool, agg)

	relays := cfg.Relays
	if flagged := c.StringSlice("relay"); len(flagged) > 0 {
		relays = nil
		for _, u := range flagged {
			norm := nostr.NormalizeRelayURL(u)
			if norm == "" {
				return nil, fmt.Errorf("invalid relay url %q", u)
			}
			relays = append(relays, norm)
		}
	}

	return &env{
		cfg:     cfg,
		backend: backend,
		session: sess,
		factory: events.NewFactory(sess),
		relays:  relays,
	}, nil
}

func (e *env) Close() {
	if err := e.session.Pool().Close(); err != nil {
		slog.Debug("closing relays", "error", err)
	}
	_ = e.backend.Close()
}

// signIn picks the identity for this run: a bunker, then an explicit secret
// key, then whatever key the store holds.
func (e *env) signIn(c *cli.Context) error {
	ctx := c.Context
	bunkerURL := c.String("bunker")
	if bunkerURL == "" {
		bunkerURL = e.cfg.Signer.Bunker
	}
	if bunkerURL != "" {
		b, err := nip46.ParseBunkerURL(bunkerURL)
		if err != nil {
			return err
		}
		b.RequestTimeout = e.cfg.Signer.SignTimeout
		connectCtx, cancel := context.WithTimeout(ctx, e.cfg.Signer.SignTimeout)
		defer cancel()
		if err := b.Connect(connectCtx); err != nil {
			return fmt.Errorf("bunker: %w", err)
		}
		_, err = e.session.SignInDelegated(ctx, b)
		return err
	}

	if key := c.String("sec"); key != "" {
		_, err := e.session.UseLocal(key)
		return err
	}

	ok, err := e.session.Restore(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: run 'paperctl keygen', 'paperctl signin' or pass --sec/--bunker", identity.ErrNoIdentity)
	}
	return nil
}

// connect dials every relay of this run and warns about the ones that failed.
func (e *env) connect(ctx context.Context) []string {
	for u, err := range e.session.ConnectRelays(ctx, e.relays) {
		if err != nil {
			slog.Warn("relay unavailable", "relay", u, "error", err)
		}
	}
	return e.session.Pool().ConnectedURLs()
}

// registerPricing makes the relays known to the pricing aggregator without
// opening websocket connections.
func (e *env) registerPricing() {
	for _, u := range e.relays {
		e.session.Pricing().AddRelay(u)
	}
}

// withEnv runs fn with a fully set up env, signing in first when needed.
func withEnv(needIdentity bool, fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}
		defer e.Close()
		if needIdentity {
			if err := e.signIn(c); err != nil {
				return err
			}
		}
		return fn(c, e)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResults writes one "url: ok|failed" line per relay in url order.
func printResults(w io.Writer, results map[string]bool) {
	urls := make([]string, 0, len(results))
	for u := range results {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	for _, u := range urls {
		status := "failed"
		if results[u] {
			status = "ok"
		}
		fmt.Fprintf(w, "%s: %s\n", u, status)
	}
}

// parseTags turns "k=v" flag values into a filter tag map.
func parseTags(values []string) (map[string][]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	tags := make(map[string][]string)
	for _, v := range values {
		name, value, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid tag %q, want name=value", v)
		}
		tags[name] = append(tags[name], value)
	}
	return tags, nil
}

// parseHashes turns "relay=hash" arguments into a map keyed by normalized
// relay url.
func parseHashes(args []string) (map[string]string, error) {
	hashes := make(map[string]string, len(args))
	for _, a := range args {
		u, hash, ok := strings.Cut(a, "=")
		if !ok || hash == "" {
			return nil, fmt.Errorf("invalid payment %q, want <relay-url>=<payment-hash>", a)
		}
		norm := nostr.NormalizeRelayURL(u)
		if norm == "" {
			return nil, fmt.Errorf("invalid relay url %q", u)
		}
		hashes[norm] = hash
	}
	if len(hashes) == 0 {
		return nil, errors.New("specify at least one <relay-url>=<payment-hash>")
	}
	return hashes, nil
}

// readContent returns the named file, or stdin for "" and "-".
func readContent(path string) (string, error) {
	var data []byte
	var err error
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// eventArg reads the first argument as an event id in hex or note1 form.
func eventArg(c *cli.Context, name string) (string, error) {
	id := nostr.NormalizeHex(c.Args().First())
	if id == "" {
		return "", fmt.Errorf("specify the <%s>", name)
	}
	if prefix, value, err := nips.Decode(id); err == nil && prefix == nips.PrefixNote {
		id = value
	}
	if !nostr.IsHex64(id) {
		return "", fmt.Errorf("invalid %s %q", name, c.Args().First())
	}
	return id, nil
}

func shortEvent(evt types.Event) string {
	return fmt.Sprintf("%s kind=%d by %s at %d", nostr.ShortID(evt.ID), evt.Kind, nostr.ShortID(evt.PubKey), evt.CreatedAt)
}
