// Package relay manages websocket connections to Nostr relays and fans
// publishes, queries and live subscriptions out across them.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/carsonminor/nostr-research-client/internal/nostr"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

// Options tunes pool timeouts and transports.
type Options struct {
	ConnectTimeout time.Duration
	InfoTimeout    time.Duration
	PublishTimeout time.Duration
	// QueryTimeout ends a per-relay query that has not sent EOSE.
	QueryTimeout time.Duration
	// SkipInfo disables the NIP-11 fetch after connecting.
	SkipInfo   bool
	Dialer     *websocket.Dialer
	HTTPClient *http.Client
	// InfoCache, when set, is consulted before fetching NIP-11 documents.
	InfoCache InfoCache
}

// InfoCache stores relay information documents between runs.
type InfoCache interface {
	Get(ctx context.Context, relayURL string) (*types.RelayInfo, bool)
	Set(ctx context.Context, relayURL string, info *types.RelayInfo)
}

func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 10 * time.Second,
		InfoTimeout:    5 * time.Second,
		PublishTimeout: 10 * time.Second,
		QueryTimeout:   5 * time.Second,
	}
}

// Status is a snapshot of one relay in the pool.
type Status struct {
	URL   string
	State State
	Info  *types.RelayInfo
}

// Pool manages connections to multiple relays
type Pool struct {
	opts Options

	mu    sync.RWMutex
	conns map[string]*Conn // normalized url -> connection
	order []string

	connectGroup singleflight.Group
}

func NewPool(opts Options) *Pool {
	defaults := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.InfoTimeout <= 0 {
		opts.InfoTimeout = defaults.InfoTimeout
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaults.PublishTimeout
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaults.QueryTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.InfoTimeout}
	}
	return &Pool{
		opts:  opts,
		conns: make(map[string]*Conn),
	}
}

// Connect adds the relay to the pool and dials it. A relay that is already
// connected is returned as is; one in a terminal state is replaced by a new
// connection. Concurrent calls for the same url share one dial.
func (p *Pool) Connect(ctx context.Context, relayURL string) (*Conn, error) {
	key := nostr.NormalizeRelayURL(relayURL)
	if key == "" {
		return nil, fmt.Errorf("%w: invalid relay url %q", ErrRelayUnreachable, relayURL)
	}

	v, err, _ := p.connectGroup.Do(key, func() (interface{}, error) {
		p.mu.RLock()
		existing := p.conns[key]
		p.mu.RUnlock()
		if existing != nil && existing.State() == StateConnected {
			return existing, nil
		}

		conn := NewConn(key)
		p.mu.Lock()
		if _, known := p.conns[key]; !known {
			p.order = append(p.order, key)
		}
		p.conns[key] = conn
		p.mu.Unlock()
		if existing != nil {
			_ = existing.Close()
		}

		slog.Info("connecting to relay", "relay", key)
		dialCtx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
		defer cancel()
		if err := conn.Connect(dialCtx, p.opts.Dialer); err != nil {
			slog.Warn("relay connect failed", "relay", key, "error", err)
			return conn, err
		}
		slog.Info("relay connected", "relay", key)

		if !p.opts.SkipInfo {
			p.fetchInfo(ctx, conn)
		}
		return conn, nil
	})
	conn, _ := v.(*Conn)
	return conn, err
}

// fetchInfo is best effort: failures are logged and leave Info nil.
func (p *Pool) fetchInfo(ctx context.Context, conn *Conn) {
	if p.opts.InfoCache != nil {
		if info, ok := p.opts.InfoCache.Get(ctx, conn.URL()); ok {
			conn.setInfo(info)
			return
		}
	}
	infoCtx, cancel := context.WithTimeout(ctx, p.opts.InfoTimeout)
	defer cancel()
	info, err := FetchInfo(infoCtx, p.opts.HTTPClient, conn.URL())
	if err != nil {
		slog.Warn("relay info unavailable", "relay", conn.URL(), "error", err)
		return
	}
	conn.setInfo(info)
	if p.opts.InfoCache != nil {
		p.opts.InfoCache.Set(ctx, conn.URL(), info)
	}
}

// ConnectAll connects to every url in parallel and reports per-url errors.
func (p *Pool) ConnectAll(ctx context.Context, urls []string) map[string]error {
	results := make(map[string]error, len(urls))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, err := p.Connect(ctx, u)
			mu.Lock()
			results[u] = err
			mu.Unlock()
		}(u)
	}
	wg.Wait()
	return results
}

// Get returns the pool's connection for relayURL.
func (p *Pool) Get(relayURL string) (*Conn, bool) {
	key := nostr.NormalizeRelayURL(relayURL)
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.conns[key]
	return conn, ok
}

// URLs lists the pool's relays in the order they were added.
func (p *Pool) URLs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

// Relays returns a status snapshot for every relay in the pool.
func (p *Pool) Relays() []Status {
	out := make([]Status, 0)
	for _, u := range p.URLs() {
		if conn, ok := p.Get(u); ok {
			out = append(out, Status{URL: u, State: conn.State(), Info: conn.Info()})
		}
	}
	return out
}

// ConnectedURLs lists the relays currently in the Connected state.
func (p *Pool) ConnectedURLs() []string {
	var out []string
	for _, s := range p.Relays() {
		if s.State == StateConnected {
			out = append(out, s.URL)
		}
	}
	return out
}

// Remove closes the relay and drops it from the pool.
func (p *Pool) Remove(relayURL string) error {
	key := nostr.NormalizeRelayURL(relayURL)
	p.mu.Lock()
	conn := p.conns[key]
	delete(p.conns, key)
	for i, u := range p.order {
		if u == key {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Close closes every connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*Conn)
	p.order = nil
	p.mu.Unlock()

	var err error
	for _, conn := range conns {
		err = multierr.Append(err, conn.Close())
	}
	return err
}

func (p *Pool) targets(urls []string) []string {
	if len(urls) == 0 {
		return p.URLs()
	}
	return urls
}

func (p *Pool) connected(relayURL string) (*Conn, bool) {
	conn, ok := p.Get(relayURL)
	if !ok || conn.State() != StateConnected {
		return nil, false
	}
	return conn, true
}

// Publish sends evt to every url in parallel and reports, per url, whether
// the relay accepted it. Relays that are not connected report false without
// any I/O. Empty urls means every relay in the pool.
func (p *Pool) Publish(ctx context.Context, evt types.Event, urls []string) map[string]bool {
	targets := p.targets(urls)
	results := make(map[string]bool, len(targets))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, u := range targets {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			accepted := p.publishOne(ctx, u, evt)
			mu.Lock()
			results[u] = accepted
			mu.Unlock()
		}(u)
	}
	wg.Wait()
	return results
}

func (p *Pool) publishOne(ctx context.Context, relayURL string, evt types.Event) bool {
	conn, ok := p.connected(relayURL)
	if !ok {
		slog.Debug("skipping publish to relay that is not connected", "relay", relayURL)
		return false
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.opts.PublishTimeout)
	defer cancel()
	if err := conn.Publish(pubCtx, evt); err != nil {
		slog.Warn("publish failed", "relay", relayURL, "event_id", nostr.ShortID(evt.ID), "error", err)
		return false
	}
	slog.Debug("published", "relay", relayURL, "event_id", nostr.ShortID(evt.ID))
	return true
}

// Query runs filters against every url in parallel. Each relay is read until
// it sends EOSE or QueryTimeout passes. The result is deduplicated by id and
// sorted newest first. Empty urls means every relay in the pool.
func (p *Pool) Query(ctx context.Context, filters []types.Filter, urls []string) []types.Event {
	targets := p.targets(urls)
	perRelay := make([][]types.Event, len(targets))

	var wg sync.WaitGroup
	for i, u := range targets {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			perRelay[i] = p.queryOne(ctx, u, filters)
		}(i, u)
	}
	wg.Wait()

	return MergeEvents(perRelay...)
}

func (p *Pool) queryOne(ctx context.Context, relayURL string, filters []types.Filter) []types.Event {
	conn, ok := p.connected(relayURL)
	if !ok {
		slog.Debug("skipping query on relay that is not connected", "relay", relayURL)
		return nil
	}

	subID := uuid.NewString()
	sub, err := conn.Subscribe(subID, filters)
	if err != nil {
		slog.Warn("query subscribe failed", "relay", relayURL, "error", err)
		return nil
	}
	defer conn.Unsubscribe(subID)

	timer := time.NewTimer(p.opts.QueryTimeout)
	defer timer.Stop()

	var out []types.Event
	for {
		select {
		case evt := <-sub.Events():
			out = append(out, evt)
		case <-sub.EOSE():
			return append(out, sub.drain()...)
		case <-timer.C:
			slog.Debug("query ended without EOSE", "relay", relayURL, "events", len(out))
			return append(out, sub.drain()...)
		case <-sub.Done():
			return append(out, sub.drain()...)
		case <-ctx.Done():
			return append(out, sub.drain()...)
		}
	}
}

// MergeEvents concatenates the lists in order, keeps the first event of each
// id and sorts newest first. Ties keep their concatenation order.
func MergeEvents(lists ...[]types.Event) []types.Event {
	seen := make(map[string]int)
	var merged []types.Event
	for _, list := range lists {
		for _, evt := range list {
			if i, dup := seen[evt.ID]; dup {
				merged[i].RelaysSeen = appendUnique(merged[i].RelaysSeen, evt.RelaysSeen...)
				continue
			}
			evt.RelaysSeen = append([]string(nil), evt.RelaysSeen...)
			seen[evt.ID] = len(merged)
			merged = append(merged, evt)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt > merged[j].CreatedAt
	})
	return merged
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

// Subscribe opens a live subscription with one id on every url that is
// connected and calls onEvent for each delivery, once per relay. Duplicates
// across relays are not filtered. Empty urls means every relay in the pool.
func (p *Pool) Subscribe(filters []types.Filter, onEvent func(relayURL string, evt types.Event), urls []string) string {
	id := uuid.NewString()
	for _, u := range p.targets(urls) {
		conn, ok := p.connected(u)
		if !ok {
			slog.Debug("skipping subscribe on relay that is not connected", "relay", u)
			continue
		}
		sub, err := conn.SubscribeLive(id, filters)
		if err != nil {
			slog.Warn("subscribe failed", "relay", u, "error", err)
			continue
		}
		go pump(u, sub, onEvent)
	}
	return id
}

func pump(relayURL string, sub *Subscription, onEvent func(string, types.Event)) {
	for {
		select {
		case <-sub.Ready():
			for _, evt := range sub.Take() {
				select {
				case <-sub.Done():
					return
				default:
				}
				onEvent(relayURL, evt)
			}
		case <-sub.Done():
			return
		}
	}
}

// Unsubscribe ends subscription id on the given relays, or on all relays.
func (p *Pool) Unsubscribe(id string, urls ...string) {
	for _, u := range p.targets(urls) {
		if conn, ok := p.Get(u); ok {
			conn.Unsubscribe(id)
		}
	}
}
