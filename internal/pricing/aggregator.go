package pricing

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/carsonminor/nostr-research-client/internal/nostr"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

// Aggregator fans pricing calls out to many relays. A failing relay is
// logged and left out of the result; it never fails its siblings.
type Aggregator struct {
	httpClient *http.Client

	mu      sync.RWMutex
	clients map[string]*Client
	order   []string
}

func NewAggregator(httpClient *http.Client) *Aggregator {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultHTTPTimeout)
	}
	return &Aggregator{httpClient: httpClient, clients: make(map[string]*Client)}
}

// relayKey is the normalized form of relayURL, or relayURL itself when it
// does not parse as a relay url.
func relayKey(relayURL string) string {
	if key := nostr.NormalizeRelayURL(relayURL); key != "" {
		return key
	}
	return relayURL
}

// AddRelay registers a relay by its websocket url; the API is reached on the
// same host over http or https. Urls are normalized, so spellings that differ
// only in case or a trailing slash name the same relay.
func (a *Aggregator) AddRelay(relayURL string) {
	relayURL = relayKey(relayURL)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.clients[relayURL]; !ok {
		a.order = append(a.order, relayURL)
	}
	a.clients[relayURL] = NewClient(nostr.HTTPURL(relayURL), a.httpClient)
}

// RemoveRelay forgets relayURL. Unknown urls are ignored.
func (a *Aggregator) RemoveRelay(relayURL string) {
	relayURL = relayKey(relayURL)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.clients[relayURL]; !ok {
		return
	}
	delete(a.clients, relayURL)
	for i, u := range a.order {
		if u == relayURL {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// Reset drops every registered relay.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clients = make(map[string]*Client)
	a.order = nil
}

func (a *Aggregator) RelayURLs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.order...)
}

func (a *Aggregator) Client(relayURL string) (*Client, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.clients[relayKey(relayURL)]
	return c, ok
}

func (a *Aggregator) RelayInfos(ctx context.Context) map[string]*types.RelayInfo {
	return fanOut(ctx, a, a.RelayURLs(), "relay info", func(ctx context.Context, c *Client, _ string) (*types.RelayInfo, error) {
		return c.Info(ctx)
	}, nil)
}

// CalculatePricingForAllRelays quotes sizeBytes on every registered relay.
// durationYears <= 0 means 1.
func (a *Aggregator) CalculatePricingForAllRelays(ctx context.Context, sizeBytes int64, durationYears int) map[string]types.PricingInfo {
	durationYears = defaultYears(durationYears)
	return fanOut(ctx, a, a.RelayURLs(), "pricing", func(ctx context.Context, c *Client, _ string) (types.PricingInfo, error) {
		p, err := c.CalculatePricing(ctx, sizeBytes, durationYears)
		if err != nil {
			return types.PricingInfo{}, err
		}
		return *p, nil
	}, nil)
}

// CreateInvoicesForSelectedRelays requests an invoice from each selected
// relay. Unregistered urls are skipped.
func (a *Aggregator) CreateInvoicesForSelectedRelays(ctx context.Context, eventID string, sizeBytes int64, relayURLs []string, durationYears int) map[string]types.LightningInvoice {
	durationYears = defaultYears(durationYears)
	return fanOut(ctx, a, relayURLs, "invoice", func(ctx context.Context, c *Client, _ string) (types.LightningInvoice, error) {
		inv, err := c.CreateInvoice(ctx, eventID, sizeBytes, durationYears)
		if err != nil {
			return types.LightningInvoice{}, err
		}
		return *inv, nil
	}, nil)
}

// CheckPaymentsForAllRelays looks up each relay's payment hash. A failed
// lookup records false; unregistered urls are skipped.
func (a *Aggregator) CheckPaymentsForAllRelays(ctx context.Context, paymentHashes map[string]string) map[string]bool {
	urls := make([]string, 0, len(paymentHashes))
	for u := range paymentHashes {
		urls = append(urls, u)
	}
	failed := false
	return fanOut(ctx, a, urls, "payment check", func(ctx context.Context, c *Client, relayURL string) (bool, error) {
		status, err := c.CheckPayment(ctx, paymentHashes[relayURL])
		if err != nil {
			return false, err
		}
		return status.Paid, nil
	}, &failed)
}

func defaultYears(years int) int {
	if years <= 0 {
		return 1
	}
	return years
}

// fanOut runs call for every registered url in parallel. When onError is
// non-nil a failing relay is recorded with that value instead of omitted.
func fanOut[T any](ctx context.Context, a *Aggregator, relayURLs []string, op string, call func(context.Context, *Client, string) (T, error), onError *T) map[string]T {
	results := make(map[string]T, len(relayURLs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, u := range relayURLs {
		client, ok := a.Client(u)
		if !ok {
			slog.Debug("skipping unregistered relay", "relay", u, "op", op)
			continue
		}
		wg.Add(1)
		go func(u string, client *Client) {
			defer wg.Done()
			v, err := call(ctx, client, u)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("relay pricing call failed", "relay", u, "op", op, "error", err)
				if onError != nil {
					results[u] = *onError
				}
				return
			}
			results[u] = v
		}(u, client)
	}
	wg.Wait()
	return results
}
