// Package pricing talks to the HTTP storage-pricing API that paid research
// relays expose next to their websocket endpoint.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/carsonminor/nostr-research-client/internal/logging"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

const DefaultHTTPTimeout = 10 * time.Second

const maxResponseBytes = 4 << 20

var (
	ErrMalformedServerResponse = errors.New("malformed server response")
	// ErrUnexpectedStatus is a non-2xx reply; it also matches ErrMalformedServerResponse.
	ErrUnexpectedStatus = fmt.Errorf("%w: unexpected status", ErrMalformedServerResponse)
)

// NewHTTPClient returns a dedicated HTTP client for pricing requests with proper timeouts
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: logging.NewTransport(&http.Transport{
			MaxIdleConns:          10,
			IdleConnTimeout:       30 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: timeout,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		}),
	}
}

// Client calls one relay's pricing API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultHTTPTimeout)
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Info fetches the relay's information document including its price list.
func (c *Client) Info(ctx context.Context) (*types.RelayInfo, error) {
	var info types.RelayInfo
	if err := c.do(ctx, http.MethodGet, "/api/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CalculatePricing quotes storing sizeBytes for durationYears.
func (c *Client) CalculatePricing(ctx context.Context, sizeBytes int64, durationYears int) (*types.PricingInfo, error) {
	body := map[string]interface{}{
		"size_bytes":     sizeBytes,
		"duration_years": durationYears,
	}
	var out types.PricingInfo
	if err := c.do(ctx, http.MethodPost, "/api/pricing", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateInvoice requests a Lightning invoice for storing a paper event.
func (c *Client) CreateInvoice(ctx context.Context, eventID string, sizeBytes int64, durationYears int) (*types.LightningInvoice, error) {
	body := map[string]interface{}{
		"event_id":       eventID,
		"size_bytes":     sizeBytes,
		"duration_years": durationYears,
	}
	var out types.LightningInvoice
	if err := c.do(ctx, http.MethodPost, "/api/invoice", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCommentInvoice requests a Lightning invoice for storing a comment event.
func (c *Client) CreateCommentInvoice(ctx context.Context, eventID string, sizeBytes int64) (*types.LightningInvoice, error) {
	body := map[string]interface{}{
		"event_id":   eventID,
		"size_bytes": sizeBytes,
	}
	var out types.LightningInvoice
	if err := c.do(ctx, http.MethodPost, "/api/comment-invoice", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckPayment(ctx context.Context, paymentHash string) (*types.PaymentStatus, error) {
	var out types.PaymentStatus
	if err := c.do(ctx, http.MethodGet, "/api/payment/"+url.PathEscape(paymentHash), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublishedPapers lists papers the relay has stored. limit <= 0 means 50.
func (c *Client) PublishedPapers(ctx context.Context, limit int) ([]types.PublishedPaper, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []types.PublishedPaper
	if err := c.do(ctx, http.MethodGet, "/api/papers?limit="+strconv.Itoa(limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PaperContent(ctx context.Context, eventID string) (*types.PaperContent, error) {
	var out types.PaperContent
	if err := c.do(ctx, http.MethodGet, "/api/papers/"+url.PathEscape(eventID)+"/content", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s: %s", ErrUnexpectedStatus, method, path, resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedServerResponse, method, path, err)
	}
	return nil
}
