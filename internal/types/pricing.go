package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PricingInfo is a relay's storage quote for a given payload.
type PricingInfo struct {
	AmountSats    int64   `json:"amount_sats"`
	SizeMB        float64 `json:"size_mb"`
	DurationYears int     `json:"duration_years"`
	Description   string  `json:"description"`
}

// LightningInvoice is a BOLT11 invoice issued by a relay for storing an event.
type LightningInvoice struct {
	PaymentRequest string    `json:"payment_request"`
	PaymentHash    string    `json:"payment_hash"`
	AmountSats     int64     `json:"amount_sats"`
	ExpiresAt      Timestamp `json:"expires_at"`
	Description    string    `json:"description"`
	Paid           bool      `json:"paid,omitempty"`
	SettledAt      Timestamp `json:"settled_at,omitzero"`
}

// PaymentStatus is the response of a payment lookup.
type PaymentStatus struct {
	Paid       bool      `json:"paid"`
	SettledAt  Timestamp `json:"settled_at,omitzero"`
	AmountSats int64     `json:"amount_sats"`
	ExpiresAt  Timestamp `json:"expires_at"`
}

// PublishedPaper is a paper listed by a relay's papers endpoint.
type PublishedPaper struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	Title       string    `json:"title"`
	Authors     []string  `json:"authors"`
	Abstract    string    `json:"abstract"`
	Content     string    `json:"content,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   Timestamp `json:"created_at"`
	PublishedAt Timestamp `json:"published_at,omitzero"`
	SizeBytes   int64     `json:"size_bytes"`
	PaymentHash string    `json:"payment_hash,omitempty"`
	PricePaid   int64     `json:"price_paid,omitempty"`
}

// PaperContent is the full body of a stored paper.
type PaperContent struct {
	EventID     string    `json:"event_id"`
	Title       string    `json:"title"`
	Authors     []string  `json:"authors"`
	Abstract    string    `json:"abstract"`
	Content     string    `json:"content"`
	PublishedAt Timestamp `json:"published_at"`
}

// Timestamp decodes either an RFC 3339 string or unix seconds.
// The zero value encodes as null.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	t.Time = time.Unix(int64(secs), 0).UTC()
	return nil
}
