package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/carsonminor/nostr-research-client/internal/types"
)

// RelayInfoCache provides typed access to cached NIP-11 documents
type RelayInfoCache struct {
	backend Backend
	ttl     time.Duration
}

type cachedRelayInfo struct {
	Info      *types.RelayInfo `json:"info"`
	FetchedAt int64            `json:"fetched_at"`
}

func NewRelayInfoCache(backend Backend, ttl time.Duration) *RelayInfoCache {
	return &RelayInfoCache{backend: backend, ttl: ttl}
}

func (c *RelayInfoCache) Get(ctx context.Context, relayURL string) (*types.RelayInfo, bool) {
	data, found, err := c.backend.Get(ctx, "relayinfo:"+relayURL)
	if err != nil || !found {
		return nil, false
	}

	var cached cachedRelayInfo
	if err := json.Unmarshal(data, &cached); err != nil || cached.Info == nil {
		return nil, false
	}
	return cached.Info, true
}

func (c *RelayInfoCache) Set(ctx context.Context, relayURL string, info *types.RelayInfo) {
	data, err := json.Marshal(cachedRelayInfo{Info: info, FetchedAt: time.Now().Unix()})
	if err != nil {
		return
	}
	if err := c.backend.Set(ctx, "relayinfo:"+relayURL, data, c.ttl); err != nil {
		slog.Debug("relay info cache write failed", "relay", relayURL, "error", err)
	}
}
