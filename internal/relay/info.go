package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/carsonminor/nostr-research-client/internal/nostr"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

const maxInfoBytes = 1 << 20

// FetchInfo retrieves the NIP-11 information document of a relay over HTTP.
func FetchInfo(ctx context.Context, client *http.Client, relayURL string) (*types.RelayInfo, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nostr.HTTPURL(relayURL), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/nostr+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch relay info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch relay info: status %d", resp.StatusCode)
	}

	var info types.RelayInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxInfoBytes)).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode relay info: %w", err)
	}
	return &info, nil
}
