package nostr

import (
	"net/url"
	"strings"
)

// NormalizeRelayURL validates and normalizes a relay URL.
// Returns empty string if URL is invalid/malformed
func NormalizeRelayURL(relayURL string) string {
	relayURL = strings.TrimSpace(relayURL)
	if relayURL == "" || !strings.Contains(relayURL, "://") {
		return ""
	}

	// Reject double protocols (wss://https://...)
	if strings.Count(relayURL, "://") > 1 {
		return ""
	}

	parsed, err := url.Parse(relayURL)
	if err != nil {
		return ""
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return ""
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" || strings.Contains(host, " ") {
		return ""
	}
	if !strings.Contains(host, ".") && !isLoopbackHost(host) {
		return ""
	}

	// Strip trailing slash, lowercase scheme and host
	result := scheme + "://" + host
	if strings.Contains(host, ":") {
		result = scheme + "://[" + host + "]"
	}
	if parsed.Port() != "" {
		result += ":" + parsed.Port()
	}
	if parsed.Path != "" && parsed.Path != "/" {
		result += strings.TrimSuffix(parsed.Path, "/")
	}
	return result
}

// HTTPURL maps a relay websocket URL to the HTTP base URL of the same host
// (ws -> http, wss -> https). Other URLs are returned unchanged.
func HTTPURL(relayURL string) string {
	switch {
	case strings.HasPrefix(relayURL, "wss://"):
		return "https://" + strings.TrimPrefix(relayURL, "wss://")
	case strings.HasPrefix(relayURL, "ws://"):
		return "http://" + strings.TrimPrefix(relayURL, "ws://")
	}
	return relayURL
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}
