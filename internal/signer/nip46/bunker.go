// Package nip46 talks to a remote signer ("bunker") over NIP-46, so the
// user's secret key never enters this process.
package nip46

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carsonminor/nostr-research-client/internal/nips"
	"github.com/carsonminor/nostr-research-client/internal/nostr"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

const (
	signRateLimit  = 10
	signRateWindow = 1 * time.Minute

	DefaultRequestTimeout = 30 * time.Second
)

var (
	ErrRateLimited  = errors.New("nip46: too many sign requests")
	ErrNotConnected = errors.New("nip46: not connected to bunker")
	ErrAllRelays    = errors.New("nip46: all relays failed")
)

// Request is a JSON-RPC request to the remote signer
type Request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

// Response is a JSON-RPC response from the remote signer
type Response struct {
	ID     string `json:"id"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Bunker is a connection to one remote signer through one or more relays.
// It satisfies identity.ExternalSigner.
type Bunker struct {
	mu sync.Mutex

	clientPriv      string
	clientPub       string
	remotePub       string
	relays          []string
	secret          string
	conversationKey []byte

	userPub   string
	connected bool

	signRequestTimes []time.Time

	// RequestTimeout bounds each request when ctx has no earlier deadline.
	RequestTimeout time.Duration
	Dialer         *websocket.Dialer
}

// ParseBunkerURL parses bunker://<remote-pubkey>?relay=<wss://...>&relay=...&secret=<optional>
// and prepares a disposable client key for the session.
func ParseBunkerURL(bunkerURL string) (*Bunker, error) {
	if !strings.HasPrefix(bunkerURL, "bunker://") {
		return nil, errors.New("invalid bunker URL: must start with bunker://")
	}
	u, err := url.Parse(bunkerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bunker URL: %w", err)
	}

	remotePub := nostr.NormalizeHex(u.Host)
	if !nostr.ValidPublicKey(remotePub) {
		return nil, errors.New("invalid remote signer pubkey in bunker URL")
	}

	var relays []string
	for _, r := range u.Query()["relay"] {
		if normalized := nostr.NormalizeRelayURL(r); normalized != "" {
			relays = append(relays, normalized)
		}
	}
	if len(relays) == 0 {
		return nil, errors.New("bunker URL must specify at least one relay")
	}

	clientPriv, err := nostr.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate client key: %w", err)
	}
	clientPub, err := nostr.PublicKey(clientPriv)
	if err != nil {
		return nil, err
	}
	conversationKey, err := nips.ConversationKey(clientPriv, remotePub)
	if err != nil {
		return nil, fmt.Errorf("conversation key: %w", err)
	}

	return &Bunker{
		clientPriv:      clientPriv,
		clientPub:       clientPub,
		remotePub:       remotePub,
		relays:          relays,
		secret:          u.Query().Get("secret"),
		conversationKey: conversationKey,
		RequestTimeout:  DefaultRequestTimeout,
		Dialer:          websocket.DefaultDialer,
	}, nil
}

func (b *Bunker) RemotePubKey() string { return b.remotePub }

func (b *Bunker) ClientPubKey() string { return b.clientPub }

func (b *Bunker) Relays() []string { return append([]string(nil), b.relays...) }

// Connect performs the connect handshake and learns the user's public key.
func (b *Bunker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	params := []string{b.remotePub}
	if b.secret != "" {
		params = append(params, b.secret)
	}

	result, err := b.sendRequest(ctx, "connect", params)
	if err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	// Should be "ack" or the secret
	if result != "ack" && (b.secret == "" || result != b.secret) {
		return fmt.Errorf("unexpected connect response: %s", result)
	}

	userPub, err := b.sendRequest(ctx, "get_public_key", []string{})
	if err != nil {
		return fmt.Errorf("get_public_key failed: %w", err)
	}
	userPub = nostr.NormalizeHex(userPub)
	if !nostr.ValidPublicKey(userPub) {
		return fmt.Errorf("invalid user pubkey from bunker: %q", userPub)
	}

	b.userPub = userPub
	b.connected = true
	slog.Info("connected to bunker", "remote", nostr.ShortID(b.remotePub), "user", nostr.ShortID(userPub))
	return nil
}

// GetPublicKey returns the user's public key, connecting first if needed.
func (b *Bunker) GetPublicKey(ctx context.Context) (string, error) {
	b.mu.Lock()
	connected, pub := b.connected, b.userPub
	b.mu.Unlock()
	if connected {
		return pub, nil
	}
	if err := b.Connect(ctx); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userPub, nil
}

// SignEvent requests the remote signer to sign an event
func (b *Bunker) SignEvent(ctx context.Context, evt types.UnsignedEvent) (*types.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil, ErrNotConnected
	}
	if err := b.checkSignRateLimit(time.Now()); err != nil {
		return nil, err
	}

	if evt.Tags == nil {
		evt.Tags = [][]string{}
	}
	eventJSON, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}

	result, err := b.sendRequest(ctx, "sign_event", []string{string(eventJSON)})
	if err != nil {
		return nil, fmt.Errorf("sign_event failed: %w", err)
	}

	var signed types.Event
	if err := json.Unmarshal([]byte(result), &signed); err != nil {
		return nil, fmt.Errorf("parse signed event: %w", err)
	}
	return &signed, nil
}

// checkSignRateLimit records a sign request at now, failing once the window is full.
func (b *Bunker) checkSignRateLimit(now time.Time) error {
	cutoff := now.Add(-signRateWindow)
	valid := b.signRequestTimes[:0]
	for _, t := range b.signRequestTimes {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	b.signRequestTimes = valid

	if len(b.signRequestTimes) >= signRateLimit {
		return ErrRateLimited
	}
	b.signRequestTimes = append(b.signRequestTimes, now)
	return nil
}

// sendRequest encrypts and publishes one request, trying each relay in turn.
func (b *Bunker) sendRequest(ctx context.Context, method string, params []string) (string, error) {
	reqID, err := randomHex(8)
	if err != nil {
		return "", fmt.Errorf("request id: %w", err)
	}

	requestJSON, err := json.Marshal(Request{ID: reqID, Method: method, Params: params})
	if err != nil {
		return "", err
	}
	encrypted, err := nips.Encrypt(string(requestJSON), b.conversationKey)
	if err != nil {
		return "", fmt.Errorf("encryption failed: %w", err)
	}

	requestEvent, err := nostr.SignEvent(types.UnsignedEvent{
		CreatedAt: time.Now().Unix(),
		Kind:      types.KindNostrConnect,
		Tags:      [][]string{{"p", b.remotePub}},
		Content:   encrypted,
	}, b.clientPriv)
	if err != nil {
		return "", err
	}

	timeout := b.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	var remoteErr *RemoteError
	for _, relayURL := range b.relays {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		result, err := b.sendToRelay(rctx, relayURL, method, requestEvent, reqID)
		cancel()
		if err == nil {
			return result, nil
		}
		// A remote refusal is an answer, not a relay failure
		if errors.As(err, &remoteErr) {
			return "", err
		}
		slog.Warn("nip46 relay failed", "relay", relayURL, "method", method, "error", err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", ErrAllRelays
}

// RemoteError is an error string returned by the remote signer.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote signer refused %s: %s", e.Method, e.Message)
}

func (b *Bunker) sendToRelay(ctx context.Context, relayURL, method string, event types.Event, expectedReqID string) (string, error) {
	dialer := b.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return "", fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when ctx ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	subID, _ := randomHex(4)
	subID = "nip46-" + subID
	filter := types.Filter{
		Kinds: []int{types.KindNostrConnect},
		Tags:  map[string][]string{"p": {b.clientPub}},
		Since: func() *int64 { s := time.Now().Unix() - 10; return &s }(),
	}
	if err := conn.WriteJSON([]interface{}{"REQ", subID, filter}); err != nil {
		return "", fmt.Errorf("subscribe: %w", err)
	}
	if err := conn.WriteJSON([]interface{}{"EVENT", event}); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("read: %w", err)
		}

		var msg []json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil || len(msg) < 2 {
			continue
		}
		var msgType string
		if err := json.Unmarshal(msg[0], &msgType); err != nil {
			continue
		}

		switch msgType {
		case "EVENT":
			if len(msg) < 3 {
				continue
			}
			var responseEvent types.Event
			if err := json.Unmarshal(msg[2], &responseEvent); err != nil {
				continue
			}
			if responseEvent.PubKey != b.remotePub || !nostr.VerifyEvent(responseEvent) {
				continue
			}

			decrypted, err := nips.Decrypt(responseEvent.Content, b.conversationKey)
			if err != nil {
				slog.Debug("nip46 decrypt failed", "relay", relayURL, "error", err)
				continue
			}
			var response Response
			if err := json.Unmarshal([]byte(decrypted), &response); err != nil || response.ID != expectedReqID {
				continue
			}
			if response.Error != "" {
				return "", &RemoteError{Method: method, Message: response.Error}
			}
			return response.Result, nil

		case "OK":
			var accepted bool
			if len(msg) >= 3 && json.Unmarshal(msg[2], &accepted) == nil && !accepted {
				var reason string
				if len(msg) >= 4 {
					_ = json.Unmarshal(msg[3], &reason)
				}
				return "", fmt.Errorf("relay rejected request: %s", reason)
			}

		case "NOTICE":
			var notice string
			_ = json.Unmarshal(msg[1], &notice)
			slog.Debug("nip46 relay notice", "relay", relayURL, "notice", notice)
		}
	}
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
