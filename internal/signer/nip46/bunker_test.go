package nip46

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carsonminor/nostr-research-client/internal/identity"
	"github.com/carsonminor/nostr-research-client/internal/nips"
	"github.com/carsonminor/nostr-research-client/internal/nostr"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

// fakeBunker is a relay and remote signer in one: it answers kind 24133
// requests addressed to its key on the same websocket.
type fakeBunker struct {
	t          *testing.T
	remotePriv string
	remotePub  string
	userPriv   string
	userPub    string
	deny       bool

	mu      sync.Mutex
	methods []string
}

func newFakeBunker(t *testing.T) *fakeBunker {
	remotePriv, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	userPriv, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	remotePub, _ := nostr.PublicKey(remotePriv)
	userPub, _ := nostr.PublicKey(userPriv)
	return &fakeBunker{t: t, remotePriv: remotePriv, remotePub: remotePub, userPriv: userPriv, userPub: userPub}
}

func (f *fakeBunker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var subID string
	for {
		var msg []json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		var typ string
		_ = json.Unmarshal(msg[0], &typ)
		switch typ {
		case "REQ":
			_ = json.Unmarshal(msg[1], &subID)
		case "EVENT":
			var ev types.Event
			_ = json.Unmarshal(msg[1], &ev)
			_ = conn.WriteJSON([]interface{}{"OK", ev.ID, true, ""})
			if reply, ok := f.handle(ev); ok {
				_ = conn.WriteJSON([]interface{}{"EVENT", subID, reply})
			}
		}
	}
}

func (f *fakeBunker) handle(ev types.Event) (types.Event, bool) {
	if ev.Kind != types.KindNostrConnect || ev.TagValue("p") != f.remotePub {
		return types.Event{}, false
	}
	key, err := nips.ConversationKey(f.remotePriv, ev.PubKey)
	require.NoError(f.t, err)
	plain, err := nips.Decrypt(ev.Content, key)
	require.NoError(f.t, err)

	var req Request
	require.NoError(f.t, json.Unmarshal([]byte(plain), &req))
	f.mu.Lock()
	f.methods = append(f.methods, req.Method)
	f.mu.Unlock()

	resp := Response{ID: req.ID}
	switch req.Method {
	case "connect":
		resp.Result = "ack"
	case "get_public_key":
		resp.Result = f.userPub
	case "sign_event":
		if f.deny {
			resp.Error = "user denied"
			break
		}
		var unsigned types.UnsignedEvent
		require.NoError(f.t, json.Unmarshal([]byte(req.Params[0]), &unsigned))
		signed, err := nostr.SignEvent(unsigned, f.userPriv)
		require.NoError(f.t, err)
		out, _ := json.Marshal(signed)
		resp.Result = string(out)
	default:
		resp.Error = "unsupported"
	}

	body, _ := json.Marshal(resp)
	encrypted, err := nips.Encrypt(string(body), key)
	require.NoError(f.t, err)
	reply, err := nostr.SignEvent(types.UnsignedEvent{
		CreatedAt: time.Now().Unix(),
		Kind:      types.KindNostrConnect,
		Tags:      [][]string{{"p", ev.PubKey}},
		Content:   encrypted,
	}, f.remotePriv)
	require.NoError(f.t, err)
	return reply, true
}

func (f *fakeBunker) start(t *testing.T) string {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return "bunker://" + f.remotePub + "?relay=" + url.QueryEscape(wsURL)
}

func TestParseBunkerURL(t *testing.T) {
	pub, err := nostr.PublicKey(strings.Repeat("01", 32))
	require.NoError(t, err)

	b, err := ParseBunkerURL("bunker://" + pub + "?relay=wss://relay.example.com&relay=not-a-relay&secret=s3")
	require.NoError(t, err)
	assert.Equal(t, pub, b.RemotePubKey())
	assert.Equal(t, []string{"wss://relay.example.com"}, b.Relays())
	assert.True(t, nostr.ValidPublicKey(b.ClientPubKey()))

	for _, bad := range []string{
		"nostrconnect://" + pub + "?relay=wss://relay.example.com",
		"bunker://abc?relay=wss://relay.example.com",
		"bunker://" + pub,
	} {
		_, err := ParseBunkerURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestBunkerDelegatedSigning(t *testing.T) {
	fake := newFakeBunker(t)
	b, err := ParseBunkerURL(fake.start(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := identity.ConnectDelegated(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, fake.userPub, id.PublicKey())
	_, ok := id.PrivateKey()
	assert.False(t, ok)

	signed, err := id.Sign(ctx, types.UnsignedEvent{
		CreatedAt: time.Now().Unix(),
		Kind:      types.KindReaction,
		Tags:      [][]string{{"e", strings.Repeat("1", 64)}, {"k", "1"}},
		Content:   "+",
	})
	require.NoError(t, err)
	assert.Equal(t, fake.userPub, signed.PubKey)
	assert.True(t, nostr.VerifyEvent(*signed))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"connect", "get_public_key", "sign_event"}, fake.methods)
}

func TestBunkerDeniedIsSigningRejected(t *testing.T) {
	fake := newFakeBunker(t)
	fake.deny = true
	b, err := ParseBunkerURL(fake.start(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := identity.ConnectDelegated(ctx, b)
	require.NoError(t, err)

	_, err = id.Sign(ctx, types.UnsignedEvent{CreatedAt: 1, Kind: types.KindNote, Content: "x"})
	assert.ErrorIs(t, err, identity.ErrSigningRejected)
}

func TestSignBeforeConnect(t *testing.T) {
	pub, _ := nostr.PublicKey(strings.Repeat("02", 32))
	b, err := ParseBunkerURL("bunker://" + pub + "?relay=wss://relay.example.com")
	require.NoError(t, err)

	_, err = b.SignEvent(context.Background(), types.UnsignedEvent{Kind: types.KindNote})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSignRateLimit(t *testing.T) {
	b := &Bunker{}
	now := time.Now()
	for i := 0; i < signRateLimit; i++ {
		require.NoError(t, b.checkSignRateLimit(now))
	}
	assert.ErrorIs(t, b.checkSignRateLimit(now), ErrRateLimited)
	assert.NoError(t, b.checkSignRateLimit(now.Add(signRateWindow+time.Second)))
}
