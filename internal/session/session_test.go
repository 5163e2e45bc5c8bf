package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carsonminor/nostr-research-client/internal/cache"
	"github.com/carsonminor/nostr-research-client/internal/events"
	"github.com/carsonminor/nostr-research-client/internal/identity"
	"github.com/carsonminor/nostr-research-client/internal/nostr"
	"github.com/carsonminor/nostr-research-client/internal/pricing"
	"github.com/carsonminor/nostr-research-client/internal/relay"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

const secret = "0000000000000000000000000000000000000000000000000000000000000003"

type testSigner struct{ priv string }

func (s testSigner) GetPublicKey(ctx context.Context) (string, error) {
	return nostr.PublicKey(s.priv)
}

func (s testSigner) SignEvent(ctx context.Context, evt types.UnsignedEvent) (*types.Event, error) {
	signed, err := nostr.SignEvent(evt, s.priv)
	return &signed, err
}

func newSession(t *testing.T, backend cache.Backend) *Session {
	t.Helper()
	opts := relay.DefaultOptions()
	opts.ConnectTimeout = time.Second
	return New(NewKeyStore(backend), relay.NewPool(opts), pricing.NewAggregator(nil))
}

func newBackend(t *testing.T) cache.Backend {
	t.Helper()
	mc := cache.NewMemoryCache(10, time.Hour)
	t.Cleanup(func() { mc.Close() })
	return mc
}

func TestGeneratePersistsAndRestores(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()

	s := newSession(t, backend)
	assert.False(t, s.SignedIn())
	restored, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, restored)

	id, err := s.SignInGenerate(ctx)
	require.NoError(t, err)
	assert.True(t, s.SignedIn())

	stored, ok, err := NewKeyStore(backend).Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	priv, _ := id.PrivateKey()
	assert.Equal(t, priv, stored)

	next := newSession(t, backend)
	restored, err = next.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, id.PublicKey(), next.Identity().PublicKey())
}

func TestSignInLocalRejectsMalformedKey(t *testing.T) {
	s := newSession(t, newBackend(t))
	for _, key := range []string{secret[:63], secret + "0", strings.Repeat("z", 64)} {
		_, err := s.SignInLocal(context.Background(), key)
		assert.ErrorIs(t, err, identity.ErrInvalidKeyFormat)
	}
	assert.False(t, s.SignedIn())
}

func TestRestoreDiscardsUnreadableKey(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()
	require.NoError(t, NewKeyStore(backend).Save(ctx, "not-a-key"))

	s := newSession(t, backend)
	restored, err := s.Restore(ctx)
	assert.ErrorIs(t, err, identity.ErrInvalidKeyFormat)
	assert.False(t, restored)

	_, ok, _ := NewKeyStore(backend).Load(ctx)
	assert.False(t, ok)
}

func TestSignOutWipesAndDeletes(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()
	s := newSession(t, backend)

	id, err := s.SignInLocal(ctx, secret)
	require.NoError(t, err)

	require.NoError(t, s.SignOut(ctx))
	assert.False(t, s.SignedIn())
	_, ok := id.PrivateKey()
	assert.False(t, ok)
	_, ok, _ = NewKeyStore(backend).Load(ctx)
	assert.False(t, ok)

	_, err = events.NewFactory(s).Paper(ctx, "t", "c", "a", "d")
	assert.ErrorIs(t, err, identity.ErrNoIdentity)
}

func TestUseLocalLeavesStoreEmpty(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()
	s := newSession(t, backend)

	id, err := s.UseLocal(secret)
	require.NoError(t, err)
	assert.True(t, s.SignedIn())
	assert.Equal(t, identity.ModeLocal, id.Mode())

	_, ok, err := NewKeyStore(backend).Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	evt, err := events.NewFactory(s).Paper(ctx, "t", "c", "a", "d")
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey(), evt.PubKey)

	fresh := newSession(t, backend)
	restored, err := fresh.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, restored)
}

func TestSignInDelegatedDoesNotPersist(t *testing.T) {
	backend := newBackend(t)
	ctx := context.Background()
	s := newSession(t, backend)

	_, err := s.SignInLocal(ctx, secret)
	require.NoError(t, err)

	other, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	id, err := s.SignInDelegated(ctx, testSigner{priv: other})
	require.NoError(t, err)
	assert.Equal(t, identity.ModeDelegated, id.Mode())
	_, ok := id.PrivateKey()
	assert.False(t, ok)

	_, ok, _ = NewKeyStore(backend).Load(ctx)
	assert.False(t, ok)

	evt, err := events.NewFactory(s).Reaction(ctx, strings.Repeat("a", 64), "")
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey(), evt.PubKey)
	assert.True(t, nostr.VerifyEvent(*evt))
}

func TestAddRelayRegistersPricing(t *testing.T) {
	srv := httptest.NewServer(nil)
	dead := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	s := newSession(t, newBackend(t))
	err := s.AddRelay(context.Background(), dead)
	assert.ErrorIs(t, err, relay.ErrRelayUnreachable)
	assert.Equal(t, []string{dead}, s.Pricing().RelayURLs())
	assert.Equal(t, []string{dead}, s.Pool().URLs())

	require.NoError(t, s.RemoveRelay(dead))
	assert.Empty(t, s.Pricing().RelayURLs())
	assert.Empty(t, s.Pool().URLs())
}
