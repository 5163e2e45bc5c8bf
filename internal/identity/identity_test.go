package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carsonminor/nostr-research-client/internal/nostr"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

const secret = "67dea2ed018072d675f5415ecfaed7d2597555e202d85b3d65ea4e58d2d92ffa"

// localSigner is an ExternalSigner backed by an in-process key.
type localSigner struct {
	priv  string
	calls int
	err   error
	delay time.Duration
	tweak func(*types.Event)
}

func (s *localSigner) GetPublicKey(ctx context.Context) (string, error) {
	return nostr.PublicKey(s.priv)
}

func (s *localSigner) SignEvent(ctx context.Context, evt types.UnsignedEvent) (*types.Event, error) {
	s.calls++
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	signed, err := nostr.SignEvent(evt, s.priv)
	if err != nil {
		return nil, err
	}
	if s.tweak != nil {
		s.tweak(&signed)
	}
	return &signed, nil
}

func TestImportLocalIsDeterministic(t *testing.T) {
	a, err := ImportLocal(secret)
	require.NoError(t, err)
	b, err := ImportLocal(strings.ToUpper(secret))
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey(), b.PublicKey())
	assert.Equal(t, ModeLocal, a.Mode())

	priv, ok := a.PrivateKey()
	require.True(t, ok)
	assert.Equal(t, secret, priv)
}

func TestLocalSigningIsDeterministic(t *testing.T) {
	id, err := ImportLocal(secret)
	require.NoError(t, err)
	evt := types.UnsignedEvent{CreatedAt: 1700000000, Kind: types.KindNote, Tags: [][]string{{"t", "physics"}}, Content: "same paper"}

	first, err := id.Sign(context.Background(), evt)
	require.NoError(t, err)
	second, err := id.Sign(context.Background(), evt)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Sig, second.Sig)
	assert.True(t, nostr.VerifyEvent(*first))
}

func TestImportNsecTrimsPastedKey(t *testing.T) {
	id, err := ImportNsec("  " + secret + "\n")
	require.NoError(t, err)
	want, err := ImportLocal(secret)
	require.NoError(t, err)
	assert.Equal(t, want.PublicKey(), id.PublicKey())
}

func TestImportLocalRejectsMalformed(t *testing.T) {
	for _, key := range []string{secret[:63], secret + "a", "g" + secret[1:], "", " " + secret, secret + "\n"} {
		_, err := ImportLocal(key)
		assert.ErrorIs(t, err, ErrInvalidKeyFormat, "key %q", key)
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	priv, ok := id.PrivateKey()
	require.True(t, ok)

	again, err := ImportLocal(priv)
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey(), again.PublicKey())

	nsec, ok := id.Nsec()
	require.True(t, ok)
	fromNsec, err := ImportNsec(nsec)
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey(), fromNsec.PublicKey())
	assert.True(t, strings.HasPrefix(id.Npub(), "npub1"))
}

func TestLocalSign(t *testing.T) {
	id, err := ImportLocal(secret)
	require.NoError(t, err)

	signed, err := id.Sign(context.Background(), types.UnsignedEvent{
		PubKey:    "ignored",
		CreatedAt: 1700000000,
		Kind:      types.KindNote,
		Content:   "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, id.PublicKey(), signed.PubKey)
	assert.True(t, nostr.VerifyEvent(*signed))
}

func TestWipe(t *testing.T) {
	id, err := ImportLocal(secret)
	require.NoError(t, err)
	id.Wipe()

	_, ok := id.PrivateKey()
	assert.False(t, ok)
	_, err = id.Sign(context.Background(), types.UnsignedEvent{Kind: types.KindNote})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestDelegatedIdentity(t *testing.T) {
	signer := &localSigner{priv: secret}
	id, err := ConnectDelegated(context.Background(), signer)
	require.NoError(t, err)

	_, ok := id.PrivateKey()
	assert.False(t, ok)
	_, ok = id.Nsec()
	assert.False(t, ok)
	assert.Equal(t, ModeDelegated, id.Mode())

	signed, err := id.Sign(context.Background(), types.UnsignedEvent{CreatedAt: 1, Kind: types.KindReaction, Content: "+"})
	require.NoError(t, err)
	assert.Equal(t, 1, signer.calls)
	assert.Equal(t, id.PublicKey(), signed.PubKey)
}

func TestDelegatedFailuresAreRejections(t *testing.T) {
	pub, err := nostr.PublicKey(secret)
	require.NoError(t, err)
	other, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)

	cases := map[string]*localSigner{
		"denied":      {priv: secret, err: errors.New("user denied")},
		"wrong key":   {priv: other},
		"bad sig":     {priv: secret, tweak: func(e *types.Event) { e.Sig = strings.Repeat("0", 128) }},
		"altered":     {priv: secret, tweak: func(e *types.Event) { e.Content = "changed" }},
		"slow signer": {priv: secret, delay: 200 * time.Millisecond},
	}

	for name, signer := range cases {
		t.Run(name, func(t *testing.T) {
			id, err := ImportDelegated(pub, signer)
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			_, err = id.Sign(ctx, types.UnsignedEvent{CreatedAt: 1, Kind: types.KindNote, Content: "x"})
			assert.ErrorIs(t, err, ErrSigningRejected)
		})
	}
}

func TestImportDelegatedRejectsBadPubkey(t *testing.T) {
	_, err := ImportDelegated("abc", &localSigner{priv: secret})
	assert.ErrorIs(t, err, ErrInvalidKeyFormat)
}
