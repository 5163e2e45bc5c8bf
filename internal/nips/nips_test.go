package nips

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carsonminor/nostr-research-client/internal/nostr"
)

func TestNip19Vectors(t *testing.T) {
	npub, err := EncodePubkey("3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d")
	require.NoError(t, err)
	assert.Equal(t, "npub180cvv07tjdrrgpa0j7j7tmnyl2yr6yr7l8j4s3evf6u64th6gkwsyjh6w6", npub)

	prefix, value, err := Decode("nsec1vl029mgpspedva04g90vltkh6fvh240zqtv9k0t9af8935ke9laqsnlfe5")
	require.NoError(t, err)
	assert.Equal(t, PrefixSecretKey, prefix)
	assert.Equal(t, "67dea2ed018072d675f5415ecfaed7d2597555e202d85b3d65ea4e58d2d92ffa", value)
}

func TestNip19RejectsCorruption(t *testing.T) {
	npub, err := EncodePubkey(strings.Repeat("ab", 32))
	require.NoError(t, err)

	corrupted := npub[:len(npub)-1] + "q"
	if corrupted == npub {
		corrupted = npub[:len(npub)-1] + "p"
	}
	_, _, err = Decode(corrupted)
	assert.ErrorIs(t, err, ErrBech32Checksum)

	_, err = EncodeEventID("abcd")
	assert.Error(t, err)
}

func TestCalcPaddedLen(t *testing.T) {
	cases := map[int]int{
		1: 32, 16: 32, 32: 32, 33: 64, 37: 64, 64: 64, 65: 96,
		100: 128, 200: 224, 250: 256, 320: 320, 383: 384, 384: 384,
		400: 448, 500: 512, 512: 512, 515: 640, 700: 768, 800: 896,
		900: 1024, 1020: 1024, 65535: 65536,
	}
	for in, want := range cases {
		assert.Equal(t, want, calcPaddedLen(in), "len %d", in)
	}
}

func TestConversationKeyIsSymmetric(t *testing.T) {
	privA, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	privB, err := nostr.GeneratePrivateKey()
	require.NoError(t, err)
	pubA, err := nostr.PublicKey(privA)
	require.NoError(t, err)
	pubB, err := nostr.PublicKey(privB)
	require.NoError(t, err)

	ab, err := ConversationKey(privA, pubB)
	require.NoError(t, err)
	ba, err := ConversationKey(privB, pubA)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 32)
}

func TestEncryptDecrypt(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)

	for _, msg := range []string{"a", `{"id":"1","method":"sign_event"}`, strings.Repeat("x", 1000)} {
		payload, err := Encrypt(msg, key)
		require.NoError(t, err)

		out, err := Decrypt(payload, key)
		require.NoError(t, err)
		assert.Equal(t, msg, out)
	}

	payload, err := EncryptWithNonce("hello", key, bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	again, err := EncryptWithNonce("hello", key, bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	assert.Equal(t, payload, again)

	otherKey := bytes.Repeat([]byte{8}, 32)
	_, err = Decrypt(payload, otherKey)
	assert.ErrorIs(t, err, ErrNip44MAC)

	_, err = Encrypt("", key)
	assert.ErrorIs(t, err, ErrNip44Payload)
}
