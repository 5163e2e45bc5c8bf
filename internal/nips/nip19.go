package nips

import (
	"encoding/hex"
	"fmt"
)

// NIP-19 human readable prefixes for bare 32-byte entities.
const (
	PrefixPubKey    = "npub"
	PrefixSecretKey = "nsec"
	PrefixNote      = "note"
)

// EncodePubkey encodes a hex pubkey to npub format
func EncodePubkey(hexPubkey string) (string, error) {
	return encode32(PrefixPubKey, hexPubkey)
}

// EncodeSecretKey encodes a hex secret key to nsec format
func EncodeSecretKey(hexKey string) (string, error) {
	return encode32(PrefixSecretKey, hexKey)
}

// EncodeEventID encodes a hex event ID to note format
func EncodeEventID(hexEventID string) (string, error) {
	return encode32(PrefixNote, hexEventID)
}

// Decode decodes an npub, nsec or note string, returning its prefix and hex payload.
func Decode(entity string) (prefix string, hexValue string, err error) {
	hrp, data, err := Bech32Decode(entity)
	if err != nil {
		return "", "", err
	}
	switch hrp {
	case PrefixPubKey, PrefixSecretKey, PrefixNote:
	default:
		return "", "", fmt.Errorf("nip19: unsupported prefix %q", hrp)
	}

	raw, err := Bech32ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", "", err
	}
	if len(raw) != 32 {
		return "", "", fmt.Errorf("nip19: %s payload is %d bytes, want 32", hrp, len(raw))
	}
	return hrp, hex.EncodeToString(raw), nil
}

func encode32(prefix, hexValue string) (string, error) {
	raw, err := hex.DecodeString(hexValue)
	if err != nil {
		return "", fmt.Errorf("nip19: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("nip19: %s payload is %d bytes, want 32", prefix, len(raw))
	}
	data, err := Bech32ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return Bech32Encode(prefix, data), nil
}
