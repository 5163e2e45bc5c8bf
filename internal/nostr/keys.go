package nostr

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// ErrInvalidKey is returned for keys that are not 32 bytes of lowercase or uppercase hex.
var ErrInvalidKey = errors.New("invalid key")

// GeneratePrivateKey returns a fresh random secp256k1 secret key as hex.
func GeneratePrivateKey() (string, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(privKey.Serialize()), nil
}

// PublicKey derives the x-only (BIP-340) public key for a hex secret key.
func PublicKey(privKeyHex string) (string, error) {
	privKey, err := parsePrivateKey(privKeyHex)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(schnorr.SerializePubKey(privKey.PubKey())), nil
}

// ValidPublicKey reports whether pubKeyHex is a valid x-only public key.
func ValidPublicKey(pubKeyHex string) bool {
	if !IsHex64(pubKeyHex) {
		return false
	}
	b, _ := hex.DecodeString(pubKeyHex)
	_, err := schnorr.ParsePubKey(b)
	return err == nil
}

// IsHex64 reports whether s is exactly 64 hex characters.
func IsHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// NormalizeHex lowercases a hex key after trimming whitespace.
func NormalizeHex(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
