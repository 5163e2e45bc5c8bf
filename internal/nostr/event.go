package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/carsonminor/nostr-research-client/internal/types"
)

// SerializeEvent produces the canonical NIP-01 form
// [0, pubkey, created_at, kind, tags, content] that the event id commits to.
func SerializeEvent(evt types.UnsignedEvent) []byte {
	out := make([]byte, 0, 128+len(evt.Content))
	out = append(out, "[0,"...)
	out = appendString(out, evt.PubKey)
	out = append(out, ',')
	out = strconv.AppendInt(out, evt.CreatedAt, 10)
	out = append(out, ',')
	out = strconv.AppendInt(out, int64(evt.Kind), 10)
	out = append(out, ",["...)
	for i, tag := range evt.Tags {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '[')
		for j, v := range tag {
			if j > 0 {
				out = append(out, ',')
			}
			out = appendString(out, v)
		}
		out = append(out, ']')
	}
	out = append(out, "],"...)
	out = appendString(out, evt.Content)
	return append(out, ']')
}

// appendString writes s as a JSON string with only the NIP-01 escapes.
// Every other byte, including U+2028, U+2029 and invalid UTF-8, is copied as is.
func appendString(out []byte, s string) []byte {
	const hexDigits = "0123456789abcdef"
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			out = append(out, '\\', '"')
		case '\\':
			out = append(out, '\\', '\\')
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			out = append(out, '\\', 'r')
		case '\t':
			out = append(out, '\\', 't')
		case '\b':
			out = append(out, '\\', 'b')
		case '\f':
			out = append(out, '\\', 'f')
		default:
			if c < 0x20 {
				out = append(out, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
				continue
			}
			out = append(out, c)
		}
	}
	return append(out, '"')
}

// ComputeID returns the lowercase hex sha256 of the canonical serialization.
func ComputeID(evt types.UnsignedEvent) string {
	hash := sha256.Sum256(SerializeEvent(evt))
	return hex.EncodeToString(hash[:])
}

// SignEvent computes the id and BIP-340 signature for evt with the given hex secret key.
// The event pubkey is overwritten with the key's x-only public key.
func SignEvent(evt types.UnsignedEvent, privKeyHex string) (types.Event, error) {
	privKey, err := parsePrivateKey(privKeyHex)
	if err != nil {
		return types.Event{}, err
	}
	evt.PubKey = hex.EncodeToString(schnorr.SerializePubKey(privKey.PubKey()))

	id := ComputeID(evt)
	idBytes, _ := hex.DecodeString(id)

	sig, err := schnorr.Sign(privKey, idBytes)
	if err != nil {
		return types.Event{}, fmt.Errorf("sign event: %w", err)
	}

	return types.Event{
		ID:        id,
		PubKey:    evt.PubKey,
		CreatedAt: evt.CreatedAt,
		Kind:      evt.Kind,
		Tags:      evt.Tags,
		Content:   evt.Content,
		Sig:       hex.EncodeToString(sig.Serialize()),
	}, nil
}

// ValidateEventSignature verifies Schnorr signature for a Nostr event
func ValidateEventSignature(evt *types.Event) bool {
	if len(evt.Sig) != 128 || len(evt.PubKey) != 64 {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}

// VerifyEvent checks that the id matches the content and the signature matches the id.
func VerifyEvent(evt types.Event) bool {
	if ComputeID(evt.Unsigned()) != evt.ID {
		return false
	}
	return ValidateEventSignature(&evt)
}

// ShortID truncates ID/pubkey to 12 chars for logging
func ShortID(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}

func parsePrivateKey(privKeyHex string) (*btcec.PrivateKey, error) {
	if !IsHex64(privKeyHex) {
		return nil, ErrInvalidKey
	}
	b, _ := hex.DecodeString(privKeyHex)
	privKey, _ := btcec.PrivKeyFromBytes(b)
	if privKey.Key.IsZero() {
		return nil, ErrInvalidKey
	}
	return privKey, nil
}
