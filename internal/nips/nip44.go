package nips

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	nip44Version     = 2
	nip44Salt        = "nip44-v2"
	minPlaintextSize = 1
	maxPlaintextSize = 65535
)

var (
	ErrNip44Key     = errors.New("nip44: invalid key")
	ErrNip44Payload = errors.New("nip44: invalid payload")
	ErrNip44MAC     = errors.New("nip44: invalid MAC")
)

// ConversationKey derives the shared NIP-44 v2 key between a hex secret key
// and a hex x-only public key. It is symmetric between the two parties.
func ConversationKey(privKeyHex, pubKeyHex string) ([]byte, error) {
	privBytes, err := hex.DecodeString(privKeyHex)
	if err != nil || len(privBytes) != 32 {
		return nil, ErrNip44Key
	}
	pubBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(pubBytes) != 32 {
		return nil, ErrNip44Key
	}

	privKey, _ := btcec.PrivKeyFromBytes(privBytes)
	pubKey, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNip44Key, err)
	}

	sharedX := btcec.GenerateSharedSecret(privKey, pubKey)
	return hkdf.Extract(sha256.New, sharedX, []byte(nip44Salt)), nil
}

// Encrypt encrypts plaintext with a fresh random nonce.
func Encrypt(plaintext string, conversationKey []byte) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return EncryptWithNonce(plaintext, conversationKey, nonce)
}

// EncryptWithNonce encrypts with a caller supplied 32-byte nonce.
func EncryptWithNonce(plaintext string, conversationKey []byte, nonce []byte) (string, error) {
	chachaKey, chachaNonce, hmacKey, err := messageKeys(conversationKey, nonce)
	if err != nil {
		return "", err
	}

	padded, err := pad([]byte(plaintext))
	if err != nil {
		return "", err
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	stream.XORKeyStream(ciphertext, padded)

	// version || nonce || ciphertext || mac
	out := make([]byte, 0, 1+32+len(ciphertext)+32)
	out = append(out, nip44Version)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	out = append(out, hmacAAD(hmacKey, ciphertext, nonce)...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt decrypts a NIP-44 v2 payload.
func Decrypt(payload string, conversationKey []byte) (string, error) {
	if len(payload) == 0 || payload[0] == '#' {
		return "", fmt.Errorf("%w: unsupported version", ErrNip44Payload)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNip44Payload, err)
	}
	if len(data) < 99 || len(data) > 65603 {
		return "", fmt.Errorf("%w: size %d", ErrNip44Payload, len(data))
	}
	if data[0] != nip44Version {
		return "", fmt.Errorf("%w: version %d", ErrNip44Payload, data[0])
	}

	nonce := data[1:33]
	ciphertext := data[33 : len(data)-32]
	mac := data[len(data)-32:]

	chachaKey, chachaNonce, hmacKey, err := messageKeys(conversationKey, nonce)
	if err != nil {
		return "", err
	}
	if !hmac.Equal(hmacAAD(hmacKey, ciphertext, nonce), mac) {
		return "", ErrNip44MAC
	}

	stream, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", err
	}
	padded := make([]byte, len(ciphertext))
	stream.XORKeyStream(padded, ciphertext)

	plaintext, err := unpad(padded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func messageKeys(conversationKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	if len(conversationKey) != 32 {
		return nil, nil, nil, ErrNip44Key
	}
	if len(nonce) != 32 {
		return nil, nil, nil, fmt.Errorf("%w: nonce length %d", ErrNip44Payload, len(nonce))
	}

	keys := make([]byte, 76)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, conversationKey, nonce), keys); err != nil {
		return nil, nil, nil, err
	}
	return keys[0:32], keys[32:44], keys[44:76], nil
}

// calcPaddedLen rounds up to 32 bytes for short messages and to 1/8 of the
// next power of two above that.
func calcPaddedLen(unpaddedLen int) int {
	if unpaddedLen <= 32 {
		return 32
	}
	nextPower := 1 << bits.Len(uint(unpaddedLen-1))
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((unpaddedLen-1)/chunk + 1)
}

func pad(plaintext []byte) ([]byte, error) {
	n := len(plaintext)
	if n < minPlaintextSize || n > maxPlaintextSize {
		return nil, fmt.Errorf("%w: plaintext length %d", ErrNip44Payload, n)
	}
	out := make([]byte, 2+calcPaddedLen(n))
	binary.BigEndian.PutUint16(out[0:2], uint16(n))
	copy(out[2:], plaintext)
	return out, nil
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, fmt.Errorf("%w: padding", ErrNip44Payload)
	}
	n := int(binary.BigEndian.Uint16(padded[0:2]))
	if n == 0 || n > len(padded)-2 || len(padded) != 2+calcPaddedLen(n) {
		return nil, fmt.Errorf("%w: padding", ErrNip44Payload)
	}
	return padded[2 : 2+n], nil
}

func hmacAAD(key, message, aad []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(aad)
	h.Write(message)
	return h.Sum(nil)
}
