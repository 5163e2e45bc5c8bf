// Package identity holds the active user's key material and signs events
// either in-process (local mode) or through an external signer (delegated mode).
package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/carsonminor/nostr-research-client/internal/nips"
	"github.com/carsonminor/nostr-research-client/internal/nostr"
	"github.com/carsonminor/nostr-research-client/internal/types"
)

var (
	ErrInvalidKeyFormat = errors.New("invalid key format")
	ErrNoIdentity       = errors.New("no identity")
	ErrSigningRejected  = errors.New("signing rejected")
)

// DefaultSignTimeout bounds a delegated signing request when the caller's
// context carries no deadline.
const DefaultSignTimeout = 30 * time.Second

type Mode int

const (
	ModeLocal Mode = iota
	ModeDelegated
)

func (m Mode) String() string {
	if m == ModeDelegated {
		return "delegated"
	}
	return "local"
}

// ExternalSigner is a signing capability that holds the secret key outside
// this process, e.g. a NIP-46 remote signer.
type ExternalSigner interface {
	GetPublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, evt types.UnsignedEvent) (*types.Event, error)
}

// Identity is the active user. The secret key is present iff the mode is local.
type Identity struct {
	mu         sync.RWMutex
	publicKey  string
	privateKey []byte
	mode       Mode
	external   ExternalSigner
}

// Generate creates a local identity from a fresh random key.
// An error here means the system entropy source failed.
func Generate() (*Identity, error) {
	privHex, err := nostr.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return ImportLocal(privHex)
}

// ImportLocal builds a local identity from a 64 character hex secret key.
// Upper case hex is accepted. Any other character, whitespace included, is
// rejected.
func ImportLocal(privKeyHex string) (*Identity, error) {
	privKeyHex = strings.ToLower(privKeyHex)
	pub, err := nostr.PublicKey(privKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	priv, _ := hex.DecodeString(privKeyHex)
	return &Identity{publicKey: pub, privateKey: priv, mode: ModeLocal}, nil
}

// ImportNsec builds a local identity from an nsec or a hex secret key as a
// user typed or pasted it. Surrounding whitespace is ignored.
func ImportNsec(key string) (*Identity, error) {
	key = strings.TrimSpace(key)
	if nostr.IsHex64(strings.ToLower(key)) {
		return ImportLocal(key)
	}
	prefix, value, err := nips.Decode(key)
	if err != nil || prefix != nips.PrefixSecretKey {
		return nil, ErrInvalidKeyFormat
	}
	return ImportLocal(value)
}

// ImportDelegated builds an identity whose signatures come from signer.
// No secret is held.
func ImportDelegated(pubKeyHex string, signer ExternalSigner) (*Identity, error) {
	pubKeyHex = nostr.NormalizeHex(pubKeyHex)
	if !nostr.ValidPublicKey(pubKeyHex) {
		return nil, ErrInvalidKeyFormat
	}
	if signer == nil {
		return nil, errors.New("identity: nil external signer")
	}
	return &Identity{publicKey: pubKeyHex, mode: ModeDelegated, external: signer}, nil
}

// ConnectDelegated asks signer for its public key and imports it.
func ConnectDelegated(ctx context.Context, signer ExternalSigner) (*Identity, error) {
	pub, err := signer.GetPublicKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("external signer public key: %w", err)
	}
	return ImportDelegated(pub, signer)
}

func (id *Identity) PublicKey() string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.publicKey
}

func (id *Identity) Mode() Mode {
	return id.mode
}

// PrivateKey returns the hex secret key. ok is false for delegated or wiped identities.
func (id *Identity) PrivateKey() (string, bool) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.mode != ModeLocal || len(id.privateKey) == 0 {
		return "", false
	}
	return hex.EncodeToString(id.privateKey), true
}

// Npub returns the NIP-19 encoding of the public key.
func (id *Identity) Npub() string {
	npub, _ := nips.EncodePubkey(id.PublicKey())
	return npub
}

// Nsec returns the NIP-19 encoding of the secret key for local identities.
func (id *Identity) Nsec() (string, bool) {
	priv, ok := id.PrivateKey()
	if !ok {
		return "", false
	}
	nsec, err := nips.EncodeSecretKey(priv)
	if err != nil {
		return "", false
	}
	return nsec, true
}

// Wipe zeroes the in-memory secret. The identity can no longer sign locally.
func (id *Identity) Wipe() {
	id.mu.Lock()
	defer id.mu.Unlock()
	for i := range id.privateKey {
		id.privateKey[i] = 0
	}
	id.privateKey = nil
}

// Sign stamps the identity's public key on evt and returns the signed event.
// Delegated failures of any kind are reported as ErrSigningRejected.
func (id *Identity) Sign(ctx context.Context, evt types.UnsignedEvent) (*types.Event, error) {
	evt.PubKey = id.PublicKey()

	switch id.mode {
	case ModeLocal:
		priv, ok := id.PrivateKey()
		if !ok {
			return nil, ErrNoIdentity
		}
		signed, err := nostr.SignEvent(evt, priv)
		if err != nil {
			return nil, err
		}
		return &signed, nil
	case ModeDelegated:
		return id.signDelegated(ctx, evt)
	default:
		return nil, fmt.Errorf("identity: unknown mode %d", id.mode)
	}
}

func (id *Identity) signDelegated(ctx context.Context, evt types.UnsignedEvent) (*types.Event, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultSignTimeout)
		defer cancel()
	}

	type result struct {
		evt *types.Event
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("external signer panic: %v", r)}
			}
		}()
		signed, err := id.external.SignEvent(ctx, evt)
		done <- result{signed, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	if res.err != nil {
		slog.Warn("external signer failed", "kind", evt.Kind, "error", res.err)
		return nil, fmt.Errorf("%w: %v", ErrSigningRejected, res.err)
	}
	if err := checkDelegatedResult(evt, res.evt); err != nil {
		slog.Warn("external signer returned unusable event", "kind", evt.Kind, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSigningRejected, err)
	}
	return res.evt, nil
}

func checkDelegatedResult(want types.UnsignedEvent, got *types.Event) error {
	switch {
	case got == nil:
		return errors.New("no event returned")
	case got.PubKey != want.PubKey:
		return fmt.Errorf("pubkey %s does not match identity", nostr.ShortID(got.PubKey))
	case got.Kind != want.Kind || got.Content != want.Content:
		return errors.New("signed event differs from request")
	case !nostr.VerifyEvent(*got):
		return fmt.Errorf("invalid id or signature on %s", nostr.ShortID(got.ID))
	}
	return nil
}
