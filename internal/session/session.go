// Package session owns the signed-in identity and the relay set for one
// client run. Callers create a Session, pass it where an identity is needed
// and tear it down with SignOut.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/carsonminor/nostr-research-client/internal/identity"
	"github.com/carsonminor/nostr-research-client/internal/nostr"
	"github.com/carsonminor/nostr-research-client/internal/pricing"
	"github.com/carsonminor/nostr-research-client/internal/relay"
)

type Session struct {
	store   *KeyStore
	pool    *relay.Pool
	pricing *pricing.Aggregator

	mu sync.RWMutex
	id *identity.Identity
}

// New returns a signed-out session. agg may be nil when pricing is unused.
func New(store *KeyStore, pool *relay.Pool, agg *pricing.Aggregator) *Session {
	return &Session{store: store, pool: pool, pricing: agg}
}

func (s *Session) Pool() *relay.Pool { return s.pool }

func (s *Session) Pricing() *pricing.Aggregator { return s.pricing }

// Identity returns the active identity or nil when signed out.
func (s *Session) Identity() *identity.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) SignedIn() bool {
	return s.Identity() != nil
}

// Restore signs in with a previously persisted local key. It reports false
// when nothing is stored. A stored key that no longer parses is removed.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	stored, ok, err := s.store.Load(ctx)
	if err != nil || !ok {
		return false, err
	}
	id, err := identity.ImportLocal(stored)
	if err != nil {
		slog.Warn("discarding unreadable stored key", "error", err)
		if delErr := s.store.Delete(ctx); delErr != nil {
			return false, multierr.Append(err, delErr)
		}
		return false, err
	}
	s.setIdentity(id)
	slog.Info("session restored", "pubkey", nostr.ShortID(id.PublicKey()))
	return true, nil
}

// SignInGenerate creates and persists a fresh local key.
func (s *Session) SignInGenerate(ctx context.Context) (*identity.Identity, error) {
	id, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	return s.signInLocal(ctx, id)
}

// SignInLocal imports a hex or nsec secret key and persists it.
func (s *Session) SignInLocal(ctx context.Context, key string) (*identity.Identity, error) {
	id, err := identity.ImportNsec(key)
	if err != nil {
		return nil, err
	}
	return s.signInLocal(ctx, id)
}

// UseLocal signs in with a hex or nsec secret key for the life of this
// session only. The store is neither written nor cleared.
func (s *Session) UseLocal(key string) (*identity.Identity, error) {
	id, err := identity.ImportNsec(key)
	if err != nil {
		return nil, err
	}
	s.setIdentity(id)
	slog.Info("signed in", "mode", id.Mode().String(), "pubkey", nostr.ShortID(id.PublicKey()), "persisted", false)
	return id, nil
}

func (s *Session) signInLocal(ctx context.Context, id *identity.Identity) (*identity.Identity, error) {
	priv, _ := id.PrivateKey()
	if err := s.store.Save(ctx, priv); err != nil {
		id.Wipe()
		return nil, err
	}
	s.setIdentity(id)
	slog.Info("signed in", "mode", id.Mode().String(), "pubkey", nostr.ShortID(id.PublicKey()))
	return id, nil
}

// SignInDelegated signs in through an external signer. Nothing is persisted,
// and a previously stored local key is removed.
func (s *Session) SignInDelegated(ctx context.Context, signer identity.ExternalSigner) (*identity.Identity, error) {
	id, err := identity.ConnectDelegated(ctx, signer)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx); err != nil {
		return nil, err
	}
	s.setIdentity(id)
	slog.Info("signed in", "mode", id.Mode().String(), "pubkey", nostr.ShortID(id.PublicKey()))
	return id, nil
}

func (s *Session) setIdentity(id *identity.Identity) {
	s.mu.Lock()
	prev := s.id
	s.id = id
	s.mu.Unlock()
	if prev != nil && prev != id {
		prev.Wipe()
	}
}

// AddRelay connects url and registers it with the pricing aggregator.
// The relay is kept even when the connection fails.
func (s *Session) AddRelay(ctx context.Context, url string) error {
	conn, err := s.pool.Connect(ctx, url)
	if s.pricing != nil && conn != nil {
		s.pricing.AddRelay(conn.URL())
	}
	return err
}

// ConnectRelays adds every url in parallel and reports per-url errors.
func (s *Session) ConnectRelays(ctx context.Context, urls []string) map[string]error {
	results := s.pool.ConnectAll(ctx, urls)
	if s.pricing != nil {
		for _, u := range urls {
			if key := nostr.NormalizeRelayURL(u); key != "" {
				s.pricing.AddRelay(key)
			}
		}
	}
	return results
}

func (s *Session) RemoveRelay(url string) error {
	if s.pricing != nil {
		s.pricing.RemoveRelay(nostr.NormalizeRelayURL(url))
	}
	return s.pool.Remove(url)
}

// SignOut disconnects every relay, deletes the persisted key and wipes the
// in-memory identity.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	id := s.id
	s.id = nil
	s.mu.Unlock()

	if id != nil {
		id.Wipe()
	}
	if s.pricing != nil {
		s.pricing.Reset()
	}
	err := multierr.Append(s.pool.Close(), s.store.Delete(ctx))
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	slog.Info("signed out")
	return nil
}
