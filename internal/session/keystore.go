package session

import (
	"context"
	"fmt"

	"github.com/carsonminor/nostr-research-client/internal/cache"
)

// StorageKey is where the hex secret key of a local identity is persisted.
const StorageKey = "nostr-private-key"

// KeyStore persists the local secret key in a cache backend.
type KeyStore struct {
	backend cache.Backend
}

func NewKeyStore(backend cache.Backend) *KeyStore {
	return &KeyStore{backend: backend}
}

// Load returns the stored key. ok is false when none is stored.
func (k *KeyStore) Load(ctx context.Context) (string, bool, error) {
	data, ok, err := k.backend.Get(ctx, StorageKey)
	if err != nil {
		return "", false, fmt.Errorf("load key: %w", err)
	}
	return string(data), ok, nil
}

func (k *KeyStore) Save(ctx context.Context, privKeyHex string) error {
	if err := k.backend.Set(ctx, StorageKey, []byte(privKeyHex), 0); err != nil {
		return fmt.Errorf("save key: %w", err)
	}
	return nil
}

func (k *KeyStore) Delete(ctx context.Context) error {
	if err := k.backend.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	return nil
}
