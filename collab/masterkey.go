package collab

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
)

// masterKeySecretName is the secret key MasterKeyProvider fetches and
// persists the vault's AES-256 master key under.
const masterKeySecretName = "vault_master_key"

// masterKeyBytes is the vault's AES-256-GCM key size (see vault.Service).
const masterKeyBytes = 32

// secretStore is the narrow read/write contract MasterKeyProvider needs from
// a secret backend. Both KeyringSecretProvider and MemorySecretProvider
// satisfy it; vault.SecretProvider itself only needs the read half.
type secretStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(key, value string) error
}

// MasterKeyProvider resolves the vault's master key from a secretStore,
// generating and persisting a fresh random one the first time it is asked.
// It satisfies vault.KeyProvider; callers resolve MasterKey once at startup
// and pass the result into vault.New, since vault.New takes the raw key
// rather than a KeyProvider.
type MasterKeyProvider struct {
	store secretStore
	mu    sync.Mutex
}

// NewMasterKeyProvider wraps store as a vault.KeyProvider.
func NewMasterKeyProvider(store secretStore) *MasterKeyProvider {
	return &MasterKeyProvider{store: store}
}

// MasterKey satisfies vault.KeyProvider.
func (p *MasterKeyProvider) MasterKey(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	encoded, ok, err := p.store.Get(ctx, masterKeySecretName)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	if ok {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("master key: stored value is not valid base64: %w", err)
		}
		if len(key) != masterKeyBytes {
			return nil, fmt.Errorf("master key: stored key is %d bytes, want %d", len(key), masterKeyBytes)
		}
		return key, nil
	}

	key := make([]byte, masterKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("master key: generating: %w", err)
	}
	if err := p.store.Set(masterKeySecretName, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("master key: persisting: %w", err)
	}
	return key, nil
}
