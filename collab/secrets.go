package collab

import (
	"context"
	"errors"
	"sync"

	"github.com/zalando/go-keyring"
)

// keyringService namespaces every credential this process stores in the
// OS keyring so it never collides with another application's entries.
const keyringService = "agentflow"

// KeyringSecretProvider resolves credentials from the host OS's credential
// store (macOS Keychain, Windows Credential Manager, the Secret Service on
// Linux) via zalando/go-keyring. It satisfies vault.SecretProvider.
type KeyringSecretProvider struct{}

// NewKeyringSecretProvider builds a SecretProvider backed by the OS keyring.
func NewKeyringSecretProvider() *KeyringSecretProvider {
	return &KeyringSecretProvider{}
}

// Get satisfies vault.SecretProvider: a missing key is (\"\", false, nil),
// not an error.
func (p *KeyringSecretProvider) Get(_ context.Context, key string) (string, bool, error) {
	value, err := keyring.Get(keyringService, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores or overwrites key in the OS keyring.
func (p *KeyringSecretProvider) Set(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// MemorySecretProvider is an in-process SecretProvider for tests and
// single-process deployments that should not touch the host OS keyring. It
// satisfies vault.SecretProvider and adds the Set capability
// MasterKeyProvider needs to persist a generated key.
type MemorySecretProvider struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemorySecretProvider builds an empty in-memory SecretProvider.
func NewMemorySecretProvider() *MemorySecretProvider {
	return &MemorySecretProvider{secrets: make(map[string]string)}
}

// Get satisfies vault.SecretProvider.
func (p *MemorySecretProvider) Get(_ context.Context, key string) (string, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.secrets[key]
	return v, ok, nil
}

// Set stores or overwrites key in memory.
func (p *MemorySecretProvider) Set(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.secrets[key] = value
	return nil
}
