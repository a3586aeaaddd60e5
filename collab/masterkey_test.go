package collab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterKeyProviderGeneratesAndPersists(t *testing.T) {
	store := NewMemorySecretProvider()
	provider := NewMasterKeyProvider(store)

	key, err := provider.MasterKey(context.Background())
	require.NoError(t, err)
	assert.Len(t, key, masterKeyBytes)

	again, err := provider.MasterKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestMasterKeyProviderReusesExistingSecret(t *testing.T) {
	store := NewMemorySecretProvider()
	first := NewMasterKeyProvider(store)
	key, err := first.MasterKey(context.Background())
	require.NoError(t, err)

	second := NewMasterKeyProvider(store)
	again, err := second.MasterKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestMasterKeyProviderRejectsCorruptSecret(t *testing.T) {
	store := NewMemorySecretProvider()
	require.NoError(t, store.Set(masterKeySecretName, "not-base64!!!"))

	provider := NewMasterKeyProvider(store)
	_, err := provider.MasterKey(context.Background())
	assert.Error(t, err)
}

func TestMasterKeyProviderRejectsWrongLength(t *testing.T) {
	store := NewMemorySecretProvider()
	require.NoError(t, store.Set(masterKeySecretName, "c2hvcnQ="))

	provider := NewMasterKeyProvider(store)
	_, err := provider.MasterKey(context.Background())
	assert.Error(t, err)
}
