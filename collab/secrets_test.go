package collab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySecretProviderGetMissingIsNotError(t *testing.T) {
	p := NewMemorySecretProvider()
	value, ok, err := p.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestMemorySecretProviderSetThenGet(t *testing.T) {
	p := NewMemorySecretProvider()
	require.NoError(t, p.Set("api-key", "sk-test"))

	value, ok, err := p.Get(context.Background(), "api-key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sk-test", value)
}

func TestMemorySecretProviderOverwrite(t *testing.T) {
	p := NewMemorySecretProvider()
	require.NoError(t, p.Set("api-key", "first"))
	require.NoError(t, p.Set("api-key", "second"))

	value, ok, err := p.Get(context.Background(), "api-key")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", value)
}
