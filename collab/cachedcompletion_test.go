package collab

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/agentflow/internal/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubCompletion struct {
	calls int
	fn    func(ctx context.Context, provider, model, prompt string, progressCB func(produced, estimated int), streamCB func(chunk string)) (string, error)
}

func (s *stubCompletion) ExecutePrompt(ctx context.Context, provider, model, prompt string, progressCB func(produced, estimated int), streamCB func(chunk string)) (string, error) {
	s.calls++
	return s.fn(ctx, provider, model, prompt, progressCB, streamCB)
}

func setupCachedCompletion(t *testing.T) (*miniredis.Miniredis, *stubCompletion, *CachedCompletion) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	mgr, err := cache.NewManager(cache.Config{Addr: mr.Addr(), DefaultTTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)

	stub := &stubCompletion{
		fn: func(ctx context.Context, provider, model, prompt string, progressCB func(produced, estimated int), streamCB func(chunk string)) (string, error) {
			return "response for " + prompt, nil
		},
	}

	return mr, stub, NewCachedCompletion(stub, mgr, time.Minute, nil)
}

func TestCachedCompletionCachesRepeatedPrompt(t *testing.T) {
	mr, stub, c := setupCachedCompletion(t)
	defer mr.Close()

	out1, err := c.ExecutePrompt(context.Background(), "stub", "model-x", "hello", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "response for hello", out1)
	assert.Equal(t, 1, stub.calls)

	out2, err := c.ExecutePrompt(context.Background(), "stub", "model-x", "hello", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
	assert.Equal(t, 1, stub.calls, "second identical call should be served from cache")
}

func TestCachedCompletionDistinctPromptsMiss(t *testing.T) {
	mr, stub, c := setupCachedCompletion(t)
	defer mr.Close()

	_, err := c.ExecutePrompt(context.Background(), "stub", "model-x", "hello", nil, nil)
	require.NoError(t, err)
	_, err = c.ExecutePrompt(context.Background(), "stub", "model-x", "goodbye", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, stub.calls)
}

func TestCachedCompletionBypassesCacheWhenStreaming(t *testing.T) {
	mr, stub, c := setupCachedCompletion(t)
	defer mr.Close()

	streamCB := func(chunk string) {}

	_, err := c.ExecutePrompt(context.Background(), "stub", "model-x", "hello", nil, streamCB)
	require.NoError(t, err)
	_, err = c.ExecutePrompt(context.Background(), "stub", "model-x", "hello", nil, streamCB)
	require.NoError(t, err)

	assert.Equal(t, 2, stub.calls, "streaming calls must never be served from cache")
}
