package collab

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/BaSui01/agentflow/internal/cache"
	"go.uber.org/zap"
)

// CachedCompletion wraps an agentcore.AICompletion with a Redis-backed cache
// for non-streaming calls: identical (provider, model, prompt) calls within
// ttl return the cached text without invoking the underlying provider. A
// streamCB caller always bypasses the cache, since the point of streaming is
// to observe incremental deltas as they are produced.
type CachedCompletion struct {
	next   AICompletionFunc
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// AICompletionFunc is the method signature CachedCompletion decorates;
// *AICompletion (this package's registry-backed implementation) satisfies it.
type AICompletionFunc interface {
	ExecutePrompt(ctx context.Context, provider, model, prompt string, progressCB func(produced, estimated int), streamCB func(chunk string)) (string, error)
}

// NewCachedCompletion wraps next with cacheMgr, caching responses for ttl.
// A zero ttl falls back to cacheMgr's own configured default.
func NewCachedCompletion(next AICompletionFunc, cacheMgr *cache.Manager, ttl time.Duration, logger *zap.Logger) *CachedCompletion {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedCompletion{next: next, cache: cacheMgr, ttl: ttl, logger: logger.With(zap.String("component", "collab.cachedcompletion"))}
}

func (c *CachedCompletion) ExecutePrompt(ctx context.Context, provider, model, prompt string, progressCB func(produced, estimated int), streamCB func(chunk string)) (string, error) {
	if streamCB != nil {
		return c.next.ExecutePrompt(ctx, provider, model, prompt, progressCB, streamCB)
	}

	key := completionCacheKey(provider, model, prompt)
	if cached, err := c.cache.Get(ctx, key); err == nil {
		if progressCB != nil {
			progressCB(len(cached), len(cached))
		}
		return cached, nil
	}

	text, err := c.next.ExecutePrompt(ctx, provider, model, prompt, progressCB, nil)
	if err != nil {
		return "", err
	}
	if setErr := c.cache.Set(ctx, key, text, c.ttl); setErr != nil {
		c.logger.Warn("completion cache write failed", zap.String("provider", provider), zap.Error(setErr))
	}
	return text, nil
}

func completionCacheKey(provider, model, prompt string) string {
	sum := sha256.Sum256([]byte(provider + "\x00" + model + "\x00" + prompt))
	return "agentflow:completion:" + hex.EncodeToString(sum[:])
}
