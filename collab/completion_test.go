package collab

import (
	"context"
	"errors"
	"testing"

	"github.com/BaSui01/agentflow/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name         string
	completionFn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	streamFn     func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)
}

func (s *stubProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return s.completionFn(ctx, req)
}

func (s *stubProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return s.streamFn(ctx, req)
}

func (s *stubProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (s *stubProvider) Name() string                           { return s.name }
func (s *stubProvider) SupportsNativeFunctionCalling() bool     { return false }
func (s *stubProvider) ListModels(ctx context.Context) ([]llm.Model, error) { return nil, nil }

func newRegistryWith(name string, p llm.Provider) *llm.ProviderRegistry {
	reg := llm.NewProviderRegistry()
	reg.Register(name, p)
	return reg
}

func TestExecutePromptNonStreaming(t *testing.T) {
	p := &stubProvider{
		name: "stub",
		completionFn: func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			assert.Equal(t, "say hi", req.Messages[0].Content)
			return &llm.ChatResponse{
				Choices: []llm.ChatChoice{{Message: llm.Message{Content: "hi there"}}},
				Usage:   llm.ChatUsage{CompletionTokens: 2},
			}, nil
		},
	}

	c := New(newRegistryWith("stub", p), nil)
	var produced, estimated int
	out, err := c.ExecutePrompt(context.Background(), "stub", "model-x", "say hi", func(p, e int) {
		produced, estimated = p, e
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "hi there", out)
	assert.Equal(t, 2, produced)
	assert.GreaterOrEqual(t, estimated, 0)
}

func TestExecutePromptUnknownProvider(t *testing.T) {
	c := New(llm.NewProviderRegistry(), nil)
	_, err := c.ExecutePrompt(context.Background(), "missing", "model-x", "hi", nil, nil)
	assert.Error(t, err)
}

func TestExecutePromptStreaming(t *testing.T) {
	p := &stubProvider{
		name: "stub",
		streamFn: func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
			ch := make(chan llm.StreamChunk, 3)
			ch <- llm.StreamChunk{Delta: llm.Message{Content: "he"}}
			ch <- llm.StreamChunk{Delta: llm.Message{Content: "llo"}}
			ch <- llm.StreamChunk{Usage: &llm.ChatUsage{CompletionTokens: 2}}
			close(ch)
			return ch, nil
		},
	}

	c := New(newRegistryWith("stub", p), nil)
	var chunks []string
	out, err := c.ExecutePrompt(context.Background(), "stub", "model-x", "hi", nil, func(chunk string) {
		chunks = append(chunks, chunk)
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, []string{"he", "llo"}, chunks)
}

func TestExecutePromptStreamingPropagatesChunkError(t *testing.T) {
	wantErr := errors.New("connection reset")
	p := &stubProvider{
		name: "stub",
		streamFn: func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
			ch := make(chan llm.StreamChunk, 1)
			ch <- llm.StreamChunk{Err: &llm.Error{Message: wantErr.Error()}}
			close(ch)
			return ch, nil
		},
	}

	c := New(newRegistryWith("stub", p), nil)
	_, err := c.ExecutePrompt(context.Background(), "stub", "model-x", "hi", nil, func(string) {})
	assert.Error(t, err)
}
