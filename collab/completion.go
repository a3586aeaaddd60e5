// Package collab provides the concrete collaborator implementations the
// orchestration core depends on only through narrow interfaces:
// agentcore.AICompletion, vault.Embedder, vault.SecretProvider and
// vault.KeyProvider. Nothing in bus, agentcore, taskmanager, statusmonitor,
// vault or orchestrator imports this package — it is wired in at the
// application's composition root (cmd/agentflow) instead, keeping the core
// free of any concrete provider/SDK dependency.
package collab

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/agentflow/llm"
	"github.com/BaSui01/agentflow/llm/tokenizer"
	"go.uber.org/zap"
)

// AICompletion adapts an llm.ProviderRegistry into the narrow
// agentcore.AICompletion contract agents call through. It resolves provider
// by name on every call rather than binding to one at construction, so a
// single AICompletion instance serves every agent regardless of which
// provider its AgentConfig names.
type AICompletion struct {
	registry *llm.ProviderRegistry
	logger   *zap.Logger
}

// New builds an AICompletion resolving providers from registry.
func New(registry *llm.ProviderRegistry, logger *zap.Logger) *AICompletion {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AICompletion{registry: registry, logger: logger.With(zap.String("component", "collab.completion"))}
}

// ExecutePrompt resolves provider, sends prompt as a single user message, and
// returns the assembled response text. When streamCB is non-nil, it calls
// Stream and forwards each content delta as it arrives, assembling the full
// text from the same deltas; otherwise it calls Completion directly.
// progressCB, when non-nil, receives a best-effort (produced, estimated) pair
// of raw counts; no percentage is computed. produced is the response's
// CompletionTokens when not streaming, or the number of content-bearing chunks
// so far when streaming (followed by the reported CompletionTokens when a
// usage chunk arrives). estimated is the request's MaxTokens when set,
// otherwise the tokenizer's token count of the prompt.
func (c *AICompletion) ExecutePrompt(ctx context.Context, provider, model, prompt string, progressCB func(produced, estimated int), streamCB func(chunk string)) (string, error) {
	p, ok := c.registry.Get(provider)
	if !ok {
		return "", fmt.Errorf("ai completion: provider %q not registered", provider)
	}

	req := &llm.ChatRequest{
		Model:    model,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	}

	estimated := estimateResponseBudget(req, model)

	if streamCB == nil {
		resp, err := p.Completion(ctx, req)
		if err != nil {
			return "", err
		}
		if progressCB != nil {
			progressCB(resp.Usage.CompletionTokens, estimated)
		}
		return assembleChoice(resp), nil
	}

	stream, err := p.Stream(ctx, req)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	produced := 0
	for chunk := range stream {
		if chunk.Err != nil {
			return out.String(), chunk.Err
		}
		if chunk.Delta.Content != "" {
			out.WriteString(chunk.Delta.Content)
			streamCB(chunk.Delta.Content)
			produced++
			if progressCB != nil {
				progressCB(produced, estimated)
			}
		}
		if chunk.Usage != nil && progressCB != nil {
			progressCB(chunk.Usage.CompletionTokens, estimated)
		}
	}
	return out.String(), nil
}

func assembleChoice(resp *llm.ChatResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

// estimateResponseBudget reports the denominator ExecutePrompt's progress
// callback measures against: the request's explicit MaxTokens when set,
// otherwise a rough estimate from the tokenizer registered for model.
func estimateResponseBudget(req *llm.ChatRequest, model string) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	tok := tokenizer.GetTokenizerOrEstimator(model)
	if tok == nil {
		return 0
	}
	if n, err := tok.CountTokens(req.Messages[0].Content); err == nil {
		return n
	}
	return 0
}
