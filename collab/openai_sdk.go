package collab

import (
	"context"
	"time"

	"github.com/BaSui01/agentflow/llm"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// OpenAISDKProvider implements llm.Provider against OpenAI's own
// github.com/openai/openai-go/v3 client rather than the hand-rolled HTTP
// adapter under llm/providers/openai: a swappable, non-core collaborator
// wired in only at the composition root.
type OpenAISDKProvider struct {
	client       openai.Client
	defaultModel string
	logger       *zap.Logger
}

// NewOpenAISDKProvider builds a Provider backed by the official OpenAI SDK.
func NewOpenAISDKProvider(apiKey, defaultModel string, logger *zap.Logger) *OpenAISDKProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultModel == "" {
		defaultModel = openai.ChatModelGPT4o
	}
	return &OpenAISDKProvider{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
		logger:       logger.With(zap.String("component", "collab.openai_sdk")),
	}
}

func (p *OpenAISDKProvider) Name() string                       { return "openai-sdk" }
func (p *OpenAISDKProvider) SupportsNativeFunctionCalling() bool { return true }

func (p *OpenAISDKProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.chooseModel(req)),
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name(), Cause: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: "openai-sdk: empty choices", Provider: p.Name()}
	}

	choices := make([]llm.ChatChoice, len(resp.Choices))
	for i, c := range resp.Choices {
		choices[i] = llm.ChatChoice{
			Index:        int(c.Index),
			FinishReason: string(c.FinishReason),
			Message:      llm.Message{Role: llm.RoleAssistant, Content: c.Message.Content},
		}
	}

	return &llm.ChatResponse{
		ID:        resp.ID,
		Provider:  p.Name(),
		Model:     resp.Model,
		Choices:   choices,
		CreatedAt: time.Unix(resp.Created, 0),
		Usage: llm.ChatUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (p *OpenAISDKProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.chooseModel(req)),
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	out := make(chan llm.StreamChunk)

	go func() {
		defer close(out)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0]
			out <- llm.StreamChunk{
				ID:           chunk.ID,
				Provider:     p.Name(),
				Model:        chunk.Model,
				Delta:        llm.Message{Role: llm.RoleAssistant, Content: delta.Delta.Content},
				FinishReason: string(delta.FinishReason),
			}
		}
		if err := stream.Err(); err != nil {
			p.logger.Warn("openai-sdk stream ended with error", zap.Error(err))
			out <- llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name(), Cause: err}}
		}
	}()

	return out, nil
}

func (p *OpenAISDKProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.client.Models.List(ctx)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (p *OpenAISDKProvider) ListModels(ctx context.Context) ([]llm.Model, error) {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name(), Cause: err}
	}
	out := make([]llm.Model, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, llm.Model{ID: m.ID, Object: "model", Created: m.Created, OwnedBy: m.OwnedBy})
	}
	return out, nil
}

func (p *OpenAISDKProvider) chooseModel(req *llm.ChatRequest) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func toOpenAIMessages(msgs []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case llm.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
