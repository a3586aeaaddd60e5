package collab

import (
	"context"
	"time"

	"github.com/BaSui01/agentflow/llm"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// AnthropicSDKProvider implements llm.Provider against Anthropic's own
// github.com/anthropics/anthropic-sdk-go client, a swappable alternative to
// the hand-rolled HTTP adapter under llm/providers/anthropic.
type AnthropicSDKProvider struct {
	client       anthropic.Client
	defaultModel anthropic.Model
	logger       *zap.Logger
}

// NewAnthropicSDKProvider builds a Provider backed by the official Anthropic SDK.
func NewAnthropicSDKProvider(apiKey, defaultModel string, logger *zap.Logger) *AnthropicSDKProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := anthropic.Model(defaultModel)
	if model == "" {
		model = anthropic.ModelClaude3_5SonnetLatest
	}
	return &AnthropicSDKProvider{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: model,
		logger:       logger.With(zap.String("component", "collab.anthropic_sdk")),
	}
}

func (p *AnthropicSDKProvider) Name() string                       { return "anthropic-sdk" }
func (p *AnthropicSDKProvider) SupportsNativeFunctionCalling() bool { return true }

func (p *AnthropicSDKProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	system, messages := toAnthropicMessages(req.Messages)
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     p.chooseModel(req),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name(), Cause: err}
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &llm.ChatResponse{
		ID:       msg.ID,
		Provider: p.Name(),
		Model:    string(msg.Model),
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: string(msg.StopReason),
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
		}},
		CreatedAt: time.Now(),
		Usage: llm.ChatUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

func (p *AnthropicSDKProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	system, messages := toAnthropicMessages(req.Messages)
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     p.chooseModel(req),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan llm.StreamChunk)

	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			if delta.Delta.Text == "" {
				continue
			}
			out <- llm.StreamChunk{Provider: p.Name(), Delta: llm.Message{Role: llm.RoleAssistant, Content: delta.Delta.Text}}
		}
		if err := stream.Err(); err != nil {
			p.logger.Warn("anthropic-sdk stream ended with error", zap.Error(err))
			out <- llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name(), Cause: err}}
		}
	}()

	return out, nil
}

func (p *AnthropicSDKProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (p *AnthropicSDKProvider) ListModels(ctx context.Context) ([]llm.Model, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name(), Cause: err}
	}
	out := make([]llm.Model, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, llm.Model{ID: m.ID, Object: "model", OwnedBy: "anthropic"})
	}
	return out, nil
}

func (p *AnthropicSDKProvider) chooseModel(req *llm.ChatRequest) anthropic.Model {
	if req != nil && req.Model != "" {
		return anthropic.Model(req.Model)
	}
	return p.defaultModel
}

func toAnthropicMessages(msgs []llm.Message) (string, []anthropic.MessageParam) {
	var system string
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			system = m.Content
		case llm.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, out
}
