package collab

import (
	"context"
	"time"

	"github.com/BaSui01/agentflow/llm"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiSDKProvider implements llm.Provider against Google's own
// google.golang.org/genai client, a swappable alternative to the
// hand-rolled HTTP adapter under llm/embedding's Gemini embedding provider
// (which only covers embeddings, not chat completion).
type GeminiSDKProvider struct {
	client       *genai.Client
	defaultModel string
	logger       *zap.Logger
}

// NewGeminiSDKProvider builds a Provider backed by the official genai SDK.
func NewGeminiSDKProvider(ctx context.Context, apiKey, defaultModel string, logger *zap.Logger) (*GeminiSDKProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &GeminiSDKProvider{
		client:       client,
		defaultModel: defaultModel,
		logger:       logger.With(zap.String("component", "collab.gemini_sdk")),
	}, nil
}

func (p *GeminiSDKProvider) Name() string                       { return "gemini-sdk" }
func (p *GeminiSDKProvider) SupportsNativeFunctionCalling() bool { return true }

func (p *GeminiSDKProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := p.chooseModel(req)
	contents, systemInstruction := toGeminiContents(req.Messages)

	cfg := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name(), Cause: err}
	}
	if len(resp.Candidates) == 0 {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: "gemini-sdk: empty candidates", Provider: p.Name()}
	}

	return &llm.ChatResponse{
		Provider: p.Name(),
		Model:    model,
		Choices: []llm.ChatChoice{{
			Index:   0,
			Message: llm.Message{Role: llm.RoleAssistant, Content: resp.Text()},
		}},
		CreatedAt: time.Now(),
		Usage: llm.ChatUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		},
	}, nil
}

func (p *GeminiSDKProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	model := p.chooseModel(req)
	contents, systemInstruction := toGeminiContents(req.Messages)

	cfg := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				p.logger.Warn("gemini-sdk stream ended with error", zap.Error(err))
				out <- llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name(), Cause: err}}
				return
			}
			if text := resp.Text(); text != "" {
				out <- llm.StreamChunk{Provider: p.Name(), Model: model, Delta: llm.Message{Role: llm.RoleAssistant, Content: text}}
			}
		}
	}()
	return out, nil
}

func (p *GeminiSDKProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.client.Models.Get(ctx, p.defaultModel, nil)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

func (p *GeminiSDKProvider) ListModels(ctx context.Context) ([]llm.Model, error) {
	page, err := p.client.Models.List(ctx, nil)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name(), Cause: err}
	}
	out := make([]llm.Model, 0, len(page.Items))
	for _, m := range page.Items {
		out = append(out, llm.Model{ID: m.Name, Object: "model", OwnedBy: "google"})
	}
	return out, nil
}

func (p *GeminiSDKProvider) chooseModel(req *llm.ChatRequest) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func toGeminiContents(msgs []llm.Message) ([]*genai.Content, string) {
	var system string
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			system = m.Content
		case llm.RoleAssistant:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return out, system
}
