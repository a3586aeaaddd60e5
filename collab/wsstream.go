package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/BaSui01/agentflow/llm"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// wsFrame is the wire shape WebSocketDemoProvider's server and client sides
// exchange: one frame per completion token, with the final frame carrying
// usage instead of a token.
type wsFrame struct {
	Token string         `json:"token,omitempty"`
	Done  bool           `json:"done,omitempty"`
	Usage *llm.ChatUsage `json:"usage,omitempty"`
}

// WebSocketDemoProvider is a demonstration-only llm.Provider that exercises
// the stream_cb half of the AI-completion contract over a real
// github.com/coder/websocket connection rather than an HTTP SSE body. No
// vendor exposes a completion endpoint over plain websockets, so this
// provider hosts its own loopback server: calling Stream spins up a
// short-lived httptest server that tokenizes the last user message by
// whitespace and emits one wsFrame per token, and dials it as a client.
type WebSocketDemoProvider struct {
	tokenDelay time.Duration
	logger     *zap.Logger
}

// NewWebSocketDemoProvider builds the loopback demo provider. tokenDelay
// paces emitted tokens; zero sends them as fast as the socket allows.
func NewWebSocketDemoProvider(tokenDelay time.Duration, logger *zap.Logger) *WebSocketDemoProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketDemoProvider{tokenDelay: tokenDelay, logger: logger.With(zap.String("component", "collab.wsstream"))}
}

func (p *WebSocketDemoProvider) Name() string                       { return "websocket-demo" }
func (p *WebSocketDemoProvider) SupportsNativeFunctionCalling() bool { return false }

func (p *WebSocketDemoProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true, Latency: 0}, nil
}

func (p *WebSocketDemoProvider) ListModels(ctx context.Context) ([]llm.Model, error) {
	return []llm.Model{{ID: "websocket-demo-echo", Object: "model", OwnedBy: "agentflow"}}, nil
}

// Completion drains Stream and assembles the tokens into one response.
func (p *WebSocketDemoProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	stream, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	var text strings.Builder
	var usage llm.ChatUsage
	for chunk := range stream {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		text.WriteString(chunk.Delta.Content)
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
	}
	return &llm.ChatResponse{
		Provider:  p.Name(),
		Model:     req.Model,
		CreatedAt: time.Now(),
		Choices:   []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: text.String()}}},
		Usage:     usage,
	}, nil
}

func (p *WebSocketDemoProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	prompt := lastUserMessage(req.Messages)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.serveEcho(w, r, prompt)
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		server.Close()
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name(), Cause: err}
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer server.Close()
		defer conn.CloseNow()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var frame wsFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				out <- llm.StreamChunk{Err: &llm.Error{Code: llm.ErrUpstreamError, Message: "malformed frame: " + err.Error(), Provider: p.Name()}}
				return
			}
			if frame.Done {
				if frame.Usage != nil {
					out <- llm.StreamChunk{Provider: p.Name(), Usage: frame.Usage}
				}
				_ = conn.Close(websocket.StatusNormalClosure, "done")
				return
			}
			out <- llm.StreamChunk{Provider: p.Name(), Delta: llm.Message{Role: llm.RoleAssistant, Content: frame.Token + " "}}
		}
	}()

	return out, nil
}

// serveEcho is the loopback "vendor": it accepts the websocket upgrade and
// emits the prompt back one word at a time, demonstrating the protocol a
// real streaming websocket backend would speak.
func (p *WebSocketDemoProvider) serveEcho(w http.ResponseWriter, r *http.Request, prompt string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	words := strings.Fields(prompt)
	for _, word := range words {
		payload, err := json.Marshal(wsFrame{Token: word})
		if err != nil {
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return
		}
		if p.tokenDelay > 0 {
			time.Sleep(p.tokenDelay)
		}
	}

	done, err := json.Marshal(wsFrame{Done: true, Usage: &llm.ChatUsage{CompletionTokens: len(words), TotalTokens: len(words)}})
	if err != nil {
		return
	}
	_ = conn.Write(ctx, websocket.MessageText, done)
}

func lastUserMessage(msgs []llm.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
