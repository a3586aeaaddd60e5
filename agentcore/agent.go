// Package agentcore defines the Agent Runtime contract: the polymorphic
// behavior every cooperative agent implements, plus a BaseAgent realization
// specialized agents embed and override.
package agentcore

import (
	"context"

	"github.com/BaSui01/agentflow/types"
)

// Agent is the contract every cooperative agent satisfies. info/capabilities/
// can_handle are synchronous and side-effect free; the rest suspend on I/O
// and take a context.Context so callers can cancel or bound them.
type Agent interface {
	Info() types.AgentInfo
	Capabilities() []string
	CanHandle(task types.Task) bool

	ProcessTask(ctx context.Context, task types.Task) (types.TaskResult, error)
	HandleMessage(ctx context.Context, msg types.AgentMessage) error

	Initialize(ctx context.Context, cfg types.AgentConfig) error
	Shutdown(ctx context.Context) error

	UpdateStatus(status types.AgentStatus)
	SetCurrentTask(taskID *types.TaskID)
}

// AICompletion is the abstract AI-completion collaborator agents call
// through. progressCB reports best-effort token progress (may be nil);
// streamCB, when non-nil, receives incremental text as it arrives in
// addition to the final return value.
type AICompletion interface {
	ExecutePrompt(ctx context.Context, provider, model, prompt string, progressCB func(produced, estimated int), streamCB func(chunk string)) (string, error)
}

// providerNames maps the spec's short AIProvider config strings onto the
// identifiers the underlying AICompletion collaborator expects.
var providerNames = map[string]string{
	"rainy_api":  "anthropic",
	"cowork_api": "openai",
	"gemini":     "gemini",
}

// resolveProviderName validates cfg's AIProvider string against the known
// short names, mirroring the original's ProviderType mapping.
func resolveProviderName(short string) (string, bool) {
	name, ok := providerNames[short]
	return name, ok
}
