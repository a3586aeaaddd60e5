package agentcore

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/agentflow/bus"
	"github.com/BaSui01/agentflow/types"
	"go.uber.org/zap"
)

// BaseAgent is the default Agent realization specialized agents embed. Unlike
// a synchronous snapshot rebuilt on every Info() call, its AgentInfo lives
// behind a mutex and every mutator writes through it, so Info() always
// reflects the last UpdateStatus/SetCurrentTask call.
type BaseAgent struct {
	mu   sync.RWMutex
	info types.AgentInfo

	config        types.AgentConfig
	aiCompletion  AICompletion
	messageBus    *bus.Bus
	initialized   bool
	logger        *zap.Logger
}

// NewBaseAgent builds a BaseAgent whose Info() starts Idle under kind.
func NewBaseAgent(cfg types.AgentConfig, kind types.AgentKind, aiCompletion AICompletion, messageBus *bus.Bus, logger *zap.Logger) *BaseAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseAgent{
		info: types.AgentInfo{
			ID:     cfg.AgentID,
			Name:   string(cfg.AgentID),
			Kind:   kind,
			Status: types.StatusIdle(),
		},
		config:       cfg,
		aiCompletion: aiCompletion,
		messageBus:   messageBus,
		logger:       logger.With(zap.String("agent_id", string(cfg.AgentID))),
	}
}

// Info returns a live snapshot of the agent's identity and status.
func (b *BaseAgent) Info() types.AgentInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.info
}

// UpdateStatus replaces the agent's current status.
func (b *BaseAgent) UpdateStatus(status types.AgentStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.info.Status = status
}

// SetCurrentTask records (or clears, when nil) the task the agent is working.
func (b *BaseAgent) SetCurrentTask(taskID *types.TaskID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.info.CurrentTask = taskID
}

// IsInitialized reports whether Initialize has run without a matching
// Shutdown.
func (b *BaseAgent) IsInitialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// Config returns the agent's configuration.
func (b *BaseAgent) Config() types.AgentConfig { return b.config }

// MessageBus returns the bus handle this agent sends and receives through.
func (b *BaseAgent) MessageBus() *bus.Bus { return b.messageBus }

// SendMessage delegates to the message bus, addressed from this agent.
func (b *BaseAgent) SendMessage(to types.AgentID, msg types.AgentMessage) error {
	return b.messageBus.Send(b.config.AgentID, to, msg)
}

// ReceiveMessages drains this agent's pending queue.
func (b *BaseAgent) ReceiveMessages() []types.AgentMessage {
	return b.messageBus.Receive(b.config.AgentID)
}

// QueryAI resolves the agent's configured provider and asks it to complete
// prompt, with no progress or streaming callback — the form BaseAgent's
// illustrative ProcessTask uses. Specialized agents needing progress/stream
// callbacks call aiCompletion.ExecutePrompt directly.
func (b *BaseAgent) QueryAI(ctx context.Context, prompt string) (string, error) {
	providerName, ok := resolveProviderName(b.config.AIProvider)
	if !ok {
		return "", types.NewInvalidConfig(fmt.Sprintf("unknown provider: %s", b.config.AIProvider))
	}

	response, err := b.aiCompletion.ExecutePrompt(ctx, providerName, b.config.Model, prompt, nil, nil)
	if err != nil {
		return "", types.NewTaskExecutionFailed(err.Error())
	}
	return response, nil
}

// ProcessTask is the illustrative default: it asks the AI provider to
// complete the task's description and user instruction verbatim. Specialized
// agents (Critic and friends) override this with a real parsing contract;
// this default exists only so BaseAgent alone satisfies Agent.
func (b *BaseAgent) ProcessTask(ctx context.Context, task types.Task) (types.TaskResult, error) {
	prompt := fmt.Sprintf("Task: %s\n\nContext: %s\n\nPlease complete this task.", task.Description, task.Context.UserInstruction)

	response, err := b.QueryAI(ctx, prompt)
	if err != nil {
		return types.TaskResult{}, err
	}

	return types.TaskResult{
		Success: true,
		Output:  response,
		Metadata: map[string]any{
			"task_id":  string(task.ID),
			"agent_id": string(b.config.AgentID),
		},
	}, nil
}

// HandleMessage dispatches task assignments to ProcessTask, discarding the
// result (the caller receives it separately over the bus as a MsgTaskResult);
// every other message kind is a no-op at this layer.
func (b *BaseAgent) HandleMessage(ctx context.Context, msg types.AgentMessage) error {
	if msg.Kind == types.MsgTaskAssign && msg.Task != nil {
		if _, err := b.ProcessTask(ctx, *msg.Task); err != nil {
			return types.NewMessageHandlingFailed(err.Error())
		}
	}
	return nil
}

// Capabilities lists the default BaseAgent capability tags.
func (b *BaseAgent) Capabilities() []string {
	return []string{"task_processing", "message_handling", "ai_query"}
}

// CanHandle always reports true for BaseAgent; specialized agents narrow this
// with a capability/keyword check.
func (b *BaseAgent) CanHandle(task types.Task) bool { return true }

// Initialize marks the agent ready to process tasks.
func (b *BaseAgent) Initialize(ctx context.Context, cfg types.AgentConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = cfg
	b.initialized = true
	return nil
}

// Shutdown marks the agent no longer ready.
func (b *BaseAgent) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = false
	return nil
}
