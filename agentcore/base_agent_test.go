package agentcore

import (
	"context"
	"testing"

	"github.com/BaSui01/agentflow/bus"
	"github.com/BaSui01/agentflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompletion struct {
	response string
	err      error
}

func (s stubCompletion) ExecutePrompt(ctx context.Context, provider, model, prompt string, progressCB func(int, int), streamCB func(string)) (string, error) {
	if streamCB != nil {
		streamCB(s.response)
	}
	return s.response, s.err
}

func newTestBaseAgent(resp string) *BaseAgent {
	cfg := types.AgentConfig{AgentID: "agent-1", WorkspaceID: "ws-1", AIProvider: "gemini", Model: "gemini-pro"}
	return NewBaseAgent(cfg, types.KindDirector, stubCompletion{response: resp}, bus.New(nil), nil)
}

func TestBaseAgentCreation(t *testing.T) {
	a := newTestBaseAgent("")
	info := a.Info()
	assert.Equal(t, types.AgentID("agent-1"), info.ID)
	assert.Equal(t, types.KindDirector, info.Kind)
	assert.True(t, info.Status.IsIdle())
	assert.Nil(t, info.CurrentTask)
}

func TestBaseAgentStatusUpdate(t *testing.T) {
	a := newTestBaseAgent("")
	a.UpdateStatus(types.StatusBusy())
	assert.True(t, a.Info().Status.IsBusy())
}

func TestBaseAgentCurrentTask(t *testing.T) {
	a := newTestBaseAgent("")
	taskID := types.TaskID("task-1")
	a.SetCurrentTask(&taskID)
	require.NotNil(t, a.Info().CurrentTask)
	assert.Equal(t, taskID, *a.Info().CurrentTask)

	a.SetCurrentTask(nil)
	assert.Nil(t, a.Info().CurrentTask)
}

func TestBaseAgentProcessTask(t *testing.T) {
	a := newTestBaseAgent("task complete")
	task := types.Task{
		ID:          "task-1",
		Description: "summarize the document",
		Context:     types.TaskContext{WorkspaceID: "ws-1", UserInstruction: "summarize it"},
	}

	result, err := a.ProcessTask(context.Background(), task)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "task complete", result.Output)
	assert.Equal(t, "task-1", result.Metadata["task_id"])
}

func TestBaseAgentCapabilitiesAndCanHandle(t *testing.T) {
	a := newTestBaseAgent("")
	assert.ElementsMatch(t, []string{"task_processing", "message_handling", "ai_query"}, a.Capabilities())
	assert.True(t, a.CanHandle(types.Task{}))
}

func TestBaseAgentInitializeAndShutdown(t *testing.T) {
	a := newTestBaseAgent("")
	assert.False(t, a.IsInitialized())

	require.NoError(t, a.Initialize(context.Background(), a.Config()))
	assert.True(t, a.IsInitialized())

	require.NoError(t, a.Shutdown(context.Background()))
	assert.False(t, a.IsInitialized())
}

func TestBaseAgentUnknownProviderRejected(t *testing.T) {
	cfg := types.AgentConfig{AgentID: "agent-1", AIProvider: "unknown_provider"}
	a := NewBaseAgent(cfg, types.KindDirector, stubCompletion{response: "x"}, bus.New(nil), nil)

	_, err := a.QueryAI(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
}

func TestBaseAgentSendReceiveMessage(t *testing.T) {
	b := bus.New(nil)
	cfg := types.AgentConfig{AgentID: "agent-1", AIProvider: "gemini"}
	a := NewBaseAgent(cfg, types.KindDirector, stubCompletion{}, b, nil)

	require.NoError(t, a.SendMessage("agent-2", types.NewQueryMemoryMessage("q")))
	assert.Len(t, b.Receive("agent-2"), 1)
}
