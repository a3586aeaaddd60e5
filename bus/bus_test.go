package bus

import (
	"testing"

	"github.com/BaSui01/agentflow/types"
	"github.com/stretchr/testify/assert"
)

func TestSendAndReceive(t *testing.T) {
	b := New(nil)

	task := types.Task{
		ID:          "task-1",
		Description: "Test task",
		Priority:    types.PriorityHigh,
		Context: types.TaskContext{
			WorkspaceID:     "ws-1",
			UserInstruction: "Test",
		},
	}

	msg := types.NewTaskAssignMessage("task-1", task)
	assert.NoError(t, b.Send("agent-1", "agent-2", msg))

	msgs := b.Receive("agent-2")
	assert.Len(t, msgs, 1)
	assert.Equal(t, types.MsgTaskAssign, msgs[0].Kind)
}

func TestReceiveDrainsQueue(t *testing.T) {
	b := New(nil)
	assert.NoError(t, b.Send("a", "b", types.NewQueryMemoryMessage("q1")))
	assert.NoError(t, b.Send("a", "b", types.NewQueryMemoryMessage("q2")))

	msgs := b.Receive("b")
	assert.Equal(t, []string{"q1", "q2"}, []string{msgs[0].Query, msgs[1].Query})
	assert.Empty(t, b.Receive("b"))
}

func TestBroadcast(t *testing.T) {
	b := New(nil)

	result := types.TaskResult{Success: true, Output: "Test output"}
	msg := types.NewTaskResultMessage("task-1", result)

	assert.NoError(t, b.Send("agent-1", "agent-2", types.NewQueryMemoryMessage("test")))
	assert.NoError(t, b.Send("agent-1", "agent-3", types.NewQueryMemoryMessage("test")))

	b.Receive("agent-2")
	b.Receive("agent-3")

	b.Broadcast("agent-1", msg)

	assert.Len(t, b.Receive("agent-2"), 1)
	assert.Len(t, b.Receive("agent-3"), 1)
}

func TestBroadcastExcludesSender(t *testing.T) {
	b := New(nil)
	b.RegisterRecipient("agent-1")
	b.RegisterRecipient("agent-2")

	b.Broadcast("agent-1", types.NewQueryMemoryMessage("x"))

	assert.Empty(t, b.Receive("agent-1"))
	assert.Len(t, b.Receive("agent-2"), 1)
}

func TestPendingCount(t *testing.T) {
	b := New(nil)
	assert.Equal(t, 0, b.PendingCount("agent-1"))

	assert.NoError(t, b.Send("agent-1", "agent-1", types.NewQueryMemoryMessage("test")))
	assert.Equal(t, 1, b.PendingCount("agent-1"))
}

func TestHasPending(t *testing.T) {
	b := New(nil)
	assert.False(t, b.HasPending("agent-1"))

	assert.NoError(t, b.Send("agent-1", "agent-1", types.NewQueryMemoryMessage("test")))
	assert.True(t, b.HasPending("agent-1"))
}

func TestClear(t *testing.T) {
	b := New(nil)
	assert.NoError(t, b.Send("agent-1", "agent-1", types.NewQueryMemoryMessage("test")))
	assert.Equal(t, 1, b.PendingCount("agent-1"))

	b.Clear("agent-1")
	assert.Equal(t, 0, b.PendingCount("agent-1"))
}

func TestClearAll(t *testing.T) {
	b := New(nil)
	assert.NoError(t, b.Send("agent-1", "agent-1", types.NewQueryMemoryMessage("test")))
	assert.NoError(t, b.Send("agent-1", "agent-2", types.NewQueryMemoryMessage("test")))
	assert.Equal(t, 2, b.TotalPendingCount())

	b.ClearAll()
	assert.Equal(t, 0, b.TotalPendingCount())
}

func TestActiveAgentsCount(t *testing.T) {
	b := New(nil)
	assert.Equal(t, 0, b.ActiveAgentsCount())

	assert.NoError(t, b.Send("agent-1", "agent-1", types.NewQueryMemoryMessage("test")))
	assert.NoError(t, b.Send("agent-1", "agent-2", types.NewQueryMemoryMessage("test")))
	assert.Equal(t, 2, b.ActiveAgentsCount())
}
