// Package taskmanager assigns tasks to capable, idle agents and tracks the
// resulting task->agent table.
package taskmanager

import (
	"sync"

	"github.com/BaSui01/agentflow/agentcore"
	"github.com/BaSui01/agentflow/types"
)

// AgentDirectory is the read surface TaskManager needs from whatever holds
// the agent table; the Registry satisfies this alongside its broader
// responsibilities.
type AgentDirectory interface {
	Agents() map[types.AgentID]agentcore.Agent
	Agent(id types.AgentID) (agentcore.Agent, bool)
}

// TaskManager assigns each task to the first capable, idle agent it finds and
// tracks the resulting assignment until the task is cancelled or completes.
// Assignment is a single coarse-grained-locked read-modify-write: find a
// candidate, flip it to Busy, record the assignment, all under one lock, so
// two concurrent assign_task calls never both claim the same agent.
type TaskManager struct {
	mu          sync.Mutex
	agents      AgentDirectory
	assignments map[types.TaskID]types.AgentID
}

// New builds a TaskManager reading agents from dir.
func New(dir AgentDirectory) *TaskManager {
	return &TaskManager{
		agents:      dir,
		assignments: make(map[types.TaskID]types.AgentID),
	}
}

// AssignTask finds the first capable, idle agent for task, marks it Busy and
// records the assignment, returning its id. No candidate returns
// NoAvailableAgent.
func (m *TaskManager) AssignTask(task types.Task) (types.AgentID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agentID, agent, err := m.findBestAgent(task)
	if err != nil {
		return "", err
	}

	taskID := task.ID
	agent.UpdateStatus(types.StatusBusy())
	agent.SetCurrentTask(&taskID)
	m.assignments[task.ID] = agentID

	return agentID, nil
}

// findBestAgent returns the first agent in the directory that can handle task
// and is currently idle. Iteration order over a map is unspecified, matching
// the original's "first capable idle agent found" semantics rather than a
// ranked best-fit search.
func (m *TaskManager) findBestAgent(task types.Task) (types.AgentID, agentcore.Agent, error) {
	for id, agent := range m.agents.Agents() {
		if !agent.CanHandle(task) {
			continue
		}
		if agent.Info().Status.IsIdle() {
			return id, agent, nil
		}
	}
	return "", nil, types.NewNoAvailableAgent("no available agent can handle this task")
}

// GetTaskAgent returns the agent assigned to taskID, if any.
func (m *TaskManager) GetTaskAgent(taskID types.TaskID) (types.AgentID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.assignments[taskID]
	return id, ok
}

// CancelTask clears taskID's assignment and returns its agent to Idle. An
// unassigned taskID is a TaskExecutionFailed error.
func (m *TaskManager) CancelTask(taskID types.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	agentID, ok := m.assignments[taskID]
	if !ok {
		return types.NewTaskExecutionFailed("task " + string(taskID) + " not found")
	}
	delete(m.assignments, taskID)

	if agent, ok := m.agents.Agent(agentID); ok {
		agent.UpdateStatus(types.StatusIdle())
		agent.SetCurrentTask(nil)
	}
	return nil
}

// RemoveAssignment drops taskID's assignment without touching agent status,
// for use when the task has already completed and the agent's status was
// already updated by the caller.
func (m *TaskManager) RemoveAssignment(taskID types.TaskID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignments, taskID)
}

// ActiveTaskCount returns the number of tracked assignments.
func (m *TaskManager) ActiveTaskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.assignments)
}

// Assignment is one (task, agent) pairing.
type Assignment struct {
	TaskID  types.TaskID
	AgentID types.AgentID
}

// GetAllAssignments returns every tracked (task, agent) pairing.
func (m *TaskManager) GetAllAssignments() []Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Assignment, 0, len(m.assignments))
	for taskID, agentID := range m.assignments {
		out = append(out, Assignment{TaskID: taskID, AgentID: agentID})
	}
	return out
}
