// Package statusmonitor provides pure read projections over an agent table:
// per-agent status, filtered lists by state, and numeric counts. It never
// mutates agent state.
package statusmonitor

import (
	"github.com/BaSui01/agentflow/agentcore"
	"github.com/BaSui01/agentflow/types"
)

// AgentDirectory is the read surface StatusMonitor needs; the Registry
// satisfies it alongside its broader responsibilities.
type AgentDirectory interface {
	Agents() map[types.AgentID]agentcore.Agent
	Agent(id types.AgentID) (agentcore.Agent, bool)
}

// Mirror is an optional external projection cache. A StatusMonitor with a
// Mirror configured writes the full agent list through to it on every
// ListAgents call (the filtered and count methods do not write), purely as a
// performance aid for out-of-process readers; it is never consulted as the
// source of truth — every StatusMonitor method still reads agents directly.
type Mirror interface {
	WriteSnapshot(agents []types.AgentInfo) error
}

// StatusMonitor is a thin, mutation-free view over an AgentDirectory.
type StatusMonitor struct {
	agents AgentDirectory
	mirror Mirror
}

// New builds a StatusMonitor reading agents from dir. mirror may be nil.
func New(dir AgentDirectory, mirror Mirror) *StatusMonitor {
	return &StatusMonitor{agents: dir, mirror: mirror}
}

// GetAgentStatus returns the status of agentID, if it exists.
func (m *StatusMonitor) GetAgentStatus(agentID types.AgentID) (types.AgentStatus, bool) {
	agent, ok := m.agents.Agent(agentID)
	if !ok {
		return types.AgentStatus{}, false
	}
	return agent.Info().Status, true
}

// GetAgent returns the agent handle for agentID, if it exists.
func (m *StatusMonitor) GetAgent(agentID types.AgentID) (agentcore.Agent, bool) {
	return m.agents.Agent(agentID)
}

// ListAgents returns every registered agent's info.
func (m *StatusMonitor) ListAgents() []types.AgentInfo {
	all := m.agents.Agents()
	out := make([]types.AgentInfo, 0, len(all))
	for _, agent := range all {
		out = append(out, agent.Info())
	}
	m.writeThrough(out)
	return out
}

func (m *StatusMonitor) filterByState(state types.AgentState) []types.AgentInfo {
	all := m.agents.Agents()
	out := make([]types.AgentInfo, 0, len(all))
	for _, agent := range all {
		info := agent.Info()
		if info.Status.State == state {
			out = append(out, info)
		}
	}
	return out
}

// GetIdleAgents returns every agent currently Idle.
func (m *StatusMonitor) GetIdleAgents() []types.AgentInfo { return m.filterByState(types.StateIdle) }

// GetBusyAgents returns every agent currently Busy.
func (m *StatusMonitor) GetBusyAgents() []types.AgentInfo { return m.filterByState(types.StateBusy) }

// GetErrorAgents returns every agent currently in the Error state.
func (m *StatusMonitor) GetErrorAgents() []types.AgentInfo {
	return m.filterByState(types.StateError)
}

// TotalAgentCount returns the number of registered agents.
func (m *StatusMonitor) TotalAgentCount() int { return len(m.agents.Agents()) }

// IdleAgentCount returns the number of currently idle agents.
func (m *StatusMonitor) IdleAgentCount() int { return len(m.GetIdleAgents()) }

// BusyAgentCount returns the number of currently busy agents.
func (m *StatusMonitor) BusyAgentCount() int { return len(m.GetBusyAgents()) }

// ErrorAgentCount returns the number of agents currently in the Error state.
func (m *StatusMonitor) ErrorAgentCount() int { return len(m.GetErrorAgents()) }

// writeThrough pushes a snapshot to the mirror, if configured. Failures are
// swallowed: the mirror is a cache, never the source of truth, so a write
// failure must not surface as a StatusMonitor error.
func (m *StatusMonitor) writeThrough(snapshot []types.AgentInfo) {
	if m.mirror == nil {
		return
	}
	_ = m.mirror.WriteSnapshot(snapshot)
}
