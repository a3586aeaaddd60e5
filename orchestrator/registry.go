// Package orchestrator implements the Registry: the top-level orchestration
// facade composing the Message Bus, Task Manager, and Status Monitor over a
// shared agent table, and exposing the system's external operations
// (register_agent, assign_task, coordinate_agents, broadcast_message, ...).
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentflow/agentcore"
	"github.com/BaSui01/agentflow/bus"
	"github.com/BaSui01/agentflow/statusmonitor"
	"github.com/BaSui01/agentflow/taskmanager"
	"github.com/BaSui01/agentflow/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// tracer instruments assign_task and its detached process_task execution, the
// two operations SPEC_FULL.md calls out by name. Like vault's tracer, it rides
// the global OTel provider cmd/agentflow/middleware.go's OTelTracing installs,
// so this package never imports internal/telemetry directly.
var tracer = otel.Tracer("agentflow/orchestrator")

// endSpan records *err on span, if set, and closes it.
func endSpan(span trace.Span, err *error) {
	if err != nil && *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

// MetricsRecorder is the narrow metrics-reporting contract runTask calls into
// when one is configured via WithMetrics. internal/metrics.Collector
// satisfies it without this package importing internal/metrics directly,
// matching the narrow-interface-at-the-core pattern collab's collaborators use.
type MetricsRecorder interface {
	RecordAgentExecution(agentID, agentType, status string, duration time.Duration)
	RecordAgentStateTransition(agentID, fromState, toState string)
}

// entry is one row of the registry's agent table: the agent handle, its
// registration-time config, and the cancel function for whatever task it is
// currently executing (nil when idle).
type entry struct {
	agent  agentcore.Agent
	config types.AgentConfig
	cancel context.CancelFunc
}

// Registry is the shared, reference-counted state the spec's Registry/
// Orchestrator component owns: the agent table, the message bus, and the
// Task Manager / Status Monitor built over that same table. A Registry value
// is cheap to copy — Clone (and an ordinary Go copy of the struct) shares the
// table, bus, and task manager by reference, realizing the "facade" semantics
// DESIGN.md's O2 settles on in place of a literal Rust Clone.
type Registry struct {
	mu     *sync.RWMutex
	agents map[types.AgentID]*entry

	bus     *bus.Bus
	tasks   *taskmanager.TaskManager
	status  *statusmonitor.StatusMonitor
	logger  *zap.Logger
	metrics MetricsRecorder
}

// Option configures optional Registry collaborators at construction time.
type Option func(*Registry)

// WithMetrics attaches a MetricsRecorder that runTask reports agent execution
// outcomes and status transitions to. Omitted, metrics reporting is a no-op.
func WithMetrics(m MetricsRecorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// New builds an empty Registry sharing messageBus with whatever else holds a
// reference to it (typically nothing else, at construction time). mirror may
// be nil; it is passed through to the embedded StatusMonitor unchanged.
func New(messageBus *bus.Bus, mirror statusmonitor.Mirror, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		mu:     &sync.RWMutex{},
		agents: make(map[types.AgentID]*entry),
		bus:    messageBus,
		logger: logger.With(zap.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.tasks = taskmanager.New(r)
	r.status = statusmonitor.New(r, mirror)
	return r
}

// Clone returns a facade sharing the same agent table, bus, task manager, and
// status monitor as r — not an independent copy. Multiple Clones observe each
// other's writes immediately, matching the original's reference-counted
// handle semantics (see DESIGN.md O2).
func (r *Registry) Clone() *Registry {
	return &Registry{
		mu:      r.mu,
		agents:  r.agents,
		bus:     r.bus,
		tasks:   r.tasks,
		status:  r.status,
		logger:  r.logger,
		metrics: r.metrics,
	}
}

// Agents satisfies taskmanager.AgentDirectory / statusmonitor.AgentDirectory.
func (r *Registry) Agents() map[types.AgentID]agentcore.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[types.AgentID]agentcore.Agent, len(r.agents))
	for id, e := range r.agents {
		out[id] = e.agent
	}
	return out
}

// Agent satisfies taskmanager.AgentDirectory / statusmonitor.AgentDirectory.
func (r *Registry) Agent(id types.AgentID) (agentcore.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return e.agent, true
}

// Bus returns the shared message bus, for callers that need to send/receive
// directly (e.g. a caller delivering a MsgApprovalResponse outside
// broadcast_message).
func (r *Registry) Bus() *bus.Bus { return r.bus }

// TaskManager returns the shared Task Manager.
func (r *Registry) TaskManager() *taskmanager.TaskManager { return r.tasks }

// StatusMonitor returns the shared Status Monitor.
func (r *Registry) StatusMonitor() *statusmonitor.StatusMonitor { return r.status }

// RegisterAgent inserts agent under cfg.AgentID, rejecting a duplicate id.
// The agent's recipient queue is pre-registered on the bus so it is
// broadcast-reachable before its first Send/Receive.
func (r *Registry) RegisterAgent(agent agentcore.Agent, cfg types.AgentConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[cfg.AgentID]; exists {
		return types.NewDuplicateAgent(cfg.AgentID)
	}
	r.agents[cfg.AgentID] = &entry{agent: agent, config: cfg}
	r.bus.RegisterRecipient(cfg.AgentID)
	r.logger.Info("agent registered", zap.String("agent_id", string(cfg.AgentID)), zap.String("kind", string(agent.Info().Kind)))
	return nil
}

// UnregisterAgent cancels every assignment held by id (returning its agent to
// Idle has no effect since the agent is about to be removed anyway), then
// drops it from the agent table and the bus.
func (r *Registry) UnregisterAgent(id types.AgentID) error {
	for _, a := range r.tasks.GetAllAssignments() {
		if a.AgentID != id {
			continue
		}
		if err := r.tasks.CancelTask(a.TaskID); err != nil {
			r.logger.Warn("failed to cancel assignment during unregister", zap.String("task_id", string(a.TaskID)), zap.Error(err))
		}
	}

	r.mu.Lock()
	e, ok := r.agents[id]
	if ok {
		if e.cancel != nil {
			e.cancel()
		}
		delete(r.agents, id)
	}
	r.mu.Unlock()

	if !ok {
		return types.NewInvalidConfig(fmt.Sprintf("agent %s not registered", id))
	}
	r.bus.UnregisterRecipient(id)
	r.logger.Info("agent unregistered", zap.String("agent_id", string(id)))
	return nil
}

// GetAgent returns the registered agent handle for id.
func (r *Registry) GetAgent(id types.AgentID) (agentcore.Agent, bool) { return r.Agent(id) }

// ListAgents returns every registered agent's info.
func (r *Registry) ListAgents() []types.AgentInfo { return r.status.ListAgents() }

// GetAgentStatus returns id's current status.
func (r *Registry) GetAgentStatus(id types.AgentID) (types.AgentStatus, bool) {
	return r.status.GetAgentStatus(id)
}

// GetBusyAgents returns every currently Busy agent.
func (r *Registry) GetBusyAgents() []types.AgentInfo { return r.status.GetBusyAgents() }

// GetIdleAgents returns every currently Idle agent.
func (r *Registry) GetIdleAgents() []types.AgentInfo { return r.status.GetIdleAgents() }

// AssignTask hands task to the Task Manager; on success it spawns a detached
// goroutine running agent.ProcessTask and returns the assigned agent's id
// synchronously — the caller never waits on the task body itself. The
// spawned goroutine observes the agent already Busy (the Task Manager set
// that before returning) and, on completion, restores Idle, clears
// current_task, and drops the assignment, setting Error(msg) first if
// ProcessTask failed.
func (r *Registry) AssignTask(ctx context.Context, task types.Task) (agentID types.AgentID, err error) {
	ctx, span := tracer.Start(ctx, "orchestrator.assign_task", trace.WithAttributes(
		attribute.String("task_id", string(task.ID)),
	))
	defer endSpan(span, &err)

	agentID, err = r.tasks.AssignTask(task)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("agent_id", string(agentID)))

	agent, ok := r.Agent(agentID)
	if !ok {
		// Can only happen if the agent was unregistered in the instant between
		// AssignTask and this read; treat as no-available-agent.
		r.tasks.RemoveAssignment(task.ID)
		return "", types.NewNoAvailableAgent("assigned agent vanished before execution")
	}

	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	if e, ok := r.agents[agentID]; ok {
		e.cancel = cancel
	}
	r.mu.Unlock()

	go r.runTask(execCtx, cancel, agentID, agent, task)

	return agentID, nil
}

// runTask executes task on agent and reconciles status/assignment on return.
// It is the asynchronous body assign_task spawns, detached from its caller.
func (r *Registry) runTask(ctx context.Context, cancel context.CancelFunc, agentID types.AgentID, agent agentcore.Agent, task types.Task) {
	defer cancel()

	ctx, span := tracer.Start(ctx, "orchestrator.process_task", trace.WithAttributes(
		attribute.String("task_id", string(task.ID)), attribute.String("agent_id", string(agentID)),
	))
	defer span.End()

	start := time.Now()
	result, err := agent.ProcessTask(ctx, task)
	duration := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if !result.Success {
		span.SetStatus(codes.Error, "task reported failure")
	}

	if ctx.Err() != nil {
		// Cancelled via CancelTask, which already reset the agent to Idle and
		// dropped the assignment. The result, whatever it is, is discarded —
		// per SPEC_FULL.md, a cancelled task's eventual result must never
		// reach agent status, so no reconciliation happens below.
		return
	}

	r.mu.Lock()
	e, stillRegistered := r.agents[agentID]
	if stillRegistered {
		e.cancel = nil
	}
	r.mu.Unlock()
	if !stillRegistered {
		// Agent was unregistered (and its assignments already cancelled) while
		// this task was running; nothing left to reconcile.
		return
	}

	var newStatus types.AgentStatus
	execStatus := "success"
	switch {
	case err != nil:
		newStatus = types.StatusErrorf(err.Error())
		execStatus = "error"
		r.logger.Warn("task execution failed", zap.String("task_id", string(task.ID)), zap.String("agent_id", string(agentID)), zap.Error(err))
	case !result.Success:
		msg := "task reported failure"
		if len(result.Errors) > 0 {
			msg = result.Errors[0]
		}
		newStatus = types.StatusErrorf(msg)
		execStatus = "failed"
	default:
		newStatus = types.StatusIdle()
	}
	agent.UpdateStatus(newStatus)
	agent.SetCurrentTask(nil)
	r.tasks.RemoveAssignment(task.ID)

	if r.metrics != nil {
		r.metrics.RecordAgentExecution(string(agentID), string(agent.Info().Kind), execStatus, duration)
		r.metrics.RecordAgentStateTransition(string(agentID), types.StatusBusy().String(), newStatus.String())
	}
}

// CoordinateAgents returns the ids of every currently idle agent capable of
// handling task, and separately kicks off AssignTask, which picks the agent
// through the Task Manager's own lookup rather than from this list; the set computed for
// the return value is not guaranteed to still hold by the time AssignTask's
// internal lookup runs, since this is a two-pass, not an atomic, operation.
func (r *Registry) CoordinateAgents(ctx context.Context, task types.Task) ([]types.AgentID, error) {
	var candidates []types.AgentID
	for id, agent := range r.Agents() {
		if agent.Info().Status.IsIdle() && agent.CanHandle(task) {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return nil, types.NewNoAvailableAgent("no idle agent can handle this task")
	}

	if _, err := r.AssignTask(ctx, task); err != nil {
		return nil, err
	}
	return candidates, nil
}

// BroadcastMessage delivers msg to every registered agent's HandleMessage
// concurrently via errgroup, excluding none at this layer (unlike Bus.
// Broadcast, which excludes the sender by recipient id — this operation has
// no sender and reaches every agent). Per-recipient failures are logged and
// otherwise swallowed; they never abort or fail the broadcast as a whole.
func (r *Registry) BroadcastMessage(ctx context.Context, msg types.AgentMessage) {
	g, gctx := errgroup.WithContext(ctx)
	for id, agent := range r.Agents() {
		id, agent := id, agent
		g.Go(func() error {
			if err := agent.HandleMessage(gctx, msg); err != nil {
				r.logger.Warn("broadcast delivery failed", zap.String("agent_id", string(id)), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Statistics is the aggregate view returned by GetStatistics.
type Statistics struct {
	Total      int `json:"total"`
	Idle       int `json:"idle"`
	Busy       int `json:"busy"`
	Error      int `json:"error"`
	ActiveTask int `json:"active_tasks"`
}

// GetStatistics returns the registry-wide counts.
func (r *Registry) GetStatistics() Statistics {
	return Statistics{
		Total:      r.status.TotalAgentCount(),
		Idle:       r.status.IdleAgentCount(),
		Busy:       r.status.BusyAgentCount(),
		Error:      r.status.ErrorAgentCount(),
		ActiveTask: r.tasks.ActiveTaskCount(),
	}
}

// CancelTask cancels the in-flight execution (if the spawned goroutine is
// still running) and drops the assignment via the Task Manager. The eventual
// process_task result, if one ever arrives, is discarded: runTask checks
// ctx.Err() before reconciling status and skips reconciliation entirely once
// a task's context has been cancelled, so the Idle status CancelTask sets
// here can never be clobbered by a late ProcessTask return.
func (r *Registry) CancelTask(taskID types.TaskID) error {
	agentID, ok := r.tasks.GetTaskAgent(taskID)
	if ok {
		r.mu.Lock()
		if e, ok := r.agents[agentID]; ok && e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		r.mu.Unlock()
	}
	return r.tasks.CancelTask(taskID)
}
