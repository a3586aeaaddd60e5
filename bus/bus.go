// Package bus implements the in-process message bus agents use to exchange
// AgentMessage envelopes: per-recipient FIFO queues plus broadcast.
package bus

import (
	"sync"

	"github.com/BaSui01/agentflow/types"
	"go.uber.org/zap"
)

// Bus is a thread-safe, in-memory message queue keyed by recipient agent id.
// It performs no I/O and never fails except on host memory exhaustion.
type Bus struct {
	mu     sync.RWMutex
	queues map[types.AgentID][]types.AgentMessage
	logger *zap.Logger
}

// New creates an empty Bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		queues: make(map[types.AgentID][]types.AgentMessage),
		logger: logger.With(zap.String("component", "bus")),
	}
}

// Send appends msg to to's queue, creating the queue if absent. Two sends from
// the same caller to the same recipient preserve relative order in the eventual
// Receive; there is no ordering guarantee across distinct senders.
func (b *Bus) Send(from, to types.AgentID, msg types.AgentMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[to] = append(b.queues[to], msg)
	b.logger.Debug("message sent", zap.String("from", string(from)), zap.String("to", string(to)), zap.String("kind", string(msg.Kind)))
	return nil
}

// Receive atomically drains and returns all pending messages for agentID in
// enqueue order; it returns an empty (nil) slice if none are pending.
func (b *Bus) Receive(agentID types.AgentID) []types.AgentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.queues[agentID]
	b.queues[agentID] = nil
	return msgs
}

// Broadcast clones msg into every currently known recipient queue except from's.
// A recipient is "known" only once it has previously appeared as a Send target
// or Receive caller — the bus has no separate agent directory.
func (b *Bus) Broadcast(from types.AgentID, msg types.AgentMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for agentID := range b.queues {
		if agentID == from {
			continue
		}
		b.queues[agentID] = append(b.queues[agentID], msg)
	}
	b.logger.Debug("message broadcast", zap.String("from", string(from)), zap.String("kind", string(msg.Kind)))
}

// PendingCount returns the number of messages queued for agentID.
func (b *Bus) PendingCount(agentID types.AgentID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.queues[agentID])
}

// HasPending reports whether agentID has any queued messages.
func (b *Bus) HasPending(agentID types.AgentID) bool {
	return b.PendingCount(agentID) > 0
}

// Clear discards all pending messages for agentID.
func (b *Bus) Clear(agentID types.AgentID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, agentID)
}

// ClearAll discards every recipient's queue.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues = make(map[types.AgentID][]types.AgentMessage)
}

// ActiveAgentsCount returns the number of recipients with at least one pending
// message.
func (b *Bus) ActiveAgentsCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, q := range b.queues {
		if len(q) > 0 {
			n++
		}
	}
	return n
}

// TotalPendingCount returns the sum of all recipients' queue lengths.
func (b *Bus) TotalPendingCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, q := range b.queues {
		total += len(q)
	}
	return total
}

// Send registers a recipient queue implicitly, but Broadcast itself only
// reaches queues already present in the map. RegisterRecipient ensures a newly
// registered agent (which has not yet sent or received) is reachable by
// broadcast before its first message — the orchestrator calls this from
// register_agent.
func (b *Bus) RegisterRecipient(agentID types.AgentID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[agentID]; !ok {
		b.queues[agentID] = nil
	}
}

// UnregisterRecipient drops agentID's queue entirely, equivalent to Clear but
// named for symmetry with RegisterRecipient at the orchestrator's call sites.
func (b *Bus) UnregisterRecipient(agentID types.AgentID) {
	b.Clear(agentID)
}
