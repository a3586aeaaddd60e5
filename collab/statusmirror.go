package collab

import (
	"context"
	"time"

	"github.com/BaSui01/agentflow/internal/cache"
	"github.com/BaSui01/agentflow/types"
	"go.uber.org/zap"
)

// statusMirrorKey is the single Redis key every snapshot overwrites: the
// mirror holds one projection of the whole agent table, not a per-agent
// history.
const statusMirrorKey = "agentflow:status:snapshot"

const statusMirrorWriteTimeout = 2 * time.Second

// RedisStatusMirror implements statusmonitor.Mirror over internal/cache.Manager,
// satisfying SPEC_FULL.md's "status mirror" domain-stack component: a
// read-through cache of the Status Monitor's projection that an external
// dashboard can poll without taking the registry's read lock. It is never
// consulted as the source of truth — WriteSnapshot failures are logged and
// swallowed by the caller (statusmonitor.StatusMonitor.writeThrough), never
// surfaced as a StatusMonitor error.
type RedisStatusMirror struct {
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStatusMirror builds a mirror writing snapshots to cacheMgr, each
// expiring after ttl. A zero ttl falls back to cacheMgr's own configured
// default.
func NewRedisStatusMirror(cacheMgr *cache.Manager, ttl time.Duration, logger *zap.Logger) *RedisStatusMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStatusMirror{cache: cacheMgr, ttl: ttl, logger: logger.With(zap.String("component", "collab.statusmirror"))}
}

// WriteSnapshot overwrites the mirrored projection with agents.
func (m *RedisStatusMirror) WriteSnapshot(agents []types.AgentInfo) error {
	ctx, cancel := context.WithTimeout(context.Background(), statusMirrorWriteTimeout)
	defer cancel()
	return m.cache.SetJSON(ctx, statusMirrorKey, agents, m.ttl)
}

// ReadSnapshot returns the last mirrored projection, for an external reader
// that wants the cached view without depending on this package's writer.
func (m *RedisStatusMirror) ReadSnapshot(ctx context.Context) ([]types.AgentInfo, error) {
	var agents []types.AgentInfo
	if err := m.cache.GetJSON(ctx, statusMirrorKey, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}
