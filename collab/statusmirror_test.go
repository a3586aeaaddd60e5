package collab

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/agentflow/internal/cache"
	"github.com/BaSui01/agentflow/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupStatusMirror(t *testing.T) (*miniredis.Miniredis, *RedisStatusMirror) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	mgr, err := cache.NewManager(cache.Config{Addr: mr.Addr(), DefaultTTL: time.Minute}, zap.NewNop())
	require.NoError(t, err)

	return mr, NewRedisStatusMirror(mgr, time.Minute, nil)
}

func TestRedisStatusMirrorRoundTrip(t *testing.T) {
	mr, mirror := setupStatusMirror(t)
	defer mr.Close()

	snapshot := []types.AgentInfo{
		{ID: "a1", Kind: types.KindCritic, Status: types.StatusIdle()},
		{ID: "a2", Kind: types.KindDirector, Status: types.StatusBusy()},
	}
	require.NoError(t, mirror.WriteSnapshot(snapshot))

	got, err := mirror.ReadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapshot, got)
}

func TestRedisStatusMirrorOverwritesPreviousSnapshot(t *testing.T) {
	mr, mirror := setupStatusMirror(t)
	defer mr.Close()

	require.NoError(t, mirror.WriteSnapshot([]types.AgentInfo{{ID: "a1", Status: types.StatusIdle()}}))
	require.NoError(t, mirror.WriteSnapshot([]types.AgentInfo{{ID: "a2", Status: types.StatusBusy()}}))

	got, err := mirror.ReadSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.AgentID("a2"), got[0].ID)
}
