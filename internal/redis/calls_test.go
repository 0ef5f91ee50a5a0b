package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/gradecall/config"
	"github.com/mossy-p/gradecall/internal/models"
)

func connectMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	require.NoError(t, Connect(config.RedisConfig{Host: mr.Host(), Port: mr.Port()}))
	t.Cleanup(func() { _ = Close() })
	return mr
}

func TestConnectFailure(t *testing.T) {
	err := Connect(config.RedisConfig{Host: "127.0.0.1", Port: "1"})
	assert.Error(t, err)
	assert.Nil(t, GetClient())
}

func TestCallLifecycle(t *testing.T) {
	mr := connectMiniredis(t)
	ctx := context.Background()

	call := &models.CallMetadata{ID: "c1", CreatorID: "alice", CalleeID: "bob", CreatedAt: time.Now().UTC()}
	require.NoError(t, SaveCall(ctx, call))
	assert.Equal(t, CallTTL, mr.TTL("call:c1"))

	require.NoError(t, JoinCall(ctx, "c1", "alice"))
	require.NoError(t, JoinCall(ctx, "c1", "alice"))
	require.NoError(t, JoinCall(ctx, "c1", "bob"))

	got, err := LoadCall(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.CalleeID)
	assert.Equal(t, 2, got.ParticipantCount)
	assert.True(t, got.IsParticipant("alice"))
	assert.False(t, got.IsParticipant("mallory"))

	require.NoError(t, LeaveCall(ctx, "c1", "bob"))
	got, err = LoadCall(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ParticipantCount)

	require.NoError(t, DeleteCall(ctx, "c1"))
	_, err = LoadCall(ctx, "c1")
	assert.ErrorIs(t, err, ErrCallNotFound)
	assert.False(t, mr.Exists("call:c1:peers"))
}
