package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoop(t *testing.T) {
	var c LeaderboardCache = Noop{}
	ctx := context.Background()

	require.NoError(t, c.SetPage(ctx, &models.LeaderboardPage{ContestID: "c1"}))
	p, ok, err := c.GetPage(ctx, "c1", 1, 20)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, p)
	assert.NoError(t, c.Invalidate(ctx, "c1"))
}

func TestNewRedisCache_ParsesURL(t *testing.T) {
	c, err := NewRedisCache("redis://:pw@localhost:6380/2", "", time.Minute)
	require.NoError(t, err)
	opts := c.client.Options()
	assert.Equal(t, "localhost:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)

	c, err = NewRedisCache("localhost:6379", "secret", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "secret", c.client.Options().Password)

	_, err = NewRedisCache("redis://[bad", "", time.Minute)
	assert.Error(t, err)
}

// STRIDE_TEST_REDIS_ADDR があれば実際のRedisで往復を確認します。
func TestRedisCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("STRIDE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STRIDE_TEST_REDIS_ADDR not set")
	}
	c, err := NewRedisCache(addr, "", time.Minute)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	id := uuid.NewString()
	live := &models.LeaderboardPage{ContestID: id, Page: 1, Size: 2, Total: 1,
		Rows: []models.LeaderboardRow{{Rank: 1, UserID: "a", Steps: 42}}}
	require.NoError(t, c.SetPage(ctx, live))

	got, ok, err := c.GetPage(ctx, id, 1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), got.Rows[0].Steps)

	require.NoError(t, c.Invalidate(ctx, id))
	_, ok, err = c.GetPage(ctx, id, 1, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	frozen := *live
	frozen.Frozen = true
	require.NoError(t, c.SetPage(ctx, &frozen))
	require.NoError(t, c.Invalidate(ctx, id))
	got, ok, err = c.GetPage(ctx, id, 1, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Frozen)
	c.client.Del(ctx, frozenKeyPrefix+id)
}
