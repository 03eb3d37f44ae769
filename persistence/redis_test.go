package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/humanloop/types"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisSink(t *testing.T, ttl time.Duration) (*RedisSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSinkWithClient(client, "test:", ttl, nil), mr
}

func TestRedisSink_SyncAndLoad(t *testing.T) {
	s, mr := newRedisSink(t, 0)
	ctx := context.Background()

	_, err := s.Load(ctx, "T1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SyncTask(ctx, sampleSnapshot()))
	assert.True(t, mr.Exists("test:task:T1"))
	fields, err := mr.HKeys("test:task:T1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1:R1", "C1:R2", "C2:R3"}, fields)

	got, err := s.Load(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, got.Conversations, 2)
	assert.True(t, got.Timestamp.Equal(base.Add(time.Minute)))
	r1 := got.Conversations[0].Requests[0]
	assert.Equal(t, "R1", r1.RequestID)
	assert.Equal(t, "approved", r1.Status)
	assert.Equal(t, "deploy R1", r1.Context["message"])
	assert.Equal(t, "api", got.Conversations[1].ProviderID)
}

func TestRedisSink_MergesLaterSnapshots(t *testing.T) {
	s, _ := newRedisSink(t, 0)
	ctx := context.Background()
	require.NoError(t, s.SyncTask(ctx, sampleSnapshot()))

	next := NewTaskSnapshot("T1", base.Add(2*time.Minute))
	next.AddConversation("C2", "api", []*types.Request{req("C2", "R3", types.StatusCompleted, time.Second)})
	require.NoError(t, s.SyncTask(ctx, next))

	got, err := s.Load(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.RequestCount())
	assert.Equal(t, "completed", got.Conversations[1].Requests[0].Status)
}

func TestRedisSink_TTLAndIndex(t *testing.T) {
	s, mr := newRedisSink(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, s.SyncTask(ctx, sampleSnapshot()))

	assert.Equal(t, time.Hour, mr.TTL("test:task:T1"))
	assert.Equal(t, time.Hour, mr.TTL("test:task:T1:synced"))

	ids, err := s.ListTasks(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, ids)

	ids, err = s.ListTasks(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids)

	mr.FastForward(2 * time.Hour)
	_, err = s.Load(ctx, "T1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisSink_ConnectionError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisSinkWithClient(client, "", 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, s.SyncTask(ctx, sampleSnapshot()))
	assert.Error(t, s.Ping(ctx))
	assert.NoError(t, s.Close(ctx))
}
