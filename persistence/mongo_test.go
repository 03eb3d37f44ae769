package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/BaSui01/humanloop/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestToMongoDocs(t *testing.T) {
	docs := toMongoDocs(sampleSnapshot())
	require.Len(t, docs, 3)
	assert.Equal(t, "C1:R1", docs[0].ID)
	assert.Equal(t, "T1", docs[0].Entry.TaskID)
	assert.Equal(t, base.Add(time.Minute), docs[0].SyncedAt)

	raw, err := bson.Marshal(docs[0])
	require.NoError(t, err)
	var flat bson.M
	require.NoError(t, bson.Unmarshal(raw, &flat))
	// inline 展开为顶层字段
	assert.Equal(t, "C1:R1", flat["_id"])
	assert.Equal(t, "T1", flat["task_id"])
	assert.Equal(t, "R1", flat["request_id"])
	assert.Equal(t, "approved", flat["status"])
}

func TestNormalizeBSON(t *testing.T) {
	in := bson.D{
		{Key: "decision", Value: "approved"},
		{Key: "nested", Value: bson.M{"list": bson.A{bson.D{{Key: "k", Value: int32(1)}}, "x"}}},
	}
	got := normalizeBSON(in)
	assert.Equal(t, map[string]any{
		"decision": "approved",
		"nested": map[string]any{
			"list": []any{map[string]any{"k": int32(1)}, "x"},
		},
	}, got)
	assert.Nil(t, normalizeMap(nil))
	assert.Equal(t, "plain", normalizeBSON("plain"))
}

// 需要真实 MongoDB：HUMANLOOP_TEST_MONGO_URI=mongodb://localhost:27017
func TestMongoSink_Integration(t *testing.T) {
	uri := os.Getenv("HUMANLOOP_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("HUMANLOOP_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	s, err := NewMongoSink(ctx, config.MongoConfig{
		URI:        uri,
		Database:   "humanloop_test",
		Collection: "tasks_" + time.Now().Format("150405.000"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.coll.Drop(ctx)
		_ = s.Close(ctx)
	})

	_, err = s.Load(ctx, "T1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SyncTask(ctx, sampleSnapshot()))
	require.NoError(t, s.SyncTask(ctx, sampleSnapshot()))

	got, err := s.Load(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.RequestCount())
	assert.Equal(t, "deploy R1", got.Conversations[0].Requests[0].Context["message"])
}
