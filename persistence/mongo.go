package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/humanloop/config"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// mongoDoc is one request document. _id is "<conversation_id>:<request_id>".
type mongoDoc struct {
	ID       string    `bson:"_id"`
	Entry    Entry     `bson:",inline"`
	SyncedAt time.Time `bson:"synced_at"`
}

// MongoSink upserts one document per request.
type MongoSink struct {
	client *mongo.Client
	coll   *mongo.Collection
	owned  bool
	logger *zap.Logger
}

// NewMongoSink connects to MongoDB and pings the primary.
func NewMongoSink(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*MongoSink, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := NewMongoSinkWithCollection(client.Database(cfg.Database).Collection(cfg.Collection), logger)
	s.client = client
	s.owned = true
	return s, nil
}

// NewMongoSinkWithCollection wraps an existing collection.
func NewMongoSinkWithCollection(coll *mongo.Collection, logger *zap.Logger) *MongoSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoSink{coll: coll, logger: logger.With(zap.String("sink", "mongo"))}
}

func (s *MongoSink) Name() string { return "mongo" }

// Ping checks the primary.
func (s *MongoSink) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}

func toMongoDocs(snap *TaskSnapshot) []mongoDoc {
	entries := snap.Entries()
	docs := make([]mongoDoc, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, mongoDoc{
			ID:       e.ConversationID + ":" + e.RequestID,
			Entry:    e,
			SyncedAt: snap.Timestamp,
		})
	}
	return docs
}

func (s *MongoSink) SyncTask(ctx context.Context, snap *TaskSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	docs := toMongoDocs(snap)
	if len(docs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: d.ID}}).
			SetReplacement(d).
			SetUpsert(true))
	}
	if _, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("mongo sync task %s: %w", snap.TaskID, err)
	}
	s.logger.Debug("task synced", zap.String("task_id", snap.TaskID), zap.Int("requests", len(docs)))
	return nil
}

func (s *MongoSink) Load(ctx context.Context, taskID string) (*TaskSnapshot, error) {
	cur, err := s.coll.Find(ctx, bson.D{{Key: "task_id", Value: taskID}})
	if err != nil {
		return nil, err
	}
	var docs []mongoDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}

	var synced time.Time
	entries := make([]Entry, 0, len(docs))
	for _, d := range docs {
		e := d.Entry
		e.Context = normalizeMap(e.Context)
		e.Metadata = normalizeMap(e.Metadata)
		e.Feedback = normalizeMap(e.Feedback)
		e.Response = normalizeBSON(e.Response)
		entries = append(entries, e)
		if d.SyncedAt.After(synced) {
			synced = d.SyncedAt
		}
	}
	return Assemble(taskID, synced, entries), nil
}

func (s *MongoSink) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// normalizeBSON converts decoded BSON containers back to plain Go maps and slices.
func normalizeBSON(v any) any {
	switch tv := v.(type) {
	case bson.D:
		m := make(map[string]any, len(tv))
		for _, e := range tv {
			m[e.Key] = normalizeBSON(e.Value)
		}
		return m
	case bson.M:
		return normalizeMap(tv)
	case map[string]any:
		return normalizeMap(tv)
	case bson.A:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = normalizeBSON(e)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = normalizeBSON(e)
		}
		return out
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeBSON(v)
	}
	return out
}
