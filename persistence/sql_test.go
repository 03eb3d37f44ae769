package persistence

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/BaSui01/humanloop/config"
	"github.com/BaSui01/humanloop/internal/database"
	"github.com/BaSui01/humanloop/types"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newSQLiteSink(t *testing.T) *SQLSink {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:      "sqlite",
		Name:        filepath.Join(t.TempDir(), "humanloop.db"),
		AutoMigrate: true,
	}
	s, err := openSQLSink(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestSQLSink_SyncAndLoad(t *testing.T) {
	s := newSQLiteSink(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	_, err := s.Load(ctx, "T1")
	assert.ErrorIs(t, err, ErrNotFound)

	snap := sampleSnapshot()
	now := base.Add(30 * time.Second)
	snap.Conversations[0].Requests[0].RespondedAt = &now
	snap.Conversations[0].Requests[0].RespondedBy = "alice"
	snap.Conversations[0].Requests[0].Response = map[string]any{"decision": "approved"}
	require.NoError(t, s.SyncTask(ctx, snap))

	got, err := s.Load(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, got.Conversations, 2)
	assert.WithinDuration(t, snap.Timestamp, got.Timestamp, time.Millisecond)

	r1 := got.Conversations[0].Requests[0]
	assert.Equal(t, "R1", r1.RequestID)
	assert.Equal(t, "alice", r1.RespondedBy)
	require.NotNil(t, r1.RespondedAt)
	assert.WithinDuration(t, now, *r1.RespondedAt, time.Millisecond)
	assert.Equal(t, map[string]any{"decision": "approved"}, r1.Response)
	assert.Equal(t, "deploy R1", r1.Context["message"])
	assert.Equal(t, int64(90), r1.TimeoutSeconds)
	assert.Nil(t, r1.Feedback)
}

func TestSQLSink_UpsertsRows(t *testing.T) {
	s := newSQLiteSink(t)
	ctx := context.Background()
	require.NoError(t, s.SyncTask(ctx, sampleSnapshot()))

	next := NewTaskSnapshot("T1", base.Add(5*time.Minute))
	next.AddConversation("C1", "terminal", []*types.Request{req("C1", "R2", types.StatusRejected, 2*time.Second)})
	require.NoError(t, s.SyncTask(ctx, next))

	got, err := s.Load(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.RequestCount())
	assert.WithinDuration(t, next.Timestamp, got.Timestamp, time.Millisecond)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"approved": 1, "rejected": 1, "inprogress": 1}, counts)
}

func TestSQLSink_EmptyTask(t *testing.T) {
	s := newSQLiteSink(t)
	ctx := context.Background()
	require.NoError(t, s.SyncTask(ctx, NewTaskSnapshot("T-empty", base)))

	got, err := s.Load(ctx, "T-empty")
	require.NoError(t, err)
	assert.Zero(t, got.RequestCount())
}

func TestSQLSink_RollsBackOnFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	pool, err := database.NewPoolManager(gormDB, database.PoolConfig{
		MaxIdleConns: 1, MaxOpenConns: 1, ConnMaxLifetime: time.Minute,
	}, nil)
	require.NoError(t, err)

	s := NewSQLSink(pool, nil)
	s.policy.MaxRetries = 0

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "humanloop_tasks"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "humanloop_requests"`)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = s.SyncTask(context.Background(), sampleSnapshot())
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
