package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/humanloop/internal/database"
	"github.com/BaSui01/humanloop/internal/retry"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// taskRow maps humanloop_tasks.
type taskRow struct {
	TaskID    string    `gorm:"column:task_id;primaryKey"`
	SyncedAt  time.Time `gorm:"column:synced_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (taskRow) TableName() string { return "humanloop_tasks" }

// requestRow maps humanloop_requests. JSON columns are stored as text.
type requestRow struct {
	ConversationID string     `gorm:"column:conversation_id;primaryKey"`
	RequestID      string     `gorm:"column:request_id;primaryKey"`
	TaskID         string     `gorm:"column:task_id"`
	ProviderID     string     `gorm:"column:provider_id"`
	LoopType       string     `gorm:"column:loop_type"`
	Status         string     `gorm:"column:status"`
	Context        *string    `gorm:"column:context"`
	Metadata       *string    `gorm:"column:metadata"`
	Response       *string    `gorm:"column:response"`
	Feedback       *string    `gorm:"column:feedback"`
	RespondedBy    string     `gorm:"column:responded_by"`
	RespondedAt    *time.Time `gorm:"column:responded_at"`
	Error          string     `gorm:"column:error"`
	TimeoutSeconds int64      `gorm:"column:timeout_seconds"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (requestRow) TableName() string { return "humanloop_requests" }

func jsonColumn(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func decodeColumn[T any](col *string, out *T) error {
	if col == nil || *col == "" {
		return nil
	}
	return json.Unmarshal([]byte(*col), out)
}

func toRow(e Entry) (requestRow, error) {
	row := requestRow{
		ConversationID: e.ConversationID,
		RequestID:      e.RequestID,
		TaskID:         e.TaskID,
		ProviderID:     e.ProviderID,
		LoopType:       e.LoopType,
		Status:         e.Status,
		RespondedBy:    e.RespondedBy,
		RespondedAt:    e.RespondedAt,
		Error:          e.Error,
		TimeoutSeconds: e.TimeoutSeconds,
		CreatedAt:      e.CreatedAt,
	}
	var err error
	if row.Context, err = jsonColumn(e.Context); err != nil {
		return row, fmt.Errorf("context: %w", err)
	}
	if row.Metadata, err = jsonColumn(e.Metadata); err != nil {
		return row, fmt.Errorf("metadata: %w", err)
	}
	if row.Response, err = jsonColumn(e.Response); err != nil {
		return row, fmt.Errorf("response: %w", err)
	}
	if row.Feedback, err = jsonColumn(e.Feedback); err != nil {
		return row, fmt.Errorf("feedback: %w", err)
	}
	return row, nil
}

func (r requestRow) entry() (Entry, error) {
	e := Entry{
		TaskID:         r.TaskID,
		ConversationID: r.ConversationID,
		ProviderID:     r.ProviderID,
		RequestRecord: RequestRecord{
			RequestID:      r.RequestID,
			LoopType:       r.LoopType,
			Status:         r.Status,
			RespondedBy:    r.RespondedBy,
			RespondedAt:    r.RespondedAt,
			Error:          r.Error,
			TimeoutSeconds: r.TimeoutSeconds,
			CreatedAt:      r.CreatedAt,
		},
	}
	err := errors.Join(
		decodeColumn(r.Context, &e.Context),
		decodeColumn(r.Metadata, &e.Metadata),
		decodeColumn(r.Response, &e.Response),
		decodeColumn(r.Feedback, &e.Feedback),
	)
	return e, err
}

// SQLSink upserts request rows through gorm. The schema is owned by
// internal/migration.
type SQLSink struct {
	pool   *database.PoolManager
	policy retry.Policy
	owned  bool
	logger *zap.Logger
}

// NewSQLSink uses pool for all writes. Close does not close pool.
func NewSQLSink(pool *database.PoolManager, logger *zap.Logger) *SQLSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := retry.DefaultPolicy()
	policy.MaxRetries = 2
	policy.InitialDelay = 50 * time.Millisecond
	return &SQLSink{pool: pool, policy: policy, logger: logger.With(zap.String("sink", "sql"))}
}

func (s *SQLSink) Name() string { return "sql" }

// Ping checks the database connection.
func (s *SQLSink) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *SQLSink) SyncTask(ctx context.Context, snap *TaskSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	entries := snap.Entries()
	rows := make([]requestRow, 0, len(entries))
	for _, e := range entries {
		row, err := toRow(e)
		if err != nil {
			return fmt.Errorf("encode request %s: %w", e.RequestID, err)
		}
		rows = append(rows, row)
	}

	err := s.pool.WithTransactionRetry(ctx, s.policy, func(tx *gorm.DB) error {
		task := taskRow{TaskID: snap.TaskID, SyncedAt: snap.Timestamp}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"synced_at", "updated_at"}),
		}).Create(&task).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "request_id"}},
			UpdateAll: true,
		}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("sql sync task %s: %w", snap.TaskID, err)
	}
	s.logger.Debug("task synced", zap.String("task_id", snap.TaskID), zap.Int("requests", len(rows)))
	return nil
}

func (s *SQLSink) Load(ctx context.Context, taskID string) (*TaskSnapshot, error) {
	db := s.pool.DB().WithContext(ctx)

	var task taskRow
	if err := db.Where("task_id = ?", taskID).Take(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var rows []requestRow
	if err := db.Where("task_id = ?", taskID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, fmt.Errorf("decode request %s: %w", r.RequestID, err)
		}
		entries = append(entries, e)
	}
	return Assemble(taskID, task.SyncedAt, entries), nil
}

// CountByStatus reports how many stored requests are in each status.
func (s *SQLSink) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var out []struct {
		Status string
		N      int64
	}
	err := s.pool.DB().WithContext(ctx).
		Model(&requestRow{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(out))
	for _, r := range out {
		counts[r.Status] = r.N
	}
	return counts, nil
}

func (s *SQLSink) Close(context.Context) error {
	if !s.owned {
		return nil
	}
	return s.pool.Close()
}
