package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/humanloop/testutil"
	"github.com/BaSui01/humanloop/testutil/fixtures"
	"github.com/BaSui01/humanloop/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func req(conv, id string, status types.Status, offset time.Duration) *types.Request {
	return &types.Request{
		TaskID:         "T1",
		ConversationID: conv,
		RequestID:      id,
		LoopType:       types.LoopTypeApproval,
		Context:        map[string]any{"message": "deploy " + id},
		Status:         status,
		Timeout:        90 * time.Second,
		CreatedAt:      base.Add(offset),
	}
}

func sampleSnapshot() *TaskSnapshot {
	snap := NewTaskSnapshot("T1", base.Add(time.Minute))
	snap.AddConversation("C1", "terminal", []*types.Request{
		req("C1", "R1", types.StatusApproved, 0),
		req("C1", "R2", types.StatusPending, 2*time.Second),
	})
	snap.AddConversation("C2", "api", []*types.Request{
		req("C2", "R3", types.StatusInProgress, time.Second),
	})
	return snap
}

func TestNewRequestRecord_CopiesFields(t *testing.T) {
	r := req("C1", "R1", types.StatusApproved, 0)
	now := base.Add(5 * time.Second)
	r.RespondedAt = &now
	r.RespondedBy = "alice"
	r.Feedback = map[string]any{"note": "ok"}

	rec := NewRequestRecord(r)
	assert.Equal(t, "R1", rec.RequestID)
	assert.Equal(t, "approval", rec.LoopType)
	assert.Equal(t, "approved", rec.Status)
	assert.Equal(t, int64(90), rec.TimeoutSeconds)
	assert.Equal(t, "alice", rec.RespondedBy)
	require.NotNil(t, rec.RespondedAt)

	// 快照不随原请求变化
	r.Context["message"] = "changed"
	r.Feedback["note"] = "changed"
	assert.Equal(t, "deploy R1", rec.Context["message"])
	assert.Equal(t, "ok", rec.Feedback["note"])
}

func TestNewRequestRecord_TerminalRequests(t *testing.T) {
	approved := NewRequestRecord(fixtures.ApprovedRequest("T1", "C1", "R1", "alice"))
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, "alice", approved.RespondedBy)
	assert.Equal(t, "approved", approved.Response)
	require.NotNil(t, approved.RespondedAt)
	assert.Equal(t, fixtures.BaseTime.Add(30*time.Second), *approved.RespondedAt)

	expired := NewRequestRecord(fixtures.ExpiredRequest("T1", "C1", "R2"))
	assert.Equal(t, "expired", expired.Status)
	assert.Equal(t, "Request timed out", expired.Error)
	assert.Nil(t, expired.RespondedAt)

	snap := NewTaskSnapshot("T1", fixtures.BaseTime)
	snap.AddConversation("C1", "mock", []*types.Request{
		fixtures.PendingRequest("T1", "C1", "R1"),
		fixtures.ExpiredRequest("T1", "C1", "R2"),
	})
	require.NoError(t, snap.Validate())
	assert.Equal(t, 2, snap.RequestCount())
	assert.Equal(t, int64(60), snap.Conversations[0].Requests[0].TimeoutSeconds)
}

func TestTaskSnapshot_Validate(t *testing.T) {
	var nilSnap *TaskSnapshot
	assert.ErrorIs(t, nilSnap.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, NewTaskSnapshot("", base).Validate(), ErrInvalidInput)
	assert.NoError(t, sampleSnapshot().Validate())
}

func TestTaskSnapshot_EntriesAndAssemble(t *testing.T) {
	snap := sampleSnapshot()
	entries := snap.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, 3, snap.RequestCount())
	assert.Equal(t, "terminal", entries[0].ProviderID)
	assert.Equal(t, "T1", entries[2].TaskID)

	// 打乱顺序后按创建时间重建
	shuffled := []Entry{entries[2], entries[1], entries[0]}
	got := Assemble("T1", snap.Timestamp, shuffled)
	require.Len(t, got.Conversations, 2)
	assert.Equal(t, "C1", got.Conversations[0].ConversationID)
	assert.Equal(t, "C2", got.Conversations[1].ConversationID)
	require.Len(t, got.Conversations[0].Requests, 2)
	assert.Equal(t, "R1", got.Conversations[0].Requests[0].RequestID)
	assert.Equal(t, "R2", got.Conversations[0].Requests[1].RequestID)
}

func TestMerge(t *testing.T) {
	first := sampleSnapshot()

	next := NewTaskSnapshot("T1", base.Add(2*time.Minute))
	next.AddConversation("C1", "terminal", []*types.Request{
		req("C1", "R2", types.StatusRejected, 2*time.Second),
		req("C1", "R4", types.StatusPending, 3*time.Second),
	})

	merged := Merge(first, next)
	assert.Equal(t, next.Timestamp, merged.Timestamp)
	require.Len(t, merged.Conversations, 2)
	c1 := merged.Conversations[0]
	require.Len(t, c1.Requests, 3)
	assert.Equal(t, "rejected", c1.Requests[1].Status)
	assert.Equal(t, "R4", c1.Requests[2].RequestID)

	assert.Same(t, next, Merge(nil, next))
}

func TestMemorySink(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySink()

	_, err := s.Load(ctx, "T1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SyncTask(ctx, nil), ErrInvalidInput)

	require.NoError(t, s.SyncTask(ctx, sampleSnapshot()))
	got, err := s.Load(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.RequestCount())
	testutil.AssertJSONEqual(t, sampleSnapshot(), got)
	assert.Equal(t, 1, s.Syncs())
	assert.Equal(t, []string{"T1"}, s.Tasks())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, s.SyncTask(cancelled, sampleSnapshot()), context.Canceled)
	assert.NoError(t, s.Close(ctx))
}
