package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	active := []Status{StatusPending, StatusInProgress}
	terminal := []Status{StatusApproved, StatusRejected, StatusCompleted, StatusExpired, StatusError, StatusCancelled}

	for _, s := range active {
		assert.False(t, s.IsTerminal(), s)
		assert.True(t, s.IsActive(), s)
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s)
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Status
	}{
		{"approved", StatusApproved},
		{" REJECTED ", StatusRejected},
		{"in_progress", StatusInProgress},
		{"canceled", StatusCancelled},
		{"", StatusPending},
		{"something-new", StatusPending},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseStatus(tt.in), tt.in)
	}
}

func TestParseLoopType(t *testing.T) {
	t.Parallel()

	lt, err := ParseLoopType("Approval")
	require.NoError(t, err)
	assert.Equal(t, LoopTypeApproval, lt)

	_, err = ParseLoopType("survey")
	assert.Error(t, err)
}

func TestRequest_ResultIsDetached(t *testing.T) {
	t.Parallel()

	now := time.Now()
	req := &Request{
		ConversationID: "c1",
		RequestID:      "r1",
		LoopType:       LoopTypeApproval,
		Status:         StatusApproved,
		Response:       map[string]any{"decision": "approved"},
		Feedback:       map[string]any{"note": "ok"},
		RespondedAt:    &now,
	}

	res := req.Result()
	res.Response.(map[string]any)["decision"] = "changed"
	res.Feedback["note"] = "changed"
	*res.RespondedAt = now.Add(time.Hour)

	assert.Equal(t, "approved", req.Response.(map[string]any)["decision"])
	assert.Equal(t, "ok", req.Feedback["note"])
	assert.Equal(t, now, *req.RespondedAt)
	assert.Equal(t, RequestKey{ConversationID: "c1", RequestID: "r1"}, req.Key())
	assert.Equal(t, "c1:r1", req.Key().String())
}

func TestConversation_AppendKeepsLatest(t *testing.T) {
	t.Parallel()

	c := &Conversation{ConversationID: "c1"}
	c.Append("r1")
	c.Append("r2")

	assert.Equal(t, []string{"r1", "r2"}, c.RequestIDs)
	assert.Equal(t, "r2", c.LatestRequestID)

	cp := c.Clone()
	cp.Append("r3")
	assert.Len(t, c.RequestIDs, 2)
}

func TestErrorResult_DefaultsLoopType(t *testing.T) {
	t.Parallel()

	res := ErrorResult("c1", "r1", "", "not found")
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, LoopTypeConversation, res.LoopType)
	assert.Equal(t, "not found", res.Error)
}

func TestResult_Clone(t *testing.T) {
	now := time.Now()
	res := &Result{
		RequestID:   "R1",
		Status:      StatusApproved,
		Response:    map[string]any{"decision": "approved"},
		Feedback:    map[string]any{"note": "ok"},
		RespondedAt: &now,
	}
	c := res.Clone()
	c.Response.(map[string]any)["decision"] = "rejected"
	c.Feedback["note"] = "changed"
	*c.RespondedAt = now.Add(time.Hour)

	assert.Equal(t, "approved", res.Response.(map[string]any)["decision"])
	assert.Equal(t, "ok", res.Feedback["note"])
	assert.True(t, res.RespondedAt.Equal(now))

	var nilRes *Result
	assert.Nil(t, nilRes.Clone())
}
