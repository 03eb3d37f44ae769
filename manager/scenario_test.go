package manager

import (
	"fmt"
	"testing"
	"time"

	"github.com/BaSui01/humanloop/provider"
	"github.com/BaSui01/humanloop/testutil"
	"github.com/BaSui01/humanloop/testutil/mocks"
	"github.com/BaSui01/humanloop/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// 时间单位按 100ms 缩放
const unit = 100 * time.Millisecond

func TestScenario_NonBlockingRequestIsPending(t *testing.T) {
	m := newManager(t)
	ctx := testutil.TestContext(t)
	_, _ = m.RegisterProvider(mocks.NewMockProvider("mock"), "")

	opts := approval("T1", "C1")
	opts.Timeout = 5 * unit
	id, err := m.Request(ctx, opts)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	res, err := m.CheckRequestStatus(ctx, "C1", id, "")
	require.NoError(t, err)
	testutil.AssertStatus(t, types.StatusPending, res)
	assert.Equal(t, types.LoopTypeApproval, res.LoopType)
}

func TestScenario_ApprovedBeforeTimeout(t *testing.T) {
	m := newManager(t)
	ctx := testutil.TestContext(t)
	p := mocks.NewMockProvider("mock")
	_, _ = m.RegisterProvider(p, "")

	cb := &recorder{}
	opts := approval("T1", "C1")
	opts.Timeout = 5 * unit
	opts.Callback = cb
	id, err := m.Request(ctx, opts)
	require.NoError(t, err)

	require.True(t, p.Resolve("C1", id, provider.Resolution{
		Status:   types.StatusApproved,
		Response: map[string]any{"decision": "approved"},
	}))

	res, err := m.CheckRequestStatus(ctx, "C1", id, "")
	require.NoError(t, err)
	testutil.AssertStatus(t, types.StatusApproved, res)
	assert.Equal(t, map[string]any{"decision": "approved"}, res.Response)
	assert.False(t, m.TimeoutArmed("C1", id))

	// past the original deadline nothing expires
	time.Sleep(6 * unit)
	st, _ := p.Status("C1", id)
	assert.Equal(t, types.StatusApproved, st)
	updates, timeouts, _ := cb.counts()
	assert.Equal(t, 1, updates)
	assert.Zero(t, timeouts)
}

func TestScenario_InProgressRenewsThenCompletes(t *testing.T) {
	m := newManager(t)
	ctx := testutil.TestContext(t)
	p := mocks.NewMockProvider("mock")
	_, _ = m.RegisterProvider(p, "")

	cb := &recorder{}
	id, err := m.Request(ctx, RequestOptions{
		TaskID:         "T1",
		ConversationID: "C1",
		LoopType:       types.LoopTypeConversation,
		Timeout:        10 * unit,
		Callback:       cb,
	})
	require.NoError(t, err)

	time.Sleep(5 * unit)
	require.True(t, p.SetStatus("C1", id, types.StatusInProgress))

	// the alarm fires at 10 units, sees INPROGRESS and renews
	testutil.AssertEventuallyTrue(t, func() bool {
		return m.supervisor.Renewals(types.RequestKey{ConversationID: "C1", RequestID: id}) >= 1
	}, 20*unit)
	assert.True(t, m.TimeoutArmed("C1", id))

	require.True(t, p.Complete("C1", id, "done"))
	res, err := m.CheckRequestStatus(ctx, "C1", id, "")
	require.NoError(t, err)
	testutil.AssertStatus(t, types.StatusCompleted, res)

	updates, timeouts, _ := cb.counts()
	assert.Equal(t, 1, updates)
	assert.Zero(t, timeouts)
	assert.False(t, m.TimeoutArmed("C1", id))
}

func TestScenario_CancelConversationSparesTerminal(t *testing.T) {
	m := newManager(t)
	ctx := testutil.TestContext(t)
	p := mocks.NewMockProvider("mock")
	_, _ = m.RegisterProvider(p, "")

	opts := RequestOptions{TaskID: "T1", ConversationID: "C1", Timeout: time.Minute}
	done, err := m.Request(ctx, opts)
	require.NoError(t, err)
	require.True(t, p.Complete("C1", done, map[string]any{"answer": 42}))
	_, err = m.CheckRequestStatus(ctx, "C1", done, "")
	require.NoError(t, err)

	pending, err := m.Continue(ctx, ContinueOptions{ConversationID: "C1", Timeout: time.Minute})
	require.NoError(t, err)
	require.True(t, m.TimeoutArmed("C1", pending))

	ok, err := m.CancelConversation(ctx, "C1", "")
	require.NoError(t, err)
	assert.True(t, ok)

	first, err := m.CheckRequestStatus(ctx, "C1", done, "")
	require.NoError(t, err)
	testutil.AssertStatus(t, types.StatusCompleted, first)
	assert.Equal(t, map[string]any{"answer": 42}, first.Response)

	second, err := m.CheckRequestStatus(ctx, "C1", pending, "")
	require.NoError(t, err)
	testutil.AssertStatus(t, types.StatusCancelled, second)

	assert.False(t, m.TimeoutArmed("C1", done))
	assert.False(t, m.TimeoutArmed("C1", pending))
	assert.Equal(t, []string{done, pending}, m.ConversationRequests("C1"))
}

// 任意请求序列下, 管理端索引与 provider 的会话顺序一致
func TestManager_IndexOrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := New(WithConfig(Config{PollInterval: 10 * time.Millisecond}))
		defer m.Shutdown(testutil.CancelledContext())
		p := mocks.NewMockProvider("mock")
		_, _ = m.RegisterProvider(p, "")
		ctx := testutil.TestContext(t)

		nConv := rapid.IntRange(1, 4).Draw(rt, "conversations")
		steps := rapid.IntRange(1, 20).Draw(rt, "steps")
		var firstSeen []string
		seen := map[string]bool{}

		for i := 0; i < steps; i++ {
			conv := fmt.Sprintf("C%d", rapid.IntRange(1, nConv).Draw(rt, "conv"))
			var err error
			if seen[conv] && rapid.Bool().Draw(rt, "continue") {
				_, err = m.Continue(ctx, ContinueOptions{ConversationID: conv})
			} else {
				_, err = m.Request(ctx, RequestOptions{TaskID: "T1", ConversationID: conv})
			}
			if err != nil {
				rt.Fatalf("step %d: %v", i, err)
			}
			if !seen[conv] {
				seen[conv] = true
				firstSeen = append(firstSeen, conv)
			}
		}

		if got := m.TaskConversations("T1"); !assert.ObjectsAreEqual(firstSeen, got) {
			rt.Fatalf("conversation order %v, want %v", got, firstSeen)
		}
		for _, conv := range firstSeen {
			want := p.ConversationRequests(conv)
			if got := m.ConversationRequests(conv); !assert.ObjectsAreEqual(want, got) {
				rt.Fatalf("%s: request order %v, want %v", conv, got, want)
			}
			if !m.CheckConversationExist("T1", conv) {
				rt.Fatalf("%s: not reported as existing", conv)
			}
		}
	})
}
