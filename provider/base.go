package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/humanloop/timeout"
	"github.com/BaSui01/humanloop/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Resolution describes a human answer (or channel outcome) applied to a request.
type Resolution struct {
	Status      types.Status
	Response    any
	Feedback    map[string]any
	RespondedBy string
	Error       string
}

// Base 实现所有渠道共享的请求/会话存储与状态机.
//
// 终态请求不会再被改写: 取消之后迟到的人工回复会被忽略。
type Base struct {
	name string

	mu            sync.RWMutex
	requests      map[types.RequestKey]*types.Request
	conversations map[string]*types.Conversation
	waiters       map[types.RequestKey]chan struct{}

	supervisor *timeout.Supervisor
	newID      func() string
	now        func() time.Time
	logger     *zap.Logger
}

// BaseOption configures a Base.
type BaseOption func(*Base)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) BaseOption {
	return func(b *Base) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithIDGenerator overrides request id generation.
func WithIDGenerator(fn func() string) BaseOption {
	return func(b *Base) {
		if fn != nil {
			b.newID = fn
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) BaseOption {
	return func(b *Base) {
		if fn != nil {
			b.now = fn
		}
	}
}

// NewBase creates the shared store for a provider named name.
func NewBase(name string, opts ...BaseOption) *Base {
	b := &Base{
		name:          name,
		requests:      make(map[types.RequestKey]*types.Request),
		conversations: make(map[string]*types.Conversation),
		waiters:       make(map[types.RequestKey]chan struct{}),
		newID:         uuid.NewString,
		now:           time.Now,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("component", "provider"), zap.String("provider", name))
	b.supervisor = timeout.New(timeout.WithLogger(b.logger))
	return b
}

// Name returns the provider name.
func (b *Base) Name() string { return b.name }

// Logger returns the provider-scoped logger.
func (b *Base) Logger() *zap.Logger { return b.logger }

// Now returns the current time from the configured clock.
func (b *Base) Now() time.Time { return b.now() }

// NewRequest stores a PENDING request, creating the conversation on first use,
// and arms the request timeout when d is positive.
func (b *Base) NewRequest(taskID, conversationID string, loopType types.LoopType,
	reqCtx, metadata map[string]any, d time.Duration) *types.Request {
	if loopType == "" {
		loopType = types.LoopTypeConversation
	}
	req := &types.Request{
		TaskID:         taskID,
		ConversationID: conversationID,
		RequestID:      b.newID(),
		LoopType:       loopType,
		Context:        types.CloneMap(reqCtx),
		Metadata:       types.CloneMap(metadata),
		Status:         types.StatusPending,
		Timeout:        d,
		CreatedAt:      b.now(),
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}

	b.mu.Lock()
	conv, ok := b.conversations[conversationID]
	if !ok {
		conv = &types.Conversation{ConversationID: conversationID, TaskID: taskID, ProviderID: b.name}
		b.conversations[conversationID] = conv
	}
	conv.Append(req.RequestID)
	b.requests[req.Key()] = req
	out := req.Clone()
	b.mu.Unlock()

	b.armTimeout(req.Key(), d)

	b.logger.Debug("request created",
		zap.String("task_id", taskID),
		zap.String("conversation_id", conversationID),
		zap.String("request_id", req.RequestID),
		zap.String("loop_type", string(loopType)))
	return out
}

// AppendRequest adds a CONVERSATION request to an existing conversation.
// It returns false when the conversation is unknown.
func (b *Base) AppendRequest(conversationID string, reqCtx, metadata map[string]any, d time.Duration) (*types.Request, bool) {
	b.mu.RLock()
	conv, ok := b.conversations[conversationID]
	var taskID string
	if ok {
		taskID = conv.TaskID
	}
	b.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return b.NewRequest(taskID, conversationID, types.LoopTypeConversation, reqCtx, metadata, d), true
}

func (b *Base) armTimeout(key types.RequestKey, d time.Duration) {
	if d <= 0 {
		return
	}
	b.supervisor.Arm(key, d, func(context.Context, int) timeout.Verdict {
		status, ok := b.Status(key.ConversationID, key.RequestID)
		if !ok {
			return timeout.Done
		}
		switch status {
		case types.StatusPending:
			b.Expire(key.ConversationID, key.RequestID, ErrRequestTimedOut)
			return timeout.Done
		case types.StatusInProgress:
			return timeout.Renew
		default:
			return timeout.Done
		}
	})
}

// UpdateRequest applies fn to a non-terminal request. It returns false when the
// request is unknown or already terminal.
func (b *Base) UpdateRequest(conversationID, requestID string, fn func(r *types.Request)) bool {
	key := types.RequestKey{ConversationID: conversationID, RequestID: requestID}

	b.mu.Lock()
	req, ok := b.requests[key]
	if !ok || req.Status.IsTerminal() {
		b.mu.Unlock()
		return false
	}
	prev := req.Status
	fn(req)
	// identity fields are not writable
	req.ConversationID, req.RequestID = key.ConversationID, key.RequestID
	status := req.Status
	b.notifyLocked(key)
	b.mu.Unlock()

	if status.IsTerminal() {
		b.supervisor.Cancel(key)
	}
	if status != prev {
		b.logger.Debug("request status changed",
			zap.String("conversation_id", conversationID),
			zap.String("request_id", requestID),
			zap.String("from", string(prev)),
			zap.String("to", string(status)))
	}
	return true
}

// Resolve records a human answer on a pending or in-progress request.
func (b *Base) Resolve(conversationID, requestID string, res Resolution) bool {
	now := b.now()
	return b.UpdateRequest(conversationID, requestID, func(r *types.Request) {
		r.Status = res.Status
		r.Response = res.Response
		if res.Feedback != nil {
			r.Feedback = types.CloneMap(res.Feedback)
		}
		if res.RespondedBy != "" {
			r.RespondedBy = res.RespondedBy
		}
		r.RespondedAt = &now
		r.Error = res.Error
	})
}

// Fail moves a request to ERROR.
func (b *Base) Fail(conversationID, requestID, msg string) bool {
	return b.UpdateRequest(conversationID, requestID, func(r *types.Request) {
		r.Status = types.StatusError
		r.Error = msg
	})
}

// Expire moves a PENDING request to EXPIRED. In-progress requests are left alone.
func (b *Base) Expire(conversationID, requestID, reason string) bool {
	if reason == "" {
		reason = ErrRequestTimedOut
	}
	expired := false
	b.UpdateRequest(conversationID, requestID, func(r *types.Request) {
		if r.Status != types.StatusPending {
			return
		}
		r.Status = types.StatusExpired
		r.Error = reason
		expired = true
	})
	if expired {
		b.logger.Info("request expired",
			zap.String("conversation_id", conversationID),
			zap.String("request_id", requestID))
	}
	return expired
}

// ExpireRequest implements Expirer.
func (b *Base) ExpireRequest(conversationID, requestID, reason string) bool {
	return b.Expire(conversationID, requestID, reason)
}

// Request returns a copy of the stored request.
func (b *Base) Request(conversationID, requestID string) (*types.Request, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	req, ok := b.requests[types.RequestKey{ConversationID: conversationID, RequestID: requestID}]
	if !ok {
		return nil, false
	}
	return req.Clone(), true
}

// Status returns the current status of a request.
func (b *Base) Status(conversationID, requestID string) (types.Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	req, ok := b.requests[types.RequestKey{ConversationID: conversationID, RequestID: requestID}]
	if !ok {
		return "", false
	}
	return req.Status, true
}

// Conversation returns a copy of the conversation record.
func (b *Base) Conversation(conversationID string) (*types.Conversation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conv, ok := b.conversations[conversationID]
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

// ConversationRequests returns the request ids of a conversation in creation order.
func (b *Base) ConversationRequests(conversationID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conv, ok := b.conversations[conversationID]
	if !ok {
		return nil
	}
	return append([]string(nil), conv.RequestIDs...)
}

// Snapshot returns the Result for a request, or an ERROR result when unknown.
func (b *Base) Snapshot(conversationID, requestID string) *types.Result {
	b.mu.RLock()
	defer b.mu.RUnlock()
	req, ok := b.requests[types.RequestKey{ConversationID: conversationID, RequestID: requestID}]
	if !ok {
		return types.ErrorResult(conversationID, requestID, "",
			fmt.Sprintf("Request '%s' not found in conversation '%s'", requestID, conversationID))
	}
	return req.Result()
}

// CheckRequestStatus implements Provider.
func (b *Base) CheckRequestStatus(_ context.Context, conversationID, requestID string) (*types.Result, error) {
	return b.Snapshot(conversationID, requestID), nil
}

// CheckConversationStatus implements Provider.
func (b *Base) CheckConversationStatus(ctx context.Context, conversationID string) (*types.Result, error) {
	b.mu.RLock()
	conv, ok := b.conversations[conversationID]
	var latest string
	if ok {
		latest = conv.LatestRequestID
	}
	b.mu.RUnlock()
	if !ok {
		return types.ErrorResult(conversationID, "", "",
			fmt.Sprintf("Conversation '%s' not found", conversationID)), nil
	}
	return b.CheckRequestStatus(ctx, conversationID, latest)
}

// Cancel moves a non-terminal request to CANCELLED and releases its alarm.
func (b *Base) Cancel(conversationID, requestID string) bool {
	b.supervisor.Cancel(types.RequestKey{ConversationID: conversationID, RequestID: requestID})
	return b.UpdateRequest(conversationID, requestID, func(r *types.Request) {
		r.Status = types.StatusCancelled
	})
}

// CancelAll cancels every non-terminal request of a conversation. It returns
// false when the conversation is unknown.
func (b *Base) CancelAll(conversationID string) bool {
	b.supervisor.CancelConversation(conversationID)
	ids := b.ConversationRequests(conversationID)
	if ids == nil {
		return false
	}
	for _, id := range ids {
		b.Cancel(conversationID, id)
	}
	return true
}

// CancelRequest implements Provider.
func (b *Base) CancelRequest(_ context.Context, conversationID, requestID string) (bool, error) {
	return b.Cancel(conversationID, requestID), nil
}

// CancelConversation implements Provider.
func (b *Base) CancelConversation(_ context.Context, conversationID string) (bool, error) {
	return b.CancelAll(conversationID), nil
}

// Changed implements Notifier.
func (b *Base) Changed(conversationID, requestID string) <-chan struct{} {
	key := types.RequestKey{ConversationID: conversationID, RequestID: requestID}

	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.waiters[key]
	if !ok {
		ch = make(chan struct{})
		if req, known := b.requests[key]; !known || req.Status.IsTerminal() {
			close(ch)
			return ch
		}
		b.waiters[key] = ch
	}
	return ch
}

func (b *Base) notifyLocked(key types.RequestKey) {
	if ch, ok := b.waiters[key]; ok {
		close(ch)
		delete(b.waiters, key)
	}
}

// TimeoutArmed reports whether the provider-side alarm for a request is active.
func (b *Base) TimeoutArmed(conversationID, requestID string) bool {
	return b.supervisor.Armed(types.RequestKey{ConversationID: conversationID, RequestID: requestID})
}

// Stats returns the number of conversations, total requests and non-terminal requests.
func (b *Base) Stats() (conversations, total, active int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, req := range b.requests {
		if req.Status.IsActive() {
			active++
		}
	}
	return len(b.conversations), len(b.requests), active
}

// String renders the store statistics.
func (b *Base) String() string {
	conversations, total, active := b.Stats()
	return fmt.Sprintf("%s(conversations=%d, total_requests=%d, active_requests=%d)",
		b.name, conversations, total, active)
}

// Close stops the provider-side timeout alarms.
func (b *Base) Close(ctx context.Context) error {
	return b.supervisor.Close(ctx)
}
