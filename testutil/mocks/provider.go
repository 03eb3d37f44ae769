// MockProvider 是人机交互渠道的测试模拟实现。
//
// 内嵌 provider.Base 复用请求存储与状态机，支持调用记录、错误注入、
// 渠道失败以及自动应答。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/humanloop/provider"
	"github.com/BaSui01/humanloop/types"
)

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Method         string
	TaskID         string
	ConversationID string
	RequestID      string
	LoopType       types.LoopType
	Context        map[string]any
	Timeout        time.Duration
}

// MockProvider 是 provider.Provider 的模拟实现
type MockProvider struct {
	*provider.Base

	mu sync.Mutex

	// 行为控制
	err          error
	channelErr   string
	failAfter    int
	callCount    int
	ownTimeout   bool
	autoResolve  *provider.Resolution
	resolveDelay time.Duration
	closed       bool

	calls []MockProviderCall
}

// NewMockProvider 创建新的 MockProvider。默认不自行布置超时，交给调用方监督。
func NewMockProvider(name string, opts ...provider.BaseOption) *MockProvider {
	if name == "" {
		name = "mock"
	}
	return &MockProvider{Base: provider.NewBase(name, opts...)}
}

// WithError 让 Request/Continue 返回 err
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithChannelFailure 让新请求立即进入 ERROR
func (m *MockProvider) WithChannelFailure(msg string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channelErr = msg
	return m
}

// WithFailAfter 在第 n 次调用后返回错误
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithOwnTimeout 由 Base 自行布置超时
func (m *MockProvider) WithOwnTimeout(on bool) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ownTimeout = on
	return m
}

// WithAutoResolve 在 delay 之后自动应答每个新请求
func (m *MockProvider) WithAutoResolve(res provider.Resolution, delay time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoResolve = &res
	m.resolveDelay = delay
	return m
}

// RequestHumanLoop implements provider.Provider.
func (m *MockProvider) RequestHumanLoop(_ context.Context, taskID, conversationID string, loopType types.LoopType,
	reqCtx, metadata map[string]any, timeout time.Duration) (*types.Result, error) {
	if err := m.begin(); err != nil {
		m.record(MockProviderCall{Method: "request", TaskID: taskID, ConversationID: conversationID, LoopType: loopType})
		return nil, err
	}
	req := m.NewRequest(taskID, conversationID, loopType, reqCtx, metadata, m.timeoutFor(timeout))
	return m.finish("request", req, timeout), nil
}

// ContinueHumanLoop implements provider.Provider.
func (m *MockProvider) ContinueHumanLoop(_ context.Context, conversationID string,
	reqCtx, metadata map[string]any, timeout time.Duration) (*types.Result, error) {
	if err := m.begin(); err != nil {
		m.record(MockProviderCall{Method: "continue", ConversationID: conversationID})
		return nil, err
	}
	req, ok := m.AppendRequest(conversationID, reqCtx, metadata, m.timeoutFor(timeout))
	if !ok {
		m.record(MockProviderCall{Method: "continue", ConversationID: conversationID})
		return types.ErrorResult(conversationID, "", types.LoopTypeConversation,
			fmt.Sprintf("Conversation '%s' not found", conversationID)), nil
	}
	return m.finish("continue", req, timeout), nil
}

func (m *MockProvider) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if m.err != nil {
		return m.err
	}
	if m.failAfter > 0 && m.callCount > m.failAfter {
		return types.NewError(types.ErrUpstreamError, "mock provider failure").WithProvider(m.Name())
	}
	return nil
}

func (m *MockProvider) timeoutFor(d time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ownTimeout {
		return d
	}
	return 0
}

func (m *MockProvider) finish(method string, req *types.Request, timeout time.Duration) *types.Result {
	key := req.Key()
	if timeout > 0 {
		m.UpdateRequest(key.ConversationID, key.RequestID, func(r *types.Request) { r.Timeout = timeout })
	}
	m.record(MockProviderCall{
		Method:         method,
		TaskID:         req.TaskID,
		ConversationID: key.ConversationID,
		RequestID:      key.RequestID,
		LoopType:       req.LoopType,
		Context:        req.Context,
		Timeout:        timeout,
	})

	m.mu.Lock()
	channelErr, auto, delay := m.channelErr, m.autoResolve, m.resolveDelay
	m.mu.Unlock()

	if channelErr != "" {
		m.Fail(key.ConversationID, key.RequestID, channelErr)
	} else if auto != nil {
		res := *auto
		time.AfterFunc(delay, func() { m.Resolve(key.ConversationID, key.RequestID, res) })
	}
	return m.Snapshot(key.ConversationID, key.RequestID)
}

func (m *MockProvider) record(c MockProviderCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// --- 人工应答辅助 ---

// Approve 以 APPROVED 结束请求
func (m *MockProvider) Approve(conversationID, requestID, by string) bool {
	return m.Resolve(conversationID, requestID, provider.Resolution{
		Status:      types.StatusApproved,
		Response:    "approved",
		RespondedBy: by,
	})
}

// Reject 以 REJECTED 结束请求
func (m *MockProvider) Reject(conversationID, requestID, reason string) bool {
	return m.Resolve(conversationID, requestID, provider.Resolution{
		Status:   types.StatusRejected,
		Response: "rejected",
		Feedback: map[string]any{"reason": reason},
	})
}

// Complete 以 COMPLETED 结束请求
func (m *MockProvider) Complete(conversationID, requestID string, response any) bool {
	return m.Resolve(conversationID, requestID, provider.Resolution{
		Status:   types.StatusCompleted,
		Response: response,
	})
}

// SetStatus 直接改写非终态请求的状态
func (m *MockProvider) SetStatus(conversationID, requestID string, status types.Status) bool {
	return m.UpdateRequest(conversationID, requestID, func(r *types.Request) { r.Status = status })
}

// --- 调用记录 ---

// GetCalls 返回调用记录
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall(nil), m.calls...)
}

// GetCallCount 返回调用次数
func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// GetLastCall 返回最后一次调用
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}

// Reset 清空调用记录与注入的错误
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
	m.err = nil
	m.channelErr = ""
	m.failAfter = 0
}

// Closed 报告 Close 是否被调用
func (m *MockProvider) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close implements provider.Closer.
func (m *MockProvider) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Base.Close(ctx)
}

// --- 预置构造 ---

// NewApprovingProvider 在 delay 后批准每个请求
func NewApprovingProvider(name string, delay time.Duration) *MockProvider {
	return NewMockProvider(name).WithAutoResolve(provider.Resolution{
		Status:      types.StatusApproved,
		Response:    "approved",
		RespondedBy: "mock-reviewer",
	}, delay)
}

// NewFailingChannelProvider 返回渠道不可用的 Provider
func NewFailingChannelProvider(name, msg string) *MockProvider {
	return NewMockProvider(name).WithChannelFailure(msg)
}

// NewErrorProvider 返回直接报错的 Provider
func NewErrorProvider(name string, err error) *MockProvider {
	return NewMockProvider(name).WithError(err)
}
