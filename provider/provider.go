// Package provider 定义人机交互渠道的统一契约以及共享的请求状态机.
//
// 每个渠道 (api / email / terminal / websocket) 实现 Provider 接口,
// 并通常内嵌 *Base 以复用请求与会话存储、受保护的状态迁移和超时监督。
package provider

import (
	"context"
	"time"

	"github.com/BaSui01/humanloop/types"
)

// Provider is the capability set every channel exposes.
type Provider interface {
	// Name returns the channel's stable identity.
	Name() string

	// RequestHumanLoop creates a PENDING request, or returns an ERROR result when the
	// channel could not be engaged. It never returns a terminal decision synchronously.
	RequestHumanLoop(ctx context.Context, taskID, conversationID string, loopType types.LoopType,
		reqCtx, metadata map[string]any, timeout time.Duration) (*types.Result, error)

	// CheckRequestStatus returns a snapshot. Unknown keys yield an ERROR result.
	CheckRequestStatus(ctx context.Context, conversationID, requestID string) (*types.Result, error)

	// CheckConversationStatus reports on the conversation's latest request.
	CheckConversationStatus(ctx context.Context, conversationID string) (*types.Result, error)

	// ContinueHumanLoop appends a request to an existing conversation.
	ContinueHumanLoop(ctx context.Context, conversationID string,
		reqCtx, metadata map[string]any, timeout time.Duration) (*types.Result, error)

	// CancelRequest moves a non-terminal request to CANCELLED.
	CancelRequest(ctx context.Context, conversationID, requestID string) (bool, error)

	// CancelConversation cancels every pending or in-progress request of a conversation.
	CancelConversation(ctx context.Context, conversationID string) (bool, error)
}

// Expirer is implemented by providers that let an outside supervisor expire a
// still-pending request.
type Expirer interface {
	ExpireRequest(conversationID, requestID, reason string) bool
}

// Notifier is implemented by push-capable providers. The returned channel is
// closed on the next state change of the request.
type Notifier interface {
	Changed(conversationID, requestID string) <-chan struct{}
}

// Recorder is implemented by providers that expose their stored request records.
// The manager uses it to build task snapshots.
type Recorder interface {
	Request(conversationID, requestID string) (*types.Request, bool)
}

// Closer is implemented by providers owning background workers.
type Closer interface {
	Close(ctx context.Context) error
}

// ErrRequestTimedOut is the error text recorded on expired requests.
const ErrRequestTimedOut = "Request timed out"
