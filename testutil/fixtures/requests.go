// =============================================================================
// 📦 测试数据工厂 - 人机交互请求与结果
// =============================================================================
// 提供预定义的请求上下文、请求记录与结果，用于测试
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/humanloop/types"
)

// BaseTime 是所有 fixture 使用的固定时间
var BaseTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// =============================================================================
// 🎯 请求上下文
// =============================================================================

// DeployContext 返回生产部署审批的上下文
func DeployContext(env string) map[string]any {
	return map[string]any{
		"message":     "Deploy release to " + env + "?",
		"environment": env,
		"changes":     []any{"api", "worker"},
	}
}

// QuestionContext 返回信息收集类请求的上下文
func QuestionContext(question string) map[string]any {
	return map[string]any{
		"message":  question,
		"question": question,
	}
}

// ChatContext 返回对话类请求的上下文
func ChatContext(message string) map[string]any {
	return map[string]any{"message": message}
}

// SourceMetadata 返回标记来源的元数据
func SourceMetadata(source string) map[string]any {
	return map[string]any{"source": source}
}

// =============================================================================
// 📝 请求记录
// =============================================================================

// PendingRequest 返回一个 PENDING 的审批请求
func PendingRequest(taskID, conversationID, requestID string) *types.Request {
	return &types.Request{
		TaskID:         taskID,
		ConversationID: conversationID,
		RequestID:      requestID,
		LoopType:       types.LoopTypeApproval,
		Context:        DeployContext("production"),
		Metadata:       map[string]any{},
		Status:         types.StatusPending,
		Timeout:        time.Minute,
		CreatedAt:      BaseTime,
	}
}

// ApprovedRequest 返回一个已批准的请求
func ApprovedRequest(taskID, conversationID, requestID, by string) *types.Request {
	r := PendingRequest(taskID, conversationID, requestID)
	at := BaseTime.Add(30 * time.Second)
	r.Status = types.StatusApproved
	r.Response = "approved"
	r.Feedback = map[string]any{"comment": "looks good"}
	r.RespondedBy = by
	r.RespondedAt = &at
	return r
}

// ExpiredRequest 返回一个已超时的请求
func ExpiredRequest(taskID, conversationID, requestID string) *types.Request {
	r := PendingRequest(taskID, conversationID, requestID)
	r.Status = types.StatusExpired
	r.Error = "Request timed out"
	return r
}

// =============================================================================
// 📬 结果
// =============================================================================

// ApprovedResult 返回批准结果
func ApprovedResult(conversationID, requestID string) *types.Result {
	return ApprovedRequest("", conversationID, requestID, "reviewer").Result()
}

// RejectedResult 返回拒绝结果
func RejectedResult(conversationID, requestID, reason string) *types.Result {
	return &types.Result{
		ConversationID: conversationID,
		RequestID:      requestID,
		LoopType:       types.LoopTypeApproval,
		Status:         types.StatusRejected,
		Response:       "rejected",
		Feedback:       map[string]any{"reason": reason},
	}
}

// ChannelErrorResult 返回渠道失败结果
func ChannelErrorResult(conversationID, requestID, msg string) *types.Result {
	return types.ErrorResult(conversationID, requestID, types.LoopTypeApproval, msg)
}
