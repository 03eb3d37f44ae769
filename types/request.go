package types

import (
	"time"
)

// RequestKey identifies a request inside its conversation.
type RequestKey struct {
	ConversationID string `json:"conversation_id"`
	RequestID      string `json:"request_id"`
}

// String renders the key as "conversation:request".
func (k RequestKey) String() string {
	return k.ConversationID + ":" + k.RequestID
}

// Request is one discrete ask-and-wait-for-answer unit within a conversation.
type Request struct {
	TaskID         string         `json:"task_id"`
	ConversationID string         `json:"conversation_id"`
	RequestID      string         `json:"request_id"`
	LoopType       LoopType       `json:"loop_type"`
	Context        map[string]any `json:"context,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Status         Status         `json:"status"`
	Response       any            `json:"response,omitempty"`
	Feedback       map[string]any `json:"feedback,omitempty"`
	RespondedBy    string         `json:"responded_by,omitempty"`
	RespondedAt    *time.Time     `json:"responded_at,omitempty"`
	Error          string         `json:"error,omitempty"`
	Timeout        time.Duration  `json:"timeout,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Key returns the request's composite key.
func (r *Request) Key() RequestKey {
	return RequestKey{ConversationID: r.ConversationID, RequestID: r.RequestID}
}

// Result builds an immutable snapshot of the request.
func (r *Request) Result() *Result {
	res := &Result{
		ConversationID: r.ConversationID,
		RequestID:      r.RequestID,
		LoopType:       r.LoopType,
		Status:         r.Status,
		Response:       cloneValue(r.Response),
		Feedback:       CloneMap(r.Feedback),
		RespondedBy:    r.RespondedBy,
		Error:          r.Error,
	}
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		res.RespondedAt = &t
	}
	return res
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	c := *r
	c.Context = CloneMap(r.Context)
	c.Metadata = CloneMap(r.Metadata)
	c.Feedback = CloneMap(r.Feedback)
	c.Response = cloneValue(r.Response)
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		c.RespondedAt = &t
	}
	return &c
}

// Conversation is one bound exchange with a human over one provider.
type Conversation struct {
	ConversationID  string   `json:"conversation_id"`
	TaskID          string   `json:"task_id"`
	ProviderID      string   `json:"provider_id,omitempty"`
	RequestIDs      []string `json:"request_ids"`
	LatestRequestID string   `json:"latest_request_id"`
}

// Append records a new request id and moves the latest pointer.
func (c *Conversation) Append(requestID string) {
	c.RequestIDs = append(c.RequestIDs, requestID)
	c.LatestRequestID = requestID
}

// Clone returns a copy with its own request id slice.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.RequestIDs = append([]string(nil), c.RequestIDs...)
	return &cp
}

// Result is the snapshot of a request returned to callers.
type Result struct {
	ConversationID string         `json:"conversation_id"`
	RequestID      string         `json:"request_id"`
	LoopType       LoopType       `json:"loop_type"`
	Status         Status         `json:"status"`
	Response       any            `json:"response,omitempty"`
	Feedback       map[string]any `json:"feedback,omitempty"`
	RespondedBy    string         `json:"responded_by,omitempty"`
	RespondedAt    *time.Time     `json:"responded_at,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	c.Response = cloneValue(r.Response)
	c.Feedback = CloneMap(r.Feedback)
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		c.RespondedAt = &t
	}
	return &c
}

// ErrorResult builds an ERROR-status result. Used for unknown lookups and channel failures.
func ErrorResult(conversationID, requestID string, loopType LoopType, msg string) *Result {
	if loopType == "" {
		loopType = LoopTypeConversation
	}
	return &Result{
		ConversationID: conversationID,
		RequestID:      requestID,
		LoopType:       loopType,
		Status:         StatusError,
		Error:          msg,
	}
}

// CloneMap copies a map recursively through nested maps and slices.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return CloneMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(tv))
		for k, e := range tv {
			out[k] = e
		}
		return out
	default:
		return v
	}
}
