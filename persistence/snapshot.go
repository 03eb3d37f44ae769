package persistence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/BaSui01/humanloop/types"
)

var (
	// ErrNotFound is returned by Reader.Load for an unknown task.
	ErrNotFound = errors.New("task snapshot not found")
	// ErrInvalidInput is returned for a nil snapshot or an empty task id.
	ErrInvalidInput = errors.New("invalid snapshot")
)

// Sink receives task snapshots.
type Sink interface {
	Name() string
	SyncTask(ctx context.Context, snap *TaskSnapshot) error
	Close(ctx context.Context) error
}

// Reader is implemented by sinks that can return what they stored.
type Reader interface {
	Load(ctx context.Context, taskID string) (*TaskSnapshot, error)
}

// Pinger is implemented by sinks backed by a network store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RequestRecord is the persisted form of one request.
type RequestRecord struct {
	RequestID      string         `json:"request_id" bson:"request_id"`
	LoopType       string         `json:"loop_type" bson:"loop_type"`
	Status         string         `json:"status" bson:"status"`
	Context        map[string]any `json:"context,omitempty" bson:"context,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Response       any            `json:"response,omitempty" bson:"response,omitempty"`
	Feedback       map[string]any `json:"feedback,omitempty" bson:"feedback,omitempty"`
	RespondedBy    string         `json:"responded_by,omitempty" bson:"responded_by,omitempty"`
	RespondedAt    *time.Time     `json:"responded_at,omitempty" bson:"responded_at,omitempty"`
	Error          string         `json:"error,omitempty" bson:"error,omitempty"`
	TimeoutSeconds int64          `json:"timeout_seconds,omitempty" bson:"timeout_seconds,omitempty"`
	CreatedAt      time.Time      `json:"created_at" bson:"created_at"`
}

// NewRequestRecord copies req into its persisted form.
func NewRequestRecord(req *types.Request) RequestRecord {
	c := req.Clone()
	return RequestRecord{
		RequestID:      c.RequestID,
		LoopType:       string(c.LoopType),
		Status:         string(c.Status),
		Context:        c.Context,
		Metadata:       c.Metadata,
		Response:       c.Response,
		Feedback:       c.Feedback,
		RespondedBy:    c.RespondedBy,
		RespondedAt:    c.RespondedAt,
		Error:          c.Error,
		TimeoutSeconds: int64(c.Timeout / time.Second),
		CreatedAt:      c.CreatedAt,
	}
}

// ConversationSnapshot groups the requests of one conversation.
type ConversationSnapshot struct {
	ConversationID string          `json:"conversation_id"`
	ProviderID     string          `json:"provider_id"`
	Requests       []RequestRecord `json:"requests"`
}

// TaskSnapshot is the state of every conversation of a task at one instant.
type TaskSnapshot struct {
	TaskID        string                 `json:"task_id"`
	Conversations []ConversationSnapshot `json:"conversations"`
	Timestamp     time.Time              `json:"timestamp"`
}

// NewTaskSnapshot starts an empty snapshot.
func NewTaskSnapshot(taskID string, ts time.Time) *TaskSnapshot {
	return &TaskSnapshot{TaskID: taskID, Conversations: []ConversationSnapshot{}, Timestamp: ts.UTC()}
}

// AddConversation appends a conversation built from reqs.
func (s *TaskSnapshot) AddConversation(conversationID, providerID string, reqs []*types.Request) {
	cs := ConversationSnapshot{
		ConversationID: conversationID,
		ProviderID:     providerID,
		Requests:       make([]RequestRecord, 0, len(reqs)),
	}
	for _, r := range reqs {
		if r != nil {
			cs.Requests = append(cs.Requests, NewRequestRecord(r))
		}
	}
	s.Conversations = append(s.Conversations, cs)
}

// Validate checks the snapshot can be stored.
func (s *TaskSnapshot) Validate() error {
	if s == nil || s.TaskID == "" {
		return ErrInvalidInput
	}
	return nil
}

// RequestCount returns the number of requests across all conversations.
func (s *TaskSnapshot) RequestCount() int {
	n := 0
	for _, c := range s.Conversations {
		n += len(c.Requests)
	}
	return n
}

// Entry is one request row of a snapshot, used by row-oriented sinks.
type Entry struct {
	TaskID         string `json:"task_id" bson:"task_id"`
	ConversationID string `json:"conversation_id" bson:"conversation_id"`
	ProviderID     string `json:"provider_id" bson:"provider_id"`
	RequestRecord  `bson:",inline"`
}

// Entries flattens the snapshot.
func (s *TaskSnapshot) Entries() []Entry {
	out := make([]Entry, 0, s.RequestCount())
	for _, c := range s.Conversations {
		for _, r := range c.Requests {
			out = append(out, Entry{
				TaskID:         s.TaskID,
				ConversationID: c.ConversationID,
				ProviderID:     c.ProviderID,
				RequestRecord:  r,
			})
		}
	}
	return out
}

// Assemble rebuilds a snapshot from rows. Conversations are ordered by their
// first request and requests by creation time.
func Assemble(taskID string, ts time.Time, entries []Entry) *TaskSnapshot {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	snap := NewTaskSnapshot(taskID, ts)
	index := make(map[string]int)
	for _, e := range sorted {
		i, ok := index[e.ConversationID]
		if !ok {
			i = len(snap.Conversations)
			index[e.ConversationID] = i
			snap.Conversations = append(snap.Conversations, ConversationSnapshot{
				ConversationID: e.ConversationID,
				ProviderID:     e.ProviderID,
			})
		}
		snap.Conversations[i].Requests = append(snap.Conversations[i].Requests, e.RequestRecord)
	}
	return snap
}

// Merge folds next into prev: conversations and requests are matched by id
// and replaced, new ones appended.
func Merge(prev, next *TaskSnapshot) *TaskSnapshot {
	if prev == nil {
		return next
	}
	entries := make(map[types.RequestKey]Entry)
	order := make([]types.RequestKey, 0, prev.RequestCount()+next.RequestCount())
	for _, snap := range []*TaskSnapshot{prev, next} {
		for _, e := range snap.Entries() {
			k := types.RequestKey{ConversationID: e.ConversationID, RequestID: e.RequestID}
			if _, seen := entries[k]; !seen {
				order = append(order, k)
			}
			entries[k] = e
		}
	}
	flat := make([]Entry, 0, len(order))
	for _, k := range order {
		flat = append(flat, entries[k])
	}
	return Assemble(next.TaskID, next.Timestamp, flat)
}
