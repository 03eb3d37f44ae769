package persistence

import (
	"context"
	"sync"
)

// MemorySink keeps merged snapshots in process. Useful for tests and the demo.
type MemorySink struct {
	mu    sync.RWMutex
	tasks map[string]*TaskSnapshot
	syncs int
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{tasks: make(map[string]*TaskSnapshot)}
}

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) SyncTask(ctx context.Context, snap *TaskSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[snap.TaskID] = Merge(s.tasks[snap.TaskID], snap)
	s.syncs++
	return nil
}

func (s *MemorySink) Load(ctx context.Context, taskID string) (*TaskSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	// 重新组装，避免调用方修改内部切片
	return Assemble(snap.TaskID, snap.Timestamp, snap.Entries()), nil
}

// Syncs returns how many snapshots were accepted.
func (s *MemorySink) Syncs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncs
}

// Tasks lists stored task ids.
func (s *MemorySink) Tasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

func (s *MemorySink) Close(context.Context) error { return nil }
