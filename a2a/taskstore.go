package a2a

import (
	"context"
	"sync"
)

// TaskStore persists task state so clients can poll after a turn.
type TaskStore interface {
	Save(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
}

// InMemoryTaskStore is a mutex-guarded in-process TaskStore.
type InMemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

var _ TaskStore = (*InMemoryTaskStore)(nil)

func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{tasks: make(map[string]*Task)}
}

func (s *InMemoryTaskStore) Save(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = copyTask(task)
	return nil
}

func (s *InMemoryTaskStore) Get(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return copyTask(task), nil
}

func copyTask(task *Task) *Task {
	out := *task
	out.History = make([]Message, len(task.History))
	copy(out.History, task.History)
	return &out
}
