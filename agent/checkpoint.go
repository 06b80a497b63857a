package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fxagent/fxagent/llm"
)

// ErrCheckpointNotFound is returned when no conversation exists for a
// context id.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Checkpoint is the persisted conversation state for one context id: the
// full message history including tool invocations and results.
type Checkpoint struct {
	ContextID string        `json:"context_id"`
	Messages  []llm.Message `json:"messages"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// CheckpointStore persists conversation state keyed by context id. Save
// overwrites unconditionally: concurrent turns on the same context id
// resolve last-writer-wins.
type CheckpointStore interface {
	// Load returns the checkpoint for contextID, or ErrCheckpointNotFound.
	Load(ctx context.Context, contextID string) (*Checkpoint, error)
	// Save overwrites the checkpoint for cp.ContextID.
	Save(ctx context.Context, cp *Checkpoint) error
	// Delete removes the checkpoint for contextID. Deleting a missing
	// checkpoint is not an error.
	Delete(ctx context.Context, contextID string) error
}

// MemoryCheckpointStore keeps checkpoints in process memory. Suitable for
// tests and single-process deployments.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

var _ CheckpointStore = (*MemoryCheckpointStore)(nil)

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{checkpoints: make(map[string]*Checkpoint)}
}

func (s *MemoryCheckpointStore) Load(ctx context.Context, contextID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[contextID]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return copyCheckpoint(cp), nil
}

func (s *MemoryCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.ContextID == "" {
		return errors.New("checkpoint missing context id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.ContextID] = copyCheckpoint(cp)
	return nil
}

func (s *MemoryCheckpointStore) Delete(ctx context.Context, contextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, contextID)
	return nil
}

// copyCheckpoint isolates stored state from caller mutation.
func copyCheckpoint(cp *Checkpoint) *Checkpoint {
	out := &Checkpoint{
		ContextID: cp.ContextID,
		Messages:  make([]llm.Message, len(cp.Messages)),
		UpdatedAt: cp.UpdatedAt,
	}
	copy(out.Messages, cp.Messages)
	return out
}
