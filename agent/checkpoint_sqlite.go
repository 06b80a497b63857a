package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fxagent/fxagent/llm"
)

// checkpointRecord is the GORM row backing one checkpoint. The message
// history is stored as a JSON blob; the table is never queried by
// message content.
type checkpointRecord struct {
	ContextID string    `gorm:"primaryKey;column:context_id"`
	Messages  []byte    `gorm:"column:messages"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (checkpointRecord) TableName() string { return "conversation_checkpoints" }

// SQLiteCheckpointStore persists checkpoints in a SQLite database.
type SQLiteCheckpointStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ CheckpointStore = (*SQLiteCheckpointStore)(nil)

// NewSQLiteCheckpointStore opens (or creates) the database at path and
// migrates the checkpoint table. Use ":memory:" for an ephemeral store.
func NewSQLiteCheckpointStore(path string, logger *zap.Logger) (*SQLiteCheckpointStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, fmt.Errorf("migrate checkpoint table: %w", err)
	}

	return &SQLiteCheckpointStore{db: db, logger: logger}, nil
}

func (s *SQLiteCheckpointStore) Load(ctx context.Context, contextID string) (*Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).First(&rec, "context_id = ?", contextID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", contextID, err)
	}

	var messages []llm.Message
	if err := json.Unmarshal(rec.Messages, &messages); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", contextID, err)
	}

	return &Checkpoint{ContextID: rec.ContextID, Messages: messages, UpdatedAt: rec.UpdatedAt}, nil
}

func (s *SQLiteCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.ContextID == "" {
		return errors.New("checkpoint missing context id")
	}

	data, err := json.Marshal(cp.Messages)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.ContextID, err)
	}

	rec := checkpointRecord{ContextID: cp.ContextID, Messages: data, UpdatedAt: cp.UpdatedAt}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	err = s.db.WithContext(ctx).Save(&rec).Error
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ContextID, err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("context_id", cp.ContextID),
		zap.Int("messages", len(cp.Messages)))
	return nil
}

func (s *SQLiteCheckpointStore) Delete(ctx context.Context, contextID string) error {
	err := s.db.WithContext(ctx).Delete(&checkpointRecord{}, "context_id = ?", contextID).Error
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", contextID, err)
	}
	return nil
}
