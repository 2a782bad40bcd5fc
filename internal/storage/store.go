package storage

import (
	"context"
	"errors"

	"lrurec/internal/model"
)

var ErrNotFound = errors.New("checkpoint not found")

// Store persists encoder checkpoints.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (model.Checkpoint, bool, error)
	// ListCheckpoints returns summaries newest first.
	ListCheckpoints(ctx context.Context) ([]model.CheckpointSummary, error)
	DeleteCheckpoint(ctx context.Context, id string) error
}
