package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"lrurec/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

// MemoryStore keeps encoded checkpoints in a map, so callers never share
// parameter slices with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	payloads    map[string][]byte
	summaries   map[string]model.CheckpointSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.payloads = make(map[string][]byte)
	s.summaries = make(map[string]model.CheckpointSummary)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	payload, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.payloads[checkpoint.ID] = payload
	s.summaries[checkpoint.ID] = checkpoint.Summary(len(payload))
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, id string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	payload, ok := s.payloads[id]
	s.mu.RUnlock()

	if !ok {
		return model.Checkpoint{}, false, nil
	}
	checkpoint, err := DecodeCheckpoint(payload)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	return checkpoint, true, nil
}

func (s *MemoryStore) ListCheckpoints(_ context.Context) ([]model.CheckpointSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.CheckpointSummary, 0, len(s.summaries))
	for _, summary := range s.summaries {
		out = append(out, summary)
	}
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) DeleteCheckpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payloads[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.payloads, id)
	delete(s.summaries, id)
	return nil
}
