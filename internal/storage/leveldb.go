package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"lrurec/internal/model"
)

// LevelDB key layout, "|" separated:
//
//	c|<id> → checkpoint JSON
//	s|<id> → summary JSON, listed without decoding parameters
const (
	prefixCheckpoint = "c|"
	prefixSummary    = "s|"
)

type LevelDBStore struct {
	path string

	mu sync.RWMutex
	db *leveldb.DB
}

func NewLevelDBStore(path string) *LevelDBStore {
	return &LevelDBStore{path: path}
}

func (s *LevelDBStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("leveldb path is required")
	}
	if s.db != nil {
		return nil
	}
	db, err := leveldb.OpenFile(s.path, nil)
	if err != nil {
		return fmt.Errorf("open leveldb %s: %w", s.path, err)
	}
	s.db = db
	return nil
}

func (s *LevelDBStore) SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}
	summary, err := EncodeSummary(checkpoint.Summary(len(payload)))
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(prefixCheckpoint+checkpoint.ID), payload)
	batch.Put([]byte(prefixSummary+checkpoint.ID), summary)
	return db.Write(batch, nil)
}

func (s *LevelDBStore) GetCheckpoint(ctx context.Context, id string) (model.Checkpoint, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Checkpoint{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return model.Checkpoint{}, false, err
	}

	payload, err := db.Get([]byte(prefixCheckpoint+id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, err
	}
	checkpoint, err := DecodeCheckpoint(payload)
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	return checkpoint, true, nil
}

func (s *LevelDBStore) ListCheckpoints(ctx context.Context) ([]model.CheckpointSummary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	iter := db.NewIterator(util.BytesPrefix([]byte(prefixSummary)), nil)
	defer iter.Release()

	var out []model.CheckpointSummary
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		summary, err := DecodeSummary(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode summary %s: %w", iter.Key(), err)
		}
		out = append(out, summary)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sortSummaries(out)
	return out, nil
}

func (s *LevelDBStore) DeleteCheckpoint(ctx context.Context, id string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := []byte(prefixCheckpoint + id)
	ok, err := db.Has(key, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	batch := new(leveldb.Batch)
	batch.Delete(key)
	batch.Delete([]byte(prefixSummary + id))
	return db.Write(batch, nil)
}

func (s *LevelDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *LevelDBStore) getDB() (*leveldb.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}
