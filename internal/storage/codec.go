package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"lrurec/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var (
	ErrVersionMismatch = errors.New("record version mismatch")
	ErrInvalidRecord   = errors.New("invalid checkpoint record")
)

// Versioned stamps a record with the versions this build writes.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeCheckpoint(c model.Checkpoint) ([]byte, error) {
	if c.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if err := checkVersion(c.VersionedRecord); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}

func DecodeCheckpoint(data []byte) (model.Checkpoint, error) {
	var checkpoint model.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return model.Checkpoint{}, err
	}
	if err := checkVersion(checkpoint.VersionedRecord); err != nil {
		return model.Checkpoint{}, err
	}
	return checkpoint, nil
}

func EncodeSummary(s model.CheckpointSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSummary(data []byte) (model.CheckpointSummary, error) {
	var summary model.CheckpointSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.CheckpointSummary{}, err
	}
	return summary, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: schema=%d codec=%d", ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}

// sortSummaries orders newest first, then by id.
func sortSummaries(summaries []model.CheckpointSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
}
