package lake

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/starforge/starforge/internal/storage"
	"github.com/starforge/starforge/pkg/types"
)

// PartitionWriter writes raw lake objects: one snappy-compressed NDJSON
// file per event date partition, plus the full user snapshot. Files are
// staged in a scratch directory and uploaded through object storage.
type PartitionWriter struct {
	store      storage.ObjectStorage
	scratchDir string
}

// NewPartitionWriter creates a writer staging files under scratchDir.
func NewPartitionWriter(store storage.ObjectStorage, scratchDir string) *PartitionWriter {
	return &PartitionWriter{store: store, scratchDir: scratchDir}
}

// WriteEvents writes one date partition of raw events. An existing
// partition for the same date is overwritten; raw partitions are
// immutable once written, so overwriting is only expected from
// regeneration of the same inputs.
func (w *PartitionWriter) WriteEvents(ctx context.Context, date string, events []types.RawEvent) (int, error) {
	rows := make([]interface{}, len(events))
	for i := range events {
		rows[i] = events[i]
	}
	if err := w.writeObject(ctx, EventPartitionObject(date), rows); err != nil {
		return 0, err
	}
	return len(events), nil
}

// WriteUsers writes the full user snapshot.
func (w *PartitionWriter) WriteUsers(ctx context.Context, users []types.RawUser) (int, error) {
	rows := make([]interface{}, len(users))
	for i := range users {
		rows[i] = users[i]
	}
	if err := w.writeObject(ctx, UsersObject, rows); err != nil {
		return 0, err
	}
	return len(users), nil
}

// writeObject stages rows as snappy-framed NDJSON and uploads the object.
func (w *PartitionWriter) writeObject(ctx context.Context, objectPath string, rows []interface{}) error {
	if err := os.MkdirAll(w.scratchDir, 0755); err != nil {
		return fmt.Errorf("lake: failed to create scratch dir: %w", err)
	}

	stagePath := filepath.Join(w.scratchDir, fmt.Sprintf("stage-%s.ndjson.snappy", uuid.New().String()[:8]))
	defer os.Remove(stagePath)

	if err := encodeNDJSON(stagePath, rows); err != nil {
		return err
	}

	if err := w.store.Upload(ctx, stagePath, objectPath); err != nil {
		return fmt.Errorf("lake: failed to upload %s: %w", objectPath, err)
	}
	return nil
}

func encodeNDJSON(path string, rows []interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("lake: failed to stage file: %w", err)
	}
	defer f.Close()

	sw := snappy.NewBufferedWriter(f)
	enc := json.NewEncoder(sw)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			sw.Close()
			return fmt.Errorf("lake: failed to encode row: %w", err)
		}
	}
	if err := sw.Close(); err != nil {
		return fmt.Errorf("lake: failed to flush snappy stream: %w", err)
	}
	return nil
}
