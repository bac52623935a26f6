package lake

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	pberr "github.com/starforge/starforge/internal/errors"
	"github.com/starforge/starforge/internal/storage"
	"github.com/starforge/starforge/pkg/types"
)

// Extractor reads raw event and user records out of the data lake.
// Objects are staged into a scratch directory, decoded, and discarded;
// the extractor produces transient in-memory slices consumed once by
// the transform stage.
type Extractor struct {
	store      storage.ObjectStorage
	scratchDir string
	log        *logrus.Logger
}

// NewExtractor creates an extractor over the given lake storage.
func NewExtractor(store storage.ObjectStorage, scratchDir string, log *logrus.Logger) *Extractor {
	return &Extractor{store: store, scratchDir: scratchDir, log: log}
}

// ExtractUsers reads the full user snapshot. Fails with a missing-input
// error when the snapshot object is absent.
func (e *Extractor) ExtractUsers(ctx context.Context) ([]types.RawUser, error) {
	localPath, err := e.stage(ctx, UsersObject)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, pberr.NewMissingInput(fmt.Sprintf("users file not found: %s", UsersObject))
		}
		return nil, pberr.NewStorageError(pberr.CodeDownloadFailed, "failed to stage users snapshot", err)
	}
	defer os.Remove(localPath)

	var users []types.RawUser
	err = decodeNDJSON(localPath, func(line []byte) error {
		var u types.RawUser
		if err := json.Unmarshal(line, &u); err != nil {
			return err
		}
		users = append(users, u)
		return nil
	})
	if err != nil {
		return nil, pberr.NewExtractError(pberr.CodeDecodeFailed, "failed to decode users snapshot", err)
	}

	e.log.WithField("users", len(users)).Info("extracted user records")
	return users, nil
}

// ExtractEvents reads event partitions within the inclusive date range.
// Empty bounds are unbounded. When the lake holds no event partitions at
// all the error is missing-input; when partitions exist but none fall in
// the range the result is a valid empty slice. The two cases are
// deliberately distinct: an absent dataset aborts the run, an empty date
// range does not.
func (e *Extractor) ExtractEvents(ctx context.Context, startDate, endDate string) ([]types.RawEvent, error) {
	objects, err := e.store.ListObjects(ctx, EventsPrefix)
	if err != nil {
		return nil, pberr.NewStorageError(pberr.CodeDownloadFailed, "failed to list event partitions", err)
	}

	dates := partitionDates(objects)
	if len(dates) == 0 {
		return nil, pberr.NewMissingInput(fmt.Sprintf("no event partitions found under %s", EventsPrefix))
	}

	var selected []string
	for _, date := range dates {
		if inRange(date, startDate, endDate) {
			selected = append(selected, date)
		}
	}

	e.log.WithFields(logrus.Fields{
		"available": len(dates),
		"selected":  len(selected),
	}).Info("reading event partitions")

	events := []types.RawEvent{}
	for _, date := range selected {
		partition, err := e.readEventPartition(ctx, date)
		if err != nil {
			return nil, err
		}
		events = append(events, partition...)
	}

	e.log.WithField("events", len(events)).Info("extracted event records")
	return events, nil
}

// ExtractEventsForDate reads events for a single date partition. Unlike a
// range extraction, the caller named one partition it expects to exist, so
// an absent partition is a missing-input error rather than an empty slice.
// Loading an empty slice would wipe the date's warehouse rows on a
// partition replace.
func (e *Extractor) ExtractEventsForDate(ctx context.Context, date string) ([]types.RawEvent, error) {
	objects, err := e.store.ListObjects(ctx, EventsPrefix)
	if err != nil {
		return nil, pberr.NewStorageError(pberr.CodeDownloadFailed, "failed to list event partitions", err)
	}

	for _, d := range partitionDates(objects) {
		if d == date {
			return e.readEventPartition(ctx, date)
		}
	}
	return nil, pberr.NewMissingInput(fmt.Sprintf("no event partition for %s", date))
}

// ListAvailableDates returns the sorted list of available partition dates.
func (e *Extractor) ListAvailableDates(ctx context.Context) ([]string, error) {
	objects, err := e.store.ListObjects(ctx, EventsPrefix)
	if err != nil {
		return nil, pberr.NewStorageError(pberr.CodeDownloadFailed, "failed to list event partitions", err)
	}
	dates := partitionDates(objects)
	e.log.WithField("partitions", len(dates)).Debug("listed partition dates")
	return dates, nil
}

func (e *Extractor) readEventPartition(ctx context.Context, date string) ([]types.RawEvent, error) {
	objectPath := EventPartitionObject(date)
	localPath, err := e.stage(ctx, objectPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, pberr.NewMissingInput(fmt.Sprintf("event partition not found: %s", objectPath))
		}
		return nil, pberr.NewStorageError(pberr.CodeDownloadFailed, fmt.Sprintf("failed to stage partition %s", date), err)
	}
	defer os.Remove(localPath)

	var events []types.RawEvent
	err = decodeNDJSON(localPath, func(line []byte) error {
		var ev types.RawEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, pberr.NewExtractError(pberr.CodeDecodeFailed, fmt.Sprintf("failed to decode partition %s", date), err)
	}
	return events, nil
}

// stage downloads an object into the scratch directory and returns the
// local path. The caller removes the file when done.
func (e *Extractor) stage(ctx context.Context, objectPath string) (string, error) {
	if err := os.MkdirAll(e.scratchDir, 0755); err != nil {
		return "", err
	}
	localPath := filepath.Join(e.scratchDir, fmt.Sprintf("extract-%s", uuid.New().String()[:8]))
	if err := e.store.Download(ctx, objectPath, localPath); err != nil {
		return "", err
	}
	return localPath, nil
}

// decodeNDJSON streams a snappy-framed NDJSON file line by line.
func decodeNDJSON(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(snappy.NewReader(f))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}
