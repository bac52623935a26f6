package lake

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	pberr "github.com/starforge/starforge/internal/errors"
	"github.com/starforge/starforge/internal/storage"
	"github.com/starforge/starforge/pkg/types"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestLake(t *testing.T) (*Extractor, *PartitionWriter) {
	t.Helper()
	tmpDir := t.TempDir()

	store, err := storage.NewLocalStorage(filepath.Join(tmpDir, "raw"))
	if err != nil {
		t.Fatalf("NewLocalStorage failed: %v", err)
	}

	scratch := filepath.Join(tmpDir, "scratch")
	return NewExtractor(store, scratch, testLogger()), NewPartitionWriter(store, scratch)
}

func sampleEvents(date string, n int) []types.RawEvent {
	events := make([]types.RawEvent, n)
	for i := range events {
		events[i] = types.RawEvent{
			EventID:        fmt.Sprintf("%s-ev-%04d", date, i),
			UserID:         fmt.Sprintf("user-%03d", i%10),
			EventType:      "content_view",
			Platform:       "instagram",
			EventTimestamp: date + "T10:30:00Z",
			Country:        "US",
			DeviceType:     "ios",
			SessionID:      fmt.Sprintf("sess-%03d", i%10),
		}
	}
	return events
}

func sampleUsers(n int) []types.RawUser {
	users := make([]types.RawUser, n)
	for i := range users {
		users[i] = types.RawUser{
			UserID:          fmt.Sprintf("user-%03d", i),
			Country:         "US",
			AgeGroup:        "25-34",
			DeviceType:      "android",
			UserSegment:     "active",
			SignupDate:      "2025-10-01",
			PrimaryPlatform: "facebook",
		}
	}
	return users
}

func TestExtractUsers_RoundTrip(t *testing.T) {
	extractor, writer := newTestLake(t)
	ctx := context.Background()

	if _, err := writer.WriteUsers(ctx, sampleUsers(50)); err != nil {
		t.Fatalf("WriteUsers failed: %v", err)
	}

	users, err := extractor.ExtractUsers(ctx)
	if err != nil {
		t.Fatalf("ExtractUsers failed: %v", err)
	}
	if len(users) != 50 {
		t.Errorf("expected 50 users, got %d", len(users))
	}
	if users[0].UserID != "user-000" || users[0].SignupDate != "2025-10-01" {
		t.Errorf("unexpected first user: %+v", users[0])
	}
}

func TestExtractUsers_Missing(t *testing.T) {
	extractor, _ := newTestLake(t)

	_, err := extractor.ExtractUsers(context.Background())
	if !pberr.IsMissingInput(err) {
		t.Errorf("expected missing-input error, got %v", err)
	}
}

func TestExtractEvents_NoPartitions(t *testing.T) {
	extractor, _ := newTestLake(t)

	_, err := extractor.ExtractEvents(context.Background(), "", "")
	if !pberr.IsMissingInput(err) {
		t.Errorf("expected missing-input error when lake is empty, got %v", err)
	}
}

func TestExtractEvents_DateFilter(t *testing.T) {
	extractor, writer := newTestLake(t)
	ctx := context.Background()

	dates := []string{"2025-11-01", "2025-11-02", "2025-11-03"}
	for _, d := range dates {
		if _, err := writer.WriteEvents(ctx, d, sampleEvents(d, 20)); err != nil {
			t.Fatalf("WriteEvents %s failed: %v", d, err)
		}
	}

	tests := []struct {
		name       string
		start, end string
		want       int
	}{
		{"all partitions", "", "", 60},
		{"single day", "2025-11-02", "2025-11-02", 20},
		{"inclusive range", "2025-11-01", "2025-11-02", 40},
		{"open start", "", "2025-11-01", 20},
		{"open end", "2025-11-03", "", 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := extractor.ExtractEvents(ctx, tt.start, tt.end)
			if err != nil {
				t.Fatalf("ExtractEvents failed: %v", err)
			}
			if len(events) != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, len(events))
			}
		})
	}
}

func TestExtractEvents_FilteredEmptyIsNotError(t *testing.T) {
	extractor, writer := newTestLake(t)
	ctx := context.Background()

	if _, err := writer.WriteEvents(ctx, "2025-11-01", sampleEvents("2025-11-01", 5)); err != nil {
		t.Fatalf("WriteEvents failed: %v", err)
	}

	// Partitions exist but none fall in the range: valid empty result.
	events, err := extractor.ExtractEvents(ctx, "2030-01-01", "2030-01-31")
	if err != nil {
		t.Fatalf("expected empty result, got error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 events, got %d", len(events))
	}
}

func TestExtractEventsForDate_MissingPartition(t *testing.T) {
	extractor, writer := newTestLake(t)
	ctx := context.Background()

	if _, err := writer.WriteEvents(ctx, "2025-11-01", sampleEvents("2025-11-01", 5)); err != nil {
		t.Fatalf("WriteEvents failed: %v", err)
	}

	events, err := extractor.ExtractEventsForDate(ctx, "2025-11-01")
	if err != nil {
		t.Fatalf("ExtractEventsForDate failed: %v", err)
	}
	if len(events) != 5 {
		t.Errorf("expected 5 events, got %d", len(events))
	}

	// A named partition that is absent must abort, not read as empty.
	if _, err := extractor.ExtractEventsForDate(ctx, "2025-11-02"); !pberr.IsMissingInput(err) {
		t.Errorf("expected missing-input error, got %v", err)
	}
}

func TestListAvailableDates(t *testing.T) {
	extractor, writer := newTestLake(t)
	ctx := context.Background()

	// Written out of order; listing must sort.
	for _, d := range []string{"2025-11-03", "2025-11-01", "2025-11-02"} {
		if _, err := writer.WriteEvents(ctx, d, sampleEvents(d, 1)); err != nil {
			t.Fatalf("WriteEvents %s failed: %v", d, err)
		}
	}

	dates, err := extractor.ListAvailableDates(ctx)
	if err != nil {
		t.Fatalf("ListAvailableDates failed: %v", err)
	}

	want := []string{"2025-11-01", "2025-11-02", "2025-11-03"}
	if len(dates) != len(want) {
		t.Fatalf("expected %d dates, got %d: %v", len(want), len(dates), dates)
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Errorf("dates[%d] = %q, want %q", i, dates[i], want[i])
		}
	}
}

func TestPartitionDate(t *testing.T) {
	tests := []struct {
		path string
		date string
		ok   bool
	}{
		{"events/dt=2025-11-01/events.ndjson.snappy", "2025-11-01", true},
		{"events/dt=2025-11-01/other.txt", "", false},
		{"users/users.ndjson.snappy", "", false},
		{"events/2025-11-01/events.ndjson.snappy", "", false},
		{"events/dt=/events.ndjson.snappy", "", false},
	}

	for _, tt := range tests {
		date, ok := PartitionDate(tt.path)
		if ok != tt.ok || date != tt.date {
			t.Errorf("PartitionDate(%q) = (%q, %v), want (%q, %v)", tt.path, date, ok, tt.date, tt.ok)
		}
	}
}
