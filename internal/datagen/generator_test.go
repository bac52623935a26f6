package datagen

import (
	"context"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/starforge/starforge/internal/lake"
	"github.com/starforge/starforge/internal/storage"
	"github.com/starforge/starforge/pkg/types"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestGenerateUsersDeterministic(t *testing.T) {
	a := GenerateUsers(50, 42)
	b := GenerateUsers(50, 42)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same seed must yield identical users")
	}

	c := GenerateUsers(50, 43)
	if reflect.DeepEqual(a, c) {
		t.Fatal("different seeds must yield different users")
	}

	for i, u := range a {
		if len(u.UserID) != 16 {
			t.Fatalf("user %d has id %q, want 16 hex chars", i, u.UserID)
		}
		if _, ok := segmentActivity[u.UserSegment]; !ok {
			t.Fatalf("user %d has unknown segment %q", i, u.UserSegment)
		}
		if _, err := time.Parse(types.DateKeyLayout, u.SignupDate); err != nil {
			t.Fatalf("user %d signup date %q: %v", i, u.SignupDate, err)
		}
	}
}

func TestEventsForDayShape(t *testing.T) {
	users := GenerateUsers(200, 42)
	g, err := NewGenerator(users, "2025-11-01", 1, 42, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	date, _ := time.Parse(types.DateKeyLayout, "2025-11-01")
	events := g.EventsForDay(date)
	if len(events) == 0 {
		t.Fatal("200 users must produce events")
	}

	userByID := make(map[string]types.RawUser, len(users))
	for _, u := range users {
		userByID[u.UserID] = u
	}

	primary := 0
	for _, e := range events {
		if !types.ValidEventType(e.EventType) {
			t.Fatalf("generated unknown event type %q", e.EventType)
		}
		ts, ok := types.ParseEventTimestamp(e.EventTimestamp)
		if !ok {
			t.Fatalf("unparseable timestamp %q", e.EventTimestamp)
		}
		if ts.Format(types.DateKeyLayout) != "2025-11-01" {
			t.Fatalf("event dated %s outside the generated day", ts)
		}
		if len(e.SessionID) != 12 {
			t.Fatalf("session id %q, want 12 chars", e.SessionID)
		}
		u, ok := userByID[e.UserID]
		if !ok {
			t.Fatalf("event for unknown user %q", e.UserID)
		}
		if e.Platform == u.PrimaryPlatform {
			primary++
		}
	}

	// Around 70% of events land on the user's primary platform, plus the
	// random picks that also hit it. Allow a wide band.
	share := float64(primary) / float64(len(events))
	if share < 0.6 || share > 0.95 {
		t.Errorf("primary platform share = %.2f, want roughly 0.70 plus random hits", share)
	}
}

func TestGeneratorDeterministic(t *testing.T) {
	users := GenerateUsers(20, 7)
	date, _ := time.Parse(types.DateKeyLayout, "2025-11-03")

	g1, _ := NewGenerator(users, "2025-11-03", 1, 7, testLogger())
	g2, _ := NewGenerator(users, "2025-11-03", 1, 7, testLogger())
	if !reflect.DeepEqual(g1.EventsForDay(date), g2.EventsForDay(date)) {
		t.Fatal("same seed must yield identical events")
	}
}

func TestWriteDatasetRoundTrip(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	scratch := t.TempDir()
	writer := lake.NewPartitionWriter(store, scratch)
	ctx := context.Background()

	users := GenerateUsers(30, 42)
	g, err := NewGenerator(users, "2025-11-01", 3, 42, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	nUsers, nEvents, err := g.WriteDataset(ctx, writer)
	if err != nil {
		t.Fatal(err)
	}
	if nUsers != 30 {
		t.Errorf("wrote %d users, want 30", nUsers)
	}
	if nEvents == 0 {
		t.Error("wrote no events")
	}

	extractor := lake.NewExtractor(store, scratch, testLogger())
	gotUsers, err := extractor.ExtractUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(gotUsers, users) {
		t.Error("extracted users differ from generated users")
	}

	dates, err := extractor.ListAvailableDates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2025-11-01", "2025-11-02", "2025-11-03"}
	if !reflect.DeepEqual(dates, want) {
		t.Errorf("partitions = %v, want %v", dates, want)
	}

	events, err := extractor.ExtractEvents(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != nEvents {
		t.Errorf("extracted %d events, wrote %d", len(events), nEvents)
	}
}
