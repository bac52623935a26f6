package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/starforge/starforge/internal/config"
	pberr "github.com/starforge/starforge/internal/errors"
	"github.com/starforge/starforge/internal/lake"
	"github.com/starforge/starforge/internal/storage"
	"github.com/starforge/starforge/internal/warehouse"
	"github.com/starforge/starforge/pkg/types"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fixtureDates are the lake partitions the test fixture populates.
var fixtureDates = []string{"2024-06-10", "2024-06-11", "2024-06-12"}

// newTestConfig builds a config over temp dirs and seeds a small local
// lake: 100 users and 20 events per day across three days.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Resolve()
	cfg.Quality.FactMinRows = 1
	cfg.Quality.FreshnessMaxAge = 24 * 365 * 100 * time.Hour
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	store, err := storage.NewLocalStorage(cfg.Storage.Path)
	if err != nil {
		t.Fatal(err)
	}
	writer := lake.NewPartitionWriter(store, cfg.Lake.ScratchDir)
	ctx := context.Background()

	users := make([]types.RawUser, 0, 100)
	for i := 0; i < 100; i++ {
		users = append(users, types.RawUser{
			UserID:          fmt.Sprintf("user-%02d", i),
			Country:         "US",
			AgeGroup:        "25-34",
			DeviceType:      "ios",
			UserSegment:     "active",
			SignupDate:      "2024-06-10",
			PrimaryPlatform: types.Platforms[i%5],
		})
	}
	if _, err := writer.WriteUsers(ctx, users); err != nil {
		t.Fatal(err)
	}

	for d, date := range fixtureDates {
		events := make([]types.RawEvent, 0, 20)
		for i := 0; i < 20; i++ {
			events = append(events, types.RawEvent{
				EventID:        fmt.Sprintf("evt-%s-%02d", date, i),
				UserID:         fmt.Sprintf("user-%02d", i%10),
				EventType:      types.EventTypes[i%len(types.EventTypes)],
				Platform:       types.Platforms[i%5],
				EventTimestamp: fmt.Sprintf("%sT%02d:00:00Z", date, 8+i%12),
				Country:        "US",
				DeviceType:     "ios",
				SessionID:      fmt.Sprintf("sess-%d-%02d", d, i%10),
			})
		}
		if _, err := writer.WriteEvents(ctx, date, events); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func TestRunFullRefreshIsIdempotent(t *testing.T) {
	cfg := newTestConfig(t)
	p := New(cfg, testLogger())
	ctx := context.Background()

	first, err := p.RunFullRefresh(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Status == StatusFailed {
		t.Fatalf("first run status = %s: %+v", first.Status, first.Steps)
	}
	if first.RunID == "" || first.Pipeline != PipelineFullRefresh {
		t.Errorf("report identity = %q/%q", first.RunID, first.Pipeline)
	}
	if first.TableStats["fct_events"] != 60 {
		t.Errorf("fct_events = %d, want 60", first.TableStats["fct_events"])
	}
	if first.TableStats["dim_users"] != 100 {
		t.Errorf("dim_users = %d, want 100", first.TableStats["dim_users"])
	}
	if first.Quality == nil {
		t.Fatal("report missing quality summary")
	}

	second, err := p.RunFullRefresh(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(first.TableStats, second.TableStats) {
		t.Errorf("rerun changed table stats: %v vs %v", first.TableStats, second.TableStats)
	}
	if second.RunID == first.RunID {
		t.Error("runs must have distinct run IDs")
	}
}

func TestRunIncrementalReplacesOnePartition(t *testing.T) {
	cfg := newTestConfig(t)
	p := New(cfg, testLogger())
	ctx := context.Background()

	if _, err := p.RunFullRefresh(ctx); err != nil {
		t.Fatal(err)
	}

	report, err := p.RunIncremental(ctx, "2024-06-11")
	if err != nil {
		t.Fatalf("incremental: %v", err)
	}
	if report.Pipeline != PipelineIncremental {
		t.Errorf("pipeline = %q", report.Pipeline)
	}
	if report.TableStats["fct_events"] != 60 {
		t.Errorf("fct_events = %d after partition rerun, want 60", report.TableStats["fct_events"])
	}

	for _, s := range report.Steps {
		if s.Name == "schema_init" {
			t.Error("incremental run must not re-seed the schema")
		}
	}

	if _, err := p.RunIncremental(ctx, "11/06/2024"); err == nil {
		t.Error("malformed date must error")
	}
}

func TestRunIncrementalMissingPartitionAborts(t *testing.T) {
	cfg := newTestConfig(t)
	p := New(cfg, testLogger())
	ctx := context.Background()

	if _, err := p.RunFullRefresh(ctx); err != nil {
		t.Fatal(err)
	}

	store, err := storage.NewLocalStorage(cfg.Storage.Path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, lake.EventPartitionObject("2024-06-11")); err != nil {
		t.Fatalf("delete partition: %v", err)
	}

	report, err := p.RunIncremental(ctx, "2024-06-11")
	if !pberr.IsMissingInput(err) {
		t.Fatalf("expected missing-input error, got %v", err)
	}
	if report.Status != StatusFailed {
		t.Errorf("status = %q, want %q", report.Status, StatusFailed)
	}

	// The date's loaded facts must survive the aborted run.
	w, err := warehouse.Open(cfg.Warehouse.Path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	stats, err := w.TableStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats["fct_events"] != 60 {
		t.Errorf("fct_events = %d after aborted incremental, want 60", stats["fct_events"])
	}
}

type captureNotifier struct {
	notes []Notification
}

func (c *captureNotifier) Notify(_ context.Context, n Notification) error {
	c.notes = append(c.notes, n)
	return nil
}

func TestRunScheduledGate(t *testing.T) {
	t.Run("gate open builds aggregates", func(t *testing.T) {
		cfg := newTestConfig(t)
		notifier := &captureNotifier{}
		p := NewWithNotifier(cfg, testLogger(), notifier)

		report, err := p.RunScheduled(context.Background(), "")
		if err != nil {
			t.Fatal(err)
		}
		if report.Quality == nil {
			t.Fatal("missing quality summary")
		}
		if !report.Quality.GateOpen() {
			for _, r := range report.Quality.Details {
				t.Logf("%s/%s: %s %s", r.CheckName, r.Table, r.Status, r.Message)
			}
			t.Fatal("gate must be open on the healthy fixture")
		}
		if report.TableStats["agg_retention_cohorts"] == 0 {
			t.Error("aggregates must be built behind an open gate")
		}

		hasCompletion := false
		for _, n := range notifier.notes {
			if n.Kind == NotifyAlert {
				t.Errorf("unexpected alert: %s", n.Message)
			}
			if n.Kind == NotifyCompletion {
				hasCompletion = true
			}
		}
		if !hasCompletion {
			t.Error("scheduled run must always deliver a completion notification")
		}
	})

	t.Run("gate closed alerts and skips aggregates", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Quality.FactMinRows = 1000000
		notifier := &captureNotifier{}
		p := NewWithNotifier(cfg, testLogger(), notifier)

		report, err := p.RunScheduled(context.Background(), "")
		if err != nil {
			t.Fatal(err)
		}
		if report.Quality.GateOpen() {
			t.Fatal("gate must be closed with an unreachable fact floor")
		}
		if report.Status != StatusWarning {
			t.Errorf("status = %s, want warning", report.Status)
		}

		sawSkip, sawAlert, sawCompletion := false, false, false
		for _, s := range report.Steps {
			if s.Name == "aggregates" && s.Status == StatusSkipped {
				sawSkip = true
			}
			if s.Name == "load_daily_aggregates" || s.Name == "load_retention" {
				t.Errorf("aggregate step %q ran behind a closed gate", s.Name)
			}
		}
		for _, n := range notifier.notes {
			switch n.Kind {
			case NotifyAlert:
				sawAlert = true
			case NotifyCompletion:
				sawCompletion = true
			}
		}
		if !sawSkip || !sawAlert || !sawCompletion {
			t.Errorf("skip=%v alert=%v completion=%v, want all true", sawSkip, sawAlert, sawCompletion)
		}
		if report.TableStats["agg_retention_cohorts"] != 0 {
			t.Errorf("retention cohorts loaded behind closed gate: %d rows",
				report.TableStats["agg_retention_cohorts"])
		}
	})
}

func TestRunChecksOnly(t *testing.T) {
	cfg := newTestConfig(t)
	p := New(cfg, testLogger())
	ctx := context.Background()

	if _, err := p.RunFullRefresh(ctx); err != nil {
		t.Fatal(err)
	}

	report, err := p.RunChecks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Quality == nil || report.Quality.TotalChecks == 0 {
		t.Fatal("checks run must produce a quality summary")
	}
	for _, s := range report.Steps {
		if s.Name != "quality_check" {
			t.Errorf("unexpected step %q in checks-only run", s.Name)
		}
	}
}

func TestFactPartitions(t *testing.T) {
	facts := []types.FactEvent{
		{PartitionDate: "2024-06-12"},
		{PartitionDate: "2024-06-10"},
		{PartitionDate: "2024-06-12"},
	}
	got := factPartitions(facts)
	want := []string{"2024-06-10", "2024-06-12"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("partitions = %v, want %v", got, want)
	}
	if len(factPartitions(nil)) != 0 {
		t.Error("no facts must yield no partitions")
	}
}

// The warehouse path must point at a temp file per test; guard against a
// config resolve regression that would share state between tests.
func TestConfigIsolation(t *testing.T) {
	a := newTestConfig(t)
	b := newTestConfig(t)
	if a.Warehouse.Path == b.Warehouse.Path {
		t.Error("configs share a warehouse path")
	}
	if filepath.Dir(a.Storage.Path) == filepath.Dir(b.Storage.Path) {
		t.Error("configs share a storage dir")
	}
}
