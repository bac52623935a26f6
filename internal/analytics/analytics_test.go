package analytics

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/starforge/starforge/internal/etl"
	"github.com/starforge/starforge/internal/warehouse"
	"github.com/starforge/starforge/pkg/types"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newScenario loads a small deliberate activity pattern, all on facebook:
//
//	2024-06-10: u1, u2, u3 active (all new)
//	2024-06-11: u1 (retained), u4 (new); u2 and u3 churn
//	2024-06-12: u2 returns (resurrected)
//
// All four users signed up on 2024-06-10.
func newScenario(t *testing.T) *warehouse.Warehouse {
	t.Helper()
	w, err := warehouse.Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	ctx := context.Background()
	if err := w.InitSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.SeedDimensions(ctx); err != nil {
		t.Fatal(err)
	}

	loader := etl.NewLoader(w, testLogger())

	segments := map[string]string{"u1": "power", "u2": "casual", "u3": "casual", "u4": "active"}
	dim := make([]types.DimUser, 0, 4)
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		dim = append(dim, types.DimUser{
			UserKey: types.UserKey(id), UserID: id, UserSegment: segments[id],
			PrimaryPlatform: "facebook", Country: "US",
			SignupDate: "2024-06-10", EffectiveFrom: "2024-06-10", IsCurrent: true,
		})
	}
	if _, err := loader.LoadUserDimension(ctx, dim, etl.LoadReplace); err != nil {
		t.Fatal(err)
	}

	activity := []struct{ user, date, eventType string }{
		{"u1", "2024-06-10", "app_open"},
		{"u2", "2024-06-10", "app_open"},
		{"u3", "2024-06-10", "content_view"},
		{"u1", "2024-06-11", "app_open"},
		{"u1", "2024-06-11", "content_view"},
		{"u1", "2024-06-11", "like"},
		{"u4", "2024-06-11", "app_open"},
		{"u2", "2024-06-12", "app_open"},
	}
	facts := make([]types.FactEvent, 0, len(activity))
	for i, a := range activity {
		ts, _ := time.Parse("2006-01-02", a.date)
		facts = append(facts, types.FactEvent{
			EventID:   a.date + "-" + a.user + "-" + a.eventType,
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
			DateKey:   a.date, UserKey: types.UserKey(a.user),
			PlatformKey: "facebook", EventTypeKey: a.eventType,
			SessionID: a.user + "-" + a.date, EventCount: 1, PartitionDate: a.date,
		})
	}
	if _, err := loader.LoadFacts(ctx, facts, ""); err != nil {
		t.Fatal(err)
	}
	return w
}

func TestGrowthAccounting(t *testing.T) {
	w := newScenario(t)
	g := NewGrowth(w, testLogger())

	rows, err := g.GrowthAccounting(context.Background(), "2024-06-10", "2024-06-12")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3 days", len(rows))
	}

	day1 := rows[0]
	if day1.DateKey != "2024-06-10" || day1.Active != 3 || day1.New != 3 {
		t.Errorf("day1 = %+v, want 3 active all new", day1)
	}

	day2 := rows[1]
	if day2.Active != 2 || day2.New != 1 || day2.Retained != 1 || day2.Churned != 2 {
		t.Errorf("day2 = %+v, want active=2 new=1 retained=1 churned=2", day2)
	}

	day3 := rows[2]
	if day3.Resurrected != 1 {
		t.Errorf("day3 = %+v, want resurrected=1", day3)
	}
}

func TestQuickRatio(t *testing.T) {
	w := newScenario(t)
	g := NewGrowth(w, testLogger())

	ratios, err := g.QuickRatio(context.Background(), "2024-06-10", "2024-06-12")
	if err != nil {
		t.Fatal(err)
	}

	// Day 2: one gained (u4 new) over two churned.
	if got := ratios["2024-06-11"]; got != 0.5 {
		t.Errorf("quick ratio day2 = %v, want 0.5", got)
	}
	// Day 1 has gains and no churn; the raw gain is reported.
	if got := ratios["2024-06-10"]; got != 3 {
		t.Errorf("quick ratio day1 = %v, want 3", got)
	}
}

func TestFunnelAnalysis(t *testing.T) {
	w := newScenario(t)
	g := NewGrowth(w, testLogger())

	stages, err := g.FunnelAnalysis(context.Background(), "2024-06-11")
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 5 {
		t.Fatalf("got %d stages, want 5", len(stages))
	}

	// 2024-06-11: u1 and u4 opened; only u1 viewed and liked.
	if stages[0].Users != 2 || stages[0].ConversionRate != 1 {
		t.Errorf("entry stage = %+v", stages[0])
	}
	if stages[1].Users != 1 || stages[1].ConversionRate != 0.5 {
		t.Errorf("view stage = %+v", stages[1])
	}
	if stages[3].Users != 0 || stages[3].ConversionRate != 0 {
		t.Errorf("create stage = %+v", stages[3])
	}
}

func TestDemographicBreakdown(t *testing.T) {
	w := newScenario(t)
	g := NewGrowth(w, testLogger())

	rows, err := g.DemographicBreakdown(context.Background(), "2024-06-10")
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, r := range rows {
		if r.Dimension == "country" && r.Value == "US" {
			found = true
			if r.ActiveUsers != 3 {
				t.Errorf("US active users = %d, want 3", r.ActiveUsers)
			}
		}
	}
	if !found {
		t.Error("missing country=US slice")
	}
}

func TestNDayRetention(t *testing.T) {
	w := newScenario(t)
	r := NewRetention(w, testLogger())

	rows, err := r.NDayRetention(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d cohorts, want 1", len(rows))
	}

	// Day-1 after the 2024-06-10 signup is 2024-06-11: u1 and u4 of 4.
	c := rows[0]
	if c.SignupDate != "2024-06-10" || c.CohortSize != 4 || c.RetainedUsers != 2 {
		t.Errorf("cohort = %+v", c)
	}
	if c.RetentionRate != 0.5 {
		t.Errorf("rate = %v, want 0.5", c.RetentionRate)
	}
}

func TestRetentionBySegment(t *testing.T) {
	w := newScenario(t)
	r := NewRetention(w, testLogger())

	rows, err := r.RetentionBySegment(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}

	bySeg := make(map[string]GroupRetentionRow)
	for _, row := range rows {
		bySeg[row.Group] = row
	}
	if got := bySeg["power"]; got.CohortSize != 1 || got.RetainedUsers != 1 {
		t.Errorf("power segment = %+v", got)
	}
	if got := bySeg["casual"]; got.CohortSize != 2 || got.RetainedUsers != 0 {
		t.Errorf("casual segment = %+v", got)
	}
}

func TestChurnRiskFeatures(t *testing.T) {
	w := newScenario(t)
	r := NewRetention(w, testLogger())
	ctx := context.Background()

	// Without an engagement snapshot everyone counts as churned.
	buckets, err := r.ChurnRiskFeatures(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if buckets[0].Bucket != RiskChurned || buckets[0].Users != 4 {
		t.Fatalf("pre-snapshot buckets = %+v", buckets)
	}

	loader := etl.NewLoader(w, testLogger())
	scores := []types.EngagementScore{
		{UserKey: types.UserKey("u1"), DateKey: "2024-06-12", Score: 80},
		{UserKey: types.UserKey("u2"), DateKey: "2024-06-12", Score: 30},
		{UserKey: types.UserKey("u4"), DateKey: "2024-06-12", Score: 10},
	}
	if _, err := loader.LoadEngagementScores(ctx, scores); err != nil {
		t.Fatal(err)
	}

	buckets, err = r.ChurnRiskFeatures(ctx)
	if err != nil {
		t.Fatal(err)
	}
	byName := make(map[string]ChurnBucket)
	for _, b := range buckets {
		byName[b.Bucket] = b
	}
	if byName[RiskChurned].Users != 1 {
		t.Errorf("churned = %d, want 1 (u3 has no snapshot row)", byName[RiskChurned].Users)
	}
	if byName[RiskHigh].Users != 1 || byName[RiskMedium].Users != 1 || byName[RiskLow].Users != 1 {
		t.Errorf("buckets = %+v", byName)
	}
}
