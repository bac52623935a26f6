package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/starforge/starforge/internal/config"
	pberr "github.com/starforge/starforge/internal/errors"
	"github.com/starforge/starforge/internal/etl"
	"github.com/starforge/starforge/internal/lake"
	"github.com/starforge/starforge/internal/quality"
	"github.com/starforge/starforge/internal/storage"
	"github.com/starforge/starforge/internal/warehouse"
	"github.com/starforge/starforge/pkg/types"
)

// Pipeline wires the stage components together. Each run opens its own
// warehouse handle and closes it on every exit path, so runs never share
// connection state.
type Pipeline struct {
	cfg      *config.Config
	log      *logrus.Logger
	notifier Notifier
}

// New creates a pipeline with a log-backed notifier.
func New(cfg *config.Config, log *logrus.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, log: log, notifier: NewLogNotifier(log)}
}

// NewWithNotifier creates a pipeline delivering scheduled-run
// notifications through n.
func NewWithNotifier(cfg *config.Config, log *logrus.Logger, n Notifier) *Pipeline {
	return &Pipeline{cfg: cfg, log: log, notifier: n}
}

func (p *Pipeline) objectStorage(ctx context.Context) (storage.ObjectStorage, error) {
	switch p.cfg.Storage.Type {
	case "s3":
		return storage.NewS3Storage(ctx, p.cfg.Storage.S3.Bucket, storage.S3Config{
			Region:   p.cfg.Storage.S3.Region,
			Endpoint: p.cfg.Storage.S3.Endpoint,
		})
	case "local", "":
		return storage.NewLocalStorage(p.cfg.Storage.Path)
	default:
		return nil, pberr.New(pberr.ErrCategoryStorage, pberr.CodeUnexpected,
			fmt.Sprintf("unknown storage type %q", p.cfg.Storage.Type))
	}
}

// batch carries the transformed structures between stages within a run.
type batch struct {
	dim   []types.DimUser
	facts []types.FactEvent
	clean etl.CleanReport
}

// RunFullRefresh rebuilds the warehouse from the full lake history:
// schema init and dimension seeding, extract, transform, per-partition
// fact load, aggregate recompute, then the quality battery. Rerunning
// against an unchanged lake produces identical warehouse contents.
func (p *Pipeline) RunFullRefresh(ctx context.Context) (*Report, error) {
	report := newReport(PipelineFullRefresh)
	defer report.finish()

	w, err := warehouse.Open(p.cfg.Warehouse.Path, p.log)
	if err != nil {
		report.Status = StatusFailed
		return report, err
	}
	defer w.Close()

	b, err := p.buildWarehouse(ctx, report, w, "", "")
	if err != nil {
		return report, err
	}

	if err := p.buildAggregates(ctx, report, w, b); err != nil {
		return report, err
	}

	if err := p.runQuality(ctx, report, w); err != nil {
		return report, err
	}

	p.attachTableStats(ctx, report, w)
	return report, nil
}

// RunIncremental loads a single lake partition into an already
// initialized warehouse. Dimensions are not re-seeded; the user
// dimension is read back from the warehouse so facts resolve against
// the same keys every other partition used. The date's facts and daily
// aggregates are replaced, making reruns idempotent.
func (p *Pipeline) RunIncremental(ctx context.Context, date string) (*Report, error) {
	report := newReport(PipelineIncremental)
	defer report.finish()

	if !config.ValidDateKey(date) {
		report.Status = StatusFailed
		return report, pberr.New(pberr.ErrCategoryExtract, pberr.CodeInvalidDateRange,
			fmt.Sprintf("invalid partition date %q", date))
	}

	w, err := warehouse.Open(p.cfg.Warehouse.Path, p.log)
	if err != nil {
		report.Status = StatusFailed
		return report, err
	}
	defer w.Close()

	store, err := p.objectStorage(ctx)
	if err != nil {
		report.Status = StatusFailed
		return report, err
	}
	extractor := lake.NewExtractor(store, p.cfg.Lake.ScratchDir, p.log)
	transformer := etl.NewTransformer(p.log)
	loader := etl.NewLoader(w, p.log)

	var dim []types.DimUser
	if err := report.step("read_dimension", func() (int64, string, error) {
		var err error
		dim, err = readUserDimension(ctx, w.DB())
		return int64(len(dim)), "", err
	}); err != nil {
		return report, err
	}

	var raw []types.RawEvent
	if err := report.step("extract", func() (int64, string, error) {
		var err error
		raw, err = extractor.ExtractEventsForDate(ctx, date)
		return int64(len(raw)), "partition " + date, err
	}); err != nil {
		return report, err
	}

	var facts []types.FactEvent
	if err := report.step("transform", func() (int64, string, error) {
		events, clean := transformer.CleanEvents(raw)
		var dropped int
		facts, dropped = transformer.BuildFactEvents(events, dim)
		return int64(len(facts)),
			fmt.Sprintf("dropped %d in cleaning, %d unknown users", clean.Dropped(), dropped),
			nil
	}); err != nil {
		return report, err
	}

	if err := report.step("load_facts", func() (int64, string, error) {
		n, err := loader.LoadFacts(ctx, facts, date)
		return n, "partition " + date, err
	}); err != nil {
		return report, err
	}

	if err := report.step("load_daily_aggregates", func() (int64, string, error) {
		aggs := transformer.ComputeDailyAggregates(facts, dim)
		n, err := loader.LoadDailyAggregates(ctx, aggs)
		return n, "", err
	}); err != nil {
		return report, err
	}

	if err := p.runQuality(ctx, report, w); err != nil {
		return report, err
	}

	p.attachTableStats(ctx, report, w)
	return report, nil
}

// RunScheduled is the gated daily variant: extract, transform, and load
// as in a full refresh, then run the quality battery BEFORE aggregates.
// A clean battery opens the gate and aggregates are built; any failure
// skips them and raises an alert instead. A convergent completion
// notification is delivered on both paths.
func (p *Pipeline) RunScheduled(ctx context.Context, endDate string) (*Report, error) {
	report := newReport(PipelineScheduled)
	defer report.finish()

	if endDate != "" && !config.ValidDateKey(endDate) {
		report.Status = StatusFailed
		return report, pberr.New(pberr.ErrCategoryExtract, pberr.CodeInvalidDateRange,
			fmt.Sprintf("invalid end date %q", endDate))
	}

	w, err := warehouse.Open(p.cfg.Warehouse.Path, p.log)
	if err != nil {
		report.Status = StatusFailed
		return report, err
	}
	defer w.Close()

	b, err := p.buildWarehouse(ctx, report, w, "", endDate)
	if err != nil {
		return report, err
	}

	if err := p.runQuality(ctx, report, w); err != nil {
		return report, err
	}

	if report.Quality.GateOpen() {
		if err := p.buildAggregates(ctx, report, w, b); err != nil {
			return report, err
		}
	} else {
		report.Status = StatusWarning
		report.skipStep("aggregates", "quality gate closed")
		p.notify(ctx, report, Notification{
			Kind:     NotifyAlert,
			RunID:    report.RunID,
			Pipeline: report.Pipeline,
			Message:  fmt.Sprintf("quality gate closed: %d checks failed", report.Quality.Failed),
			Details:  map[string]interface{}{"failed": report.Quality.Failed},
		})
	}

	p.attachTableStats(ctx, report, w)
	p.notify(ctx, report, Notification{
		Kind:     NotifyCompletion,
		RunID:    report.RunID,
		Pipeline: report.Pipeline,
		Message:  "scheduled run finished with status " + report.Status,
		Details:  map[string]interface{}{"status": report.Status, "steps": len(report.Steps)},
	})
	return report, nil
}

// RunChecks runs only the quality battery against the existing
// warehouse. Nothing is extracted or loaded.
func (p *Pipeline) RunChecks(ctx context.Context) (*Report, error) {
	report := newReport("checks")
	defer report.finish()

	w, err := warehouse.Open(p.cfg.Warehouse.Path, p.log)
	if err != nil {
		report.Status = StatusFailed
		return report, err
	}
	defer w.Close()

	if err := p.runQuality(ctx, report, w); err != nil {
		return report, err
	}
	p.attachTableStats(ctx, report, w)
	return report, nil
}

// buildWarehouse runs schema init, extract, transform, and load. The
// returned batch feeds aggregate computation.
func (p *Pipeline) buildWarehouse(ctx context.Context, report *Report, w *warehouse.Warehouse, startDate, endDate string) (*batch, error) {
	store, err := p.objectStorage(ctx)
	if err != nil {
		report.Status = StatusFailed
		return nil, err
	}
	extractor := lake.NewExtractor(store, p.cfg.Lake.ScratchDir, p.log)
	transformer := etl.NewTransformer(p.log)
	loader := etl.NewLoader(w, p.log)

	if err := report.step("schema_init", func() (int64, string, error) {
		if err := w.InitSchema(ctx); err != nil {
			return 0, "", err
		}
		return 0, "", w.SeedDimensions(ctx)
	}); err != nil {
		return nil, err
	}

	var rawUsers []types.RawUser
	var rawEvents []types.RawEvent
	if err := report.step("extract", func() (int64, string, error) {
		var err error
		rawUsers, err = extractor.ExtractUsers(ctx)
		if err != nil {
			return 0, "", err
		}
		rawEvents, err = extractor.ExtractEvents(ctx, startDate, endDate)
		return int64(len(rawEvents)), fmt.Sprintf("%d users", len(rawUsers)), err
	}); err != nil {
		return nil, err
	}

	b := &batch{}
	if err := report.step("transform", func() (int64, string, error) {
		var events []types.Event
		events, b.clean = transformer.CleanEvents(rawEvents)
		b.dim = transformer.BuildUserDimension(rawUsers)
		var dropped int
		b.facts, dropped = transformer.BuildFactEvents(events, b.dim)
		return int64(len(b.facts)),
			fmt.Sprintf("dropped %d in cleaning, %d unknown users", b.clean.Dropped(), dropped),
			nil
	}); err != nil {
		return nil, err
	}

	if err := report.step("load_dimension", func() (int64, string, error) {
		n, err := loader.LoadUserDimension(ctx, b.dim, etl.LoadReplace)
		return n, "", err
	}); err != nil {
		return nil, err
	}

	if err := report.step("load_facts", func() (int64, string, error) {
		var total int64
		for _, date := range factPartitions(b.facts) {
			n, err := loader.LoadFacts(ctx, b.facts, date)
			if err != nil {
				return total, "", err
			}
			total += n
		}
		return total, fmt.Sprintf("%d partitions", len(factPartitions(b.facts))), nil
	}); err != nil {
		return nil, err
	}

	return b, nil
}

// buildAggregates computes and loads the three aggregate tables from a
// run's transformed batch. Engagement is computed for the newest fact
// date and skipped when the batch holds no facts.
func (p *Pipeline) buildAggregates(ctx context.Context, report *Report, w *warehouse.Warehouse, b *batch) error {
	transformer := etl.NewTransformer(p.log)
	loader := etl.NewLoader(w, p.log)

	if err := report.step("load_daily_aggregates", func() (int64, string, error) {
		aggs := transformer.ComputeDailyAggregates(b.facts, b.dim)
		n, err := loader.LoadDailyAggregates(ctx, aggs)
		return n, "", err
	}); err != nil {
		return err
	}

	dates := factPartitions(b.facts)
	if len(dates) == 0 {
		report.skipStep("load_engagement", "no facts in batch")
	} else {
		reportDate := dates[len(dates)-1]
		if err := report.step("load_engagement", func() (int64, string, error) {
			scores, err := transformer.ComputeEngagementScores(b.facts, reportDate)
			if err != nil {
				return 0, "", err
			}
			n, err := loader.LoadEngagementScores(ctx, scores)
			return n, "report date " + reportDate, err
		}); err != nil {
			return err
		}
	}

	return report.step("load_retention", func() (int64, string, error) {
		cohorts := transformer.ComputeRetentionCohorts(b.facts, b.dim)
		n, err := loader.LoadRetentionCohorts(ctx, cohorts)
		return n, "", err
	})
}

func (p *Pipeline) runQuality(ctx context.Context, report *Report, w *warehouse.Warehouse) error {
	checker := quality.NewChecker(w, p.cfg.Quality, p.log)
	return report.step("quality_check", func() (int64, string, error) {
		summary, err := checker.RunAllChecks(ctx)
		if err != nil {
			return 0, "", err
		}
		report.Quality = &summary
		msg := fmt.Sprintf("%d/%d passed, %d failed, %d skipped",
			summary.Passed, summary.TotalChecks, summary.Failed, summary.Skipped)
		if summary.Failed > 0 && report.Status == StatusSuccess {
			report.Status = StatusWarning
		}
		return int64(summary.TotalChecks), msg, nil
	})
}

// attachTableStats is best-effort reporting; a stats failure never fails
// a run that already finished its steps.
func (p *Pipeline) attachTableStats(ctx context.Context, report *Report, w *warehouse.Warehouse) {
	stats, err := w.TableStats(ctx)
	if err != nil {
		p.log.WithError(err).Warn("could not collect table stats")
		return
	}
	report.TableStats = stats
}

func (p *Pipeline) notify(ctx context.Context, report *Report, n Notification) {
	if err := p.notifier.Notify(ctx, n); err != nil {
		p.log.WithError(err).WithField("kind", n.Kind).Warn("notification delivery failed")
	}
}

// factPartitions returns the sorted distinct partition dates in facts.
func factPartitions(facts []types.FactEvent) []string {
	set := make(map[string]struct{})
	for _, f := range facts {
		set[f.PartitionDate] = struct{}{}
	}
	dates := make([]string, 0, len(set))
	for d := range set {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// readUserDimension loads the current dim_users rows back out of the
// warehouse for incremental fact resolution.
func readUserDimension(ctx context.Context, db *sql.DB) ([]types.DimUser, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT user_key, user_id, country, age_group, device_type, user_segment,
		        signup_date, primary_platform, effective_from, effective_to, is_current
		 FROM analytics.dim_users WHERE is_current = 1`)
	if err != nil {
		return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "read user dimension", err)
	}
	defer rows.Close()

	var dim []types.DimUser
	for rows.Next() {
		var d types.DimUser
		var country, ageGroup, deviceType, segment, platform sql.NullString
		var effectiveTo sql.NullString
		if err := rows.Scan(&d.UserKey, &d.UserID, &country, &ageGroup, &deviceType,
			&segment, &d.SignupDate, &platform, &d.EffectiveFrom, &effectiveTo, &d.IsCurrent); err != nil {
			return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "scan user dimension row", err)
		}
		d.Country = country.String
		d.AgeGroup = ageGroup.String
		d.DeviceType = deviceType.String
		d.UserSegment = segment.String
		d.PrimaryPlatform = platform.String
		if effectiveTo.Valid {
			v := effectiveTo.String
			d.EffectiveTo = &v
		}
		dim = append(dim, d)
	}
	if err := rows.Err(); err != nil {
		return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "iterate user dimension", err)
	}
	return dim, nil
}
