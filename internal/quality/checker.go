// Package quality runs post-load data checks against the warehouse and
// summarizes them for the pipeline's quality gate.
package quality

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/starforge/starforge/internal/config"
	pberr "github.com/starforge/starforge/internal/errors"
	"github.com/starforge/starforge/internal/warehouse"
)

// Severity ranks how much a failed check should alarm an operator.
// The gate itself only looks at status; severity is reporting signal.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Status is the outcome of one check. Skipped checks carry a reason and
// never count against the gate.
type Status string

const (
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

// CheckResult is the outcome of a single data quality check.
type CheckResult struct {
	CheckName string                 `json:"check_name"`
	Table     string                 `json:"table"`
	Status    Status                 `json:"status"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}

// Summary aggregates a check battery. The pipeline's quality gate is a
// pure function of Failed: zero failures opens the gate.
type Summary struct {
	TotalChecks int           `json:"total_checks"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	PassRate    float64       `json:"pass_rate"`
	Details     []CheckResult `json:"details"`
}

// GateOpen reports whether downstream steps may proceed.
func (s Summary) GateOpen() bool {
	return s.Failed == 0
}

// Checker runs data quality checks over an open warehouse. Thresholds
// come from configuration; the clock is injectable so freshness checks
// are testable.
type Checker struct {
	db        *sql.DB
	log       *logrus.Logger
	now       func() time.Time
	nullRate  float64
	freshness time.Duration
	factFloor int64
}

// NewChecker creates a checker with thresholds from cfg.
func NewChecker(w *warehouse.Warehouse, cfg config.QualityConfig, log *logrus.Logger) *Checker {
	return &Checker{
		db:        w.DB(),
		log:       log,
		now:       time.Now,
		nullRate:  cfg.NullRateThreshold,
		freshness: cfg.FreshnessMaxAge,
		factFloor: cfg.FactMinRows,
	}
}

// NewCheckerWithClock is NewChecker with a fixed clock, for tests.
func NewCheckerWithClock(w *warehouse.Warehouse, cfg config.QualityConfig, log *logrus.Logger, now func() time.Time) *Checker {
	c := NewChecker(w, cfg, log)
	c.now = now
	return c
}

// validateTable guards identifier interpolation. Row values always go
// through bind parameters; table and column names must come from the
// fixed schema.
func validateTable(table string) error {
	if !warehouse.KnownTable(table) {
		return pberr.New(pberr.ErrCategoryQuality, pberr.CodeBadIdentifier,
			fmt.Sprintf("unknown table %q", table))
	}
	return nil
}

// CheckRowCount verifies a table holds at least minRows rows.
func (c *Checker) CheckRowCount(ctx context.Context, table string, minRows int64, sev Severity) (CheckResult, error) {
	res := CheckResult{CheckName: "row_count", Table: table, Severity: sev}
	if err := validateTable(table); err != nil {
		return res, err
	}

	var count int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM analytics.%s", table)
	if err := c.db.QueryRowContext(ctx, q).Scan(&count); err != nil {
		return res, pberr.NewQualityError(pberr.CodeCheckQueryFailed, "row count query", err)
	}

	res.Metrics = map[string]interface{}{"row_count": count, "min_rows": minRows}
	if count >= minRows {
		res.Status = StatusPassed
		res.Message = fmt.Sprintf("%d rows (floor %d)", count, minRows)
	} else {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("%d rows below floor %d", count, minRows)
	}
	return res, nil
}

// CheckNullRate verifies the fraction of NULL values in a column stays
// under the configured threshold. Skipped on an empty table: a null rate
// over zero rows is undefined, not a failure.
func (c *Checker) CheckNullRate(ctx context.Context, table, column string) (CheckResult, error) {
	res := CheckResult{
		CheckName: "null_rate",
		Table:     table,
		Severity:  SeverityCritical,
	}
	if err := validateTable(table); err != nil {
		return res, err
	}
	if err := validateColumn(table, column); err != nil {
		return res, err
	}

	var total, nulls int64
	q := fmt.Sprintf(
		"SELECT COUNT(*), COUNT(*) - COUNT(%s) FROM analytics.%s", column, table)
	if err := c.db.QueryRowContext(ctx, q).Scan(&total, &nulls); err != nil {
		return res, pberr.NewQualityError(pberr.CodeCheckQueryFailed, "null rate query", err)
	}

	if total == 0 {
		res.Status = StatusSkipped
		res.Message = "table empty, null rate undefined"
		return res, nil
	}

	rate := float64(nulls) / float64(total)
	res.Metrics = map[string]interface{}{
		"column": column, "null_rate": round4(rate), "threshold": c.nullRate,
	}
	if rate <= c.nullRate {
		res.Status = StatusPassed
		res.Message = fmt.Sprintf("%s null rate %.4f within %.4f", column, rate, c.nullRate)
	} else {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("%s null rate %.4f exceeds %.4f", column, rate, c.nullRate)
	}
	return res, nil
}

// CheckUniqueness verifies a column has no duplicate values.
func (c *Checker) CheckUniqueness(ctx context.Context, table, column string) (CheckResult, error) {
	res := CheckResult{
		CheckName: "uniqueness",
		Table:     table,
		Severity:  SeverityCritical,
	}
	if err := validateTable(table); err != nil {
		return res, err
	}
	if err := validateColumn(table, column); err != nil {
		return res, err
	}

	var dupes int64
	q := fmt.Sprintf(
		"SELECT COUNT(*) - COUNT(DISTINCT %s) FROM analytics.%s", column, table)
	if err := c.db.QueryRowContext(ctx, q).Scan(&dupes); err != nil {
		return res, pberr.NewQualityError(pberr.CodeCheckQueryFailed, "uniqueness query", err)
	}

	res.Metrics = map[string]interface{}{"column": column, "duplicates": dupes}
	if dupes == 0 {
		res.Status = StatusPassed
		res.Message = fmt.Sprintf("%s is unique", column)
	} else {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("%d duplicate %s values", dupes, column)
	}
	return res, nil
}

// CheckReferentialIntegrity verifies every value in a fact foreign key
// resolves to the dimension's key column.
func (c *Checker) CheckReferentialIntegrity(ctx context.Context, factTable, factColumn, dimTable, dimColumn string) (CheckResult, error) {
	res := CheckResult{
		CheckName: "referential_integrity",
		Table:     factTable,
		Severity:  SeverityCritical,
	}
	for _, t := range []string{factTable, dimTable} {
		if err := validateTable(t); err != nil {
			return res, err
		}
	}
	if err := validateColumn(factTable, factColumn); err != nil {
		return res, err
	}
	if err := validateColumn(dimTable, dimColumn); err != nil {
		return res, err
	}

	var orphans int64
	q := fmt.Sprintf(
		`SELECT COUNT(*) FROM analytics.%s f
		 WHERE f.%s IS NOT NULL
		   AND NOT EXISTS (SELECT 1 FROM analytics.%s d WHERE d.%s = f.%s)`,
		factTable, factColumn, dimTable, dimColumn, factColumn)
	if err := c.db.QueryRowContext(ctx, q).Scan(&orphans); err != nil {
		return res, pberr.NewQualityError(pberr.CodeCheckQueryFailed, "referential integrity query", err)
	}

	res.Metrics = map[string]interface{}{
		"fact_column": factColumn, "dim_table": dimTable, "orphans": orphans,
	}
	if orphans == 0 {
		res.Status = StatusPassed
		res.Message = fmt.Sprintf("%s.%s fully resolves to %s.%s", factTable, factColumn, dimTable, dimColumn)
	} else {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("%d orphan %s values in %s", orphans, factColumn, factTable)
	}
	return res, nil
}

// CheckFreshness verifies the newest fact timestamp is not older than the
// configured maximum age. Skipped when the fact table has no rows, since
// staleness of nothing is meaningless; row-count floors catch emptiness.
func (c *Checker) CheckFreshness(ctx context.Context) (CheckResult, error) {
	res := CheckResult{
		CheckName: "freshness",
		Table:     "fct_events",
		Severity:  SeverityWarning,
	}

	var latest sql.NullString
	q := "SELECT MAX(event_timestamp) FROM analytics.fct_events"
	if err := c.db.QueryRowContext(ctx, q).Scan(&latest); err != nil {
		return res, pberr.NewQualityError(pberr.CodeCheckQueryFailed, "freshness query", err)
	}

	if !latest.Valid {
		res.Status = StatusSkipped
		res.Message = "no fact rows, freshness undefined"
		return res, nil
	}

	ts, err := time.Parse(time.RFC3339, latest.String)
	if err != nil {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("unparseable max timestamp %q", latest.String)
		return res, nil
	}

	age := c.now().UTC().Sub(ts)
	res.Metrics = map[string]interface{}{
		"latest": latest.String, "age_hours": round4(age.Hours()),
		"max_age_hours": c.freshness.Hours(),
	}
	if age <= c.freshness {
		res.Status = StatusPassed
		res.Message = fmt.Sprintf("latest event %.1fh old (limit %.0fh)", age.Hours(), c.freshness.Hours())
	} else {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("latest event %.1fh old exceeds %.0fh", age.Hours(), c.freshness.Hours())
	}
	return res, nil
}

// CheckValueRange verifies every value of a numeric column falls within
// [min, max].
func (c *Checker) CheckValueRange(ctx context.Context, table, column string, min, max float64) (CheckResult, error) {
	res := CheckResult{
		CheckName: "value_range",
		Table:     table,
		Severity:  SeverityWarning,
	}
	if err := validateTable(table); err != nil {
		return res, err
	}
	if err := validateColumn(table, column); err != nil {
		return res, err
	}

	var outliers int64
	q := fmt.Sprintf(
		"SELECT COUNT(*) FROM analytics.%s WHERE %s < ? OR %s > ?", table, column, column)
	if err := c.db.QueryRowContext(ctx, q, min, max).Scan(&outliers); err != nil {
		return res, pberr.NewQualityError(pberr.CodeCheckQueryFailed, "value range query", err)
	}

	res.Metrics = map[string]interface{}{
		"column": column, "min": min, "max": max, "outliers": outliers,
	}
	if outliers == 0 {
		res.Status = StatusPassed
		res.Message = fmt.Sprintf("%s within [%g, %g]", column, min, max)
	} else {
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("%d %s values outside [%g, %g]", outliers, column, min, max)
	}
	return res, nil
}

// RunAllChecks executes the standard post-load battery and summarizes
// the results. Check query errors abort the battery; a failing check
// does not.
func (c *Checker) RunAllChecks(ctx context.Context) (Summary, error) {
	var results []CheckResult

	run := func(r CheckResult, err error) error {
		if err != nil {
			return err
		}
		results = append(results, r)
		return nil
	}

	checks := []func() error{
		func() error { return run(c.CheckRowCount(ctx, "fct_events", c.factFloor, SeverityCritical)) },
		func() error { return run(c.CheckUniqueness(ctx, "fct_events", "event_id")) },
		func() error { return run(c.CheckNullRate(ctx, "fct_events", "user_key")) },
		func() error { return run(c.CheckNullRate(ctx, "fct_events", "event_type_key")) },
		func() error { return run(c.CheckNullRate(ctx, "fct_events", "date_key")) },
		func() error {
			return run(c.CheckReferentialIntegrity(ctx, "fct_events", "user_key", "dim_users", "user_key"))
		},
		func() error {
			return run(c.CheckReferentialIntegrity(ctx, "fct_events", "platform_key", "dim_platform", "platform_key"))
		},
		func() error {
			return run(c.CheckReferentialIntegrity(ctx, "fct_events", "event_type_key", "dim_event_type", "event_type_key"))
		},
		func() error { return run(c.CheckRowCount(ctx, "dim_users", 100, SeverityCritical)) },
		func() error { return run(c.CheckUniqueness(ctx, "dim_users", "user_key")) },
		func() error { return run(c.CheckNullRate(ctx, "dim_users", "user_id")) },
		func() error { return run(c.CheckRowCount(ctx, "dim_platform", 5, SeverityCritical)) },
		func() error { return run(c.CheckRowCount(ctx, "dim_event_type", 10, SeverityCritical)) },
		func() error { return run(c.CheckRowCount(ctx, "dim_date", 365, SeverityCritical)) },
		func() error { return run(c.CheckFreshness(ctx)) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return Summary{}, err
		}
	}

	// Aggregate checks only apply once aggregates exist. The gated
	// pipeline runs this battery before building them, so an empty
	// aggregate table means "not built yet", not "broken".
	var aggRows int64
	if err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM analytics.agg_daily_metrics").Scan(&aggRows); err != nil {
		return Summary{}, pberr.NewQualityError(pberr.CodeCheckQueryFailed, "aggregate row count", err)
	}
	if aggRows == 0 {
		for _, skip := range []struct {
			name string
			sev  Severity
		}{
			{"row_count", SeverityCritical},
			{"value_range", SeverityWarning},
			{"value_range", SeverityWarning},
		} {
			results = append(results, CheckResult{
				CheckName: skip.name,
				Table:     "agg_daily_metrics",
				Status:    StatusSkipped,
				Severity:  skip.sev,
				Message:   "aggregates not built yet",
			})
		}
	} else {
		aggChecks := []func() error{
			func() error { return run(c.CheckRowCount(ctx, "agg_daily_metrics", 5, SeverityCritical)) },
			func() error { return run(c.CheckValueRange(ctx, "agg_daily_metrics", "dau", 0, math.MaxInt32)) },
			func() error { return run(c.CheckValueRange(ctx, "agg_daily_metrics", "avg_session_events", 0, 1000)) },
		}
		for _, check := range aggChecks {
			if err := check(); err != nil {
				return Summary{}, err
			}
		}
	}

	summary := Summary{Details: results, TotalChecks: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusPassed:
			summary.Passed++
		case StatusFailed:
			summary.Failed++
			c.log.WithFields(logrus.Fields{
				"check":    r.CheckName,
				"table":    r.Table,
				"severity": r.Severity,
			}).Warn(r.Message)
		case StatusSkipped:
			summary.Skipped++
		}
	}
	if summary.TotalChecks > 0 {
		summary.PassRate = round4(float64(summary.Passed) / float64(summary.TotalChecks))
	}

	c.log.WithFields(logrus.Fields{
		"total":   summary.TotalChecks,
		"passed":  summary.Passed,
		"failed":  summary.Failed,
		"skipped": summary.Skipped,
	}).Info("quality check battery complete")
	return summary, nil
}

// tableColumns guards column identifiers the same way KnownTable guards
// table names.
var tableColumns = map[string]map[string]struct{}{
	"fct_events": colSet("event_id", "event_timestamp", "date_key", "user_key",
		"platform_key", "event_type_key", "session_id", "country", "device_type",
		"event_count", "_partition_date"),
	"dim_users": colSet("user_key", "user_id", "country", "age_group",
		"device_type", "user_segment", "signup_date", "primary_platform",
		"effective_from", "effective_to", "is_current"),
	"dim_platform":   colSet("platform_key", "platform_name", "app_family"),
	"dim_event_type": colSet("event_type_key", "event_category"),
	"dim_date": colSet("date_key", "year", "month", "day", "day_of_week",
		"week_of_year", "is_weekend"),
	"agg_daily_metrics": colSet("date_key", "platform_key", "dau", "new_users",
		"total_events", "total_sessions", "content_creates", "likes", "comments",
		"shares", "messages_sent", "ad_impressions", "ad_clicks", "avg_session_events"),
	"agg_user_engagement": colSet("user_key", "date_key", "l1_active", "l7_active",
		"l28_active", "l7_days_active", "l28_days_active", "total_events_l7",
		"total_events_l28", "platforms_used_l7", "engagement_score"),
	"agg_retention_cohorts": colSet("cohort_week", "platform_key",
		"weeks_since_signup", "cohort_size", "retained_users", "retention_rate"),
}

func colSet(cols ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		s[c] = struct{}{}
	}
	return s
}

func validateColumn(table, column string) error {
	if _, ok := tableColumns[table][column]; !ok {
		return pberr.New(pberr.ErrCategoryQuality, pberr.CodeBadIdentifier,
			fmt.Sprintf("unknown column %q on %s", column, table))
	}
	return nil
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
