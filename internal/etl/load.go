package etl

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	pberr "github.com/starforge/starforge/internal/errors"
	"github.com/starforge/starforge/internal/warehouse"
	"github.com/starforge/starforge/pkg/types"
)

// LoadMode selects how LoadDimension writes into an existing table.
type LoadMode string

const (
	// LoadReplace truncates the table before inserting.
	LoadReplace LoadMode = "replace"
	// LoadAppend inserts without touching existing rows.
	LoadAppend LoadMode = "append"
	// LoadUpsert replaces rows sharing the key column, keeps the rest.
	LoadUpsert LoadMode = "upsert"
)

// Loader writes transformed structures into the warehouse. Every load
// runs inside a single transaction so a failed batch leaves the table
// untouched. Table names are validated against the fixed schema before
// they are interpolated into SQL; row values always travel as bind
// parameters.
type Loader struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewLoader creates a loader over an open warehouse.
func NewLoader(w *warehouse.Warehouse, log *logrus.Logger) *Loader {
	return &Loader{db: w.DB(), log: log}
}

// LoadUserDimension writes dim_users rows. mode governs existing rows;
// LoadUpsert keys on user_key.
func (l *Loader) LoadUserDimension(ctx context.Context, dim []types.DimUser, mode LoadMode) (int64, error) {
	return l.loadRows(ctx, "dim_users", mode, "user_key", len(dim),
		`INSERT INTO analytics.dim_users
		 (user_key, user_id, country, age_group, device_type, user_segment,
		  signup_date, primary_platform, effective_from, effective_to, is_current)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		func(i int) []interface{} {
			d := dim[i]
			return []interface{}{
				d.UserKey, d.UserID, d.Country, d.AgeGroup, d.DeviceType,
				d.UserSegment, d.SignupDate, d.PrimaryPlatform,
				d.EffectiveFrom, d.EffectiveTo, d.IsCurrent,
			}
		},
		func(stmt *sql.Stmt, i int) ([]interface{}, error) {
			return []interface{}{dim[i].UserKey}, nil
		})
}

// LoadFacts writes fact rows. When partitionDate is non-empty the load
// is a partition replace: existing rows with that _partition_date are
// deleted in the same transaction before the insert, making reruns for
// a date idempotent. An empty partitionDate is a pure append.
func (l *Loader) LoadFacts(ctx context.Context, facts []types.FactEvent, partitionDate string) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "begin fact load", err)
	}
	defer tx.Rollback()

	if partitionDate != "" {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM analytics.fct_events WHERE _partition_date = ?`, partitionDate)
		if err != nil {
			return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "clear fact partition", err)
		}
		if deleted, _ := res.RowsAffected(); deleted > 0 {
			l.log.WithFields(logrus.Fields{
				"partition": partitionDate,
				"deleted":   deleted,
			}).Info("replaced existing fact partition")
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO analytics.fct_events
		 (event_id, event_timestamp, date_key, user_key, platform_key,
		  event_type_key, session_id, country, device_type, event_count, _partition_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "prepare fact insert", err)
	}
	defer stmt.Close()

	for _, f := range facts {
		if partitionDate != "" && f.PartitionDate != partitionDate {
			continue
		}
		_, err := stmt.ExecContext(ctx,
			f.EventID, f.Timestamp.UTC().Format(time.RFC3339), f.DateKey,
			f.UserKey, f.PlatformKey, f.EventTypeKey, f.SessionID,
			f.Country, f.DeviceType, f.EventCount, f.PartitionDate)
		if err != nil {
			return 0, pberr.NewLoadError(pberr.CodeLoadFailed, fmt.Sprintf("insert fact %s", f.EventID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, pberr.Wrap(pberr.ErrCategoryLoad, pberr.CodeTxCommitFailed, "commit fact load", err)
	}

	loaded := int64(len(facts))
	if partitionDate != "" {
		loaded = 0
		for _, f := range facts {
			if f.PartitionDate == partitionDate {
				loaded++
			}
		}
	}
	l.log.WithFields(logrus.Fields{
		"rows":      loaded,
		"partition": partitionDate,
	}).Info("fact load complete")
	return loaded, nil
}

// LoadDailyAggregates fully replaces agg_daily_metrics rows for the date
// keys present in the batch, so recomputing a window is idempotent. An
// empty batch is a no-op.
func (l *Loader) LoadDailyAggregates(ctx context.Context, aggs []types.DailyAggregate) (int64, error) {
	if len(aggs) == 0 {
		return 0, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "begin aggregate load", err)
	}
	defer tx.Rollback()

	dates := make(map[string]struct{})
	for _, a := range aggs {
		dates[a.DateKey] = struct{}{}
	}
	for date := range dates {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM analytics.agg_daily_metrics WHERE date_key = ?`, date); err != nil {
			return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "clear daily aggregates", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO analytics.agg_daily_metrics
		 (date_key, platform_key, dau, new_users, total_events, total_sessions,
		  content_creates, likes, comments, shares, messages_sent,
		  ad_impressions, ad_clicks, avg_session_events)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "prepare aggregate insert", err)
	}
	defer stmt.Close()

	for _, a := range aggs {
		_, err := stmt.ExecContext(ctx,
			a.DateKey, a.PlatformKey, a.DAU, a.NewUsers, a.TotalEvents,
			a.TotalSessions, a.ContentCreates, a.Likes, a.Comments, a.Shares,
			a.MessagesSent, a.AdImpressions, a.AdClicks, a.AvgSessionEvents)
		if err != nil {
			return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "insert daily aggregate", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, pberr.Wrap(pberr.ErrCategoryLoad, pberr.CodeTxCommitFailed, "commit aggregate load", err)
	}
	l.log.WithField("rows", len(aggs)).Info("daily aggregate load complete")
	return int64(len(aggs)), nil
}

// LoadEngagementScores upserts agg_user_engagement rows keyed on
// (user_key, date_key).
func (l *Loader) LoadEngagementScores(ctx context.Context, scores []types.EngagementScore) (int64, error) {
	if len(scores) == 0 {
		return 0, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "begin engagement load", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO analytics.agg_user_engagement
		 (user_key, date_key, l1_active, l7_active, l28_active,
		  l7_days_active, l28_days_active, total_events_l7, total_events_l28,
		  platforms_used_l7, engagement_score)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "prepare engagement insert", err)
	}
	defer stmt.Close()

	for _, s := range scores {
		_, err := stmt.ExecContext(ctx,
			s.UserKey, s.DateKey, s.L1Active, s.L7Active, s.L28Active,
			s.L7DaysActive, s.L28DaysActive, s.TotalEventsL7, s.TotalEventsL28,
			s.PlatformsUsedL7, s.Score)
		if err != nil {
			return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "insert engagement score", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, pberr.Wrap(pberr.ErrCategoryLoad, pberr.CodeTxCommitFailed, "commit engagement load", err)
	}
	l.log.WithField("rows", len(scores)).Info("engagement load complete")
	return int64(len(scores)), nil
}

// LoadRetentionCohorts fully replaces agg_retention_cohorts. The matrix
// is cheap to recompute and shifts with every run, so replace is simpler
// and safer than diffing cells.
func (l *Loader) LoadRetentionCohorts(ctx context.Context, cohorts []types.RetentionCohort) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "begin cohort load", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM analytics.agg_retention_cohorts`); err != nil {
		return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "clear retention cohorts", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO analytics.agg_retention_cohorts
		 (cohort_week, platform_key, weeks_since_signup, cohort_size,
		  retained_users, retention_rate)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "prepare cohort insert", err)
	}
	defer stmt.Close()

	for _, c := range cohorts {
		_, err := stmt.ExecContext(ctx,
			c.CohortWeek, c.PlatformKey, c.WeeksSinceSignup,
			c.CohortSize, c.RetainedUsers, c.RetentionRate)
		if err != nil {
			return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "insert retention cohort", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, pberr.Wrap(pberr.ErrCategoryLoad, pberr.CodeTxCommitFailed, "commit cohort load", err)
	}
	l.log.WithField("rows", len(cohorts)).Info("retention cohort load complete")
	return int64(len(cohorts)), nil
}

// loadRows is the shared dimension-load skeleton: validate the table,
// apply the mode's pre-clear, then prepared-statement insert every row
// in one transaction.
func (l *Loader) loadRows(
	ctx context.Context,
	table string,
	mode LoadMode,
	keyColumn string,
	n int,
	insertSQL string,
	bind func(i int) []interface{},
	key func(stmt *sql.Stmt, i int) ([]interface{}, error),
) (int64, error) {
	if !warehouse.KnownTable(table) {
		return 0, pberr.New(pberr.ErrCategoryLoad, pberr.CodeUnknownTable,
			fmt.Sprintf("unknown table %q", table))
	}
	qualified := "analytics." + table

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "begin dimension load", err)
	}
	defer tx.Rollback()

	switch mode {
	case LoadReplace:
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+qualified); err != nil {
			return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "clear "+table, err)
		}
	case LoadAppend:
		// nothing to clear
	case LoadUpsert:
		del, err := tx.PrepareContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s = ?", qualified, keyColumn))
		if err != nil {
			return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "prepare upsert delete", err)
		}
		defer del.Close()
		for i := 0; i < n; i++ {
			args, err := key(del, i)
			if err != nil {
				return 0, err
			}
			if _, err := del.ExecContext(ctx, args...); err != nil {
				return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "upsert delete", err)
			}
		}
	default:
		return 0, pberr.New(pberr.ErrCategoryLoad, pberr.CodeInvalidMode,
			fmt.Sprintf("unknown load mode %q", mode))
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "prepare insert into "+table, err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, bind(i)...); err != nil {
			return 0, pberr.NewLoadError(pberr.CodeLoadFailed, "insert into "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, pberr.Wrap(pberr.ErrCategoryLoad, pberr.CodeTxCommitFailed, "commit "+table, err)
	}

	l.log.WithFields(logrus.Fields{
		"table": table,
		"rows":  n,
		"mode":  mode,
	}).Info("dimension load complete")
	return int64(n), nil
}
