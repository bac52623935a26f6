package analytics

import (
	"context"
	"database/sql"
	"math"

	"github.com/sirupsen/logrus"

	pberr "github.com/starforge/starforge/internal/errors"
	"github.com/starforge/starforge/internal/warehouse"
)

// Retention answers cohort retention questions from the fact table and
// the engagement aggregate.
type Retention struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewRetention creates a retention reader over an open warehouse.
func NewRetention(w *warehouse.Warehouse, log *logrus.Logger) *Retention {
	return &Retention{db: w.DB(), log: log}
}

// NDayRetentionRow is one signup-date cohort's day-N retention.
type NDayRetentionRow struct {
	SignupDate    string  `json:"signup_date"`
	CohortSize    int64   `json:"cohort_size"`
	RetainedUsers int64   `json:"retained_users"`
	RetentionRate float64 `json:"retention_rate"`
}

const nDayRetentionSQL = `
WITH cohorts AS (
    SELECT signup_date, user_key FROM analytics.dim_users WHERE is_current = 1
)
SELECT c.signup_date,
       COUNT(*) AS cohort_size,
       SUM(EXISTS (
           SELECT 1 FROM analytics.fct_events f
           WHERE f.user_key = c.user_key
             AND f.date_key = date(c.signup_date, '+' || ? || ' day')
       )) AS retained
FROM cohorts c
GROUP BY c.signup_date
ORDER BY c.signup_date`

// NDayRetention reports, for each signup-date cohort, the fraction of
// users active exactly dayN days after signup.
func (r *Retention) NDayRetention(ctx context.Context, dayN int) ([]NDayRetentionRow, error) {
	rows, err := r.db.QueryContext(ctx, nDayRetentionSQL, dayN)
	if err != nil {
		return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "n-day retention query", err)
	}
	defer rows.Close()

	var out []NDayRetentionRow
	for rows.Next() {
		var row NDayRetentionRow
		if err := rows.Scan(&row.SignupDate, &row.CohortSize, &row.RetainedUsers); err != nil {
			return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "scan retention row", err)
		}
		if row.CohortSize > 0 {
			row.RetentionRate = round4(float64(row.RetainedUsers) / float64(row.CohortSize))
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// GroupRetentionRow is day-N retention for one value of a user grouping
// attribute, pooled across signup dates.
type GroupRetentionRow struct {
	Group         string  `json:"group"`
	CohortSize    int64   `json:"cohort_size"`
	RetainedUsers int64   `json:"retained_users"`
	RetentionRate float64 `json:"retention_rate"`
}

// RetentionBySegment pools day-N retention by user segment.
func (r *Retention) RetentionBySegment(ctx context.Context, dayN int) ([]GroupRetentionRow, error) {
	return r.groupedRetention(ctx, "user_segment", dayN)
}

// RetentionByPlatform pools day-N retention by primary platform.
func (r *Retention) RetentionByPlatform(ctx context.Context, dayN int) ([]GroupRetentionRow, error) {
	return r.groupedRetention(ctx, "primary_platform", dayN)
}

// groupedRetention pools day-N retention by a dim_users attribute. The
// attribute name is supplied by the two exported wrappers only.
func (r *Retention) groupedRetention(ctx context.Context, attr string, dayN int) ([]GroupRetentionRow, error) {
	q := `
	WITH cohorts AS (
	    SELECT COALESCE(` + attr + `, 'unknown') AS grp, signup_date, user_key
	    FROM analytics.dim_users WHERE is_current = 1
	)
	SELECT c.grp,
	       COUNT(*) AS cohort_size,
	       SUM(EXISTS (
	           SELECT 1 FROM analytics.fct_events f
	           WHERE f.user_key = c.user_key
	             AND f.date_key = date(c.signup_date, '+' || ? || ' day')
	       )) AS retained
	FROM cohorts c
	GROUP BY c.grp
	ORDER BY cohort_size DESC`

	rows, err := r.db.QueryContext(ctx, q, dayN)
	if err != nil {
		return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "grouped retention query", err)
	}
	defer rows.Close()

	var out []GroupRetentionRow
	for rows.Next() {
		var row GroupRetentionRow
		if err := rows.Scan(&row.Group, &row.CohortSize, &row.RetainedUsers); err != nil {
			return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "scan grouped retention row", err)
		}
		if row.CohortSize > 0 {
			row.RetentionRate = round4(float64(row.RetainedUsers) / float64(row.CohortSize))
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Churn risk buckets, ordered from worst to best.
const (
	RiskChurned = "churned"
	RiskHigh    = "high"
	RiskMedium  = "medium"
	RiskLow     = "low"
)

// ChurnBucket summarizes one churn-risk bucket from the latest
// engagement snapshot.
type ChurnBucket struct {
	Bucket   string  `json:"bucket"`
	Users    int64   `json:"users"`
	AvgScore float64 `json:"avg_score"`
}

// ChurnRiskFeatures buckets the user base by churn risk using the most
// recent engagement snapshot: users without an engagement row were
// inactive for the whole 28-day window and count as churned; scored
// users split at 25 and 50 into high, medium, and low risk.
func (r *Retention) ChurnRiskFeatures(ctx context.Context) ([]ChurnBucket, error) {
	var snapshot sql.NullString
	if err := r.db.QueryRowContext(ctx,
		"SELECT MAX(date_key) FROM analytics.agg_user_engagement").Scan(&snapshot); err != nil {
		return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "engagement snapshot query", err)
	}

	var churned int64
	if snapshot.Valid {
		err := r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM analytics.dim_users d
			 WHERE d.is_current = 1
			   AND NOT EXISTS (
			       SELECT 1 FROM analytics.agg_user_engagement e
			       WHERE e.user_key = d.user_key AND e.date_key = ?
			   )`, snapshot.String).Scan(&churned)
		if err != nil {
			return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "churned count query", err)
		}
	} else {
		if err := r.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM analytics.dim_users WHERE is_current = 1").Scan(&churned); err != nil {
			return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "churned count query", err)
		}
	}

	buckets := []ChurnBucket{{Bucket: RiskChurned, Users: churned}}

	if snapshot.Valid {
		const q = `
		SELECT CASE
		           WHEN engagement_score < 25 THEN 'high'
		           WHEN engagement_score < 50 THEN 'medium'
		           ELSE 'low'
		       END AS bucket,
		       COUNT(*), AVG(engagement_score)
		FROM analytics.agg_user_engagement
		WHERE date_key = ?
		GROUP BY 1`
		rows, err := r.db.QueryContext(ctx, q, snapshot.String)
		if err != nil {
			return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "churn bucket query", err)
		}
		defer rows.Close()

		scored := make(map[string]ChurnBucket)
		for rows.Next() {
			var b ChurnBucket
			if err := rows.Scan(&b.Bucket, &b.Users, &b.AvgScore); err != nil {
				return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, "scan churn bucket", err)
			}
			b.AvgScore = round4(b.AvgScore)
			scored[b.Bucket] = b
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		for _, name := range []string{RiskHigh, RiskMedium, RiskLow} {
			b, ok := scored[name]
			if !ok {
				b = ChurnBucket{Bucket: name}
			}
			buckets = append(buckets, b)
		}
	} else {
		for _, name := range []string{RiskHigh, RiskMedium, RiskLow} {
			buckets = append(buckets, ChurnBucket{Bucket: name})
		}
	}

	return buckets, nil
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
