package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	pberr "github.com/starforge/starforge/internal/errors"
	"github.com/starforge/starforge/pkg/types"
)

// Warehouse owns the SQLite warehouse connection for the lifetime of one
// pipeline run or test fixture. The handle is not shared across concurrent
// runs; callers serialize access and must Close on every exit path.
type Warehouse struct {
	db   *sql.DB
	path string
	log  *logrus.Logger
}

// Open opens (creating if necessary) the warehouse database at path and
// attaches it under the analytics alias.
func Open(path string, log *logrus.Logger) (*Warehouse, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, pberr.NewWarehouseError(pberr.CodeSchemaInitFailed, "failed to create warehouse directory", err)
	}

	db, err := sql.Open("sqlite3", "file::memory:?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, pberr.NewWarehouseError(pberr.CodeSchemaInitFailed, "failed to open warehouse connection", err)
	}
	// Single connection: the ATTACH below is connection-scoped, and the
	// pipeline is a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("ATTACH DATABASE ? AS analytics", path); err != nil {
		db.Close()
		return nil, pberr.NewWarehouseError(pberr.CodeSchemaInitFailed, fmt.Sprintf("failed to attach warehouse %s", path), err)
	}

	log.WithField("path", path).Info("warehouse opened")
	return &Warehouse{db: db, path: path, log: log}, nil
}

// DB exposes the underlying handle for the loader, checker, and analytics
// readers. Ownership stays with the Warehouse.
func (w *Warehouse) DB() *sql.DB {
	return w.db
}

// Path returns the warehouse database file path.
func (w *Warehouse) Path() string {
	return w.path
}

// InitSchema applies the full analytics DDL. Every statement is
// IF NOT EXISTS, so repeat initialization is a no-op rather than a
// sequence of swallowed errors.
func (w *Warehouse) InitSchema(ctx context.Context) error {
	for _, stmt := range AllSchemaSQL() {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return pberr.NewWarehouseError(pberr.CodeSchemaInitFailed, "DDL statement failed", err)
		}
	}
	w.log.Info("warehouse schema initialized")
	return nil
}

// SeedDimensions populates the static platform, event-type, and date
// dimensions. Seeds are INSERT OR IGNORE on the dimension key: re-seeding
// an initialized warehouse changes nothing.
func (w *Warehouse) SeedDimensions(ctx context.Context) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return pberr.NewWarehouseError(pberr.CodeSeedFailed, "failed to begin seed transaction", err)
	}
	defer tx.Rollback()

	for _, p := range platformSeed {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO analytics.dim_platform (platform_key, platform_name, app_family) VALUES (?, ?, ?)",
			p.Key, p.Name, p.Family,
		); err != nil {
			return pberr.NewWarehouseError(pberr.CodeSeedFailed, "failed to seed dim_platform", err)
		}
	}

	for _, e := range eventTypeSeed {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO analytics.dim_event_type (event_type_key, event_category) VALUES (?, ?)",
			e.Key, e.Category,
		); err != nil {
			return pberr.NewWarehouseError(pberr.CodeSeedFailed, "failed to seed dim_event_type", err)
		}
	}

	if err := w.seedDateDimension(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return pberr.NewWarehouseError(pberr.CodeSeedFailed, "failed to commit seed transaction", err)
	}
	w.log.Info("static dimensions seeded")
	return nil
}

// seedDateDimension fills the calendar dimension one row per day.
func (w *Warehouse) seedDateDimension(ctx context.Context, tx *sql.Tx) error {
	// Skip the day loop entirely when the dimension is already full.
	var have int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM analytics.dim_date").Scan(&have); err != nil {
		return pberr.NewWarehouseError(pberr.CodeSeedFailed, "failed to count dim_date", err)
	}

	start, _ := time.Parse(types.DateKeyLayout, dateDimStart)
	end, _ := time.Parse(types.DateKeyLayout, dateDimEnd)
	total := int64(end.Sub(start).Hours()/24) + 1
	if have >= total {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO analytics.dim_date
			(date_key, year, month, day, day_of_week, week_of_year, is_weekend)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return pberr.NewWarehouseError(pberr.CodeSeedFailed, "failed to prepare dim_date insert", err)
	}
	defer stmt.Close()

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dow := int(d.Weekday())
		_, week := d.ISOWeek()
		isWeekend := 0
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			isWeekend = 1
		}
		if _, err := stmt.ExecContext(ctx,
			d.Format(types.DateKeyLayout), d.Year(), int(d.Month()), d.Day(), dow, week, isWeekend,
		); err != nil {
			return pberr.NewWarehouseError(pberr.CodeSeedFailed, "failed to seed dim_date", err)
		}
	}
	return nil
}

// TableStats returns row counts for every table under the analytics
// namespace. Used for run reports and as a sanity signal.
func (w *Warehouse) TableStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, len(AnalyticsTables))
	for _, table := range AnalyticsTables {
		var count int64
		// Table names come from the fixed AnalyticsTables list, never
		// from input.
		q := fmt.Sprintf("SELECT COUNT(*) FROM analytics.%s", table)
		if err := w.db.QueryRowContext(ctx, q).Scan(&count); err != nil {
			return nil, pberr.NewWarehouseError(pberr.CodeQueryFailed, fmt.Sprintf("failed to count %s", table), err)
		}
		stats[table] = count
	}
	return stats, nil
}

// KnownTable reports whether name is a table under the analytics
// namespace. Loader and quality checks refuse identifiers outside this
// list before interpolating them into SQL.
func KnownTable(name string) bool {
	for _, t := range AnalyticsTables {
		if t == name {
			return true
		}
	}
	return false
}

// Close releases the warehouse connection.
func (w *Warehouse) Close() error {
	if err := w.db.Close(); err != nil {
		return pberr.NewWarehouseError(pberr.CodeQueryFailed, "failed to close warehouse", err)
	}
	w.log.Info("warehouse connection closed")
	return nil
}
