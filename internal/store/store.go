// Package store persists scored batches and environmental snapshots in
// SQLite and serves ad hoc read queries against them.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/vitalenv/climate-risk-service/internal/domain"
	"github.com/vitalenv/climate-risk-service/internal/observability"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store holds the latest scored generation. Each ingestion replaces the
// previous contents rather than appending to them.
type Store struct {
	db      *sql.DB
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Open connects to the SQLite database at dsn and applies pending schema
// migrations.
func Open(dsn string, metrics *observability.Metrics, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, metrics: metrics, logger: logger}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReadiness reports whether the database answers queries.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ReplaceScoredRows swaps the scored_rows table contents for rows, atomically.
func (s *Store) ReplaceScoredRows(ctx context.Context, rows []domain.RiskRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := replaceScoredRows(ctx, tx, rows); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.metrics.RowsStored.WithLabelValues("scored_rows").Set(float64(len(rows)))
	return nil
}

// ReplaceEnvironmentRows swaps the environment_rows table contents for env,
// atomically.
func (s *Store) ReplaceEnvironmentRows(ctx context.Context, env map[string]domain.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	n, err := replaceEnvironmentRows(ctx, tx, env)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.metrics.RowsStored.WithLabelValues("environment_rows").Set(float64(n))
	return nil
}

// ReplaceGeneration swaps both tables in a single transaction so readers
// never observe scored rows from one run alongside environment data from
// another.
func (s *Store) ReplaceGeneration(ctx context.Context, rows []domain.RiskRow, env map[string]domain.Snapshot) error {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := replaceScoredRows(ctx, tx, rows); err != nil {
		return err
	}
	n, err := replaceEnvironmentRows(ctx, tx, env)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.metrics.StoreReplaceDuration.Observe(time.Since(start).Seconds())
	s.metrics.RowsStored.WithLabelValues("scored_rows").Set(float64(len(rows)))
	s.metrics.RowsStored.WithLabelValues("environment_rows").Set(float64(n))
	return nil
}

func replaceScoredRows(ctx context.Context, tx *sql.Tx, rows []domain.RiskRow) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM scored_rows`); err != nil {
		return fmt.Errorf("clear scored rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scored_rows(member_id, payer, plan_zip, fake_name, fake_email, fake_phone, max_temp, max_aqi, risk_factor)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.ExecContext(ctx,
			r.MemberID, r.Payer, r.PlanZip, r.Name, r.Email, r.Phone,
			nullableFloat(r.MaxTemp), nullableFloat(r.MaxAQI), r.RiskFactor)
		if err != nil {
			return fmt.Errorf("insert scored row for member %s: %w", r.MemberID, err)
		}
	}
	return nil
}

func replaceEnvironmentRows(ctx context.Context, tx *sql.Tx, env map[string]domain.Snapshot) (int, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM environment_rows`); err != nil {
		return 0, fmt.Errorf("clear environment rows: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO environment_rows(zip, latitude, longitude, city, state, max_temp, max_aqi, hourly, fetch_error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var n int
	for zip, snap := range env {
		var hourly any
		if snap.Hourly != nil {
			data, err := json.Marshal(snap.Hourly)
			if err != nil {
				return 0, fmt.Errorf("marshal hourly series for zip %s: %w", zip, err)
			}
			hourly = string(data)
		}

		_, err := stmt.ExecContext(ctx,
			zip, nullableFloat(snap.Latitude), nullableFloat(snap.Longitude),
			nullableString(snap.City), nullableString(snap.State),
			nullableFloat(snap.MaxTemp), nullableFloat(snap.MaxAQI),
			hourly, nullableString(snap.FetchError))
		if err != nil {
			return 0, fmt.Errorf("insert environment row for zip %s: %w", zip, err)
		}
		n++
	}
	return n, nil
}

// Query forwards sql to the engine and renders each result row as a column
// name to value mapping. Engine errors return to the caller unchanged.
func (s *Store) Query(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.metrics.Queries.WithLabelValues("error").Inc()
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		s.metrics.Queries.WithLabelValues("error").Inc()
		return nil, err
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			s.metrics.Queries.WithLabelValues("error").Inc()
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			// Byte slices render poorly in JSON; surface them as strings.
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		s.metrics.Queries.WithLabelValues("error").Inc()
		return nil, err
	}

	s.metrics.Queries.WithLabelValues("success").Inc()
	return results, nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
