// Package postgres persists scoring runs to PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/couchcryptid/quake-exposure/internal/domain"
	"github.com/couchcryptid/quake-exposure/internal/observability"
)

const (
	sinkName = "postgres"

	// insertChunk bounds the rows per INSERT, keeping parameters well under
	// the protocol limit of 65535.
	insertChunk = 1000
)

// ErrNoRuns is returned by LatestTable when nothing has been saved yet.
var ErrNoRuns = errors.New("no scoring runs stored")

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var recordColumns = []string{
	"run_id", "position", "place_id", "max_pga", "num_events_in_range",
	"max_magnitude", "closest_event_distance_km",
}

// Store writes risk tables into exposure_runs and place_exposure.
// It implements pipeline.Sink.
type Store struct {
	db      DB
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewStore creates a store over an open pool. Run Migrate first.
func NewStore(db DB, metrics *observability.Metrics, logger *slog.Logger) *Store {
	return &Store{db: db, metrics: metrics, logger: logger}
}

func (s *Store) Name() string { return sinkName }

// Publish saves the table; it is SaveTable under the sink interface.
func (s *Store) Publish(ctx context.Context, table domain.RiskTable) error {
	return s.SaveTable(ctx, table)
}

// SaveTable inserts the run and all of its records in one transaction, so a
// run is either stored whole or not at all.
func (s *Store) SaveTable(ctx context.Context, table domain.RiskTable) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	warnings := table.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	query, args, err := psql.Insert("exposure_runs").
		Columns("run_id", "model_version", "scored_at", "event_count", "place_count", "warnings").
		Values(table.RunID, table.ModelVersion, table.ScoredAt, table.EventCount, len(table.Records), warnings).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run %s: %w", table.RunID, err)
	}

	for start := 0; start < len(table.Records); start += insertChunk {
		end := min(start+insertChunk, len(table.Records))
		b := psql.Insert("place_exposure").Columns(recordColumns...)
		for i := start; i < end; i++ {
			r := table.Records[i]
			b = b.Values(table.RunID, i, r.PlaceID, r.MaxPGA, r.NumEventsInRange, r.MaxMagnitude, r.ClosestEventDistanceKm)
		}
		query, args, err := b.ToSql()
		if err != nil {
			return fmt.Errorf("build record insert: %w", err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert records %d-%d: %w", start, end-1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run %s: %w", table.RunID, err)
	}

	s.metrics.RecordsPublished.WithLabelValues(sinkName).Add(float64(len(table.Records)))
	s.logger.Debug("scoring run stored", "run_id", table.RunID, "records", len(table.Records))
	return nil
}

// LatestTable reads back the most recently scored run with its records in
// input order.
func (s *Store) LatestTable(ctx context.Context) (domain.RiskTable, error) {
	query, args, err := psql.Select("run_id::text", "model_version", "scored_at", "event_count", "warnings").
		From("exposure_runs").
		OrderBy("scored_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.RiskTable{}, fmt.Errorf("build run query: %w", err)
	}

	var table domain.RiskTable
	err = s.db.QueryRow(ctx, query, args...).Scan(&table.RunID, &table.ModelVersion, &table.ScoredAt, &table.EventCount, &table.Warnings)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RiskTable{}, ErrNoRuns
	}
	if err != nil {
		return domain.RiskTable{}, fmt.Errorf("query latest run: %w", err)
	}
	table.ScoredAt = table.ScoredAt.UTC()
	if len(table.Warnings) == 0 {
		table.Warnings = nil
	}

	query, args, err = psql.Select(recordColumns[2:]...).
		From("place_exposure").
		Where(squirrel.Eq{"run_id": table.RunID}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return domain.RiskTable{}, fmt.Errorf("build record query: %w", err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return domain.RiskTable{}, fmt.Errorf("query records: %w", err)
	}
	table.Records, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ExposureRecord, error) {
		var r domain.ExposureRecord
		err := row.Scan(&r.PlaceID, &r.MaxPGA, &r.NumEventsInRange, &r.MaxMagnitude, &r.ClosestEventDistanceKm)
		return r, err
	})
	if err != nil {
		return domain.RiskTable{}, fmt.Errorf("scan records: %w", err)
	}
	return table, nil
}
