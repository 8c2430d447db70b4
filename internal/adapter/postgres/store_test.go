package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-exposure/internal/domain"
	"github.com/couchcryptid/quake-exposure/internal/observability"
)

const testRunID = "6f1c2a9e-0000-4000-8000-000000000001"

var testScoredAt = time.Date(2024, 4, 26, 15, 10, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, *observability.Metrics) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	metrics := observability.NewMetricsForTesting()
	return NewStore(mock, metrics, slog.New(slog.NewTextHandler(io.Discard, nil))), mock, metrics
}

func sampleTable() domain.RiskTable {
	mag, dist := 7.0, 9.108
	return domain.RiskTable{
		RunID:        testRunID,
		ModelVersion: domain.DefaultModelVersion,
		ScoredAt:     testScoredAt,
		EventCount:   12,
		Records: []domain.ExposureRecord{
			{PlaceID: "geonames:1850147", MaxPGA: 0.42, NumEventsInRange: 2, MaxMagnitude: &mag, ClosestEventDistanceKm: &dist},
			{PlaceID: "geonames:1275339"},
		},
	}
}

func TestStore_SaveTable(t *testing.T) {
	store, mock, metrics := newMockStore(t)
	table := sampleTable()
	r0, r1 := table.Records[0], table.Records[1]

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exposure_runs (run_id,model_version,scored_at,event_count,place_count,warnings) VALUES ($1,$2,$3,$4,$5,$6)")).
		WithArgs(testRunID, domain.DefaultModelVersion, testScoredAt, 12, 2, []string{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO place_exposure")).
		WithArgs(
			testRunID, 0, r0.PlaceID, r0.MaxPGA, r0.NumEventsInRange, r0.MaxMagnitude, r0.ClosestEventDistanceKm,
			testRunID, 1, r1.PlaceID, r1.MaxPGA, r1.NumEventsInRange, r1.MaxMagnitude, r1.ClosestEventDistanceKm,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, store.Publish(context.Background(), table))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RecordsPublished.WithLabelValues("postgres")), 0)
	assert.Equal(t, "postgres", store.Name())
}

func TestStore_SaveTable_RollsBackOnRecordFailure(t *testing.T) {
	store, mock, metrics := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exposure_runs")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO place_exposure")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.SaveTable(context.Background(), sampleTable())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert records 0-1")
	require.NoError(t, mock.ExpectationsWereMet())
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.RecordsPublished.WithLabelValues("postgres")), 0)
}

func TestStore_SaveTable_BeginFailure(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := store.SaveTable(context.Background(), sampleTable())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin transaction")
}

func TestStore_SaveTable_EmptyTableStoresRunOnly(t *testing.T) {
	store, mock, _ := newMockStore(t)
	table := sampleTable()
	table.Records = nil
	table.Warnings = []string{"duplicate place identifier: place[3] id=x"}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO exposure_runs")).
		WithArgs(testRunID, domain.DefaultModelVersion, testScoredAt, 12, 0, table.Warnings).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveTable(context.Background(), table))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LatestTable(t *testing.T) {
	store, mock, _ := newMockStore(t)
	want := sampleTable()
	zeroMag, zeroDist := 5.2, 812.5
	want.Records[1] = domain.ExposureRecord{PlaceID: "geonames:1275339", MaxPGA: 0.001, NumEventsInRange: 1, MaxMagnitude: &zeroMag, ClosestEventDistanceKm: &zeroDist}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT run_id::text, model_version, scored_at, event_count, warnings FROM exposure_runs ORDER BY scored_at DESC LIMIT 1")).
		WillReturnRows(pgxmock.NewRows([]string{"run_id", "model_version", "scored_at", "event_count", "warnings"}).
			AddRow(testRunID, domain.DefaultModelVersion, testScoredAt, 12, []string{}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT place_id, max_pga, num_events_in_range, max_magnitude, closest_event_distance_km FROM place_exposure WHERE run_id = $1 ORDER BY position")).
		WithArgs(testRunID).
		WillReturnRows(pgxmock.NewRows([]string{"place_id", "max_pga", "num_events_in_range", "max_magnitude", "closest_event_distance_km"}).
			AddRow(want.Records[0].PlaceID, want.Records[0].MaxPGA, want.Records[0].NumEventsInRange, want.Records[0].MaxMagnitude, want.Records[0].ClosestEventDistanceKm).
			AddRow(want.Records[1].PlaceID, want.Records[1].MaxPGA, want.Records[1].NumEventsInRange, want.Records[1].MaxMagnitude, want.Records[1].ClosestEventDistanceKm))

	got, err := store.LatestTable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LatestTable_NoRuns(t *testing.T) {
	store, mock, _ := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM exposure_runs")).WillReturnError(pgx.ErrNoRows)

	_, err := store.LatestTable(context.Background())
	require.ErrorIs(t, err, ErrNoRuns)
}
