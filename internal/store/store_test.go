package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalenv/climate-risk-service/internal/domain"
	"github.com/vitalenv/climate-risk-service/internal/observability"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dsn, observability.NewMetricsForTesting(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func floatPtr(f float64) *float64 { return &f }

func sampleRows() []domain.RiskRow {
	return []domain.RiskRow{
		{
			MemberID: "1001", Payer: "Acme", PlanZip: "10001",
			Name: "Jordan Price", Email: "jordan@example.com", Phone: "555-0100",
			MaxTemp: floatPtr(31.4), MaxAQI: floatPtr(57), RiskFactor: 3,
		},
		{
			MemberID: "1002", Payer: "Acme", PlanZip: "94105",
			RiskFactor: 1.5,
		},
	}
}

func sampleEnv() map[string]domain.Snapshot {
	return map[string]domain.Snapshot{
		"10001": {
			MaxTemp: floatPtr(31.4), MaxAQI: floatPtr(57),
			Latitude: floatPtr(40.7484), Longitude: floatPtr(-73.9967),
			City: "New York", State: "NY",
		},
		"00000": {FetchError: "invalid ZIP"},
	}
}

func TestStore_ReplaceGeneration_RoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceGeneration(ctx, sampleRows(), sampleEnv()))

	rows, err := s.Query(ctx, `SELECT member_id, plan_zip, risk_factor FROM scored_rows ORDER BY member_id`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1001", rows[0]["member_id"])
	assert.Equal(t, "10001", rows[0]["plan_zip"])
	assert.Equal(t, 3.0, rows[0]["risk_factor"])

	env, err := s.Query(ctx, `SELECT zip, city, max_aqi, fetch_error FROM environment_rows ORDER BY zip`)
	require.NoError(t, err)
	require.Len(t, env, 2)
	assert.Equal(t, "00000", env[0]["zip"])
	assert.Equal(t, "invalid ZIP", env[0]["fetch_error"])
	assert.Nil(t, env[0]["max_aqi"])
	assert.Equal(t, "New York", env[1]["city"])
	assert.Equal(t, 57.0, env[1]["max_aqi"])
}

func TestStore_ReplaceSemantics(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceScoredRows(ctx, sampleRows()))
	require.NoError(t, s.ReplaceScoredRows(ctx, []domain.RiskRow{
		{MemberID: "2001", PlanZip: "60601", RiskFactor: 7},
	}))

	rows, err := s.Query(ctx, `SELECT member_id FROM scored_rows`)
	require.NoError(t, err)
	require.Len(t, rows, 1, "each replacement discards the prior generation")
	assert.Equal(t, "2001", rows[0]["member_id"])
}

func TestStore_ReplaceWithEmptyInputClearsTables(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceGeneration(ctx, sampleRows(), sampleEnv()))
	require.NoError(t, s.ReplaceGeneration(ctx, nil, nil))

	rows, err := s.Query(ctx, `SELECT count(*) AS n FROM scored_rows`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows[0]["n"])
}

func TestStore_EnvironmentHourlySerialized(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	env := map[string]domain.Snapshot{
		"10001": {
			Hourly: &domain.HourlySeries{
				Time:        []string{"2025-06-12T00:00"},
				Temperature: []*float64{floatPtr(88.5)},
				AQI:         []*float64{nil},
			},
		},
	}
	require.NoError(t, s.ReplaceEnvironmentRows(ctx, env))

	rows, err := s.Query(ctx, `SELECT hourly FROM environment_rows`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, rows[0]["hourly"], `"2025-06-12T00:00"`)
	assert.Contains(t, rows[0]["hourly"], "88.5")
}

func TestStore_Query_EngineErrorReturned(t *testing.T) {
	s := testStore(t)

	_, err := s.Query(context.Background(), `SELECT * FROM no_such_table`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_table")
}

func TestStore_Query_EmptyResultIsEmptySlice(t *testing.T) {
	s := testStore(t)

	rows, err := s.Query(context.Background(), `SELECT * FROM scored_rows`)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestStore_CheckReadiness(t *testing.T) {
	s := testStore(t)
	assert.NoError(t, s.CheckReadiness(context.Background()))

	require.NoError(t, s.Close())
	assert.Error(t, s.CheckReadiness(context.Background()))
}
