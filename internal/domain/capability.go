package domain

import "context"

// ZipResolver converts a postal code to geographic coordinates.
// Implementations return ErrInvalidZip when the code has no match.
type ZipResolver interface {
	Lookup(ctx context.Context, zip string) (ZipLocation, error)
}

// EnvFetcher retrieves environmental readings for a coordinate pair.
type EnvFetcher interface {
	// FetchDaily returns today's maximum temperature and maximum AQI.
	FetchDaily(ctx context.Context, lat, lon float64) (DailyReading, error)

	// FetchHourly returns a multi-day hourly temperature/AQI series.
	FetchHourly(ctx context.Context, lat, lon float64) (HourlySeries, error)
}

// Scorer is the risk-scoring capability. The production implementation
// delegates to an external computation; an in-process implementation exists
// for deployments without one.
type Scorer interface {
	// ScoreBatch produces one risk row per batch record using the merged
	// environmental mapping.
	ScoreBatch(ctx context.Context, batch Batch, env map[string]Snapshot) ([]RiskRow, error)

	// ScorePatient produces a per-hour risk series for one record.
	ScorePatient(ctx context.Context, record PatientRecord, series HourlySeries) ([]HourlyRisk, error)
}
