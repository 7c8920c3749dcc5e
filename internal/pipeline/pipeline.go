// Package pipeline orchestrates record ingestion end to end: parse, resolve,
// enrich, score, store.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vitalenv/climate-risk-service/internal/domain"
	"github.com/vitalenv/climate-risk-service/internal/ingest"
	"github.com/vitalenv/climate-risk-service/internal/observability"
)

// Stage identifies how far a request travelled through the pipeline.
type Stage string

const (
	StageReceived         Stage = "received"
	StageParsed           Stage = "parsed"
	StageEnvironmentReady Stage = "environment_ready"
	StageScored           Stage = "scored"
	StageStored           Stage = "stored"
	StageResponded        Stage = "responded"
)

// StageError wraps a request-fatal failure with the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Enricher builds the per-ZIP environment mapping for a batch and the hourly
// series for a single ZIP.
type Enricher interface {
	EnrichBatch(ctx context.Context, batch domain.Batch) (map[string]domain.Snapshot, error)
	HourlyForZip(ctx context.Context, zip string) (domain.ZipLocation, domain.HourlySeries, error)
}

// ResultWriter persists a scored generation.
type ResultWriter interface {
	ReplaceGeneration(ctx context.Context, rows []domain.RiskRow, env map[string]domain.Snapshot) error
}

// Publisher emits scored rows to downstream consumers. Optional; publish
// failures never fail the request.
type Publisher interface {
	PublishScoredRows(ctx context.Context, rows []domain.RiskRow) error
}

// Pipeline wires the ingestion stages together.
type Pipeline struct {
	enricher  Enricher
	scorer    domain.Scorer
	writer    ResultWriter
	publisher Publisher
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New creates a Pipeline. publisher may be nil.
func New(enricher Enricher, scorer domain.Scorer, writer ResultWriter, publisher Publisher, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		enricher:  enricher,
		scorer:    scorer,
		writer:    writer,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// BatchResult is the outcome of one batch ingestion: the scored rows and the
// environment mapping they were scored against.
type BatchResult struct {
	Rows []domain.RiskRow
	Env  map[string]domain.Snapshot
}

// IngestBatch runs an uploaded CSV through the full pipeline. Per-ZIP
// enrichment failures surface as FetchError markers inside the result; only
// parse, scoring, and store failures are request-fatal.
func (p *Pipeline) IngestBatch(ctx context.Context, upload io.Reader) (*BatchResult, error) {
	batch, err := ingest.ParseBatch(upload)
	if err != nil {
		p.metrics.IngestFailures.WithLabelValues(string(StageParsed)).Inc()
		return nil, &StageError{Stage: StageParsed, Err: err}
	}
	p.logger.Info("batch parsed",
		"records", len(batch.Records),
		"unique_zips", len(batch.UniqueZips()),
		"zip_column", batch.ZipColumn)

	env, err := p.enricher.EnrichBatch(ctx, batch)
	if err != nil {
		p.metrics.IngestFailures.WithLabelValues(string(StageEnvironmentReady)).Inc()
		return nil, &StageError{Stage: StageEnvironmentReady, Err: err}
	}

	rows, err := p.scorer.ScoreBatch(ctx, batch, env)
	if err != nil {
		p.metrics.IngestFailures.WithLabelValues(string(StageScored)).Inc()
		return nil, &StageError{Stage: StageScored, Err: err}
	}

	if err := p.writer.ReplaceGeneration(ctx, rows, env); err != nil {
		p.metrics.IngestFailures.WithLabelValues(string(StageStored)).Inc()
		return nil, &StageError{Stage: StageStored, Err: err}
	}

	p.publish(ctx, rows)

	p.metrics.BatchesIngested.Inc()
	p.metrics.RecordsIngested.Add(float64(len(batch.Records)))
	p.logger.Info("batch ingested", "rows", len(rows), "zips", len(env))

	return &BatchResult{Rows: rows, Env: env}, nil
}

// PatientResult is the outcome of one single-record submission.
type PatientResult struct {
	Risks  []domain.HourlyRisk
	Series domain.HourlySeries
}

// SubmitPatient scores one record against its ZIP's hourly series and stores
// the summary as a single-row generation. An unresolvable ZIP fails before
// any scoring happens.
func (p *Pipeline) SubmitPatient(ctx context.Context, record domain.PatientRecord) (*PatientResult, error) {
	loc, series, err := p.enricher.HourlyForZip(ctx, record.Zip)
	if err != nil {
		p.metrics.IngestFailures.WithLabelValues(string(StageEnvironmentReady)).Inc()
		return nil, &StageError{Stage: StageEnvironmentReady, Err: err}
	}

	risks, err := p.scorer.ScorePatient(ctx, record, series)
	if err != nil {
		p.metrics.IngestFailures.WithLabelValues(string(StageScored)).Inc()
		return nil, &StageError{Stage: StageScored, Err: err}
	}

	row := summarize(record, risks)
	env := map[string]domain.Snapshot{
		record.Zip: {
			Hourly:    &series,
			Latitude:  &loc.Latitude,
			Longitude: &loc.Longitude,
			City:      loc.City,
			State:     loc.State,
			Patients:  []domain.PatientRecord{},
		},
	}
	if err := p.writer.ReplaceGeneration(ctx, []domain.RiskRow{row}, env); err != nil {
		p.metrics.IngestFailures.WithLabelValues(string(StageStored)).Inc()
		return nil, &StageError{Stage: StageStored, Err: err}
	}

	p.publish(ctx, []domain.RiskRow{row})

	p.metrics.RecordsIngested.Inc()
	p.logger.Info("patient scored", "member_id", record.MemberID, "zip", record.Zip, "hours", len(risks))

	return &PatientResult{Risks: risks, Series: series}, nil
}

// Forecast returns the hourly series for one ZIP without scoring or storing
// anything.
func (p *Pipeline) Forecast(ctx context.Context, zip string) (domain.ZipLocation, domain.HourlySeries, error) {
	return p.enricher.HourlyForZip(ctx, zip)
}

func (p *Pipeline) publish(ctx context.Context, rows []domain.RiskRow) {
	if p.publisher == nil || len(rows) == 0 {
		return
	}
	if err := p.publisher.PublishScoredRows(ctx, rows); err != nil {
		p.logger.Warn("publish scored rows", "error", err)
	}
}

// summarize folds the hourly risk series into one stored row, taking the
// worst hour as the record's risk factor.
func summarize(record domain.PatientRecord, risks []domain.HourlyRisk) domain.RiskRow {
	row := domain.RiskRow{
		MemberID: record.MemberID,
		Payer:    record.Fields["Payer"],
		PlanZip:  record.Zip,
		Name:     record.Fields["fake_name"],
		Email:    record.Fields["fake_email"],
		Phone:    record.Fields["fake_phone"],
	}
	for _, r := range risks {
		if r.RiskFactor > row.RiskFactor {
			row.RiskFactor = r.RiskFactor
		}
	}
	return row
}
