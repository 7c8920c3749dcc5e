// Package scoring computes per-record risk factors, either by delegating to
// an external command or with the built-in model.
package scoring

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vitalenv/climate-risk-service/internal/domain"
	"github.com/vitalenv/climate-risk-service/internal/observability"
)

// Subprocess implements domain.Scorer by invoking external commands. Inputs
// are handed over as scratch files whose paths are appended to the configured
// argv; results are read from stdout as JSON.
//
// A non-zero exit status is authoritative: whatever the delegate printed, the
// invocation failed. A zero exit with a structured {"error": ..., "trace": ...}
// document on stdout also counts as failure.
type Subprocess struct {
	batchCmd   []string
	patientCmd []string
	scratchDir string
	timeout    time.Duration
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewSubprocess creates a subprocess-backed scorer. batchCmd and patientCmd
// are argv prefixes; the scratch file paths are appended per invocation.
func NewSubprocess(batchCmd, patientCmd []string, scratchDir string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Subprocess {
	return &Subprocess{
		batchCmd:   batchCmd,
		patientCmd: patientCmd,
		scratchDir: scratchDir,
		timeout:    timeout,
		metrics:    metrics,
		logger:     logger,
	}
}

// ScoreBatch writes the batch as CSV and the environmental mapping as JSON,
// then invokes the batch command on both files.
func (s *Subprocess) ScoreBatch(ctx context.Context, batch domain.Batch, env map[string]domain.Snapshot) ([]domain.RiskRow, error) {
	id := uuid.NewString()
	csvPath := filepath.Join(s.scratchDir, fmt.Sprintf("input_%s.csv", id))
	envPath := filepath.Join(s.scratchDir, fmt.Sprintf("api_results_%s.json", id))

	csvData, err := batchCSV(batch)
	if err != nil {
		return nil, fmt.Errorf("render batch csv: %w", err)
	}
	if err := s.writeScratch(csvPath, csvData); err != nil {
		return nil, err
	}
	defer s.removeScratch(csvPath)

	envData, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal environment mapping: %w", err)
	}
	if err := s.writeScratch(envPath, envData); err != nil {
		return nil, err
	}
	defer s.removeScratch(envPath)

	stdout, err := s.run(ctx, s.batchCmd, csvPath, envPath)
	if err != nil {
		return nil, err
	}

	var rows []domain.RiskRow
	if err := parseDelegateOutput(stdout, &rows); err != nil {
		s.metrics.DelegateFailures.Inc()
		return nil, err
	}
	return rows, nil
}

// ScorePatient writes the record and its hourly series as JSON, then invokes
// the patient command on both files.
func (s *Subprocess) ScorePatient(ctx context.Context, record domain.PatientRecord, series domain.HourlySeries) ([]domain.HourlyRisk, error) {
	id := uuid.NewString()
	patientPath := filepath.Join(s.scratchDir, fmt.Sprintf("patient_%s.json", id))
	seriesPath := filepath.Join(s.scratchDir, fmt.Sprintf("api_results_%s.json", id))

	patientData, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal patient record: %w", err)
	}
	if err := s.writeScratch(patientPath, patientData); err != nil {
		return nil, err
	}
	defer s.removeScratch(patientPath)

	seriesData, err := json.Marshal(series)
	if err != nil {
		return nil, fmt.Errorf("marshal hourly series: %w", err)
	}
	if err := s.writeScratch(seriesPath, seriesData); err != nil {
		return nil, err
	}
	defer s.removeScratch(seriesPath)

	stdout, err := s.run(ctx, s.patientCmd, patientPath, seriesPath)
	if err != nil {
		return nil, err
	}

	var risks []domain.HourlyRisk
	if err := parseDelegateOutput(stdout, &risks); err != nil {
		s.metrics.DelegateFailures.Inc()
		return nil, err
	}
	return risks, nil
}

func (s *Subprocess) run(ctx context.Context, argv []string, paths ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := append(append([]string{}, argv[1:]...), paths...)
	cmd := exec.CommandContext(ctx, argv[0], args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	s.metrics.DelegateDuration.Observe(time.Since(start).Seconds())

	if stderr.Len() > 0 {
		// Delegates use stderr for diagnostics only.
		s.logger.Debug("scoring delegate stderr", "command", argv[0], "output", stderr.String())
	}

	if err != nil {
		s.metrics.DelegateFailures.Inc()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("scoring delegate: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &domain.DelegateError{
				Message:  stderrTail(stderr.String()),
				ExitCode: exitErr.ExitCode(),
			}
		}
		return nil, fmt.Errorf("run scoring delegate: %w", err)
	}

	return stdout.Bytes(), nil
}

func (s *Subprocess) writeScratch(path string, data []byte) error {
	if err := os.MkdirAll(s.scratchDir, 0o700); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write scratch file: %w", err)
	}
	return nil
}

func (s *Subprocess) removeScratch(path string) {
	if err := os.Remove(path); err != nil {
		s.logger.Warn("remove scratch file", "path", path, "error", err)
	}
}

// parseDelegateOutput decodes stdout into out, recognizing the delegate's
// structured error document first. Anything other than a JSON array is a
// delegate failure; in particular a literal null must not pass as an empty
// result, since an empty result replaces the stored generation.
func parseDelegateOutput(stdout []byte, out any) error {
	var errDoc struct {
		Error string `json:"error"`
		Trace string `json:"trace"`
	}
	if err := json.Unmarshal(stdout, &errDoc); err == nil && errDoc.Error != "" {
		return &domain.DelegateError{Message: errDoc.Error, Trace: errDoc.Trace}
	}

	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return &domain.DelegateError{
			Message: fmt.Sprintf("expected a JSON array, got %s", summarizeOutput(trimmed)),
		}
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return &domain.DelegateError{
			Message: fmt.Sprintf("unparseable output: %v", err),
		}
	}
	return nil
}

func summarizeOutput(b []byte) string {
	if len(b) == 0 {
		return "empty output"
	}
	if len(b) > 40 {
		b = b[:40]
	}
	return fmt.Sprintf("%q", b)
}

// stderrTail keeps the last few lines of stderr for error messages.
func stderrTail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}

// batchCSV renders the batch back to CSV with its full header set, including
// the normalized columns appended during ingestion.
func batchCSV(batch domain.Batch) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(batch.Headers); err != nil {
		return nil, err
	}
	for _, rec := range batch.Records {
		row := make([]string, len(batch.Headers))
		for i, h := range batch.Headers {
			row[i] = rec.Fields[h]
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
