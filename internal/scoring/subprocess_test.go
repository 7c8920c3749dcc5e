package scoring

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalenv/climate-risk-service/internal/domain"
	"github.com/vitalenv/climate-risk-service/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptScorer runs a shell snippet as the delegate. The scratch paths arrive
// as $1 and $2.
func scriptScorer(t *testing.T, script string) *Subprocess {
	t.Helper()
	argv := []string{"sh", "-c", script, "sh"}
	return NewSubprocess(argv, argv, t.TempDir(), 10*time.Second,
		observability.NewMetricsForTesting(), discardLogger())
}

func testBatch() domain.Batch {
	return domain.Batch{
		Headers: []string{"MemberID", "Payer", "Plan Zip", "Member_ID", "Plan_zip"},
		Records: []domain.PatientRecord{
			{
				Fields: map[string]string{
					"MemberID": "1001", "Payer": "Acme", "Plan Zip": "10001",
					"Member_ID": "1001", "Plan_zip": "10001",
				},
				MemberID: "1001",
				Zip:      "10001",
			},
		},
		ZipColumn:    "Plan Zip",
		MemberColumn: "MemberID",
	}
}

func TestSubprocess_ScoreBatch_Success(t *testing.T) {
	s := scriptScorer(t, `test -f "$1" && test -f "$2" && echo '[{"MemberID":"1001","Plan_zip":"10001","maxTemp":31.4,"maxAqi":57,"risk_factor":3}]'`)

	rows, err := s.ScoreBatch(context.Background(), testBatch(), map[string]domain.Snapshot{})
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, "1001", rows[0].MemberID)
	assert.Equal(t, "10001", rows[0].PlanZip)
	assert.Equal(t, 31.4, *rows[0].MaxTemp)
	assert.Equal(t, 3.0, rows[0].RiskFactor)
}

func TestSubprocess_ScoreBatch_ScratchCSVContents(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "captured.csv")
	s := scriptScorer(t, `cp "$1" `+dest+` && echo '[]'`)

	_, err := s.ScoreBatch(context.Background(), testBatch(), nil)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "MemberID,Payer,Plan Zip,Member_ID,Plan_zip")
	assert.Contains(t, string(data), "1001,Acme,10001,1001,10001")
}

func TestSubprocess_NonZeroExitIsAuthoritative(t *testing.T) {
	// Valid JSON on stdout does not rescue a failed exit.
	s := scriptScorer(t, `echo '[]'; echo "model blew up" >&2; exit 3`)

	_, err := s.ScoreBatch(context.Background(), testBatch(), nil)
	require.Error(t, err)

	var de *domain.DelegateError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 3, de.ExitCode)
	assert.Contains(t, de.Message, "model blew up")
}

func TestSubprocess_ErrorDocumentOnCleanExit(t *testing.T) {
	s := scriptScorer(t, `echo '{"error":"missing column Age","trace":"Traceback ..."}'`)

	_, err := s.ScoreBatch(context.Background(), testBatch(), nil)
	require.Error(t, err)

	var de *domain.DelegateError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 0, de.ExitCode)
	assert.Equal(t, "missing column Age", de.Message)
	assert.Contains(t, de.Trace, "Traceback")
}

func TestSubprocess_UnparseableOutput(t *testing.T) {
	s := scriptScorer(t, `echo 'not json at all'`)

	_, err := s.ScoreBatch(context.Background(), testBatch(), nil)
	require.Error(t, err)

	var de *domain.DelegateError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Message, "expected a JSON array")
}

func TestSubprocess_TruncatedArrayOutput(t *testing.T) {
	s := scriptScorer(t, `printf '[{"MemberID":'`)

	_, err := s.ScoreBatch(context.Background(), testBatch(), nil)
	require.Error(t, err)

	var de *domain.DelegateError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Message, "unparseable output")
}

func TestSubprocess_NullOutputOnCleanExit(t *testing.T) {
	// A null result must fail, not store an empty generation.
	s := scriptScorer(t, `echo 'null'`)

	_, err := s.ScoreBatch(context.Background(), testBatch(), nil)
	require.Error(t, err)

	var de *domain.DelegateError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Message, "expected a JSON array")
}

func TestSubprocess_ScratchFilesRemoved(t *testing.T) {
	scratch := t.TempDir()
	argv := []string{"sh", "-c", `echo '[]'`, "sh"}
	s := NewSubprocess(argv, argv, scratch, 10*time.Second,
		observability.NewMetricsForTesting(), discardLogger())

	_, err := s.ScoreBatch(context.Background(), testBatch(), nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files should be cleaned up")
}

func TestSubprocess_Timeout(t *testing.T) {
	argv := []string{"sh", "-c", `sleep 5`, "sh"}
	s := NewSubprocess(argv, argv, t.TempDir(), 50*time.Millisecond,
		observability.NewMetricsForTesting(), discardLogger())

	_, err := s.ScoreBatch(context.Background(), testBatch(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubprocess_ScorePatient_Success(t *testing.T) {
	s := scriptScorer(t, `test -f "$1" && test -f "$2" && echo '[{"time":"2025-06-12T00:00","temperature":88.5,"aqi":120,"risk_factor":1.5}]'`)

	record := domain.PatientRecord{
		Fields:   map[string]string{"Member_ID": "1001", "age": "70"},
		MemberID: "1001",
	}
	series := domain.HourlySeries{Time: []string{"2025-06-12T00:00"}}

	risks, err := s.ScorePatient(context.Background(), record, series)
	require.NoError(t, err)

	require.Len(t, risks, 1)
	assert.Equal(t, "2025-06-12T00:00", risks[0].Time)
	assert.Equal(t, 88.5, *risks[0].Temperature)
	assert.Equal(t, 120.0, *risks[0].AQI)
	assert.Equal(t, 1.5, risks[0].RiskFactor)
}
