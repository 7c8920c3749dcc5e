package cache

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalenv/climate-risk-service/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCache(t *testing.T) *Daily {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "weather_cache.json"), discardLogger())
}

func floatPtr(f float64) *float64 { return &f }

func sampleSnapshot() domain.Snapshot {
	return domain.Snapshot{
		MaxTemp:   floatPtr(31.5),
		MaxAQI:    floatPtr(142),
		Latitude:  floatPtr(40.75),
		Longitude: floatPtr(-73.99),
		City:      "New York",
		State:     "NY",
		Patients:  []domain.PatientRecord{},
	}
}

func TestDaily_RoundTripSameDay(t *testing.T) {
	fixed := time.Date(2025, 6, 12, 14, 0, 0, 0, time.Local)
	domain.SetClock(clockwork.NewFakeClockAt(fixed))
	defer domain.SetClock(nil)

	d := testCache(t)
	require.NoError(t, d.Save(map[string]domain.Snapshot{"10001": sampleSnapshot()}))

	got := d.Load()
	require.Contains(t, got, "10001")
	assert.Equal(t, 31.5, *got["10001"].MaxTemp)
	assert.Equal(t, 142.0, *got["10001"].MaxAQI)
	assert.Equal(t, "New York", got["10001"].City)
}

func TestDaily_LoadOnLaterDateIsFullMiss(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2025, 6, 12, 23, 0, 0, 0, time.Local))
	domain.SetClock(fake)
	defer domain.SetClock(nil)

	d := testCache(t)
	require.NoError(t, d.Save(map[string]domain.Snapshot{"10001": sampleSnapshot()}))

	fake.Advance(2 * time.Hour) // crosses midnight

	assert.Empty(t, d.Load(), "entries from a prior calendar date must not surface")
}

func TestDaily_SaveOverwritesEntirely(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2025, 6, 12, 9, 0, 0, 0, time.Local)))
	defer domain.SetClock(nil)

	d := testCache(t)
	require.NoError(t, d.Save(map[string]domain.Snapshot{"10001": sampleSnapshot()}))
	require.NoError(t, d.Save(map[string]domain.Snapshot{"94105": sampleSnapshot()}))

	got := d.Load()
	assert.NotContains(t, got, "10001")
	assert.Contains(t, got, "94105")
}

func TestDaily_UpdateMergesIntoToday(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2025, 6, 12, 9, 0, 0, 0, time.Local)))
	defer domain.SetClock(nil)

	d := testCache(t)
	require.NoError(t, d.Save(map[string]domain.Snapshot{"10001": sampleSnapshot()}))
	require.NoError(t, d.Update(map[string]domain.Snapshot{"94105": sampleSnapshot()}))

	got := d.Load()
	assert.Contains(t, got, "10001")
	assert.Contains(t, got, "94105")
}

func TestDaily_PatientsStrippedOnSave(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2025, 6, 12, 9, 0, 0, 0, time.Local)))
	defer domain.SetClock(nil)

	snap := sampleSnapshot()
	snap.Patients = []domain.PatientRecord{{
		Fields:   map[string]string{"Member_ID": "1001", "Plan_zip": "10001"},
		MemberID: "1001",
		Zip:      "10001",
	}}

	d := testCache(t)
	require.NoError(t, d.Save(map[string]domain.Snapshot{"10001": snap}))

	got := d.Load()
	assert.Empty(t, got["10001"].Patients)
}

func TestDaily_MissingFileIsMiss(t *testing.T) {
	d := testCache(t)
	assert.Empty(t, d.Load())
}

func TestDaily_CorruptFileIsMiss(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weather_cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	d := New(path, discardLogger())
	assert.Empty(t, d.Load())
}

func TestDaily_PruneRemovesStaleFile(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2025, 6, 12, 12, 0, 0, 0, time.Local))
	domain.SetClock(fake)
	defer domain.SetClock(nil)

	path := filepath.Join(t.TempDir(), "weather_cache.json")
	d := New(path, discardLogger())
	require.NoError(t, d.Save(map[string]domain.Snapshot{"10001": sampleSnapshot()}))

	// Same day: file stays.
	require.NoError(t, d.Prune())
	_, err := os.Stat(path)
	require.NoError(t, err)

	fake.Advance(24 * time.Hour)
	require.NoError(t, d.Prune())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
