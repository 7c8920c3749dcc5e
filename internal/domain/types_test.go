package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func TestBatch_UniqueZips_FirstSeenOrder(t *testing.T) {
	batch := Batch{Records: []PatientRecord{
		{Zip: "94105"},
		{Zip: "10001"},
		{Zip: ""},
		{Zip: "94105"},
		{Zip: "60601"},
	}}

	got := batch.UniqueZips()
	if diff := cmp.Diff([]string{"94105", "10001", "60601"}, got); diff != "" {
		t.Errorf("UniqueZips mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_WithoutPatients(t *testing.T) {
	snap := Snapshot{
		MaxTemp: floatPtr(31.4),
		City:    "New York",
		Patients: []PatientRecord{
			{Fields: map[string]string{"Member_ID": "1001"}, MemberID: "1001", Zip: "10001"},
		},
	}

	stripped := snap.WithoutPatients()
	assert.Empty(t, stripped.Patients)
	assert.Equal(t, 31.4, *stripped.MaxTemp)
	assert.Len(t, snap.Patients, 1, "the receiver is untouched")
}

func TestPatientRecord_MarshalsAsFlatMapping(t *testing.T) {
	rec := PatientRecord{
		Fields:   map[string]string{"Member_ID": "1001", "Plan_zip": "10001", "age": "70"},
		MemberID: "1001",
		Zip:      "10001",
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	if diff := cmp.Diff(rec.Fields, got); diff != "" {
		t.Errorf("record mapping mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_FetchErrorMarkerShape(t *testing.T) {
	snap := Snapshot{FetchError: "Invalid ZIP", Patients: []PatientRecord{}}

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "Invalid ZIP", got["error"])
	assert.NotContains(t, got, "maxTemp", "unset readings are omitted, not null")
	assert.Contains(t, got, "patients", "patients key always present")
}
