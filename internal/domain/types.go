package domain

import "encoding/json"

// PatientRecord is one ingested row: the full column mapping plus the
// normalized fields derived during ingestion. Records are mutable only while
// the ingestor runs; downstream stages treat them as read-only.
type PatientRecord struct {
	Fields map[string]string

	// MemberID is the normalized member identifier, always a string even
	// when the source renders it numerically (e.g. "1001.0" -> "1001").
	MemberID string

	// Zip is the normalized postal code, empty when the batch has no ZIP
	// column or the row's cell is blank.
	Zip string
}

// MarshalJSON renders the record as its flat column mapping, the shape the
// scoring delegate and API clients expect.
func (r PatientRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Fields)
}

// UnmarshalJSON rebuilds a record from a flat column mapping. Derived fields
// are populated from the conventional column names when present.
func (r *PatientRecord) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &r.Fields); err != nil {
		return err
	}
	r.MemberID = r.Fields["Member_ID"]
	r.Zip = r.Fields["Plan_zip"]
	return nil
}

// Batch is an ordered set of parsed records plus the header metadata the
// ingestor derived from the upload.
type Batch struct {
	Headers []string
	Records []PatientRecord

	// ZipColumn is the source header the ZIP was read from, empty when the
	// upload had none (a warning, not an error).
	ZipColumn string

	// MemberColumn is the source header recognized as the member identifier.
	MemberColumn string
}

// UniqueZips returns the distinct non-empty ZIPs of the batch, in first-seen
// order. External lookups are issued at most once per entry.
func (b Batch) UniqueZips() []string {
	seen := make(map[string]bool, len(b.Records))
	var zips []string
	for _, rec := range b.Records {
		if rec.Zip == "" || seen[rec.Zip] {
			continue
		}
		seen[rec.Zip] = true
		zips = append(zips, rec.Zip)
	}
	return zips
}

// ZipLocation is the resolved geography for one ZIP code.
type ZipLocation struct {
	Zip       string  `json:"zip"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city,omitempty"`
	State     string  `json:"state,omitempty"`
}

// DailyReading is the summary fetch mode: one maximum temperature and one
// maximum AQI for the current day.
type DailyReading struct {
	MaxTemp float64
	MaxAQI  float64
}

// HourlySeries holds time-aligned hourly forecast sequences. The three slices
// share indices; a nil element means the provider had no value for that hour.
type HourlySeries struct {
	Time        []string   `json:"time"`
	Temperature []*float64 `json:"temperature"`
	AQI         []*float64 `json:"aqi"`
}

// Snapshot is the environmental data associated with one ZIP on one calendar
// day. Exactly one of the value groups is populated depending on fetch mode;
// FetchError marks per-ZIP failures that did not abort the batch.
type Snapshot struct {
	MaxTemp    *float64        `json:"maxTemp,omitempty"`
	MaxAQI     *float64        `json:"maxAqi,omitempty"`
	Hourly     *HourlySeries   `json:"hourly,omitempty"`
	Latitude   *float64        `json:"latitude,omitempty"`
	Longitude  *float64        `json:"longitude,omitempty"`
	City       string          `json:"city,omitempty"`
	State      string          `json:"state,omitempty"`
	FetchError string          `json:"error,omitempty"`
	Patients   []PatientRecord `json:"patients"`
}

// WithoutPatients returns a copy safe to persist across requests: patient
// records live only for the duration of one ingestion.
func (s Snapshot) WithoutPatients() Snapshot {
	s.Patients = []PatientRecord{}
	return s
}

// RiskRow is the scoring delegate's output for one batch record and the unit
// persisted into the result store.
type RiskRow struct {
	MemberID   string   `json:"MemberID"`
	Payer      string   `json:"Payer"`
	PlanZip    string   `json:"Plan_zip"`
	Name       string   `json:"fake_name"`
	Email      string   `json:"fake_email"`
	Phone      string   `json:"fake_phone"`
	MaxTemp    *float64 `json:"maxTemp"`
	MaxAQI     *float64 `json:"maxAqi"`
	RiskFactor float64  `json:"risk_factor"`
}

// HourlyRisk is the delegate's output for one hour of a single-record
// submission: the environmental readings plus the computed risk factor.
type HourlyRisk struct {
	Time        string   `json:"time"`
	Temperature *float64 `json:"temperature"`
	AQI         *float64 `json:"aqi"`
	RiskFactor  float64  `json:"risk_factor"`
}
