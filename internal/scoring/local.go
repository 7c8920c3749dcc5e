package scoring

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/vitalenv/climate-risk-service/internal/domain"
)

// healthColumns are the record fields summed into the batch risk factor.
// Non-numeric cells contribute zero.
var healthColumns = []string{
	"diabetes",
	"hypertension",
	"chronic_kidney",
	"liver_disease",
	"copd",
	"heart_disease",
	"comorbidity_count",
	"Age",
}

// Local implements domain.Scorer in-process, for deployments without an
// external delegate. The model is additive over the record's health columns
// and, per hour, over environmental thresholds.
type Local struct{}

// NewLocal creates the built-in scorer.
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) ScoreBatch(_ context.Context, batch domain.Batch, env map[string]domain.Snapshot) ([]domain.RiskRow, error) {
	rows := make([]domain.RiskRow, 0, len(batch.Records))
	for _, rec := range batch.Records {
		var risk float64
		for _, col := range healthColumns {
			if n, err := strconv.Atoi(strings.TrimSpace(rec.Fields[col])); err == nil {
				risk += float64(n)
			}
		}

		row := domain.RiskRow{
			MemberID:   rec.MemberID,
			Payer:      rec.Fields["Payer"],
			PlanZip:    rec.Zip,
			Name:       rec.Fields["fake_name"],
			Email:      rec.Fields["fake_email"],
			Phone:      rec.Fields["fake_phone"],
			RiskFactor: risk,
		}
		if snap, ok := env[rec.Zip]; ok {
			row.MaxTemp = snap.MaxTemp
			row.MaxAQI = snap.MaxAQI
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (l *Local) ScorePatient(_ context.Context, record domain.PatientRecord, series domain.HourlySeries) ([]domain.HourlyRisk, error) {
	risks := make([]domain.HourlyRisk, 0, len(series.Time))
	for i, ts := range series.Time {
		var temp, aqi *float64
		if i < len(series.Temperature) {
			temp = series.Temperature[i]
		}
		if i < len(series.AQI) {
			aqi = series.AQI[i]
		}
		risks = append(risks, domain.HourlyRisk{
			Time:        ts,
			Temperature: temp,
			AQI:         aqi,
			RiskFactor:  hourlyRisk(record, temp, aqi),
		})
	}
	return risks, nil
}

// hourlyRisk scores one time point. Missing readings count as zero.
func hourlyRisk(record domain.PatientRecord, temp, aqi *float64) float64 {
	var risk float64

	if age, err := strconv.Atoi(strings.TrimSpace(patientField(record, "age"))); err == nil && age > 65 {
		risk++
	}
	if strings.EqualFold(strings.TrimSpace(patientField(record, "diabetes")), "yes") {
		risk++
	}
	if aqi != nil && *aqi > 100 {
		risk++
	}
	if temp != nil && *temp > 30 {
		risk += 0.5
	}

	return math.Round(risk*100) / 100
}

// patientField reads a record field tolerating header-case differences.
func patientField(record domain.PatientRecord, name string) string {
	if v, ok := record.Fields[name]; ok {
		return v
	}
	for k, v := range record.Fields {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
