// Package ingest parses uploaded tabular record sets into structured batches.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vitalenv/climate-risk-service/internal/domain"
)

// Normalized column names injected alongside the source columns so the
// scoring delegate sees a stable schema regardless of upload naming.
const (
	memberIDColumn = "Member_ID"
	planZipColumn  = "Plan_zip"
)

// ParseBatch reads a header row plus data rows and returns structured
// records. Rows are matched to headers positionally; a ragged or otherwise
// unparseable upload fails with domain.ErrMalformedInput. A missing ZIP
// column is not fatal: the batch is returned with ZipColumn empty and every
// record's Zip unset.
func ParseBatch(r io.Reader) (domain.Batch, error) {
	reader := csv.NewReader(r)
	rows, err := reader.ReadAll()
	if err != nil {
		return domain.Batch{}, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}
	if len(rows) == 0 {
		return domain.Batch{}, fmt.Errorf("%w: empty upload", domain.ErrMalformedInput)
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	zipCol, zipIdx := findColumn(headers, "zip")
	memberCol, memberIdx := findColumn(headers, "member")

	batch := domain.Batch{
		Headers:      headers,
		ZipColumn:    zipCol,
		MemberColumn: memberCol,
		Records:      make([]domain.PatientRecord, 0, len(rows)-1),
	}

	for _, row := range rows[1:] {
		rec := domain.PatientRecord{Fields: make(map[string]string, len(headers)+2)}
		for i, h := range headers {
			rec.Fields[h] = strings.TrimSpace(row[i])
		}
		if memberIdx >= 0 {
			rec.MemberID = normalizeMemberID(rec.Fields[memberCol])
			rec.Fields[memberIDColumn] = rec.MemberID
		}
		if zipIdx >= 0 {
			rec.Zip = strings.TrimSpace(rec.Fields[zipCol])
			if rec.Zip != "" {
				rec.Fields[planZipColumn] = rec.Zip
			}
		}
		batch.Records = append(batch.Records, rec)
	}

	batch.Headers = extendHeaders(batch.Headers, memberIdx >= 0, zipIdx >= 0)
	return batch, nil
}

// findColumn returns the first header containing needle case-insensitively.
func findColumn(headers []string, needle string) (string, int) {
	for i, h := range headers {
		if strings.Contains(strings.ToLower(h), needle) {
			return h, i
		}
	}
	return "", -1
}

// normalizeMemberID coerces an identifier to a canonical string. Spreadsheet
// exports sometimes render numeric IDs as floats ("1001.0"); those collapse
// to their integral form.
func normalizeMemberID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return raw
}

func extendHeaders(headers []string, withMember, withZip bool) []string {
	has := make(map[string]bool, len(headers))
	for _, h := range headers {
		has[h] = true
	}
	if withMember && !has[memberIDColumn] {
		headers = append(headers, memberIDColumn)
	}
	if withZip && !has[planZipColumn] {
		headers = append(headers, planZipColumn)
	}
	return headers
}
