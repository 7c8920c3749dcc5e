// Command csvlint checks a patient CSV offline, before it is uploaded:
// parseability, column detection, ZIP plausibility, and member id coverage.
// It exits non-zero when any check fails.
//
// Usage:
//
//	go run ./cmd/csvlint patients.csv
package main

import (
	"fmt"
	"os"

	"github.com/vitalenv/climate-risk-service/internal/ingest"
)

// check tracks pass/fail for one validation phase.
type check struct {
	name   string
	errors []string
}

func (c *check) errorf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func (c *check) passed() bool { return len(c.errors) == 0 }

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: csvlint <file.csv>")
		os.Exit(2)
	}

	checks, err := lint(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	failed := false
	for _, c := range checks {
		if c.passed() {
			fmt.Printf("PASS %s\n", c.name)
			continue
		}
		failed = true
		fmt.Printf("FAIL %s\n", c.name)
		for _, e := range c.errors {
			fmt.Printf("     %s\n", e)
		}
	}
	if failed {
		os.Exit(1)
	}
}

func lint(path string) ([]*check, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	batch, err := ingest.ParseBatch(f)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	columns := &check{name: "column detection"}
	if batch.ZipColumn == "" {
		columns.errorf("no ZIP column found; every row will be skipped during enrichment")
	}
	if batch.MemberColumn == "" {
		columns.errorf("no member id column found")
	}

	zipsOK := &check{name: "zip plausibility"}
	members := &check{name: "member id coverage"}
	seen := make(map[string]int)
	for i, rec := range batch.Records {
		line := i + 2 // header is line 1
		if rec.Zip != "" && len(rec.Zip) != 5 {
			zipsOK.errorf("line %d: zip %q is not five digits", line, rec.Zip)
		}
		if rec.MemberID == "" {
			members.errorf("line %d: empty member id", line)
		} else {
			seen[rec.MemberID]++
		}
	}
	for id, n := range seen {
		if n > 1 {
			members.errorf("member id %s appears %d times", id, n)
		}
	}

	counts := &check{name: "row counts"}
	if len(batch.Records) == 0 {
		counts.errorf("no data rows")
	}
	fmt.Printf("%d rows, %d unique zips, zip column %q, member column %q\n",
		len(batch.Records), len(batch.UniqueZips()), batch.ZipColumn, batch.MemberColumn)

	return []*check{counts, columns, zipsOK, members}, nil
}
