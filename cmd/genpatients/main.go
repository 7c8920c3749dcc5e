// Command genpatients generates synthetic patient CSV fixtures shaped like
// real payer exports: member identity columns, contact columns, and the
// health columns the scoring model sums.
//
// Usage:
//
//	go run ./cmd/genpatients -out testdata/patients.csv -count 200 -seed 42
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
)

var headers = []string{
	"MemberID", "Payer", "Plan Zip", "fake_name", "fake_email", "fake_phone",
	"Age", "diabetes", "hypertension", "chronic_kidney", "liver_disease",
	"copd", "heart_disease", "comorbidity_count",
}

var (
	payers = []string{"Aetna", "Cigna", "Humana", "United", "Kaiser"}
	zips   = []string{"10001", "94105", "60601", "73301", "33101", "98101", "80201"}
	first  = []string{"Jordan", "Casey", "Riley", "Avery", "Morgan", "Quinn", "Harper", "Rowan"}
	last   = []string{"Price", "Ellis", "Hayes", "Brooks", "Reyes", "Walsh", "Lane", "Frost"}
)

func main() {
	out := flag.String("out", "", "output CSV path")
	count := flag.Int("count", 100, "number of patient rows")
	seed := flag.Int64("seed", 1, "random seed, fixed for reproducible fixtures")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		log.Fatal("missing required flag: -out")
	}

	if err := run(*out, *count, *seed); err != nil {
		log.Fatal(err)
	}
}

func run(out string, count int, seed int64) error {
	rng := rand.New(rand.NewSource(seed))

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		if err := w.Write(patientRow(rng, i)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	fmt.Printf("wrote %d rows to %s\n", count, out)
	return nil
}

func patientRow(rng *rand.Rand, i int) []string {
	name := first[rng.Intn(len(first))] + " " + last[rng.Intn(len(last))]
	conditions := []string{
		flagColumn(rng, 0.15), // diabetes
		flagColumn(rng, 0.25), // hypertension
		flagColumn(rng, 0.05), // chronic_kidney
		flagColumn(rng, 0.04), // liver_disease
		flagColumn(rng, 0.08), // copd
		flagColumn(rng, 0.10), // heart_disease
	}
	comorbidities := 0
	for _, c := range conditions {
		if c == "1" {
			comorbidities++
		}
	}

	row := []string{
		strconv.Itoa(1001 + i),
		payers[rng.Intn(len(payers))],
		zips[rng.Intn(len(zips))],
		name,
		fmt.Sprintf("member%d@example.com", 1001+i),
		fmt.Sprintf("555-01%02d", rng.Intn(100)),
		strconv.Itoa(18 + rng.Intn(72)),
	}
	row = append(row, conditions...)
	return append(row, strconv.Itoa(comorbidities))
}

func flagColumn(rng *rand.Rand, probability float64) string {
	if rng.Float64() < probability {
		return "1"
	}
	return "0"
}
