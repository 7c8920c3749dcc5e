// Package enrich resolves batch ZIPs and attaches environmental data to them,
// fanning out to the data provider once per unique ZIP.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vitalenv/climate-risk-service/internal/domain"
	"github.com/vitalenv/climate-risk-service/internal/observability"
)

// DailyCache is the calendar-day snapshot cache consulted before any
// external fetch.
type DailyCache interface {
	Load() map[string]domain.Snapshot
	Update(locations map[string]domain.Snapshot) error
}

// Enricher builds the per-ZIP environment mapping for a batch. Failures for
// individual ZIPs become FetchError markers rather than aborting the run.
type Enricher struct {
	resolver     domain.ZipResolver
	fetcher      domain.EnvFetcher
	cache        DailyCache
	fetchTimeout time.Duration
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// New creates an Enricher.
func New(resolver domain.ZipResolver, fetcher domain.EnvFetcher, cache DailyCache, fetchTimeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Enricher {
	return &Enricher{
		resolver:     resolver,
		fetcher:      fetcher,
		cache:        cache,
		fetchTimeout: fetchTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// EnrichBatch returns the environment mapping for every unique ZIP in the
// batch with that ZIP's patients attached. Cached snapshots are reused; the
// rest are fetched concurrently, one goroutine per ZIP.
func (e *Enricher) EnrichBatch(ctx context.Context, batch domain.Batch) (map[string]domain.Snapshot, error) {
	cached := e.cache.Load()

	results := make(map[string]domain.Snapshot, len(cached))
	for zip, snap := range cached {
		results[zip] = snap.WithoutPatients()
	}

	var misses []string
	for _, zip := range batch.UniqueZips() {
		if _, ok := results[zip]; ok {
			e.metrics.CacheReads.WithLabelValues("hit").Inc()
			continue
		}
		e.metrics.CacheReads.WithLabelValues("miss").Inc()
		misses = append(misses, zip)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, zip := range misses {
		wg.Add(1)
		go func(zip string) {
			defer wg.Done()
			snap := e.fetchSnapshot(ctx, zip)
			mu.Lock()
			results[zip] = snap
			mu.Unlock()
		}(zip)
	}
	wg.Wait()

	if err := e.cache.Update(results); err != nil {
		// A broken cache degrades performance, not correctness.
		e.logger.Warn("update daily cache", "error", err)
	} else {
		e.metrics.CacheWrites.Inc()
	}

	attachPatients(results, batch)
	return results, nil
}

// fetchSnapshot resolves one ZIP and fetches its daily readings. Any failure
// is folded into the snapshot's FetchError.
func (e *Enricher) fetchSnapshot(ctx context.Context, zip string) domain.Snapshot {
	ctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	loc, err := e.resolver.Lookup(ctx, zip)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidZip) {
			e.logger.Warn("zip not resolvable", "zip", zip)
			return domain.Snapshot{FetchError: "Invalid ZIP", Patients: []domain.PatientRecord{}}
		}
		e.logger.Warn("zip lookup failed", "zip", zip, "error", err)
		return domain.Snapshot{FetchError: err.Error(), Patients: []domain.PatientRecord{}}
	}

	snap := domain.Snapshot{
		Latitude:  &loc.Latitude,
		Longitude: &loc.Longitude,
		City:      loc.City,
		State:     loc.State,
		Patients:  []domain.PatientRecord{},
	}

	reading, err := e.fetcher.FetchDaily(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		e.logger.Warn("environmental fetch failed", "zip", zip, "error", err)
		snap.FetchError = err.Error()
		return snap
	}

	snap.MaxTemp = &reading.MaxTemp
	snap.MaxAQI = &reading.MaxAQI
	return snap
}

// attachPatients groups the batch's records under their snapshot. Records
// whose ZIP never resolved to a snapshot entry are attached to error markers,
// so nothing silently disappears from the response.
func attachPatients(results map[string]domain.Snapshot, batch domain.Batch) {
	for _, rec := range batch.Records {
		if rec.Zip == "" {
			continue
		}
		snap, ok := results[rec.Zip]
		if !ok {
			snap = domain.Snapshot{FetchError: "Invalid ZIP", Patients: []domain.PatientRecord{}}
		}
		snap.Patients = append(snap.Patients, rec)
		results[rec.Zip] = snap
	}
}

// HourlyForZip resolves one ZIP and returns its multi-day hourly series,
// reusing a same-day cached series when available. Unlike batch enrichment,
// failures here are fatal to the caller.
func (e *Enricher) HourlyForZip(ctx context.Context, zip string) (domain.ZipLocation, domain.HourlySeries, error) {
	ctx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	loc, err := e.resolver.Lookup(ctx, zip)
	if err != nil {
		return domain.ZipLocation{}, domain.HourlySeries{}, err
	}

	cached := e.cache.Load()
	if snap, ok := cached[zip]; ok && snap.Hourly != nil {
		e.metrics.CacheReads.WithLabelValues("hit").Inc()
		return loc, *snap.Hourly, nil
	}
	e.metrics.CacheReads.WithLabelValues("miss").Inc()

	series, err := e.fetcher.FetchHourly(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		return domain.ZipLocation{}, domain.HourlySeries{}, err
	}

	snap := cached[zip]
	snap.Hourly = &series
	snap.Latitude = &loc.Latitude
	snap.Longitude = &loc.Longitude
	snap.City = loc.City
	snap.State = loc.State
	if err := e.cache.Update(map[string]domain.Snapshot{zip: snap}); err != nil {
		e.logger.Warn("update daily cache", "error", err)
	} else {
		e.metrics.CacheWrites.Inc()
	}

	return loc, series, nil
}
