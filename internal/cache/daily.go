// Package cache provides the process-wide, date-scoped environment cache.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/vitalenv/climate-risk-service/internal/domain"
)

// document is the on-disk cache shape: one calendar date plus the ZIP
// snapshots fetched on it.
type document struct {
	Date      string                     `json:"date"`
	Locations map[string]domain.Snapshot `json:"locations"`
}

// Daily is a file-backed cache of ZIP snapshots valid for one calendar day.
// A load on a later date than the stored one is a full miss: stale locations
// are discarded wholesale, never merged with fresh fetches. A single mutex
// serializes concurrent ingestions so interleaved load/save cycles cannot
// corrupt the date invariant.
type Daily struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// New creates a cache backed by the given file path. The file is created on
// first Save.
func New(path string, logger *slog.Logger) *Daily {
	return &Daily{path: path, logger: logger}
}

// Load returns the stored snapshots when the stored date is today, otherwise
// an empty map. Unreadable or corrupt files are treated as a miss.
func (d *Daily) Load() map[string]domain.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadLocked()
}

// Save persists today's snapshots, fully overwriting prior contents. Patient
// lists are stripped: records live only for the duration of one request.
func (d *Daily) Save(locations map[string]domain.Snapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saveLocked(locations)
}

// Update merges the given snapshots into today's entry under one critical
// section, so two concurrent requests cannot drop each other's ZIPs.
func (d *Daily) Update(locations map[string]domain.Snapshot) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	merged := d.loadLocked()
	for zip, snap := range locations {
		merged[zip] = snap
	}
	return d.saveLocked(merged)
}

// Prune removes the cache file if its stored date is no longer today.
// Intended for a scheduled just-after-midnight sweep.
func (d *Daily) Prune() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, err := d.read()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if doc.Date == domain.Today() {
		return nil
	}
	d.logger.Info("pruning stale environment cache", "stored_date", doc.Date)
	return os.Remove(d.path)
}

func (d *Daily) loadLocked() map[string]domain.Snapshot {
	doc, err := d.read()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn("environment cache unreadable, treating as miss", "error", err)
		}
		return map[string]domain.Snapshot{}
	}
	if doc.Date != domain.Today() || doc.Locations == nil {
		return map[string]domain.Snapshot{}
	}
	return doc.Locations
}

func (d *Daily) saveLocked(locations map[string]domain.Snapshot) error {
	persisted := make(map[string]domain.Snapshot, len(locations))
	for zip, snap := range locations {
		persisted[zip] = snap.WithoutPatients()
	}

	data, err := json.MarshalIndent(document{Date: domain.Today(), Locations: persisted}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode environment cache: %w", err)
	}
	if dir := filepath.Dir(d.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache directory: %w", err)
		}
	}
	if err := os.WriteFile(d.path, data, 0o600); err != nil {
		return fmt.Errorf("write environment cache: %w", err)
	}
	return nil
}

func (d *Daily) read() (document, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return document{}, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("decode environment cache: %w", err)
	}
	return doc, nil
}
