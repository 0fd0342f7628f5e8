// Package registry loads the static aircraft registry (the OpenSky aircraft
// database CSV, roughly one million rows) into the cache and serves batched
// enrichment lookups during blending.
package registry

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/jeffstrout/flightTrackerCollector/internal/cache"
	"github.com/jeffstrout/flightTrackerCollector/pkg/config"
	"github.com/jeffstrout/flightTrackerCollector/pkg/model"
)

const (
	// importBatchSize bounds one pipelined write during CSV import.
	importBatchSize = 1000

	// lruSize caps the in-process lookup cache. One region snapshot rarely
	// exceeds a few hundred airframes, so hot entries all fit.
	lruSize = 1000

	downloadTimeout = 5 * time.Minute
)

// Service resolves registry entries by ICAO hex. Lookups go through a small
// LRU first; all remaining misses are fetched from the cache in one batched
// round trip.
type Service struct {
	store cache.Store
	hot   *lru.Cache[string, model.RegistryEntry]
	log   *logrus.Entry

	// enabled is false when no registry data could be located. The collector
	// keeps running without enrichment in that case.
	enabled bool
}

// New builds a Service on top of the shared cache store.
func New(store cache.Store) *Service {
	hot, _ := lru.New[string, model.RegistryEntry](lruSize)
	return &Service{
		store:   store,
		hot:     hot,
		log:     logrus.WithField("component", "registry"),
		enabled: true,
	}
}

// Enabled reports whether registry data is available for enrichment.
func (s *Service) Enabled() bool { return s.enabled }

// Load locates the registry CSV and imports it into the cache. Candidate
// local paths are probed first; when none exist the fallback URL is fetched
// once. If neither yields data the service degrades to pass-through
// enrichment with a single warning.
func (s *Service) Load(ctx context.Context, cfg config.RegistryConfig) error {
	reader, src, err := s.open(ctx, cfg)
	if err != nil {
		s.enabled = false
		s.log.WithError(err).Warn("Aircraft registry unavailable, continuing without enrichment")
		return nil
	}
	defer reader.Close()

	start := time.Now()
	imported, skipped, err := s.ImportCSV(ctx, reader)
	if err != nil {
		return fmt.Errorf("failed to import registry from %s: %w", src, err)
	}
	s.log.WithFields(logrus.Fields{
		"source":   src,
		"imported": imported,
		"skipped":  skipped,
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Info("Aircraft registry loaded")
	return nil
}

// open returns a reader over the registry CSV, trying local candidate paths
// before the fallback download.
func (s *Service) open(ctx context.Context, cfg config.RegistryConfig) (io.ReadCloser, string, error) {
	var candidates []string
	if cfg.CSVPath != "" {
		candidates = append(candidates,
			cfg.CSVPath,
			"config/"+cfg.CSVPath,
			"/app/config/"+cfg.CSVPath,
		)
	}
	for _, path := range candidates {
		if f, err := os.Open(path); err == nil {
			return f, path, nil
		}
	}

	if cfg.FallbackURL == "" {
		return nil, "", fmt.Errorf("no registry CSV found and no fallback url configured")
	}

	s.log.WithField("url", cfg.FallbackURL).Info("Downloading aircraft registry")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.FallbackURL, nil)
	if err != nil {
		return nil, "", err
	}
	client := &http.Client{Timeout: downloadTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("registry download failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("registry download returned %s", resp.Status)
	}
	return resp.Body, cfg.FallbackURL, nil
}

// ImportCSV streams registry rows into the cache in pipelined batches. Rows
// without a valid ICAO hex, and rows with no data beyond the hex, are skipped
// and counted. The header row names the columns, so column order in the
// source file does not matter.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader) (imported, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read registry header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	if _, ok := col["icao24"]; !ok {
		return 0, 0, fmt.Errorf("registry CSV missing icao24 column")
	}

	field := func(row []string, name string) string {
		if i, ok := col[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	var batch []cache.HashEntry
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.BatchHSet(ctx, batch); err != nil {
			return err
		}
		imported += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to read registry row: %w", err)
		}

		hex := model.NormalizeHex(field(row, "icao24"))
		if !model.ValidHex(hex) {
			skipped++
			continue
		}
		entry := model.RegistryEntry{
			Registration:      field(row, "registration"),
			Manufacturer:      field(row, "manufacturername"),
			Model:             field(row, "model"),
			Typecode:          field(row, "typecode"),
			Operator:          field(row, "operator"),
			Owner:             field(row, "owner"),
			ICAOAircraftClass: field(row, "icaoaircrafttype"),
		}
		if entry.IsZero() {
			skipped++
			continue
		}

		batch = append(batch, cache.HashEntry{
			Key:    cache.RegistryKey(hex),
			Fields: entry.Fields(),
		})
		if len(batch) >= importBatchSize {
			if err := flush(); err != nil {
				return imported, skipped, err
			}
		}
	}
	if err := flush(); err != nil {
		return imported, skipped, err
	}
	return imported, skipped, nil
}

// Lookup resolves registry entries for a set of normalized hexes. LRU hits
// are served locally; every remaining miss is fetched from the cache in a
// single batched round trip. Hexes with no registry record are absent from
// the result.
func (s *Service) Lookup(ctx context.Context, hexes []string) (map[string]model.RegistryEntry, error) {
	out := make(map[string]model.RegistryEntry, len(hexes))
	if !s.enabled || len(hexes) == 0 {
		return out, nil
	}

	var misses []string
	seen := make(map[string]bool, len(hexes))
	for _, hex := range hexes {
		if seen[hex] {
			continue
		}
		seen[hex] = true
		if entry, ok := s.hot.Get(hex); ok {
			if !entry.IsZero() {
				out[hex] = entry
			}
			continue
		}
		misses = append(misses, hex)
	}
	if len(misses) == 0 {
		return out, nil
	}

	keys := make([]string, len(misses))
	for i, hex := range misses {
		keys[i] = cache.RegistryKey(hex)
	}
	maps, err := s.store.BatchHGetAll(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("registry lookup failed: %w", err)
	}
	for i, fields := range maps {
		entry := model.EntryFromFields(fields)
		// Negative results are cached too so a hex with no registry record
		// costs one round trip total, not one per cycle.
		s.hot.Add(misses[i], entry)
		if !entry.IsZero() {
			out[misses[i]] = entry
		}
	}
	return out, nil
}
