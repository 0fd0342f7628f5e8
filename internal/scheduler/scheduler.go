// Package scheduler drives the per-region collection cycle: fetch every
// source concurrently, blend, enrich, and publish the snapshot to the cache
// in one pipelined write per region per tick.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jeffstrout/flightTrackerCollector/internal/blend"
	"github.com/jeffstrout/flightTrackerCollector/internal/cache"
	"github.com/jeffstrout/flightTrackerCollector/internal/registry"
	"github.com/jeffstrout/flightTrackerCollector/internal/source"
	"github.com/jeffstrout/flightTrackerCollector/pkg/config"
	"github.com/jeffstrout/flightTrackerCollector/pkg/geo"
	"github.com/jeffstrout/flightTrackerCollector/pkg/model"
)

// waveHeadroom is subtracted from the tick interval to form the per-cycle
// fetch deadline, leaving time for blending and the cache write before the
// next tick.
const waveHeadroom = time.Second

// Scheduler runs one collection loop per enabled region.
type Scheduler struct {
	cfg     *config.Config
	store   cache.Store
	reg     *registry.Service
	regions []*regionRunner
	log     *logrus.Entry
}

// New builds the scheduler and its region runners from configuration.
func New(cfg *config.Config, store cache.Store, reg *registry.Service) *Scheduler {
	s := &Scheduler{
		cfg:   cfg,
		store: store,
		reg:   reg,
		log:   logrus.WithField("component", "scheduler"),
	}
	for _, region := range cfg.EnabledRegions() {
		s.regions = append(s.regions, newRegionRunner(cfg, region, store, reg))
	}
	return s
}

// Run blocks until ctx is canceled, driving all region loops concurrently.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.WithField("regions", len(s.regions)).Info("Starting collection")

	g, ctx := errgroup.WithContext(ctx)
	for _, runner := range s.regions {
		runner := runner
		g.Go(func() error {
			runner.loop(ctx)
			return nil
		})
	}
	return g.Wait()
}

// regionRunner owns one region's cycle state.
type regionRunner struct {
	region   config.RegionConfig
	sources  []source.Source
	blender  *blend.Blender
	store    cache.Store
	reg      *registry.Service
	interval time.Duration
	ttl      time.Duration
	log      *logrus.Entry

	// degraded is set when the cache stops accepting writes. While degraded
	// the runner pings instead of collecting, and resumes on success.
	degraded bool

	// lastReports carries each source's most recent successful fetch across
	// ticks, so a source polled less often than the tick rate still
	// contributes to every blend.
	lastReports map[string][]model.Aircraft
	lastFetch   map[string]time.Time

	now func() time.Time
}

func newRegionRunner(cfg *config.Config, region config.RegionConfig, store cache.Store, reg *registry.Service) *regionRunner {
	center := geo.Point{Lat: region.Center.Lat, Lon: region.Center.Lon}
	r := &regionRunner{
		region:      region,
		blender:     blend.New(center, region.RadiusMiles),
		store:       store,
		reg:         reg,
		interval:    cfg.Scheduler.TickInterval(),
		ttl:         cfg.Cache.DefaultTTL(),
		log:         logrus.WithField("region", region.ID),
		lastReports: make(map[string][]model.Aircraft),
		lastFetch:   make(map[string]time.Time),
		now:         time.Now,
	}

	box := geo.DeriveBoundingBox(center, region.RadiusMiles)
	for _, src := range region.Sources {
		if !src.Enabled && src.Type != config.SourceTypePush {
			continue
		}
		switch src.Type {
		case config.SourceTypeLocalReceiver:
			r.sources = append(r.sources, source.NewDump1090(src.Name, src.URL, src.Timeout()))
		case config.SourceTypeWideArea:
			r.sources = append(r.sources, source.NewOpenSky(source.OpenSkyOptions{
				Name:      src.Name,
				URL:       src.URL,
				Username:  src.Username,
				Password:  src.Password,
				Anonymous: src.Anonymous,
				Box:       box,
				Interval:  src.PollInterval(),
				Timeout:   src.Timeout(),
				Store:     store,
			}))
		case config.SourceTypePush:
			r.sources = append(r.sources, source.NewPushBuffers(region.ID, store, 2*cfg.Push.BufferTTL()))
		}
	}
	return r
}

// loop ticks at the configured interval. A cycle that overruns its tick
// never stacks; missed ticks are dropped, not replayed.
func (r *regionRunner) loop(ctx context.Context) {
	r.log.WithFields(logrus.Fields{
		"sources":  len(r.sources),
		"interval": r.interval,
	}).Info("Region collection started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("Region collection stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one collection cycle: concurrent fetch under the wave
// deadline, blend, enrich, and a single pipelined cache write.
func (r *regionRunner) runCycle(ctx context.Context) {
	start := r.now()

	if r.degraded {
		if err := r.store.Ping(ctx); err != nil {
			r.log.Debug("Cache still unreachable, skipping cycle")
			return
		}
		r.degraded = false
		r.log.Info("Cache connection recovered, resuming collection")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.interval-waveHeadroom)
	defer cancel()

	results, failures, timeouts := r.fetchAll(fetchCtx)

	inputs := buildInputs(r.sources, results)
	snapshot := r.blender.Blend(inputs)

	enriched, err := blend.Enrich(ctx, r.reg, snapshot)
	if err != nil {
		r.log.WithError(err).Warn("Enrichment failed, publishing without registry data")
	}
	choppers := blend.Helicopters(snapshot)

	if err := r.publish(ctx, start, snapshot, choppers, results); err != nil {
		r.degraded = true
		r.log.WithError(err).Warn("Cache write failed, entering degraded mode")
		return
	}

	r.recordStats(ctx, snapshot, choppers, results, enriched, failures, timeouts, r.now().Sub(start))
	r.logCycle(snapshot, failures, timeouts, r.now().Sub(start))
}

// fetchAll runs every due source concurrently and returns reports keyed by
// source name. Failures and timeouts are counted, never raised; a failed
// source contributes an empty list. Sources not yet due under their poll
// interval reuse their last successful fetch.
func (r *regionRunner) fetchAll(ctx context.Context) (map[string][]model.Aircraft, int, int) {
	var (
		mu       sync.Mutex
		failures int
		timeouts int
	)
	results := make(map[string][]model.Aircraft, len(r.sources))

	// Decide dueness up front; the fetch goroutines update lastFetch.
	var due []source.Source
	for _, src := range r.sources {
		if r.due(src) {
			due = append(due, src)
		} else {
			results[src.Name()] = r.lastReports[src.Name()]
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range due {
		src := src
		g.Go(func() error {
			reports, err := src.Fetch(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				switch {
				case errors.Is(err, source.ErrBackoff), errors.Is(err, source.ErrBudget):
					r.log.WithField("source", src.Name()).WithError(err).Debug("Source skipped")
				case errors.Is(err, context.DeadlineExceeded):
					timeouts++
					r.log.WithField("source", src.Name()).Warn("Source fetch timed out")
				default:
					failures++
					r.log.WithField("source", src.Name()).WithError(err).Warn("Source fetch failed")
				}
				// A failed source contributes nothing this cycle.
				results[src.Name()] = nil
				return nil
			}
			results[src.Name()] = reports
			r.lastReports[src.Name()] = reports
			r.lastFetch[src.Name()] = r.now()
			return nil
		})
	}
	g.Wait()
	return results, failures, timeouts
}

// due reports whether a source's poll interval has elapsed. Sources report
// their cadence through config; the OpenSky client additionally self-paces.
func (r *regionRunner) due(src source.Source) bool {
	interval := r.pollInterval(src.Name())
	if interval <= 0 {
		return true
	}
	last, ok := r.lastFetch[src.Name()]
	return !ok || r.now().Sub(last) >= interval
}

func (r *regionRunner) pollInterval(name string) time.Duration {
	for _, src := range r.region.Sources {
		if src.Name == name {
			return src.PollInterval()
		}
	}
	return 0
}

// buildInputs converts fetch results to blender inputs. Push reports are
// split per station so each station counts as its own source during
// deduplication.
func buildInputs(sources []source.Source, results map[string][]model.Aircraft) []blend.Input {
	var inputs []blend.Input
	for _, src := range sources {
		reports := results[src.Name()]
		if src.Priority() == model.PriorityPiStation {
			byStation := make(map[string][]model.Aircraft)
			for _, ac := range reports {
				byStation[ac.DataSource] = append(byStation[ac.DataSource], ac)
			}
			for station, stationReports := range byStation {
				inputs = append(inputs, blend.Input{
					SourceID: station,
					Priority: src.Priority(),
					Reports:  stationReports,
				})
			}
			continue
		}
		inputs = append(inputs, blend.Input{
			SourceID: src.Name(),
			Priority: src.Priority(),
			Reports:  reports,
		})
	}
	return inputs
}

// regionLocation identifies the region center inside the published envelope.
type regionLocation struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// flightsEnvelope is the region snapshot document published to the cache.
type flightsEnvelope struct {
	Timestamp     string           `json:"timestamp"`
	AircraftCount int              `json:"aircraft_count"`
	Aircraft      []model.Aircraft `json:"aircraft"`
	Location      regionLocation   `json:"location"`
	Region        string           `json:"region"`
}

// publish writes the cycle's output in one pipelined round trip: the region
// snapshot, the helicopter subset, one live record per airframe, and the raw
// per-source feeds (non-empty fetches only, so a flaky source never blanks
// its last good raw view).
func (r *regionRunner) publish(ctx context.Context, start time.Time, snapshot, choppers []model.Aircraft, raw map[string][]model.Aircraft) error {
	entries := make([]cache.Entry, 0, len(snapshot)+len(raw)+2)

	envelope := flightsEnvelope{
		Timestamp:     start.UTC().Format(time.RFC3339),
		AircraftCount: len(snapshot),
		Aircraft:      snapshot,
		Location: regionLocation{
			Name: r.region.Name,
			Lat:  r.region.Center.Lat,
			Lon:  r.region.Center.Lon,
		},
		Region: r.region.ID,
	}
	flightsDoc, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	entries = append(entries, cache.Entry{
		Key: cache.FlightsKey(r.region.ID), Value: string(flightsDoc), TTL: r.ttl,
	})

	choppersEnvelope := envelope
	choppersEnvelope.Aircraft = choppers
	choppersEnvelope.AircraftCount = len(choppers)
	choppersDoc, err := json.Marshal(choppersEnvelope)
	if err != nil {
		return err
	}
	entries = append(entries, cache.Entry{
		Key: cache.ChoppersKey(r.region.ID), Value: string(choppersDoc), TTL: r.ttl,
	})

	for _, ac := range snapshot {
		doc, err := json.Marshal(ac)
		if err != nil {
			return err
		}
		entries = append(entries, cache.Entry{
			Key: cache.LiveAircraftKey(ac.Hex), Value: string(doc), TTL: r.ttl,
		})
	}

	for name, reports := range raw {
		if len(reports) == 0 {
			continue
		}
		doc, err := json.Marshal(reports)
		if err != nil {
			return err
		}
		entries = append(entries, cache.Entry{
			Key: cache.RawKey(r.region.ID, name), Value: string(doc), TTL: r.ttl,
		})
	}

	return r.store.BatchSet(ctx, entries)
}

// cycleBucketsMs are the cumulative histogram bounds for cycle duration, in
// milliseconds. Each cycle increments every bucket its duration fits under,
// plus the unbounded one.
var cycleBucketsMs = []int64{100, 250, 500, 1000, 2500, 5000}

// recordStats maintains the per-region counters: monotonic totals via
// increments plus last-cycle gauges. Counter failures are never fatal; stats
// are advisory.
func (r *regionRunner) recordStats(ctx context.Context, snapshot, choppers []model.Aircraft, results map[string][]model.Aircraft, enriched, failures, timeouts int, elapsed time.Duration) {
	reportsIn := 0
	counters := map[string]int64{
		"cycles":            1,
		"aircraft_observed": int64(len(snapshot)),
		"helicopters":       int64(len(choppers)),
		"source_failures":   int64(failures),
		"source_timeouts":   int64(timeouts),
	}
	for name, reports := range results {
		counters["source:"+name+":observed"] = int64(len(reports))
		reportsIn += len(reports)
	}
	ms := elapsed.Milliseconds()
	for _, bound := range cycleBucketsMs {
		if ms <= bound {
			counters["cycle_ms_bucket:le:"+strconv.FormatInt(bound, 10)] = 1
		}
	}
	counters["cycle_ms_bucket:le:inf"] = 1
	for name, delta := range counters {
		if delta == 0 {
			continue
		}
		if _, err := r.store.IncrBy(ctx, cache.StatKey(r.region.ID, name), delta); err != nil {
			r.log.WithError(err).WithField("counter", name).Debug("Failed to update cycle counter")
		}
	}

	// dedupRatio is raw reports per unique airframe this cycle; 1.00 means
	// every airframe was seen by exactly one source.
	dedupRatio := 0.0
	if len(snapshot) > 0 {
		dedupRatio = float64(reportsIn) / float64(len(snapshot))
	}

	gauges := []cache.Entry{
		{Key: cache.StatKey(r.region.ID, "aircraft_count"), Value: strconv.Itoa(len(snapshot))},
		{Key: cache.StatKey(r.region.ID, "chopper_count"), Value: strconv.Itoa(len(choppers))},
		{Key: cache.StatKey(r.region.ID, "reports_in"), Value: strconv.Itoa(reportsIn)},
		{Key: cache.StatKey(r.region.ID, "enriched"), Value: strconv.Itoa(enriched)},
		{Key: cache.StatKey(r.region.ID, "dedup_ratio"), Value: strconv.FormatFloat(dedupRatio, 'f', 2, 64)},
		{Key: cache.StatKey(r.region.ID, "cycle_ms"), Value: strconv.FormatInt(ms, 10)},
		{Key: cache.StatKey(r.region.ID, "last_cycle"), Value: r.now().UTC().Format(time.RFC3339)},
	}
	if err := r.store.BatchSet(ctx, gauges); err != nil {
		r.log.WithError(err).Debug("Failed to update cycle gauges")
	}
}

// logCycle emits the per-cycle summary, including the closest aircraft.
func (r *regionRunner) logCycle(snapshot []model.Aircraft, failures, timeouts int, elapsed time.Duration) {
	fields := logrus.Fields{
		"aircraft": len(snapshot),
		"elapsed":  elapsed.Round(time.Millisecond),
	}
	if failures > 0 {
		fields["failures"] = failures
	}
	if timeouts > 0 {
		fields["timeouts"] = timeouts
	}
	if len(snapshot) > 0 {
		closest := snapshot[0]
		label := closest.Flight
		if label == "" {
			label = closest.Hex
		}
		fields["closest"] = label
		if closest.DistanceMiles != nil {
			fields["closest_miles"] = *closest.DistanceMiles
		}
	}
	r.log.WithFields(fields).Info("Collection cycle complete")
}
