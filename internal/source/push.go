package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeffstrout/flightTrackerCollector/internal/cache"
	"github.com/jeffstrout/flightTrackerCollector/pkg/model"
)

// PushBuffers reads pi-station push buffers back out of the cache. Stations
// write through the HTTP ingress; this source makes their data part of the
// normal collection cycle without the scheduler talking to stations at all.
type PushBuffers struct {
	region string
	store  cache.Store
	log    *logrus.Entry

	// freshness drops buffers whose stored_at is older than this, so a
	// station that stops pushing ages out of the blend within one TTL.
	freshness time.Duration

	now func() time.Time
}

// NewPushBuffers creates the push source for a region. freshness should be
// at least twice the expected station push interval.
func NewPushBuffers(region string, store cache.Store, freshness time.Duration) *PushBuffers {
	return &PushBuffers{
		region:    region,
		store:     store,
		log:       logrus.WithFields(logrus.Fields{"source": "pi_stations", "region": region}),
		freshness: freshness,
		now:       time.Now,
	}
}

func (p *PushBuffers) Name() string { return "pi_stations" }

func (p *PushBuffers) Priority() model.Priority { return model.PriorityPiStation }

// StationBuffer is the JSON document the ingress writes per station.
type StationBuffer struct {
	Station  string           `json:"station"`
	StoredAt int64            `json:"stored_at"`
	Aircraft []model.Aircraft `json:"aircraft"`
}

// Fetch scans all station buffers for the region and returns their fresh
// reports, each tagged with its station id. One unreadable buffer is logged
// and skipped; it never fails the whole source.
func (p *PushBuffers) Fetch(ctx context.Context) ([]model.Aircraft, error) {
	keys, err := p.store.ScanKeys(ctx, cache.PushBufferPattern(p.region))
	if err != nil {
		return nil, fmt.Errorf("failed to scan push buffers: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := p.store.BatchGet(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read push buffers: %w", err)
	}

	cutoff := p.now().Add(-p.freshness).Unix()
	var reports []model.Aircraft
	for i, raw := range values {
		if raw == "" {
			continue
		}
		var buf StationBuffer
		if err := json.Unmarshal([]byte(raw), &buf); err != nil {
			p.log.WithError(err).WithField("key", keys[i]).Warn("Skipping unreadable push buffer")
			continue
		}
		if buf.StoredAt < cutoff {
			continue
		}
		station := buf.Station
		if station == "" {
			station = stationFromKey(keys[i])
		}
		tag := model.PiStationPrefix + station
		for _, ac := range buf.Aircraft {
			ac.DataSource = tag
			reports = append(reports, ac)
		}
	}
	return reports, nil
}

// stationFromKey recovers the station id from a "{region}:push:{station}" key.
func stationFromKey(key string) string {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[i+1:]
	}
	return key
}
