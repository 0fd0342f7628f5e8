package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeffstrout/flightTrackerCollector/pkg/model"
)

// maxReportAge drops reports whose last message is older than this. Stale
// entries linger in dump1090's aircraft list long after the aircraft has
// left coverage.
const maxReportAge = 60.0

// Dump1090 polls a local receiver's aircraft.json endpoint.
type Dump1090 struct {
	name       string
	url        string
	httpClient *http.Client
}

// NewDump1090 creates a local receiver source. Any base URL form is
// accepted; it is normalized to the data/aircraft.json endpoint.
func NewDump1090(name, baseURL string, timeout time.Duration) *Dump1090 {
	return &Dump1090{
		name:       name,
		url:        NormalizeDump1090URL(baseURL),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NormalizeDump1090URL maps any receiver base URL to its aircraft.json
// endpoint. A URL already pointing at aircraft.json passes through.
func NormalizeDump1090URL(raw string) string {
	if strings.HasSuffix(raw, "aircraft.json") {
		return raw
	}
	return strings.TrimSuffix(raw, "/") + "/data/aircraft.json"
}

func (d *Dump1090) Name() string { return d.name }

func (d *Dump1090) Priority() model.Priority { return model.PriorityLocalReceiver }

// dump1090Response is the aircraft.json document.
type dump1090Response struct {
	Now      float64            `json:"now"`
	Messages int64              `json:"messages"`
	Aircraft []dump1090Aircraft `json:"aircraft"`
}

// dump1090Aircraft is one entry in the aircraft list. alt_baro and alt_geom
// can be the string "ground" instead of a number.
type dump1090Aircraft struct {
	Hex      string      `json:"hex"`
	Flight   string      `json:"flight"`
	Lat      *float64    `json:"lat"`
	Lon      *float64    `json:"lon"`
	AltBaro  interface{} `json:"alt_baro"`
	AltGeom  interface{} `json:"alt_geom"`
	Gs       *float64    `json:"gs"`
	Track    *float64    `json:"track"`
	BaroRate *float64    `json:"baro_rate"`
	Squawk   string      `json:"squawk"`
	Seen     *float64    `json:"seen"`
	RSSI     *float64    `json:"rssi"`
	Messages *int        `json:"messages"`
}

// Fetch polls the receiver and returns its fresh reports. Entries with an
// invalid hex or a report older than 60 seconds are dropped.
func (d *Dump1090) Fetch(ctx context.Context) ([]model.Aircraft, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from %s: %w", d.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned status %d: %s", d.name, resp.StatusCode, string(body))
	}

	var doc dump1090Response
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", d.name, err)
	}

	aircraft := make([]model.Aircraft, 0, len(doc.Aircraft))
	for _, raw := range doc.Aircraft {
		hex := model.NormalizeHex(raw.Hex)
		if !model.ValidHex(hex) {
			continue
		}
		if raw.Seen != nil && *raw.Seen > maxReportAge {
			continue
		}

		ac := model.Aircraft{
			Hex:        hex,
			Flight:     strings.TrimSpace(raw.Flight),
			Lat:        raw.Lat,
			Lon:        raw.Lon,
			GS:         raw.Gs,
			Track:      raw.Track,
			Squawk:     raw.Squawk,
			Seen:       raw.Seen,
			RSSI:       raw.RSSI,
			Messages:   raw.Messages,
			DataSource: model.SourceDump1090,
		}
		if raw.BaroRate != nil {
			rate := int(*raw.BaroRate)
			ac.BaroRate = &rate
		}

		alt, onGround := parseAltitude(raw.AltBaro)
		ac.AltBaro = alt
		ac.OnGround = onGround
		if geom, _ := parseAltitude(raw.AltGeom); geom != nil {
			ac.AltGeom = geom
		}

		aircraft = append(aircraft, ac)
	}
	return aircraft, nil
}

// parseAltitude handles the dump1090 altitude fields, which carry either a
// number in feet or the string "ground".
func parseAltitude(val interface{}) (*int, bool) {
	switch v := val.(type) {
	case float64:
		alt := int(v)
		return &alt, false
	case string:
		if v == "ground" {
			zero := 0
			return &zero, true
		}
	}
	return nil, false
}
