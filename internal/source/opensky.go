package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jeffstrout/flightTrackerCollector/internal/cache"
	"github.com/jeffstrout/flightTrackerCollector/pkg/geo"
	"github.com/jeffstrout/flightTrackerCollector/pkg/model"
)

// OpenSky state vectors report SI units; reports are normalized to the
// aviation units the rest of the pipeline uses.
const (
	metersToFeet = 3.28084
	mpsToKnots   = 1.94384
	mpsToFpm     = 196.85
)

const (
	// backoffWindow is how long every collector process stays away from the
	// API after a 429. Shared through the cache so one rate-limit response
	// pauses all regions, not just the one that triggered it.
	backoffWindow = 5 * time.Minute

	// responseCacheAge serves the previous response instead of re-querying.
	// The API updates its state vectors at most every few seconds, so
	// anything fresher than this is not worth a credit.
	responseCacheAge = 60 * time.Second
)

// ErrBackoff is returned while the shared rate-limit backoff window is open.
var ErrBackoff = errors.New("opensky: rate limit backoff in effect")

// ErrBudget is returned when the daily credit budget projection forces this
// fetch to be skipped.
var ErrBudget = errors.New("opensky: daily credit budget throttle")

// OpenSky queries the OpenSky Network state-vector API for one region's
// bounding box. Credit accounting and rate-limit backoff are coordinated
// across regions through the shared cache.
type OpenSky struct {
	name       string
	baseURL    string
	username   string
	password   string
	anonymous  bool
	box        geo.BoundingBox
	httpClient *http.Client
	store      cache.Store
	limiter    *rate.Limiter
	interval   time.Duration
	log        *logrus.Entry

	mu       sync.Mutex
	cached   []model.Aircraft
	cachedAt time.Time
	tick     int

	now func() time.Time
}

// OpenSkyOptions configures an OpenSky source.
type OpenSkyOptions struct {
	Name      string
	URL       string
	Username  string
	Password  string
	Anonymous bool

	// Box scopes the state-vector query and drives credit cost estimation.
	Box geo.BoundingBox

	// Interval is the configured poll cadence, used for the daily budget
	// projection.
	Interval time.Duration

	Timeout time.Duration
	Store   cache.Store
}

// NewOpenSky creates a wide-area source for one region.
func NewOpenSky(opts OpenSkyOptions) *OpenSky {
	interval := opts.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &OpenSky{
		name:       opts.Name,
		baseURL:    opts.URL,
		username:   opts.Username,
		password:   opts.Password,
		anonymous:  opts.Anonymous,
		box:        opts.Box,
		httpClient: &http.Client{Timeout: opts.Timeout},
		store:      opts.Store,
		// One request per second, matching the API's burst guidance.
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		interval: interval,
		log:      logrus.WithField("source", opts.Name),
		now:      time.Now,
	}
}

func (o *OpenSky) Name() string { return o.name }

func (o *OpenSky) Priority() model.Priority { return model.PriorityWideArea }

// CreditCost estimates the API credit price of one query from the bounding
// box area in square degrees.
func CreditCost(areaDeg2 float64) int {
	switch {
	case areaDeg2 <= 25:
		return 1
	case areaDeg2 <= 100:
		return 2
	case areaDeg2 <= 400:
		return 3
	default:
		return 4
	}
}

// dailyBudget is the anonymous credit allowance; credentialed accounts get
// more but the header-reported remainder overrides this either way.
const dailyBudget = 400

// Fetch returns state vectors for the region's bounding box. Responses are
// cached for 60 seconds; the shared backoff window and the daily budget
// projection can both skip the query entirely.
func (o *OpenSky) Fetch(ctx context.Context) ([]model.Aircraft, error) {
	now := o.now()

	o.mu.Lock()
	if !o.cachedAt.IsZero() && now.Sub(o.cachedAt) < responseCacheAge {
		cached := o.cached
		o.mu.Unlock()
		return cached, nil
	}
	o.tick++
	tick := o.tick
	o.mu.Unlock()

	if until, ok := o.backoffUntil(ctx); ok && now.Before(until) {
		return nil, fmt.Errorf("%w until %s", ErrBackoff, until.Format(time.RFC3339))
	}

	// When the projected spend for the rest of the day exceeds the credits
	// the API says we have left, halve the query rate.
	if o.overBudget(ctx, now) && tick%2 == 1 {
		return nil, ErrBudget
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reports, err := o.query(ctx, now)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.cached = reports
	o.cachedAt = now
	o.mu.Unlock()
	return reports, nil
}

func (o *OpenSky) backoffUntil(ctx context.Context) (time.Time, bool) {
	val, err := o.store.Get(ctx, cache.OpenSkyBackoffKey)
	if err != nil {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}

// overBudget projects credit spend through the end of the UTC day against
// the last header-reported remainder.
func (o *OpenSky) overBudget(ctx context.Context, now time.Time) bool {
	remaining := int64(dailyBudget)
	if val, err := o.store.Get(ctx, cache.OpenSkyCreditsKey); err == nil {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			remaining = parsed
		}
	}

	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	callsLeft := int64(midnight.Sub(utc) / o.interval)
	cost := int64(CreditCost(o.box.AreaDeg2()))

	return callsLeft*cost > remaining
}

func (o *OpenSky) query(ctx context.Context, now time.Time) ([]model.Aircraft, error) {
	q := url.Values{}
	q.Set("lamin", strconv.FormatFloat(o.box.LatMin, 'f', 4, 64))
	q.Set("lomin", strconv.FormatFloat(o.box.LonMin, 'f', 4, 64))
	q.Set("lamax", strconv.FormatFloat(o.box.LatMax, 'f', 4, 64))
	q.Set("lomax", strconv.FormatFloat(o.box.LonMax, 'f', 4, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if !o.anonymous && o.username != "" {
		req.SetBasicAuth(o.username, o.password)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from %s: %w", o.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		o.enterBackoff(ctx, now)
		return nil, &RateLimitError{StatusCode: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned status %d: %s", o.name, resp.StatusCode, string(body))
	}

	o.recordCredits(ctx, resp.Header)

	var doc openskyResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", o.name, err)
	}

	reports := make([]model.Aircraft, 0, len(doc.States))
	for _, state := range doc.States {
		if ac, ok := convertStateVector(state, doc.Time); ok {
			reports = append(reports, ac)
		}
	}
	return reports, nil
}

// enterBackoff opens the shared five-minute backoff window.
func (o *OpenSky) enterBackoff(ctx context.Context, now time.Time) {
	until := now.Add(backoffWindow)
	if err := o.store.Set(ctx, cache.OpenSkyBackoffKey,
		strconv.FormatInt(until.Unix(), 10), backoffWindow); err != nil {
		o.log.WithError(err).Warn("Failed to persist rate limit backoff")
	}
	o.log.WithField("until", until.Format(time.RFC3339)).Warn("OpenSky rate limited, backing off all regions")
}

func (o *OpenSky) recordCredits(ctx context.Context, headers http.Header) {
	remaining := headers.Get("X-Rate-Limit-Remaining")
	if remaining == "" {
		return
	}
	if _, err := strconv.ParseInt(remaining, 10, 64); err != nil {
		return
	}
	if err := o.store.Set(ctx, cache.OpenSkyCreditsKey, remaining, 24*time.Hour); err != nil {
		o.log.WithError(err).Debug("Failed to persist credit count")
	}
}

// openskyResponse is the /states/all document. Each state is a positional
// array, not an object.
type openskyResponse struct {
	Time   int64           `json:"time"`
	States [][]interface{} `json:"states"`
}

// State vector indices, per the OpenSky API reference.
const (
	svICAO24       = 0
	svCallsign     = 1
	svLastContact  = 4
	svLongitude    = 5
	svLatitude     = 6
	svBaroAltitude = 7
	svOnGround     = 8
	svVelocity     = 9
	svTrueTrack    = 10
	svVerticalRate = 11
	svGeoAltitude  = 13
	svSquawk       = 14
)

// convertStateVector maps one positional state vector to a normalized
// report. Vectors without a valid hex are rejected; position may be absent
// (the blender drops positionless reports later).
func convertStateVector(state []interface{}, fetchTime int64) (model.Aircraft, bool) {
	hex := model.NormalizeHex(stateString(state, svICAO24))
	if !model.ValidHex(hex) {
		return model.Aircraft{}, false
	}

	ac := model.Aircraft{
		Hex:        hex,
		Flight:     strings.TrimSpace(stateString(state, svCallsign)),
		Squawk:     stateString(state, svSquawk),
		DataSource: model.SourceOpenSky,
	}

	ac.Lat = stateFloat(state, svLatitude)
	ac.Lon = stateFloat(state, svLongitude)

	if onGround, ok := stateIndex(state, svOnGround).(bool); ok {
		ac.OnGround = onGround
	}

	if alt := stateFloat(state, svBaroAltitude); alt != nil {
		feet := int(*alt * metersToFeet)
		ac.AltBaro = &feet
	}
	if alt := stateFloat(state, svGeoAltitude); alt != nil {
		feet := int(*alt * metersToFeet)
		ac.AltGeom = &feet
	}
	if vel := stateFloat(state, svVelocity); vel != nil {
		knots := *vel * mpsToKnots
		ac.GS = &knots
	}
	if track := stateFloat(state, svTrueTrack); track != nil {
		ac.Track = track
	}
	if vr := stateFloat(state, svVerticalRate); vr != nil {
		fpm := int(*vr * mpsToFpm)
		ac.BaroRate = &fpm
	}

	// last_contact is a Unix timestamp; express it as seconds-ago to match
	// the dump1090 vocabulary.
	if lc := stateFloat(state, svLastContact); lc != nil && fetchTime > 0 {
		seen := float64(fetchTime) - *lc
		if seen < 0 {
			seen = 0
		}
		ac.Seen = &seen
	}

	return ac, true
}

func stateIndex(state []interface{}, i int) interface{} {
	if i < len(state) {
		return state[i]
	}
	return nil
}

func stateString(state []interface{}, i int) string {
	if s, ok := stateIndex(state, i).(string); ok {
		return s
	}
	return ""
}

func stateFloat(state []interface{}, i int) *float64 {
	if f, ok := stateIndex(state, i).(float64); ok {
		return &f
	}
	return nil
}
