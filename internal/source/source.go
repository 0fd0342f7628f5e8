// Package source implements the aircraft data sources feeding the per-region
// collection cycle: local dump1090 receivers, the OpenSky wide-area API, and
// pi-station push buffers read back from the cache.
package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jeffstrout/flightTrackerCollector/pkg/model"
)

// Source is one aircraft data provider for a region. Fetch must honor the
// context deadline; the scheduler runs every source of a region concurrently
// under a shared per-tick deadline.
type Source interface {
	// Name identifies the source in logs, stats counters, and raw cache keys.
	Name() string

	// Priority ranks this source's reports during blending. Higher wins.
	Priority() model.Priority

	// Fetch returns the current aircraft reports. A failed fetch returns an
	// error and no data; the scheduler treats that as an empty contribution.
	Fetch(ctx context.Context) ([]model.Aircraft, error)
}

// RateLimitError reports an HTTP 429 from an upstream API with the server's
// requested wait, when one was given.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded (retry after %v)", e.RetryAfter)
	}
	return "rate limit exceeded"
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	if rle, ok := err.(*RateLimitError); ok {
		return rle, true
	}
	return nil, false
}

// parseRetryAfter extracts the Retry-After header value. Supports both
// delay-seconds and HTTP-date formats; returns 0 if absent or unparseable.
func parseRetryAfter(headers http.Header) time.Duration {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if retryTime, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(retryTime); d > 0 {
			return d
		}
	}

	return 0
}
