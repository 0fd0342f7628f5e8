package blend

import (
	"context"

	"github.com/jeffstrout/flightTrackerCollector/internal/registry"
	"github.com/jeffstrout/flightTrackerCollector/pkg/model"
)

// Enrich applies registry data to a blended snapshot in place and returns
// how many records matched a registry entry. All hexes are resolved in one
// batched lookup; records without an entry pass through untouched, with
// is_helicopter false.
func Enrich(ctx context.Context, reg *registry.Service, aircraft []model.Aircraft) (int, error) {
	if len(aircraft) == 0 {
		return 0, nil
	}
	hexes := make([]string, len(aircraft))
	for i := range aircraft {
		hexes[i] = aircraft[i].Hex
	}
	entries, err := reg.Lookup(ctx, hexes)
	if err != nil {
		return 0, err
	}
	hits := 0
	for i := range aircraft {
		if entry, ok := entries[aircraft[i].Hex]; ok {
			entry.Enrich(&aircraft[i])
			hits++
		}
	}
	return hits, nil
}

// Helicopters returns the helicopter subset of a snapshot, preserving order.
func Helicopters(aircraft []model.Aircraft) []model.Aircraft {
	out := make([]model.Aircraft, 0)
	for _, ac := range aircraft {
		if ac.IsHelicopter {
			out = append(out, ac)
		}
	}
	return out
}
