package cache

import "fmt"

// Key builders for the collector keyspace. Every key the system writes is
// constructed here so the layout stays greppable in one place.
//
//	{region}:flights            blended region snapshot (JSON envelope)
//	{region}:choppers           helicopter subset of the snapshot
//	{region}:raw:{source}       last non-empty raw fetch per source
//	{region}:push:{station}     pi-station push buffer
//	aircraft_live:{hex}         latest blended record per airframe
//	aircraft_db:{hex}           static registry entry (hash)
//	stats:{region}:{name}       per-region cycle counters
//	stats:opensky:{name}        shared wide-area API state

func FlightsKey(region string) string {
	return region + ":flights"
}

func ChoppersKey(region string) string {
	return region + ":choppers"
}

func RawKey(region, source string) string {
	return fmt.Sprintf("%s:raw:%s", region, source)
}

func PushBufferKey(region, station string) string {
	return fmt.Sprintf("%s:push:%s", region, station)
}

// PushBufferPattern matches every station buffer for a region.
func PushBufferPattern(region string) string {
	return region + ":push:*"
}

func LiveAircraftKey(hex string) string {
	return "aircraft_live:" + hex
}

func RegistryKey(hex string) string {
	return "aircraft_db:" + hex
}

func StatKey(region, name string) string {
	return fmt.Sprintf("stats:%s:%s", region, name)
}

// Shared wide-area API coordination keys. All collector processes honor
// these, so one 429 backs off every region.
const (
	OpenSkyBackoffKey = "stats:opensky:backoff_until"
	OpenSkyCreditsKey = "stats:opensky:credits_remaining"
)
