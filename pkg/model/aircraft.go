// Package model defines the normalized aircraft report shared by every data
// source, the blender, and the cache layer.
package model

import "strings"

// Data source tags carried in the data_source field.
const (
	SourceDump1090 = "dump1090"
	SourceOpenSky  = "opensky"
	SourceBlended  = "blended"

	// PiStationPrefix prefixes the station id for push-fed reports,
	// e.g. "pi_station:ETEX01".
	PiStationPrefix = "pi_station:"
)

// Priority ranks sources during blending. Higher wins.
type Priority int

const (
	PriorityWideArea      Priority = 1
	PriorityLocalReceiver Priority = 2
	PriorityPiStation     Priority = 3
)

// Aircraft is a normalized positional report for one airframe, identified by
// its ICAO 24-bit hex address. Nullable upstream fields are pointers; JSON
// field names match the dump1090/tar1090 vocabulary used on the wire.
type Aircraft struct {
	Hex    string `json:"hex"`
	Flight string `json:"flight,omitempty"`

	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	AltBaro  *int     `json:"alt_baro,omitempty"`
	AltGeom  *int     `json:"alt_geom,omitempty"`
	GS       *float64 `json:"gs,omitempty"`
	Track    *float64 `json:"track,omitempty"`
	BaroRate *int     `json:"baro_rate,omitempty"`
	Squawk   string   `json:"squawk,omitempty"`
	OnGround bool     `json:"on_ground"`

	// Link quality. RSSI and Messages are only reported by local receivers.
	Seen     *float64 `json:"seen,omitempty"`
	RSSI     *float64 `json:"rssi,omitempty"`
	Messages *int     `json:"messages,omitempty"`

	// DistanceMiles is recomputed every cycle from the region center; it is
	// never read from a source.
	DistanceMiles *float64 `json:"distance_miles,omitempty"`

	DataSource string `json:"data_source"`

	// Enrichment fields populated from the aircraft registry.
	Registration      string `json:"registration,omitempty"`
	Model             string `json:"model,omitempty"`
	Manufacturer      string `json:"manufacturer,omitempty"`
	Operator          string `json:"operator,omitempty"`
	Owner             string `json:"owner,omitempty"`
	Typecode          string `json:"typecode,omitempty"`
	AircraftType      string `json:"aircraft_type,omitempty"`
	ICAOAircraftClass string `json:"icao_aircraft_class,omitempty"`

	IsHelicopter bool `json:"is_helicopter"`
}

// HasPosition reports whether the record carries a usable lat/lon pair.
func (a *Aircraft) HasPosition() bool {
	return a.Lat != nil && a.Lon != nil
}

// NormalizeHex lowercases and trims a raw ICAO hex address. Non-transponder
// prefixes ("~" used by some receivers for TIS-B) are stripped.
func NormalizeHex(hex string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(hex, "~")))
}

// ValidHex reports whether hex is a normalized 24-bit ICAO address:
// exactly six lowercase hex digits.
func ValidHex(hex string) bool {
	if len(hex) != 6 {
		return false
	}
	for i := 0; i < len(hex); i++ {
		c := hex[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
