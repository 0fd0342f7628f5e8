package model

import "strings"

// RegistryEntry is the static registry record for one airframe, keyed by
// ICAO hex. Entries are immutable after load.
type RegistryEntry struct {
	Registration      string `json:"registration"`
	Manufacturer      string `json:"manufacturer"`
	Model             string `json:"model"`
	Typecode          string `json:"typecode"`
	Operator          string `json:"operator"`
	Owner             string `json:"owner"`
	ICAOAircraftClass string `json:"icao_aircraft_class"`
}

// IsZero reports whether the entry carries no registry data at all.
func (e RegistryEntry) IsZero() bool {
	return e == RegistryEntry{}
}

// Fields returns the entry as a flat field map for hash storage.
func (e RegistryEntry) Fields() map[string]string {
	return map[string]string{
		"registration":        e.Registration,
		"manufacturer":        e.Manufacturer,
		"model":               e.Model,
		"typecode":            e.Typecode,
		"operator":            e.Operator,
		"owner":               e.Owner,
		"icao_aircraft_class": e.ICAOAircraftClass,
	}
}

// EntryFromFields rebuilds an entry from a hash field map.
func EntryFromFields(fields map[string]string) RegistryEntry {
	return RegistryEntry{
		Registration:      fields["registration"],
		Manufacturer:      fields["manufacturer"],
		Model:             fields["model"],
		Typecode:          fields["typecode"],
		Operator:          fields["operator"],
		Owner:             fields["owner"],
		ICAOAircraftClass: fields["icao_aircraft_class"],
	}
}

// Enrich copies registry fields onto an aircraft report and derives the
// helicopter classification. An aircraft is a helicopter if and only if its
// ICAO aircraft class begins with 'H'; no callsign or registration heuristics
// are applied.
func (e RegistryEntry) Enrich(a *Aircraft) {
	a.Registration = e.Registration
	a.Manufacturer = e.Manufacturer
	a.Model = e.Model
	a.Typecode = e.Typecode
	a.Operator = e.Operator
	a.Owner = e.Owner
	a.ICAOAircraftClass = e.ICAOAircraftClass

	if e.Model != "" {
		a.AircraftType = strings.TrimSpace(e.Manufacturer + " " + e.Model)
	} else {
		a.AircraftType = e.ICAOAircraftClass
	}

	a.IsHelicopter = len(e.ICAOAircraftClass) > 0 &&
		(e.ICAOAircraftClass[0] == 'H' || e.ICAOAircraftClass[0] == 'h')
}
