package blend

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/jeffstrout/flightTrackerCollector/internal/cache"
	"github.com/jeffstrout/flightTrackerCollector/internal/registry"
	"github.com/jeffstrout/flightTrackerCollector/pkg/geo"
	"github.com/jeffstrout/flightTrackerCollector/pkg/model"
)

var tyler = geo.Point{Lat: 32.3513, Lon: -95.3011}

func fptr(f float64) *float64 { return &f }
func iptr(i int) *int         { return &i }

func report(hex string, lat, lon float64, source string) model.Aircraft {
	return model.Aircraft{Hex: hex, Lat: fptr(lat), Lon: fptr(lon), DataSource: source}
}

func TestBlendPriorityWins(t *testing.T) {
	b := New(tyler, 150)

	pi := report("a1b2c3", 32.40, -95.30, "pi_station:ETEX01")
	pi.Flight = "PIFLT"
	local := report("a1b2c3", 32.41, -95.31, model.SourceDump1090)
	local.Flight = "LOCALFLT"
	wide := report("a1b2c3", 32.42, -95.32, model.SourceOpenSky)

	out := b.Blend([]Input{
		{SourceID: "opensky", Priority: model.PriorityWideArea, Reports: []model.Aircraft{wide}},
		{SourceID: "dump1090", Priority: model.PriorityLocalReceiver, Reports: []model.Aircraft{local}},
		{SourceID: "pi_station:ETEX01", Priority: model.PriorityPiStation, Reports: []model.Aircraft{pi}},
	})

	if len(out) != 1 {
		t.Fatalf("Expected 1 aircraft, got %d", len(out))
	}
	ac := out[0]
	if ac.Flight != "PIFLT" {
		t.Errorf("Expected pi-station report to win, got flight %q", ac.Flight)
	}
	if *ac.Lat != 32.40 {
		t.Errorf("Expected winner's position, got lat %v", *ac.Lat)
	}
	if ac.DataSource != model.SourceBlended {
		t.Errorf("Expected blended tag for multi-source hex, got %s", ac.DataSource)
	}
}

func TestBlendSingleSourceKeepsTag(t *testing.T) {
	b := New(tyler, 150)
	out := b.Blend([]Input{{
		SourceID: "dump1090",
		Priority: model.PriorityLocalReceiver,
		Reports:  []model.Aircraft{report("a1b2c3", 32.4, -95.3, model.SourceDump1090)},
	}})
	if len(out) != 1 || out[0].DataSource != model.SourceDump1090 {
		t.Errorf("Expected dump1090 tag for single-source hex, got %+v", out)
	}
}

func TestBlendTieBreaks(t *testing.T) {
	b := New(tyler, 150)

	t.Run("Fresher seen wins at equal priority", func(t *testing.T) {
		fresh := report("a1b2c3", 32.40, -95.30, model.SourceDump1090)
		fresh.Seen = fptr(0.5)
		fresh.Flight = "FRESH"
		stale := report("a1b2c3", 32.45, -95.35, model.SourceDump1090)
		stale.Seen = fptr(30)
		stale.Flight = "STALE"

		out := b.Blend([]Input{
			{SourceID: "rx-a", Priority: model.PriorityLocalReceiver, Reports: []model.Aircraft{stale}},
			{SourceID: "rx-b", Priority: model.PriorityLocalReceiver, Reports: []model.Aircraft{fresh}},
		})
		if out[0].Flight != "FRESH" {
			t.Errorf("Expected fresher report to win, got %q", out[0].Flight)
		}
	})

	t.Run("More messages wins at equal seen", func(t *testing.T) {
		busy := report("a1b2c3", 32.40, -95.30, model.SourceDump1090)
		busy.Seen, busy.Messages, busy.Flight = fptr(1), iptr(900), "BUSY"
		quiet := report("a1b2c3", 32.45, -95.35, model.SourceDump1090)
		quiet.Seen, quiet.Messages, quiet.Flight = fptr(1), iptr(10), "QUIET"

		out := b.Blend([]Input{
			{SourceID: "rx-a", Priority: model.PriorityLocalReceiver, Reports: []model.Aircraft{quiet}},
			{SourceID: "rx-b", Priority: model.PriorityLocalReceiver, Reports: []model.Aircraft{busy}},
		})
		if out[0].Flight != "BUSY" {
			t.Errorf("Expected higher message count to win, got %q", out[0].Flight)
		}
	})

	t.Run("Source id breaks remaining ties", func(t *testing.T) {
		a := report("a1b2c3", 32.40, -95.30, model.SourceDump1090)
		a.Seen, a.Flight = fptr(1), "ALPHA"
		z := report("a1b2c3", 32.45, -95.35, model.SourceDump1090)
		z.Seen, z.Flight = fptr(1), "ZULU"

		out := b.Blend([]Input{
			{SourceID: "rx-z", Priority: model.PriorityLocalReceiver, Reports: []model.Aircraft{z}},
			{SourceID: "rx-a", Priority: model.PriorityLocalReceiver, Reports: []model.Aircraft{a}},
		})
		if out[0].Flight != "ALPHA" {
			t.Errorf("Expected smaller source id to win, got %q", out[0].Flight)
		}
	})

	t.Run("Missing seen loses to any seen", func(t *testing.T) {
		hasSeen := report("a1b2c3", 32.40, -95.30, model.SourceDump1090)
		hasSeen.Seen, hasSeen.Flight = fptr(45), "SEEN"
		noSeen := report("a1b2c3", 32.45, -95.35, model.SourceDump1090)
		noSeen.Flight = "NOSEEN"

		out := b.Blend([]Input{
			{SourceID: "rx-a", Priority: model.PriorityLocalReceiver, Reports: []model.Aircraft{noSeen}},
			{SourceID: "rx-b", Priority: model.PriorityLocalReceiver, Reports: []model.Aircraft{hasSeen}},
		})
		if out[0].Flight != "SEEN" {
			t.Errorf("Expected report with seen to win, got %q", out[0].Flight)
		}
	})
}

func TestBlendDropsInvalidReports(t *testing.T) {
	b := New(tyler, 150)

	noPos := model.Aircraft{Hex: "d4e5f6", DataSource: model.SourceOpenSky}
	badHex := report("nothex", 32.4, -95.3, model.SourceDump1090)
	farAway := report("c0ffee", 45.0, -120.0, model.SourceDump1090)
	good := report("a1b2c3", 32.4, -95.3, model.SourceDump1090)

	out := b.Blend([]Input{{
		SourceID: "dump1090",
		Priority: model.PriorityLocalReceiver,
		Reports:  []model.Aircraft{noPos, badHex, farAway, good},
	}})

	if len(out) != 1 || out[0].Hex != "a1b2c3" {
		t.Errorf("Expected only the valid in-bounds report, got %+v", out)
	}
}

func TestBlendBoundsTolerance(t *testing.T) {
	b := New(tyler, 150)
	box := geo.DeriveBoundingBox(tyler, 150)

	// Just past the box edge but inside the tolerance band.
	edge := report("a1b2c3", box.LatMax+0.2, tyler.Lon, model.SourceDump1090)
	out := b.Blend([]Input{{
		SourceID: "dump1090",
		Priority: model.PriorityLocalReceiver,
		Reports:  []model.Aircraft{edge},
	}})
	if len(out) != 1 {
		t.Errorf("Expected edge report within tolerance to be kept, got %d", len(out))
	}
}

func TestBlendWinnerCarriedVerbatim(t *testing.T) {
	b := New(tyler, 150)

	winner := report("a1b2c3", 32.40, -95.30, "pi_station:ETEX01")
	winner.GS = fptr(120)
	loser := report("a1b2c3", 32.41, -95.31, model.SourceDump1090)
	loser.Flight = "N123AB"
	loser.Squawk = "1200"
	loser.AltBaro = iptr(2500)
	loser.RSSI = fptr(-10)

	out := b.Blend([]Input{
		{SourceID: "dump1090", Priority: model.PriorityLocalReceiver, Reports: []model.Aircraft{loser}},
		{SourceID: "pi_station:ETEX01", Priority: model.PriorityPiStation, Reports: []model.Aircraft{winner}},
	})

	// No field-level mixing: the loser's fields never leak into the winner.
	ac := out[0]
	if ac.Flight != "" || ac.Squawk != "" || ac.AltBaro != nil || ac.RSSI != nil {
		t.Errorf("Loser fields leaked into winner: %+v", ac)
	}
	if ac.GS == nil || *ac.GS != 120 {
		t.Errorf("Winner's ground speed lost, got %v", ac.GS)
	}
	if *ac.Lat != 32.40 {
		t.Errorf("Winner's position lost, got %v", *ac.Lat)
	}
}

func TestBlendSortOrder(t *testing.T) {
	b := New(tyler, 150)

	near := report("ffffff", 32.36, -95.30, model.SourceDump1090)
	far := report("000001", 33.00, -95.30, model.SourceDump1090)
	// Same position as near, larger hex sorts second.
	tied := report("aaaaaa", 32.36, -95.30, model.SourceDump1090)

	out := b.Blend([]Input{{
		SourceID: "dump1090",
		Priority: model.PriorityLocalReceiver,
		Reports:  []model.Aircraft{far, near, tied},
	}})

	var hexes []string
	for _, ac := range out {
		hexes = append(hexes, ac.Hex)
	}
	want := []string{"aaaaaa", "ffffff", "000001"}
	if strings.Join(hexes, ",") != strings.Join(want, ",") {
		t.Errorf("Sort order = %v, want %v", hexes, want)
	}
	for i := 1; i < len(out); i++ {
		if *out[i].DistanceMiles < *out[i-1].DistanceMiles {
			t.Errorf("Distances not ascending: %v then %v", *out[i-1].DistanceMiles, *out[i].DistanceMiles)
		}
	}
}

func TestBlendDeterministic(t *testing.T) {
	b := New(tyler, 150)

	inputs := []Input{
		{SourceID: "opensky", Priority: model.PriorityWideArea, Reports: []model.Aircraft{
			report("a1b2c3", 32.42, -95.32, model.SourceOpenSky),
			report("d4e5f6", 32.50, -95.40, model.SourceOpenSky),
		}},
		{SourceID: "dump1090", Priority: model.PriorityLocalReceiver, Reports: []model.Aircraft{
			report("a1b2c3", 32.40, -95.30, model.SourceDump1090),
			report("aabbcc", 32.38, -95.28, model.SourceDump1090),
		}},
	}
	reversed := []Input{inputs[1], inputs[0]}

	first := b.Blend(inputs)
	second := b.Blend(reversed)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Blend depends on input order:\n%+v\nvs\n%+v", first, second)
	}
}

func TestBlendIdempotent(t *testing.T) {
	b := New(tyler, 150)

	inputs := []Input{
		{SourceID: "opensky", Priority: model.PriorityWideArea, Reports: []model.Aircraft{
			report("a1b2c3", 32.42, -95.32, model.SourceOpenSky),
		}},
		{SourceID: "dump1090", Priority: model.PriorityLocalReceiver, Reports: []model.Aircraft{
			report("a1b2c3", 32.40, -95.30, model.SourceDump1090),
			report("aabbcc", 32.38, -95.28, model.SourceDump1090),
		}},
	}

	once := b.Blend(inputs)
	twice := b.Blend([]Input{{
		SourceID: "blended",
		Priority: model.PriorityPiStation,
		Reports:  once,
	}})
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Blend not idempotent:\n%+v\nvs\n%+v", once, twice)
	}
}

func TestBlendEmpty(t *testing.T) {
	b := New(tyler, 150)
	if out := b.Blend(nil); len(out) != 0 {
		t.Errorf("Expected empty snapshot, got %+v", out)
	}
}

func TestEnrich(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory()
	reg := registry.New(store)

	csv := "icao24,registration,manufacturername,model,icaoaircrafttype\n" +
		"a1b2c3,N12345,Bell,206B,H1T\n" +
		"d4e5f6,N67890,Boeing,737-800,L2J\n"
	if _, _, err := reg.ImportCSV(ctx, strings.NewReader(csv)); err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}

	aircraft := []model.Aircraft{
		report("a1b2c3", 32.4, -95.3, model.SourceDump1090),
		report("d4e5f6", 32.5, -95.4, model.SourceDump1090),
		report("ffffff", 32.6, -95.5, model.SourceDump1090),
	}
	hits, err := Enrich(ctx, reg, aircraft)
	if err != nil {
		t.Fatalf("Enrich failed: %v", err)
	}
	if hits != 2 {
		t.Errorf("Expected 2 registry hits, got %d", hits)
	}

	if aircraft[0].Registration != "N12345" || !aircraft[0].IsHelicopter {
		t.Errorf("Expected enriched helicopter, got %+v", aircraft[0])
	}
	if aircraft[1].IsHelicopter {
		t.Error("Fixed-wing marked as helicopter")
	}
	if aircraft[2].Registration != "" || aircraft[2].IsHelicopter {
		t.Errorf("Unknown hex should pass through untouched, got %+v", aircraft[2])
	}

	choppers := Helicopters(aircraft)
	if len(choppers) != 1 || choppers[0].Hex != "a1b2c3" {
		t.Errorf("Helicopters = %+v", choppers)
	}
}
