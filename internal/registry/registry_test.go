package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/jeffstrout/flightTrackerCollector/internal/cache"
	"github.com/jeffstrout/flightTrackerCollector/pkg/config"
)

const registryCSV = `icao24,registration,manufacturername,model,typecode,operator,owner,icaoaircrafttype
a1b2c3,N12345,Bell,206B,B06,Air Methods,Air Methods Corp,H1T
A9C8D7,N54321,Boeing,737-800,B738,United Airlines,United Airlines Inc,L2J
zzzzzz,N00000,Bogus,Row,,,,"L1P"
,N11111,NoHex,Row,,,,
d4e5f6,,,,,,,
abc123,N77777,Cessna,172S,C172,,,L1P
`

// countingStore wraps a Store and counts batch round trips.
type countingStore struct {
	cache.Store
	batchHGetAlls int
}

func (c *countingStore) BatchHGetAll(ctx context.Context, keys []string) ([]map[string]string, error) {
	c.batchHGetAlls++
	return c.Store.BatchHGetAll(ctx, keys)
}

func TestImportCSV(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory()
	svc := New(store)

	imported, skipped, err := svc.ImportCSV(ctx, strings.NewReader(registryCSV))
	if err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}
	// Rows with invalid or missing hexes and the all-empty row are skipped
	// and counted; the uppercase hex is normalized.
	if imported != 3 {
		t.Errorf("Expected 3 imported rows, got %d", imported)
	}
	if skipped != 3 {
		t.Errorf("Expected 3 skipped rows, got %d", skipped)
	}

	fields, err := store.HGetAll(ctx, cache.RegistryKey("a9c8d7"))
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if fields["registration"] != "N54321" || fields["icao_aircraft_class"] != "L2J" {
		t.Errorf("Unexpected entry for a9c8d7: %v", fields)
	}

	if _, err := store.HGetAll(ctx, cache.RegistryKey("zzzzzz")); err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
}

func TestImportCSVColumnOrder(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory()
	svc := New(store)

	// Same columns, shuffled order. The header mapping must still apply.
	csv := "registration,icao24,model,manufacturername,icaoaircrafttype\n" +
		"N12345,a1b2c3,206B,Bell,H1T\n"
	if _, _, err := svc.ImportCSV(ctx, strings.NewReader(csv)); err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}

	fields, _ := store.HGetAll(ctx, cache.RegistryKey("a1b2c3"))
	if fields["manufacturer"] != "Bell" || fields["model"] != "206B" {
		t.Errorf("Header mapping broken: %v", fields)
	}
}

func TestImportCSVMissingHexColumn(t *testing.T) {
	svc := New(cache.NewMemory())
	if _, _, err := svc.ImportCSV(context.Background(), strings.NewReader("registration,model\nN1,737\n")); err == nil {
		t.Fatal("Expected error for CSV without icao24 column")
	}
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: cache.NewMemory()}
	svc := New(store)

	if _, _, err := svc.ImportCSV(ctx, strings.NewReader(registryCSV)); err != nil {
		t.Fatalf("ImportCSV failed: %v", err)
	}

	entries, err := svc.Lookup(ctx, []string{"a1b2c3", "a9c8d7", "ffffff"})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries["a1b2c3"].ICAOAircraftClass != "H1T" {
		t.Errorf("Unexpected entry: %+v", entries["a1b2c3"])
	}
	if store.batchHGetAlls != 1 {
		t.Errorf("Expected one batched round trip, got %d", store.batchHGetAlls)
	}

	// All three hexes (including the negative result) are now in the LRU,
	// so a repeat lookup hits the store zero times.
	entries, err = svc.Lookup(ctx, []string{"a1b2c3", "a9c8d7", "ffffff"})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 entries on repeat, got %d", len(entries))
	}
	if store.batchHGetAlls != 1 {
		t.Errorf("Expected no extra round trips, got %d", store.batchHGetAlls)
	}
}

func TestLookupDeduplicatesHexes(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: cache.NewMemory()}
	svc := New(store)
	svc.ImportCSV(ctx, strings.NewReader(registryCSV))

	entries, err := svc.Lookup(ctx, []string{"a1b2c3", "a1b2c3", "a1b2c3"})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 entry, got %d", len(entries))
	}
}

func TestLoadWithoutData(t *testing.T) {
	svc := New(cache.NewMemory())
	if err := svc.Load(context.Background(), config.RegistryConfig{}); err != nil {
		t.Fatalf("Load should degrade, not fail: %v", err)
	}
	if svc.Enabled() {
		t.Error("Expected service disabled without registry data")
	}

	entries, err := svc.Lookup(context.Background(), []string{"a1b2c3"})
	if err != nil || len(entries) != 0 {
		t.Errorf("Disabled lookup = %v, %v", entries, err)
	}
}
