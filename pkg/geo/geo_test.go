package geo

import (
	"math"
	"testing"
)

func TestDistanceMiles(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Point
		expected float64
		tol      float64
	}{
		{"Zero distance", Point{32.35, -95.30}, Point{32.35, -95.30}, 0, 1e-9},
		{"One degree latitude", Point{0, 0}, Point{1, 0}, 69.09, 0.01},
		{"Tyler to nearby aircraft", Point{32.3513, -95.3011}, Point{32.4, -95.3}, 3.366, 0.01},
		{"Antipodal", Point{0, 0}, Point{0, 180}, math.Pi * EarthRadiusMiles, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMiles(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.tol {
				t.Errorf("Expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestDistanceMilesDeterministic(t *testing.T) {
	a := Point{32.3513, -95.3011}
	b := Point{33.0, -96.0}

	first := DistanceMiles(a, b)
	for i := 0; i < 100; i++ {
		if got := DistanceMiles(a, b); got != first {
			t.Fatalf("Distance not deterministic: %v vs %v", first, got)
		}
	}
}

func TestDeriveBoundingBox(t *testing.T) {
	t.Run("Widened by 2 percent", func(t *testing.T) {
		box := DeriveBoundingBox(Point{32.3513, -95.3011}, 150)

		wantLat := 150.0 / 69.0 * 1.02
		if math.Abs((box.LatMax-box.LatMin)/2-wantLat) > 1e-9 {
			t.Errorf("Expected lat half-span %f, got %f", wantLat, (box.LatMax-box.LatMin)/2)
		}

		wantLon := 150.0 / (69.0 * math.Cos(32.3513*math.Pi/180)) * 1.02
		if math.Abs((box.LonMax-box.LonMin)/2-wantLon) > 1e-9 {
			t.Errorf("Expected lon half-span %f, got %f", wantLon, (box.LonMax-box.LonMin)/2)
		}
	})

	t.Run("Center preserved", func(t *testing.T) {
		box := DeriveBoundingBox(Point{40, -100}, 100)
		if math.Abs((box.LatMin+box.LatMax)/2-40) > 1e-9 {
			t.Errorf("Lat center drifted: %f", (box.LatMin+box.LatMax)/2)
		}
		if math.Abs((box.LonMin+box.LonMax)/2+100) > 1e-9 {
			t.Errorf("Lon center drifted: %f", (box.LonMin+box.LonMax)/2)
		}
	})

	t.Run("Huge radius clips to globe", func(t *testing.T) {
		box := DeriveBoundingBox(Point{0, 0}, 90*69)
		want := BoundingBox{LatMin: -90, LonMin: -180, LatMax: 90, LonMax: 180}
		if box != want {
			t.Errorf("Expected full globe, got %+v", box)
		}
	})

	t.Run("Pole clips to globe", func(t *testing.T) {
		box := DeriveBoundingBox(Point{90, 0}, 50)
		want := BoundingBox{LatMin: -90, LonMin: -180, LatMax: 90, LonMax: 180}
		if box != want {
			t.Errorf("Expected full globe at pole, got %+v", box)
		}
	})
}

func TestBoundingBoxContains(t *testing.T) {
	box := BoundingBox{LatMin: 30, LonMin: -97, LatMax: 34, LonMax: -93}

	tests := []struct {
		name string
		p    Point
		tol  float64
		want bool
	}{
		{"Inside", Point{32, -95}, 0, true},
		{"Exactly on boundary", Point{30, -97}, 0, true},
		{"Exactly on max corner", Point{34, -93}, 0, true},
		{"Strictly outside", Point{34.0001, -95}, 0, false},
		{"Outside but within tolerance", Point{34.0001, -95}, 0.001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := box.Contains(tt.p, tt.tol); got != tt.want {
				t.Errorf("Contains(%+v, %v) = %v, want %v", tt.p, tt.tol, got, tt.want)
			}
		})
	}
}

func TestBoundingBoxAreaDeg2(t *testing.T) {
	box := BoundingBox{LatMin: 30, LonMin: -97, LatMax: 34, LonMax: -93}
	if got := box.AreaDeg2(); got != 16 {
		t.Errorf("Expected area 16, got %f", got)
	}
}
