package geo

import (
	"math"
	"testing"

	"github.com/example/parish-rides/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(10, 20, 10, 20)
	if d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

func TestDistanceMilesKnownPair(t *testing.T) {
	// Downtown SF fixture used throughout the donation suggestion tests.
	a := models.Coord{Lat: 37.7749, Lon: -122.4194}
	b := models.Coord{Lat: 37.7849, Lon: -122.4094}
	mi := DistanceMiles(a, b)
	if math.Abs(mi-0.879) > 0.03 {
		t.Fatalf("expected ~0.88 miles, got %v", mi)
	}
}

func TestValidCoord(t *testing.T) {
	good := []models.Coord{{Lat: 0, Lon: 0}, {Lat: -90, Lon: 180}, {Lat: 37.7, Lon: -122.4}}
	for _, c := range good {
		if !ValidCoord(c) {
			t.Errorf("expected %v valid", c)
		}
	}
	bad := []models.Coord{
		{Lat: 91, Lon: 0}, {Lat: 0, Lon: -181},
		{Lat: math.NaN(), Lon: 0}, {Lat: 0, Lon: math.Inf(1)},
	}
	for _, c := range bad {
		if ValidCoord(c) {
			t.Errorf("expected %v invalid", c)
		}
	}
}
