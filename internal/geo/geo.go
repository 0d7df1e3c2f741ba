package geo

import (
	"math"

	"github.com/example/parish-rides/internal/models"
)

// metersPerMile matches the constant used by the donation suggestion
// formula; keep them in lockstep.
const metersPerMile = 1609.34

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// DistanceMiles is the great-circle pickup->dropoff distance in miles,
// the input to distance-based donation suggestions. Straight line, not
// route distance.
func DistanceMiles(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / metersPerMile
}

// ValidCoord rejects non-finite values and out-of-range coordinates.
func ValidCoord(c models.Coord) bool {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}
