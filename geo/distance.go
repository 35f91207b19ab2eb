// Package geo holds the great-circle math, bounds and spatial indexes shared by the
// tracker, the map adapter and the matching code.
package geo

import (
	"math"

	"zholda/models"
)

// EarthRadiusKm is the mean Earth radius used by every distance in this module.
const EarthRadiusKm = 6371.0

// DistanceKm returns the Haversine great-circle distance between a and b in kilometers.
func DistanceKm(a, b models.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c
}

// DistanceMeters is DistanceKm in meters.
func DistanceMeters(a, b models.Coordinate) float64 {
	return DistanceKm(a, b) * 1000
}

// PathLengthKm sums the pairwise distances along path.
func PathLengthKm(path []models.Coordinate) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += DistanceKm(path[i-1], path[i])
	}
	return total
}

// RoundTenth rounds km to one decimal place, the precision shown to users.
func RoundTenth(km float64) float64 {
	return math.Round(km*10) / 10
}
