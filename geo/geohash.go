package geo

import (
	"github.com/mmcloughlin/geohash"
)

// DriverPrecision is the geohash length used for driver buckets. A 4-character cell is
// roughly 39x19 km, so a cell plus its neighbours always covers a 10 km search radius.
const DriverPrecision = 4

// Encode coordinates into a geohash with specified precision.
func Encode(lat, lon float64, precision uint) string {
	return geohash.EncodeWithPrecision(lat, lon, precision)
}

// GetNeighbors returns the geohashes of neighboring cells.
func GetNeighbors(hash string) []string {
	return geohash.Neighbors(hash)
}

// Cover returns the cell containing (lat, lon) followed by its eight neighbours.
func Cover(lat, lon float64, precision uint) []string {
	hash := Encode(lat, lon, precision)
	return append([]string{hash}, GetNeighbors(hash)...)
}
