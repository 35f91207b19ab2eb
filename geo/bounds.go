package geo

import (
	"github.com/paulmach/orb"

	"zholda/models"
)

const (
	boundsPadding = 0.1
	// minPadDegrees is used on an axis with zero span so that every input point stays
	// strictly inside the box.
	minPadDegrees = 0.0005
)

// ComputeBounds returns the bounding box of coords padded by 10% of the span on each axis.
// An empty input yields the zero bound.
func ComputeBounds(coords []models.Coordinate) orb.Bound {
	if len(coords) == 0 {
		return orb.Bound{}
	}

	b := orb.Bound{Min: coords[0].Point(), Max: coords[0].Point()}
	for _, c := range coords[1:] {
		b = b.Extend(c.Point())
	}

	lonPad := (b.Max.Lon() - b.Min.Lon()) * boundsPadding
	latPad := (b.Max.Lat() - b.Min.Lat()) * boundsPadding
	if lonPad == 0 {
		lonPad = minPadDegrees
	}
	if latPad == 0 {
		latPad = minPadDegrees
	}

	return orb.Bound{
		Min: orb.Point{b.Min.Lon() - lonPad, b.Min.Lat() - latPad},
		Max: orb.Point{b.Max.Lon() + lonPad, b.Max.Lat() + latPad},
	}
}

// StrictlyContains reports whether c lies inside b and not on its edge.
func StrictlyContains(b orb.Bound, c models.Coordinate) bool {
	return c.Lon > b.Min.Lon() && c.Lon < b.Max.Lon() &&
		c.Lat > b.Min.Lat() && c.Lat < b.Max.Lat()
}
