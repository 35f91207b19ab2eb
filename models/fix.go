package models

import (
	"errors"
	"math"
)

var (
	ErrInvalidCoordinate = errors.New("coordinate out of range")
	ErrInvalidAccuracy   = errors.New("accuracy must be a non-negative number")
)

// PositionFix is a single device position report.
type PositionFix struct {
	Longitude      float64  `json:"longitude"`
	Latitude       float64  `json:"latitude"`
	AccuracyMeters float64  `json:"accuracy"`
	CapturedAt     int64    `json:"timestamp"`         // unix millis
	Speed          *float64 `json:"speed,omitempty"`   // m/s
	Heading        *float64 `json:"heading,omitempty"` // degrees
}

// Coordinate returns the fix position.
func (f PositionFix) Coordinate() Coordinate {
	return Coordinate{Lon: f.Longitude, Lat: f.Latitude}
}

// Validate checks the coordinate ranges and accuracy.
func (f PositionFix) Validate() error {
	if math.IsNaN(f.Longitude) || math.IsNaN(f.Latitude) || !f.Coordinate().Valid() {
		return ErrInvalidCoordinate
	}
	if math.IsNaN(f.AccuracyMeters) || f.AccuracyMeters < 0 {
		return ErrInvalidAccuracy
	}
	return nil
}
