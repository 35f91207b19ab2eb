// Package mapview reflects tracker and route state onto a map widget.
package mapview

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"

	"zholda/models"
)

// ErrNoMarker is returned when updating or removing a marker the widget does not have.
var ErrNoMarker = errors.New("mapview: no such marker")

// MarkerKind selects the marker icon.
type MarkerKind string

const (
	MarkerUser MarkerKind = "user"
	MarkerFrom MarkerKind = "from"
	MarkerTo   MarkerKind = "to"
)

// LineStyle describes a drawn line. Dashed lines mark straight-line fallbacks.
type LineStyle struct {
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Dashed bool    `json:"dashed,omitempty"`
}

var (
	RoutedStyle   = LineStyle{Color: "#2E86DE", Width: 4}
	StraightStyle = LineStyle{Color: "#E67E22", Width: 3, Dashed: true}
)

// Widget is the map SDK surface the adapter drives.
type Widget interface {
	Init(ctx context.Context, center models.Coordinate, zoom float64, theme string) error
	AddMarker(ctx context.Context, id string, c models.Coordinate, kind MarkerKind) error
	UpdateMarker(ctx context.Context, id string, c models.Coordinate) error
	RemoveMarker(ctx context.Context, id string) error
	// Center returns the viewport center, false before Init.
	Center() (models.Coordinate, bool)
	SetCenter(ctx context.Context, c models.Coordinate, animate time.Duration) error
	FitBounds(ctx context.Context, b orb.Bound, animate time.Duration) error
	DrawLine(ctx context.Context, id string, line orb.LineString, style LineStyle) error
	RemoveLine(ctx context.Context, id string) error
}
