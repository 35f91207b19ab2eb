package mapview

import (
	"context"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"zholda/models"
	"zholda/wire"
)

type initCmd struct {
	Center models.Coordinate `json:"center"`
	Zoom   float64           `json:"zoom"`
	Theme  string            `json:"theme"`
}

type markerCmd struct {
	Coordinate models.Coordinate `json:"coordinate"`
	Kind       MarkerKind        `json:"kind,omitempty"`
}

type centerCmd struct {
	Center     models.Coordinate `json:"center"`
	DurationMs int64             `json:"duration"`
}

type fitCmd struct {
	Bounds     [2]models.Coordinate `json:"bounds"` // south-west, north-east
	DurationMs int64                `json:"duration"`
}

type lineCmd struct {
	Feature *geojson.Feature `json:"feature"`
	Style   LineStyle        `json:"style"`
}

// Viewport is the payload of a viewport frame sent by the page after every map move.
type Viewport struct {
	Center models.Coordinate `json:"center"`
	Zoom   float64           `json:"zoom"`
}

// Socket is a Widget that drives the map rendered by the page. Commands are sent as frames;
// the viewport center is kept from viewport frames.
type Socket struct {
	out wire.Sender

	mu      sync.Mutex
	ready   bool
	center  models.Coordinate
	markers map[string]bool
}

// NewSocket creates a Socket writing to out.
func NewSocket(out wire.Sender) *Socket {
	return &Socket{out: out, markers: make(map[string]bool)}
}

func (s *Socket) Init(ctx context.Context, center models.Coordinate, zoom float64, theme string) error {
	if err := wire.Emit(ctx, s.out, wire.TypeMapInit, "", initCmd{Center: center, Zoom: zoom, Theme: theme}); err != nil {
		return err
	}
	s.mu.Lock()
	s.ready = true
	s.center = center
	s.mu.Unlock()
	return nil
}

func (s *Socket) AddMarker(ctx context.Context, id string, c models.Coordinate, kind MarkerKind) error {
	if err := wire.Emit(ctx, s.out, wire.TypeMarkerAdd, id, markerCmd{Coordinate: c, Kind: kind}); err != nil {
		return err
	}
	s.mu.Lock()
	s.markers[id] = true
	s.mu.Unlock()
	return nil
}

func (s *Socket) UpdateMarker(ctx context.Context, id string, c models.Coordinate) error {
	s.mu.Lock()
	known := s.markers[id]
	s.mu.Unlock()
	if !known {
		return ErrNoMarker
	}
	return wire.Emit(ctx, s.out, wire.TypeMarkerUpdate, id, markerCmd{Coordinate: c})
}

func (s *Socket) RemoveMarker(ctx context.Context, id string) error {
	s.mu.Lock()
	known := s.markers[id]
	delete(s.markers, id)
	s.mu.Unlock()
	if !known {
		return ErrNoMarker
	}
	return wire.Emit(ctx, s.out, wire.TypeMarkerRemove, id, nil)
}

func (s *Socket) Center() (models.Coordinate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.center, s.ready
}

func (s *Socket) SetCenter(ctx context.Context, c models.Coordinate, animate time.Duration) error {
	if err := wire.Emit(ctx, s.out, wire.TypeMapCenter, "", centerCmd{Center: c, DurationMs: animate.Milliseconds()}); err != nil {
		return err
	}
	s.mu.Lock()
	s.center = c
	s.mu.Unlock()
	return nil
}

func (s *Socket) FitBounds(ctx context.Context, b orb.Bound, animate time.Duration) error {
	cmd := fitCmd{
		Bounds:     [2]models.Coordinate{models.FromPoint(b.Min), models.FromPoint(b.Max)},
		DurationMs: animate.Milliseconds(),
	}
	if err := wire.Emit(ctx, s.out, wire.TypeMapFit, "", cmd); err != nil {
		return err
	}
	s.mu.Lock()
	s.center = models.FromPoint(b.Center())
	s.mu.Unlock()
	return nil
}

func (s *Socket) DrawLine(ctx context.Context, id string, line orb.LineString, style LineStyle) error {
	f := geojson.NewFeature(line)
	f.Properties["id"] = id
	return wire.Emit(ctx, s.out, wire.TypeLineDraw, id, lineCmd{Feature: f, Style: style})
}

func (s *Socket) RemoveLine(ctx context.Context, id string) error {
	return wire.Emit(ctx, s.out, wire.TypeLineRemove, id, nil)
}

// HandleViewport records the center reported by a viewport frame.
func (s *Socket) HandleViewport(f wire.Frame) error {
	var v Viewport
	if err := f.Decode(&v); err != nil {
		return err
	}
	s.mu.Lock()
	s.center = v.Center
	s.ready = true
	s.mu.Unlock()
	return nil
}
