package routing

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"zholda/geo"
	"zholda/metrics"
	"zholda/models"
)

// Route is a rendered path between two points.
type Route struct {
	Line       orb.LineString `json:"line"`
	DistanceKm float64        `json:"distance_km"`
	// Straight is set when the routing service failed and Line is the direct segment.
	Straight bool `json:"straight"`
}

// DisplayDistance is the distance rounded to one decimal.
func (r Route) DisplayDistance() float64 {
	return geo.RoundTenth(r.DistanceKm)
}

// Label renders the distance the way it is shown under the map.
func (r Route) Label() string {
	return fmt.Sprintf("%.1f км", r.DisplayDistance())
}

// Renderer is the part of the map adapter the coordinator draws on.
type Renderer interface {
	ShowRoute(ctx context.Context, line orb.LineString, straight bool) error
	FitBounds(ctx context.Context, coords []models.Coordinate) error
	Selecting() models.Role
}

// Coordinator computes and renders the route between the two selected points.
type Coordinator struct {
	router Router
	view   Renderer
	log    *zap.Logger
}

// NewCoordinator creates a coordinator. A nil router always draws straight lines.
func NewCoordinator(router Router, view Renderer, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{router: router, view: view, log: log}
}

// Compute asks the router for a path and falls back to the direct segment.
func (c *Coordinator) Compute(ctx context.Context, from, to models.Coordinate) Route {
	if c.router != nil {
		line, err := c.router.Route(ctx, from, to)
		if err == nil {
			metrics.RouteResults.WithLabelValues("routed").Inc()
			return Route{Line: line, DistanceKm: geo.PathLengthKm(toCoords(line))}
		}
		c.log.Warn("routing failed, drawing straight line", zap.Error(err))
	}
	metrics.RouteResults.WithLabelValues("straight").Inc()
	return Route{
		Line:       orb.LineString{from.Point(), to.Point()},
		DistanceKm: geo.DistanceKm(from, to),
		Straight:   true,
	}
}

// Update computes the route, draws it and fits the viewport to it unless the user is
// selecting a point. Routing failures are not errors; rendering failures are.
func (c *Coordinator) Update(ctx context.Context, from, to models.Coordinate) (Route, error) {
	r := c.Compute(ctx, from, to)
	if c.view == nil {
		return r, nil
	}
	if err := c.view.ShowRoute(ctx, r.Line, r.Straight); err != nil {
		return r, fmt.Errorf("draw route: %w", err)
	}
	if c.view.Selecting() == "" {
		if err := c.view.FitBounds(ctx, toCoords(r.Line)); err != nil {
			return r, fmt.Errorf("fit route: %w", err)
		}
	}
	return r, nil
}

func toCoords(line orb.LineString) []models.Coordinate {
	out := make([]models.Coordinate, len(line))
	for i, p := range line {
		out[i] = models.FromPoint(p)
	}
	return out
}
