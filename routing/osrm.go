// Package routing computes driving routes between two route points, with a straight-line
// fallback when the routing service cannot answer.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"zholda/config"
	"zholda/models"
)

// ErrNoRoute is returned when the routing service found no path.
var ErrNoRoute = errors.New("routing: no route found")

// Router returns a driving path between two coordinates.
type Router interface {
	Route(ctx context.Context, from, to models.Coordinate) (orb.LineString, error)
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry geojson.Geometry `json:"geometry"`
		Distance float64          `json:"distance"`
	} `json:"routes"`
}

// OSRM is a Router backed by an OSRM HTTP endpoint.
type OSRM struct {
	baseURL string
	client  *http.Client
}

// NewOSRM creates a client for the OSRM server in cfg.
func NewOSRM(cfg config.RoutingConfig) *OSRM {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &OSRM{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Route calls /route/v1/driving and returns the full route geometry.
func (o *OSRM) Route(ctx context.Context, from, to models.Coordinate) (orb.LineString, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.baseURL, from.Lon, from.Lat, to.Lon, to.Lat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build route request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("route request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm returned %d", resp.StatusCode)
	}

	var parsed osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode route: %w", err)
	}
	if len(parsed.Routes) == 0 {
		return nil, ErrNoRoute
	}
	line, ok := parsed.Routes[0].Geometry.Coordinates.(orb.LineString)
	if !ok || len(line) < 2 {
		return nil, ErrNoRoute
	}
	return line, nil
}
