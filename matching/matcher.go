package matching

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"zholda/cache"
	"zholda/database"
	"zholda/geo"
	"zholda/models"
)

const (
	// RouteRadiusKm is how far from a route start a driver may be to match it.
	RouteRadiusKm = 10.0
	// NotifyRadiusKm is how far from a pickup point drivers are notified of a new order.
	NotifyRadiusKm = 15.0
)

// DriverStore is the driver persistence the matcher reads.
type DriverStore interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.Driver, error)
	ActiveRequests(ctx context.Context, telegramID int64) ([]models.DriverRequest, error)
	Near(ctx context.Context, c models.Coordinate, radiusKm float64) ([]models.Driver, error)
}

// Locator yields drivers indexed around a point.
type Locator interface {
	Candidates(ctx context.Context, c models.Coordinate) ([]cache.Located, error)
}

// NearDriver is a driver and its distance from the search point.
type NearDriver struct {
	Driver     models.Driver
	DistanceKm float64
}

// Matcher finds drivers for a client route.
type Matcher struct {
	drivers DriverStore
	locator Locator
	log     *zap.Logger
}

// NewMatcher builds a matcher. A nil locator searches the driver table directly.
func NewMatcher(drivers DriverStore, locator Locator, log *zap.Logger) *Matcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Matcher{drivers: drivers, locator: locator, log: log}
}

// DriversNear returns paid drivers within radiusKm of c, nearest first.
// Geohash candidates are preferred; the table is searched when the locator fails or is empty.
func (m *Matcher) DriversNear(ctx context.Context, c models.Coordinate, radiusKm float64) ([]NearDriver, error) {
	if m.locator != nil {
		near, err := m.fromLocator(ctx, c, radiusKm)
		if err == nil && len(near) > 0 {
			return near, nil
		}
		if err != nil {
			m.log.Warn("driver locator failed, searching the database", zap.Error(err))
		}
	}

	drivers, err := m.drivers.Near(ctx, c, radiusKm)
	if err != nil {
		return nil, err
	}
	near := make([]NearDriver, 0, len(drivers))
	for _, d := range drivers {
		dist := geo.DistanceKm(c, models.Coordinate{Lon: d.StartLon, Lat: d.StartLat})
		near = append(near, NearDriver{Driver: d, DistanceKm: dist})
	}
	sortNear(near)
	return near, nil
}

func (m *Matcher) fromLocator(ctx context.Context, c models.Coordinate, radiusKm float64) ([]NearDriver, error) {
	candidates, err := m.locator.Candidates(ctx, c)
	if err != nil {
		return nil, err
	}
	var near []NearDriver
	for _, cand := range candidates {
		dist := geo.DistanceKm(c, cand.Coordinate)
		if dist > radiusKm {
			continue
		}
		d, err := m.drivers.GetByTelegramID(ctx, cand.TelegramID)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !d.Paid {
			continue
		}
		near = append(near, NearDriver{Driver: *d, DistanceKm: dist})
	}
	sortNear(near)
	return near, nil
}

// MatchRoute returns drivers near the start of a route together with their latest
// active offer. Drivers without an active offer are skipped.
func (m *Matcher) MatchRoute(ctx context.Context, from models.Coordinate) ([]models.MatchedDriver, error) {
	near, err := m.DriversNear(ctx, from, RouteRadiusKm)
	if err != nil {
		return nil, err
	}
	matched := []models.MatchedDriver{}
	for _, n := range near {
		requests, err := m.drivers.ActiveRequests(ctx, n.Driver.TelegramID)
		if err != nil {
			m.log.Warn("failed to load driver requests",
				zap.Int64("driver_id", n.Driver.TelegramID), zap.Error(err))
			continue
		}
		if len(requests) == 0 {
			continue
		}
		req := requests[0]
		matched = append(matched, models.MatchedDriver{
			TelegramID:    n.Driver.TelegramID,
			FullName:      n.Driver.FullName,
			ProfilePhoto:  n.Driver.ProfilePhotoPath,
			TruckPhoto:    n.Driver.TruckPhotoPath,
			Contact:       n.Driver.Contact,
			FromAddress:   req.FromAddress,
			ToAddress:     req.ToAddress,
			FromLat:       req.FromLat,
			FromLon:       req.FromLon,
			ToLat:         req.ToLat,
			ToLon:         req.ToLon,
			Price:         req.Price,
			Comment:       req.Comment,
			DepartureTime: req.DepartureTime,
			DistanceKm:    geo.RoundTenth(n.DistanceKm),
		})
	}
	return matched, nil
}

func sortNear(near []NearDriver) {
	sort.SliceStable(near, func(i, j int) bool { return near[i].DistanceKm < near[j].DistanceKm })
}
