package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"zholda/cache"
	"zholda/database"
	"zholda/geo"
	"zholda/models"
)

type fakeDrivers struct {
	drivers  map[int64]models.Driver
	requests map[int64][]models.DriverRequest
	nearHits int
}

func (f *fakeDrivers) GetByTelegramID(_ context.Context, id int64) (*models.Driver, error) {
	d, ok := f.drivers[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &d, nil
}

func (f *fakeDrivers) ActiveRequests(_ context.Context, id int64) ([]models.DriverRequest, error) {
	return f.requests[id], nil
}

func (f *fakeDrivers) Near(_ context.Context, c models.Coordinate, radiusKm float64) ([]models.Driver, error) {
	f.nearHits++
	var out []models.Driver
	for _, d := range f.drivers {
		if d.Paid && geo.DistanceKm(c, models.Coordinate{Lon: d.StartLon, Lat: d.StartLat}) <= radiusKm {
			out = append(out, d)
		}
	}
	return out, nil
}

type brokenLocator struct{}

func (brokenLocator) Candidates(context.Context, models.Coordinate) ([]cache.Located, error) {
	return nil, errors.New("connection refused")
}

var (
	pickup = models.Coordinate{Lon: 76.889709, Lat: 43.238949}
	close1 = models.Coordinate{Lon: 76.90, Lat: 43.24} // ~0.8 km
	close2 = models.Coordinate{Lon: 76.95, Lat: 43.26} // ~5.4 km
	far    = models.Coordinate{Lon: 77.10, Lat: 43.30} // ~18 km
)

func fixture() *fakeDrivers {
	driver := func(id int64, c models.Coordinate, paid bool) models.Driver {
		return models.Driver{TelegramID: id, FullName: "driver", StartLat: c.Lat, StartLon: c.Lon, Paid: paid}
	}
	offer := models.DriverRequest{FromAddress: "Алматы", ToAddress: "Астана", Price: 40000, DepartureTime: time.Now()}
	return &fakeDrivers{
		drivers: map[int64]models.Driver{
			1: driver(1, close1, true),
			2: driver(2, close2, true),
			3: driver(3, far, true),
			4: driver(4, close1, false),
		},
		requests: map[int64][]models.DriverRequest{
			1: {offer},
			3: {offer},
			4: {offer},
		},
	}
}

func TestDriversNearFromLocator(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	loc := cache.NewDriverLocator(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	store := fixture()
	ctx := context.Background()
	for id, d := range store.drivers {
		loc.Index(ctx, id, models.Coordinate{Lon: d.StartLon, Lat: d.StartLat})
	}

	near, err := NewMatcher(store, loc, nil).DriversNear(ctx, pickup, RouteRadiusKm)
	if err != nil {
		t.Fatal(err)
	}
	if len(near) != 2 || near[0].Driver.TelegramID != 1 || near[1].Driver.TelegramID != 2 {
		t.Fatalf("near = %+v", near)
	}
	if store.nearHits != 0 {
		t.Error("database searched although the locator answered")
	}
}

func TestDriversNearFallsBackToStore(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		locator Locator
	}{
		{"no locator", nil},
		{"broken locator", brokenLocator{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := fixture()
			near, err := NewMatcher(store, tt.locator, nil).DriversNear(context.Background(), pickup, RouteRadiusKm)
			if err != nil {
				t.Fatal(err)
			}
			if len(near) != 2 || near[0].DistanceKm > near[1].DistanceKm {
				t.Errorf("near = %+v", near)
			}
			if store.nearHits != 1 {
				t.Errorf("store searched %d times", store.nearHits)
			}
		})
	}
}

func TestMatchRouteSkipsDriversWithoutOffers(t *testing.T) {
	t.Parallel()
	matched, err := NewMatcher(fixture(), nil, nil).MatchRoute(context.Background(), pickup)
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 1 || matched[0].TelegramID != 1 {
		t.Fatalf("matched = %+v", matched)
	}
	if matched[0].ToAddress != "Астана" || matched[0].DistanceKm != geo.RoundTenth(geo.DistanceKm(pickup, close1)) {
		t.Errorf("matched = %+v", matched[0])
	}
}

type fakeSource []models.ClientRequest

func (s fakeSource) ActiveRequests(context.Context) ([]models.ClientRequest, error) { return s, nil }

func TestRequestsIndex(t *testing.T) {
	t.Parallel()
	req := func(id int64, c models.Coordinate) models.ClientRequest {
		return models.ClientRequest{ID: id, FromLat: c.Lat, FromLon: c.Lon, Status: "active"}
	}
	r := NewRequests()
	n, err := r.Load(context.Background(), fakeSource{req(1, close2), req(2, far), req(3, close1)})
	if err != nil || n != 3 {
		t.Fatalf("load = %d, %v", n, err)
	}

	got := r.Near(pickup, 10)
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 1 {
		t.Fatalf("near = %+v", got)
	}

	closed := req(3, close1)
	closed.Status = "closed"
	r.Add(closed)
	if got := r.Near(pickup, 10); len(got) != 1 || got[0].ID != 1 {
		t.Errorf("after close = %+v", got)
	}

	r.Load(context.Background(), fakeSource{req(9, far)})
	if r.Len() != 1 || len(r.Near(pickup, 10)) != 0 {
		t.Errorf("reload kept stale entries: len %d", r.Len())
	}
}
