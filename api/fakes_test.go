package api

import (
	"context"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"zholda/database"
	"zholda/geo"
	"zholda/models"
)

type memClients struct {
	mu       sync.Mutex
	clients  map[int64]models.Client
	requests []models.ClientRequest
}

func newMemClients() *memClients {
	return &memClients{clients: make(map[int64]models.Client)}
}

func (m *memClients) GetByTelegramID(_ context.Context, id int64) (*models.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &c, nil
}

func (m *memClients) Insert(_ context.Context, c *models.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = int64(len(m.clients) + 1)
	m.clients[c.TelegramID] = *c
	return nil
}

func (m *memClients) InsertRequest(_ context.Context, req *models.ClientRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.ID = int64(len(m.requests) + 1)
	m.requests = append(m.requests, *req)
	return nil
}

func (m *memClients) ActiveRequests(context.Context) ([]models.ClientRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ClientRequest{}
	for _, r := range m.requests {
		if r.Status == "active" {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memClients) RequestsNear(ctx context.Context, c models.Coordinate, radiusKm float64) ([]models.ClientRequest, error) {
	all, _ := m.ActiveRequests(ctx)
	out := []models.ClientRequest{}
	for _, r := range all {
		if geo.DistanceKm(c, models.Coordinate{Lon: r.FromLon, Lat: r.FromLat}) <= radiusKm {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memClients) RequestsByRoute(ctx context.Context, from, to string) ([]models.ClientRequest, error) {
	all, _ := m.ActiveRequests(ctx)
	out := []models.ClientRequest{}
	for _, r := range all {
		if strings.Contains(strings.ToLower(r.FromAddress), strings.ToLower(from)) &&
			strings.Contains(strings.ToLower(r.ToAddress), strings.ToLower(to)) {
			out = append(out, r)
		}
	}
	return out, nil
}

type memDrivers struct {
	mu       sync.Mutex
	drivers  map[int64]models.Driver
	requests map[int64][]models.DriverRequest
}

func newMemDrivers() *memDrivers {
	return &memDrivers{drivers: make(map[int64]models.Driver), requests: make(map[int64][]models.DriverRequest)}
}

func (m *memDrivers) Exists(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.drivers[id]
	return ok, nil
}

func (m *memDrivers) GetByTelegramID(_ context.Context, id int64) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &d, nil
}

func (m *memDrivers) Upsert(_ context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.TelegramID] = *d
	return nil
}

func (m *memDrivers) InsertRequest(_ context.Context, req *models.DriverRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.ID = int64(len(m.requests[req.DriverID]) + 1)
	m.requests[req.DriverID] = append([]models.DriverRequest{*req}, m.requests[req.DriverID]...)
	return nil
}

func (m *memDrivers) ActiveRequests(_ context.Context, id int64) ([]models.DriverRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[id], nil
}

func (m *memDrivers) Near(_ context.Context, c models.Coordinate, radiusKm float64) ([]models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Driver
	for _, d := range m.drivers {
		if d.Paid && geo.DistanceKm(c, models.Coordinate{Lon: d.StartLon, Lat: d.StartLat}) <= radiusKm {
			out = append(out, d)
		}
	}
	return out, nil
}

type memIndex struct {
	mu      sync.Mutex
	indexed map[int64]models.Coordinate
}

func (m *memIndex) Index(_ context.Context, id int64, c models.Coordinate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexed == nil {
		m.indexed = make(map[int64]models.Coordinate)
	}
	m.indexed[id] = c
	return nil
}

func (m *memIndex) get(id int64) (models.Coordinate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.indexed[id]
	return c, ok
}

type fakeNotifier struct {
	orders     chan models.ClientRequest
	registered chan int64
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{orders: make(chan models.ClientRequest, 4), registered: make(chan int64, 4)}
}

func (n *fakeNotifier) NotifyNearbyDrivers(_ context.Context, req models.ClientRequest) int {
	n.orders <- req
	return 1
}

func (n *fakeNotifier) NotifyRegistered(_ context.Context, id int64) {
	n.registered <- id
}

type echoSessions struct{}

func (echoSessions) Serve(_ context.Context, conn *websocket.Conn, id int64, role string) {
	defer conn.Close()
	conn.WriteJSON(map[string]interface{}{"type": "status", "telegram_id": id, "role": role})
}
