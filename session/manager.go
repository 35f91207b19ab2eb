// Package session runs one tracking session per Mini App WebSocket connection.
//
// The page owns the device geolocation and the rendered map; the session owns the tracker,
// the map adapter, the route coordinator and the request form, and talks to the page in
// wire frames.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"zholda/backend"
	"zholda/config"
	"zholda/events"
	"zholda/flow"
	"zholda/geocoding"
	"zholda/location"
	"zholda/metrics"
	"zholda/models"
	"zholda/routing"
)

var errNoBackend = errors.New("session: no backend configured")

// DriverIndex stores the live position of drivers.
type DriverIndex interface {
	Index(ctx context.Context, telegramID int64, c models.Coordinate) error
}

// Backend is the REST surface used by the forms and searches.
type Backend interface {
	flow.Submitter
	CheckClient(ctx context.Context, telegramID int64) (exists, offertaAccepted bool, err error)
	MatchDrivers(ctx context.Context, from, to models.Coordinate) ([]models.MatchedDriver, error)
	SearchRequests(ctx context.Context, sq backend.SearchQuery) ([]models.ClientRequest, error)
}

// Config is shared by every session of a Manager.
type Config struct {
	Backend  Backend
	Router   routing.Router
	Geocoder geocoding.Geocoder
	Drivers  DriverIndex
	Events   events.Publisher
	Policy   location.Policy
	Map      config.MapConfig
	Lang     flow.Lang
	// Simulate replaces the page geolocation with a simulated device.
	Simulate bool
	// SearchRadiusKm is the radius of a driver's request search around its position.
	SearchRadiusKm float64
	Log            *zap.Logger
}

// Manager creates sessions and keeps track of the live ones.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	policy location.Policy
	live   map[*Session]struct{}
}

func NewManager(cfg Config) *Manager {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Lang == "" {
		cfg.Lang = flow.LangRU
	}
	if cfg.SearchRadiusKm <= 0 {
		cfg.SearchRadiusKm = 50
	}
	if cfg.Policy == (location.Policy{}) {
		cfg.Policy = location.DefaultPolicy()
	}
	return &Manager{cfg: cfg, policy: cfg.Policy, live: make(map[*Session]struct{})}
}

// Serve runs a session on conn until the page disconnects or ctx is done.
// The connection is closed on return.
func (m *Manager) Serve(ctx context.Context, conn *websocket.Conn, telegramID int64, role string) {
	s, err := m.open(ctx, conn, telegramID, flow.Role(role))
	if err != nil {
		m.cfg.Log.Warn("session not started", zap.Int64("telegram_id", telegramID), zap.Error(err))
		conn.Close()
		return
	}

	m.mu.Lock()
	m.live[s] = struct{}{}
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()
	defer func() {
		m.mu.Lock()
		delete(m.live, s)
		m.mu.Unlock()
		metrics.ActiveSessions.Dec()
	}()

	s.run()
}

// SetPolicy applies p to every live session and to the sessions started later.
func (m *Manager) SetPolicy(p location.Policy) {
	m.mu.Lock()
	m.policy = p
	live := make([]*Session, 0, len(m.live))
	for s := range m.live {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.tracker.SetPolicy(p)
	}
	m.cfg.Log.Info("tracking policy updated", zap.Int("sessions", len(live)))
}

// Active returns the number of connected sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *Manager) currentPolicy() location.Policy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}
