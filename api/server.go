// Package api is the marketplace REST surface and the tracking WebSocket endpoint.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"zholda/config"
	"zholda/events"
	"zholda/matching"
	"zholda/models"
)

type ClientStore interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.Client, error)
	Insert(ctx context.Context, c *models.Client) error
	InsertRequest(ctx context.Context, req *models.ClientRequest) error
	ActiveRequests(ctx context.Context) ([]models.ClientRequest, error)
	RequestsNear(ctx context.Context, c models.Coordinate, radiusKm float64) ([]models.ClientRequest, error)
	RequestsByRoute(ctx context.Context, fromCity, toCity string) ([]models.ClientRequest, error)
}

type DriverStore interface {
	matching.DriverStore
	Exists(ctx context.Context, telegramID int64) (bool, error)
	Upsert(ctx context.Context, d *models.Driver) error
	InsertRequest(ctx context.Context, req *models.DriverRequest) error
}

// DriverIndex keeps driver positions searchable. cache.DriverLocator implements it.
type DriverIndex interface {
	Index(ctx context.Context, telegramID int64, c models.Coordinate) error
}

// Notifier reaches drivers through the bot.
type Notifier interface {
	NotifyNearbyDrivers(ctx context.Context, req models.ClientRequest) int
	NotifyRegistered(ctx context.Context, telegramID int64)
}

// SessionRunner serves one tracking WebSocket until it closes.
type SessionRunner interface {
	Serve(ctx context.Context, conn *websocket.Conn, telegramID int64, role string)
}

// Deps are the collaborators of the server. Locator, Requests, Notifier and
// Sessions may be nil. Without BotToken session tokens are issued on the claimed telegram id.
type Deps struct {
	Clients  ClientStore
	Drivers  DriverStore
	Matcher  *matching.Matcher
	Requests *matching.Requests
	Locator  DriverIndex
	Events   events.Publisher
	Notifier Notifier
	Sessions SessionRunner
	Config   config.ServerConfig
	BotToken string
	Log      *zap.Logger
}

type Server struct {
	Deps
	tokens *Tokens
	// bg is the context of background work started by handlers; it outlives requests.
	bg context.Context
}

func NewServer(bg context.Context, d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Matcher == nil {
		d.Matcher = matching.NewMatcher(d.Drivers, nil, d.Log)
	}
	return &Server{
		Deps:   d,
		tokens: NewTokens(d.Config.TokenSecret, d.Config.TokenTTL),
		bg:     bg,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": message})
}

func (s *Server) publish(e events.Event) {
	go func() {
		if err := s.Events.Publish(s.bg, e); err != nil {
			s.Log.Warn("failed to publish event", zap.String("type", e.Type), zap.Error(err))
		}
	}()
}
