package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"zholda/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// CreateSession issues a token for the tracking WebSocket. With a bot token configured the
// caller proves its identity with the Mini App init data.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TelegramID string `json:"telegram_id"`
		Role       string `json:"role"`
		InitData   string `json:"init_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if body.Role != "client" && body.Role != "driver" {
		writeError(w, http.StatusBadRequest, "Invalid role")
		return
	}
	claimed := strings.TrimSpace(body.TelegramID)

	var id int64
	if s.BotToken != "" {
		verified, err := verifyInitData(body.InitData, s.BotToken, s.tokens.now())
		if err != nil {
			s.Log.Warn("session refused", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if claimed != "" && claimed != strconv.FormatInt(verified, 10) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		id = verified
	} else {
		parsed, err := strconv.ParseInt(claimed, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid telegram ID")
			return
		}
		id = parsed
	}
	token, err := s.tokens.Issue(Identity{TelegramID: id, Role: body.Role})
	if err != nil {
		s.Log.Error("failed to sign session token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "token": token})
}

// Track upgrades to the tracking WebSocket. The token comes in the "token" query parameter.
func (s *Server) Track(w http.ResponseWriter, r *http.Request) {
	if s.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Tracking is disabled")
		return
	}
	id, err := s.tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("failed to upgrade to websocket", zap.Error(err))
		return
	}
	s.publish(events.Event{
		Type: events.SessionStarted,
		Key:  strconv.FormatInt(id.TelegramID, 10),
		Data: map[string]string{"role": id.Role},
	})
	s.Sessions.Serve(s.bg, conn, id.TelegramID, id.Role)
}
