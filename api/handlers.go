package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"zholda/database"
	"zholda/events"
	"zholda/flow"
	"zholda/metrics"
	"zholda/models"
)

type telegramIDBody struct {
	TelegramID string `json:"telegram_id"`
}

func decodeTelegramID(r *http.Request) (int64, error) {
	var body telegramIDBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(body.TelegramID), 10, 64)
}

// CheckClient reports whether a telegram user is a known client.
func (s *Server) CheckClient(w http.ResponseWriter, r *http.Request) {
	telegramID, err := decodeTelegramID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid telegram ID")
		return
	}

	client, err := s.Clients.GetByTelegramID(r.Context(), telegramID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		s.Log.Error("error checking client", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"exists":           client != nil,
		"offerta_accepted": client != nil && client.OffertaAccepted,
	})
}

// CreateClientRequest stores a delivery order and notifies nearby drivers.
func (s *Server) CreateClientRequest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}
	telegramID, err := formInt64(r, "telegram_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid telegram ID")
		return
	}
	price, _ := strconv.Atoi(strings.TrimSpace(r.FormValue("price")))
	req := &models.ClientRequest{
		ClientID:    telegramID,
		FromAddress: r.FormValue("from_address"),
		ToAddress:   r.FormValue("to_address"),
		FromLat:     formFloat(r, "from_lat"),
		FromLon:     formFloat(r, "from_lon"),
		ToLat:       formFloat(r, "to_lat"),
		ToLon:       formFloat(r, "to_lon"),
		Price:       price,
		TruckType:   r.FormValue("truck_type"),
		Comment:     r.FormValue("comment"),
		Contact:     r.FormValue("contact"),
		Status:      "active",
	}
	if msg := checkClientRequest(req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ctx := r.Context()
	if _, err := s.Clients.GetByTelegramID(ctx, telegramID); errors.Is(err, database.ErrNotFound) {
		client := &models.Client{TelegramID: telegramID, Contact: req.Contact, OffertaAccepted: true}
		if err := s.Clients.Insert(ctx, client); err != nil {
			s.Log.Error("error saving client", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to save client")
			return
		}
	} else if err != nil {
		s.Log.Error("error loading client", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	if req.PhotoPath, err = s.saveUpload(r, "item_photo"); err != nil {
		s.Log.Warn("failed to save item photo", zap.Error(err))
	}
	if err := s.Clients.InsertRequest(ctx, req); err != nil {
		s.Log.Error("error saving client request", zap.Error(err))
		s.removeUpload(req.PhotoPath)
		writeError(w, http.StatusInternalServerError, "Failed to save request")
		return
	}
	metrics.Submissions.WithLabelValues(string(flow.RoleClient)).Inc()
	if s.Requests != nil {
		s.Requests.Add(*req)
	}

	s.publish(events.Event{
		Type: events.RequestCreated,
		Key:  strconv.FormatInt(telegramID, 10),
		Data: map[string]interface{}{"role": flow.RoleClient, "request": req},
	})
	if s.Notifier != nil {
		created := *req
		go s.Notifier.NotifyNearbyDrivers(s.bg, created)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Request created successfully",
		"id":      req.ID,
	})
}

// checkClientRequest repeats the form rules the Mini App enforces.
func checkClientRequest(req *models.ClientRequest) string {
	cfg := flow.Roles[flow.RoleClient]
	m := cfg.MessagesFor(flow.LangRU)
	switch {
	case strings.TrimSpace(req.Contact) == "":
		return m.Contact
	case req.Price <= 0 || req.FromAddress == "" || req.ToAddress == "":
		return m.FillAllFields
	case req.Price < cfg.MinPrice:
		return m.MinPrice
	case !flow.TruckTypes[req.TruckType]:
		return m.SelectTruck
	}
	return ""
}

// ClientRequests lists every active delivery order.
func (s *Server) ClientRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.Clients.ActiveRequests(r.Context())
	if err != nil {
		s.Log.Error("error getting client requests", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get requests")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "requests": requests})
}
