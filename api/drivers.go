package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"zholda/database"
	"zholda/events"
	"zholda/flow"
	"zholda/metrics"
	"zholda/models"
)

const defaultSearchRadiusKm = 50.0

// CheckDriver reports whether a telegram user is a registered driver.
func (s *Server) CheckDriver(w http.ResponseWriter, r *http.Request) {
	telegramID, err := decodeTelegramID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid telegram ID")
		return
	}
	exists, err := s.Drivers.Exists(r.Context(), telegramID)
	if err != nil {
		s.Log.Error("error checking driver", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// DriverProfile returns the profile of a registered driver.
func (s *Server) DriverProfile(w http.ResponseWriter, r *http.Request) {
	telegramID, err := decodeTelegramID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid telegram ID")
		return
	}
	driver, err := s.Drivers.GetByTelegramID(r.Context(), telegramID)
	if errors.Is(err, database.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "Driver not found"})
		return
	}
	if err != nil {
		s.Log.Error("error loading driver", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "driver": driver})
}

// RegisterDriver creates a driver profile from the registration form.
func (s *Server) RegisterDriver(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}
	telegramID, err := formInt64(r, "telegram_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid telegram ID")
		return
	}
	driver := &models.Driver{TelegramID: telegramID, Paid: true}
	applyProfileForm(r, driver)
	if driver.FullName == "" || driver.Contact == "" {
		writeError(w, http.StatusBadRequest, flow.Roles[flow.RoleDriver].MessagesFor(flow.LangRU).FillAllFields)
		return
	}

	for field, dst := range map[string]*string{
		"profile_photo":  &driver.ProfilePhotoPath,
		"truck_photo":    &driver.TruckPhotoPath,
		"driver_license": &driver.DriverLicensePath,
	} {
		if *dst, err = s.saveUpload(r, field); err != nil {
			s.Log.Warn("failed to save upload", zap.String("field", field), zap.Error(err))
		}
	}

	ctx := r.Context()
	if err := s.Drivers.Upsert(ctx, driver); err != nil {
		s.Log.Error("error saving driver", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to save driver")
		return
	}
	s.indexDriver(ctx, telegramID, driver.StartLat, driver.StartLon)
	if s.Notifier != nil {
		go s.Notifier.NotifyRegistered(s.bg, telegramID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Driver registered successfully"})
}

// UpdateDriver edits an existing profile. Uploaded files replace the old ones.
func (s *Server) UpdateDriver(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}
	telegramID, err := formInt64(r, "telegram_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid telegram ID")
		return
	}
	ctx := r.Context()
	driver, err := s.Drivers.GetByTelegramID(ctx, telegramID)
	if errors.Is(err, database.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "Driver not found"})
		return
	}
	if err != nil {
		s.Log.Error("error loading driver", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	applyProfileForm(r, driver)

	var replaced []string
	for field, dst := range map[string]*string{
		"profile_photo":  &driver.ProfilePhotoPath,
		"truck_photo":    &driver.TruckPhotoPath,
		"driver_license": &driver.DriverLicensePath,
	} {
		name, err := s.saveUpload(r, field)
		if err != nil {
			s.Log.Warn("failed to save upload", zap.String("field", field), zap.Error(err))
			continue
		}
		if name != "" {
			replaced = append(replaced, *dst)
			*dst = name
		}
	}

	if err := s.Drivers.Upsert(ctx, driver); err != nil {
		s.Log.Error("error updating driver", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to update driver")
		return
	}
	for _, old := range replaced {
		s.removeUpload(old)
	}
	s.indexDriver(ctx, telegramID, driver.StartLat, driver.StartLon)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Profile updated successfully",
		"driver":  driver,
	})
}

// applyProfileForm copies the non-empty profile fields of the form onto d.
func applyProfileForm(r *http.Request, d *models.Driver) {
	for key, dst := range map[string]*string{
		"full_name":  &d.FullName,
		"contact":    &d.Contact,
		"gender":     &d.Gender,
		"start_city": &d.StartCity,
	} {
		if v := strings.TrimSpace(r.FormValue(key)); v != "" {
			*dst = v
		}
	}
	if v, err := strconv.ParseFloat(r.FormValue("start_lat"), 64); err == nil {
		d.StartLat = v
	}
	if v, err := strconv.ParseFloat(r.FormValue("start_lon"), 64); err == nil {
		d.StartLon = v
	}
}

// CreateDriverRequest stores a driver's route offer.
func (s *Server) CreateDriverRequest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}
	telegramID, err := formInt64(r, "telegram_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid telegram ID")
		return
	}
	m := flow.Roles[flow.RoleDriver].MessagesFor(flow.LangRU)
	departure, err := time.Parse(models.DepartureLayout, r.FormValue("departure_time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, m.DepartureTime)
		return
	}
	price, _ := strconv.Atoi(strings.TrimSpace(r.FormValue("price")))
	req := &models.DriverRequest{
		DriverID:      telegramID,
		FromAddress:   r.FormValue("from_address"),
		ToAddress:     r.FormValue("to_address"),
		FromLat:       formFloat(r, "from_lat"),
		FromLon:       formFloat(r, "from_lon"),
		ToLat:         formFloat(r, "to_lat"),
		ToLon:         formFloat(r, "to_lon"),
		Price:         price,
		Comment:       r.FormValue("comment"),
		DepartureTime: departure,
		Status:        "active",
	}
	switch {
	case req.Price <= 0 || req.FromAddress == "" || req.ToAddress == "":
		writeError(w, http.StatusBadRequest, m.FillAllFields)
		return
	case req.Price < flow.Roles[flow.RoleDriver].MinPrice:
		writeError(w, http.StatusBadRequest, m.MinPrice)
		return
	}

	ctx := r.Context()
	exists, err := s.Drivers.Exists(ctx, telegramID)
	if err != nil {
		s.Log.Error("error checking driver", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "Driver not found")
		return
	}
	if err := s.Drivers.InsertRequest(ctx, req); err != nil {
		s.Log.Error("error saving driver request", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to save request")
		return
	}
	metrics.Submissions.WithLabelValues(string(flow.RoleDriver)).Inc()
	s.indexDriver(ctx, telegramID, req.FromLat, req.FromLon)
	s.publish(events.Event{
		Type: events.RequestCreated,
		Key:  strconv.FormatInt(telegramID, 10),
		Data: map[string]interface{}{"role": flow.RoleDriver, "request": req},
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Request created successfully",
		"id":      req.ID,
	})
}

func (s *Server) indexDriver(ctx context.Context, telegramID int64, lat, lon float64) {
	if s.Locator == nil || (lat == 0 && lon == 0) {
		return
	}
	if err := s.Locator.Index(ctx, telegramID, models.Coordinate{Lon: lon, Lat: lat}); err != nil {
		s.Log.Warn("failed to index driver", zap.Int64("driver_id", telegramID), zap.Error(err))
	}
}

// MatchingDrivers lists drivers with an active offer near a client's pickup point.
func (s *Server) MatchingDrivers(w http.ResponseWriter, r *http.Request) {
	from := models.Coordinate{Lon: queryFloat(r, "from_lon"), Lat: queryFloat(r, "from_lat")}
	if !from.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid coordinates")
		return
	}
	drivers, err := s.Matcher.MatchRoute(r.Context(), from)
	if err != nil {
		s.Log.Error("error getting matching drivers", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get drivers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "drivers": drivers})
}

// SearchRequests finds client orders for a driver: by current position, by route
// text, around the driver's start city, or all active orders, in that order of preference.
func (s *Server) SearchRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	telegramID, err := strconv.ParseInt(q.Get("telegram_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid telegram ID")
		return
	}
	searchType := q.Get("search_type")
	here := models.Coordinate{Lon: queryFloat(r, "driver_lon"), Lat: queryFloat(r, "driver_lat")}
	radius := queryFloat(r, "radius")
	if radius <= 0 {
		radius = defaultSearchRadiusKm
	}
	fromCity, toCity := q.Get("from_city"), q.Get("to_city")

	ctx := r.Context()
	driver, err := s.Drivers.GetByTelegramID(ctx, telegramID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		s.Log.Error("error getting driver info", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	var requests []models.ClientRequest
	switch {
	case searchType == "geolocation" && here.Lat != 0 && here.Lon != 0:
		requests, err = s.requestsNear(ctx, here, radius)
	case searchType == "route" && fromCity != "" && toCity != "":
		requests, err = s.Clients.RequestsByRoute(ctx, fromCity, toCity)
	case driver != nil && driver.StartLat != 0 && driver.StartLon != 0:
		requests, err = s.requestsNear(ctx, models.Coordinate{Lon: driver.StartLon, Lat: driver.StartLat}, radius)
	default:
		requests, err = s.Clients.ActiveRequests(ctx)
	}
	if err != nil {
		s.Log.Error("error searching client requests", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to search requests")
		return
	}
	s.Log.Debug("driver search",
		zap.Int64("telegram_id", telegramID),
		zap.String("search_type", searchType),
		zap.Float64("radius", radius),
		zap.Int("count", len(requests)))

	resp := map[string]interface{}{
		"success":     true,
		"requests":    requests,
		"search_type": searchType,
		"count":       len(requests),
	}
	if driver != nil {
		resp["driver_start_city"] = driver.StartCity
		resp["driver_start_lat"] = driver.StartLat
		resp["driver_start_lon"] = driver.StartLon
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requestsNear(ctx context.Context, c models.Coordinate, radiusKm float64) ([]models.ClientRequest, error) {
	if s.Requests != nil {
		return s.Requests.Near(c, radiusKm), nil
	}
	return s.Clients.RequestsNear(ctx, c, radiusKm)
}
