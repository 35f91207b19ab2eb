// Package backend is the HTTP client of the marketplace API used by tracking sessions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"zholda/flow"
	"zholda/models"
)

// ResponseError is a failed API call. Message comes from the server when it sent one.
type ResponseError struct {
	Status  int
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Message)
}

// UserMessage is the server-provided text, suitable for display.
func (e *ResponseError) UserMessage() string { return e.Message }

type envelope struct {
	Success  *bool                  `json:"success"`
	Message  string                 `json:"message"`
	Drivers  []models.MatchedDriver `json:"drivers"`
	Requests []models.ClientRequest `json:"requests"`
}

// Client calls the marketplace API at a base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Submit posts a previewed form as multipart to its role endpoint.
func (c *Client) Submit(ctx context.Context, s flow.Submission) error {
	if !s.Route.Complete() {
		return fmt.Errorf("backend: submission without both route points")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	f := s.Form
	fields := [][2]string{
		{"telegram_id", strconv.FormatInt(f.TelegramID, 10)},
		{"from_address", f.FromAddress},
		{"to_address", f.ToAddress},
		{"price", strconv.Itoa(f.Price)},
		{"comment", f.Comment},
		{"contact", f.Contact},
		{"from_lat", formatCoord(s.Route.From.Coordinate.Lat)},
		{"from_lon", formatCoord(s.Route.From.Coordinate.Lon)},
		{"to_lat", formatCoord(s.Route.To.Coordinate.Lat)},
		{"to_lon", formatCoord(s.Route.To.Coordinate.Lon)},
	}
	switch s.Role {
	case flow.RoleClient:
		fields = append(fields, [2]string{"truck_type", f.TruckType})
	case flow.RoleDriver:
		fields = append(fields, [2]string{"departure_time", f.DepartureTime.Format(models.DepartureLayout)})
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	if f.Photo != nil && s.Role == flow.RoleClient {
		part, err := mw.CreateFormFile("item_photo", f.Photo.Name)
		if err != nil {
			return err
		}
		if _, err := part.Write(f.Photo.Data); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+s.Endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	_, err = c.do(req)
	return err
}

// CheckClient reports whether telegramID is a known client and has accepted the offer.
func (c *Client) CheckClient(ctx context.Context, telegramID int64) (exists, offertaAccepted bool, err error) {
	payload, _ := json.Marshal(map[string]string{"telegram_id": strconv.FormatInt(telegramID, 10)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/client/check", bytes.NewReader(payload))
	if err != nil {
		return false, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, false, responseError(resp)
	}
	var out struct {
		Exists          bool `json:"exists"`
		OffertaAccepted bool `json:"offerta_accepted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, false, fmt.Errorf("backend: decode check response: %w", err)
	}
	return out.Exists, out.OffertaAccepted, nil
}

// MatchDrivers lists drivers with an active offer starting near from.
func (c *Client) MatchDrivers(ctx context.Context, from, to models.Coordinate) ([]models.MatchedDriver, error) {
	q := url.Values{}
	q.Set("from_lat", formatCoord(from.Lat))
	q.Set("from_lon", formatCoord(from.Lon))
	q.Set("to_lat", formatCoord(to.Lat))
	q.Set("to_lon", formatCoord(to.Lon))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/driver/matching?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	env, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return env.Drivers, nil
}

// SearchQuery selects client requests for a driver.
type SearchQuery struct {
	TelegramID int64
	Type       string // "geolocation", "route" or empty
	Location   *models.Coordinate
	RadiusKm   float64
	FromCity   string
	ToCity     string
}

// SearchRequests runs the driver search.
func (c *Client) SearchRequests(ctx context.Context, sq SearchQuery) ([]models.ClientRequest, error) {
	q := url.Values{}
	q.Set("telegram_id", strconv.FormatInt(sq.TelegramID, 10))
	if sq.Type != "" {
		q.Set("search_type", sq.Type)
	}
	if sq.Location != nil {
		q.Set("driver_lat", formatCoord(sq.Location.Lat))
		q.Set("driver_lon", formatCoord(sq.Location.Lon))
	}
	if sq.RadiusKm > 0 {
		q.Set("radius", strconv.FormatFloat(sq.RadiusKm, 'f', -1, 64))
	}
	if sq.FromCity != "" {
		q.Set("from_city", sq.FromCity)
	}
	if sq.ToCity != "" {
		q.Set("to_city", sq.ToCity)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/driver/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	env, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return env.Requests, nil
}

func (c *Client) do(req *http.Request) (*envelope, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, responseError(resp)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("backend: decode response: %w", err)
	}
	if env.Success != nil && !*env.Success {
		return nil, &ResponseError{Status: resp.StatusCode, Message: env.Message}
	}
	return &env, nil
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var env envelope
	if json.Unmarshal(raw, &env) == nil && env.Message != "" {
		return &ResponseError{Status: resp.StatusCode, Message: env.Message}
	}
	return &ResponseError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
