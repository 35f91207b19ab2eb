// Package geocoding resolves addresses for map taps and coordinates for typed addresses.
package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"zholda/config"
	"zholda/models"
)

// ErrNoResult is returned when the geocoder answered but found nothing.
var ErrNoResult = errors.New("geocoding: no result")

// Geocoder looks up addresses and coordinates.
type Geocoder interface {
	Reverse(ctx context.Context, c models.Coordinate) (string, error)
	Forward(ctx context.Context, query string) (models.Coordinate, error)
}

type featureMember struct {
	GeoObject struct {
		MetaDataProperty struct {
			GeocoderMetaData struct {
				Text string `json:"text"`
			} `json:"GeocoderMetaData"`
		} `json:"metaDataProperty"`
		Point struct {
			Pos string `json:"pos"` // "lon lat"
		} `json:"Point"`
	} `json:"GeoObject"`
}

type yandexResponse struct {
	Response struct {
		GeoObjectCollection struct {
			FeatureMember []featureMember `json:"featureMember"`
		} `json:"GeoObjectCollection"`
	} `json:"response"`
}

// Yandex is a Geocoder for the Yandex HTTP geocoder.
type Yandex struct {
	baseURL string
	apiKey  string
	lang    string
	client  *http.Client
}

// NewYandex creates a geocoder client from cfg.
func NewYandex(cfg config.GeocodingConfig) *Yandex {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Yandex{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		lang:    cfg.Lang,
		client:  &http.Client{Timeout: timeout},
	}
}

// Reverse returns the address text at c.
func (y *Yandex) Reverse(ctx context.Context, c models.Coordinate) (string, error) {
	geocode := strconv.FormatFloat(c.Lon, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lat, 'f', 6, 64)
	res, err := y.lookup(ctx, geocode)
	if err != nil {
		return "", err
	}
	text := res.GeoObject.MetaDataProperty.GeocoderMetaData.Text
	if text == "" {
		return "", ErrNoResult
	}
	return text, nil
}

// Forward returns the coordinate of the best match for query.
func (y *Yandex) Forward(ctx context.Context, query string) (models.Coordinate, error) {
	if strings.TrimSpace(query) == "" {
		return models.Coordinate{}, ErrNoResult
	}
	res, err := y.lookup(ctx, query)
	if err != nil {
		return models.Coordinate{}, err
	}
	return parsePos(res.GeoObject.Point.Pos)
}

func (y *Yandex) lookup(ctx context.Context, geocode string) (featureMember, error) {
	q := url.Values{}
	q.Set("apikey", y.apiKey)
	q.Set("geocode", geocode)
	q.Set("format", "json")
	q.Set("results", "1")
	if y.lang != "" {
		q.Set("lang", y.lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return featureMember{}, fmt.Errorf("build geocode request: %w", err)
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return featureMember{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return featureMember{}, fmt.Errorf("geocoder returned %d", resp.StatusCode)
	}

	var parsed yandexResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return featureMember{}, fmt.Errorf("decode geocode response: %w", err)
	}
	members := parsed.Response.GeoObjectCollection.FeatureMember
	if len(members) == 0 {
		return featureMember{}, ErrNoResult
	}
	return members[0], nil
}

func parsePos(pos string) (models.Coordinate, error) {
	parts := strings.Fields(pos)
	if len(parts) != 2 {
		return models.Coordinate{}, ErrNoResult
	}
	lon, err1 := strconv.ParseFloat(parts[0], 64)
	lat, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return models.Coordinate{}, fmt.Errorf("invalid position %q", pos)
	}
	c := models.Coordinate{Lon: lon, Lat: lat}
	if !c.Valid() {
		return models.Coordinate{}, models.ErrInvalidCoordinate
	}
	return c, nil
}
