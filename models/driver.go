package models

import "time"

// DepartureLayout is the departure_time form format.
const DepartureLayout = "2006-01-02T15:04"

type Driver struct {
	ID                int64     `json:"id"`
	TelegramID        int64     `json:"telegram_id"`
	FullName          string    `json:"full_name"`
	Contact           string    `json:"contact"`
	Gender            string    `json:"gender"`
	ProfilePhotoPath  string    `json:"profile_photo"`
	DriverLicensePath string    `json:"driver_license"`
	TruckPhotoPath    string    `json:"truck_photo"`
	StartCity         string    `json:"start_city"`
	StartLat          float64   `json:"start_lat"`
	StartLon          float64   `json:"start_lon"`
	Paid              bool      `json:"paid"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type DriverRequest struct {
	ID            int64     `json:"id"`
	DriverID      int64     `json:"driver_id"` // telegram id
	FromAddress   string    `json:"from_address"`
	ToAddress     string    `json:"to_address"`
	FromLat       float64   `json:"from_lat"`
	FromLon       float64   `json:"from_lon"`
	ToLat         float64   `json:"to_lat"`
	ToLon         float64   `json:"to_lon"`
	Price         int       `json:"price"`
	Comment       string    `json:"comment"`
	DepartureTime time.Time `json:"departure_time"`
	Status        string    `json:"status"` // "active", "closed"
	CreatedAt     time.Time `json:"created_at"`
}

// MatchedDriver is a driver together with the active request that matched a search.
type MatchedDriver struct {
	TelegramID    int64     `json:"telegram_id"`
	FullName      string    `json:"full_name"`
	ProfilePhoto  string    `json:"profile_photo"`
	TruckPhoto    string    `json:"truck_photo"`
	Contact       string    `json:"contact"`
	FromAddress   string    `json:"from_address"`
	ToAddress     string    `json:"to_address"`
	FromLat       float64   `json:"from_lat"`
	FromLon       float64   `json:"from_lon"`
	ToLat         float64   `json:"to_lat"`
	ToLon         float64   `json:"to_lon"`
	Price         int       `json:"price"`
	Comment       string    `json:"comment"`
	DepartureTime time.Time `json:"departure_time"`
	DistanceKm    float64   `json:"distance_km"`
}
