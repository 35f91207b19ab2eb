package models

import "time"

type Client struct {
	ID              int64     `json:"id"`
	TelegramID      int64     `json:"telegram_id"`
	Contact         string    `json:"contact"`
	OffertaAccepted bool      `json:"offerta_accepted"`
	CreatedAt       time.Time `json:"created_at"`
}

type ClientRequest struct {
	ID          int64     `json:"id"`
	ClientID    int64     `json:"client_id"` // telegram id
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	FromLat     float64   `json:"from_lat"`
	FromLon     float64   `json:"from_lon"`
	ToLat       float64   `json:"to_lat"`
	ToLon       float64   `json:"to_lon"`
	Price       int       `json:"price"`
	TruckType   string    `json:"truck_type"`
	Comment     string    `json:"comment"`
	Contact     string    `json:"contact"`
	PhotoPath   string    `json:"photo_path"`
	Status      string    `json:"status"` // "active", "closed"
	CreatedAt   time.Time `json:"created_at"`
}
