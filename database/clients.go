package database

import (
	"context"
	"database/sql"
	"math"
	"time"

	"zholda/geo"
	"zholda/models"
)

// Clients stores clients, their delivery requests and the /start clicks of the bot.
type Clients struct {
	db *sql.DB
}

func NewClients(db *sql.DB) *Clients {
	return &Clients{db: db}
}

const clientRequestColumns = `id, client_id, from_address, to_address,
	from_lat, from_lon, to_lat, to_lon,
	price, truck_type, comment, contact,
	photo_path, status, created_at`

func (r *Clients) GetByTelegramID(ctx context.Context, telegramID int64) (*models.Client, error) {
	var c models.Client
	err := r.db.QueryRowContext(ctx,
		`SELECT id, telegram_id, contact, offerta_accepted, created_at FROM clients WHERE telegram_id=$1`,
		telegramID,
	).Scan(&c.ID, &c.TelegramID, &c.Contact, &c.OffertaAccepted, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// Insert creates c, leaving an existing client with the same telegram id untouched.
func (r *Clients) Insert(ctx context.Context, c *models.Client) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return r.db.QueryRowContext(ctx,
		`INSERT INTO clients (telegram_id, contact, offerta_accepted, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $4)
         ON CONFLICT (telegram_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
         RETURNING id`,
		c.TelegramID, c.Contact, c.OffertaAccepted, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *Clients) InsertRequest(ctx context.Context, req *models.ClientRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if req.Status == "" {
		req.Status = "active"
	}
	return r.db.QueryRowContext(ctx,
		`INSERT INTO client_requests (client_id, from_address, to_address,
             from_lat, from_lon, to_lat, to_lon, price, truck_type, comment, contact,
             photo_path, status, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
         RETURNING id`,
		req.ClientID, req.FromAddress, req.ToAddress,
		req.FromLat, req.FromLon, req.ToLat, req.ToLon,
		req.Price, req.TruckType, req.Comment, req.Contact,
		req.PhotoPath, req.Status, req.CreatedAt,
	).Scan(&req.ID)
}

// ActiveRequests returns every active client request, newest first.
func (r *Clients) ActiveRequests(ctx context.Context) ([]models.ClientRequest, error) {
	return r.queryRequests(ctx,
		`SELECT `+clientRequestColumns+` FROM client_requests
         WHERE status='active' ORDER BY created_at DESC`)
}

// RequestsNear returns active requests picked up within radiusKm of c.
func (r *Clients) RequestsNear(ctx context.Context, c models.Coordinate, radiusKm float64) ([]models.ClientRequest, error) {
	latDiff := radiusKm / 111.0
	lonDiff := radiusKm / (111.0 * math.Cos(c.Lat*math.Pi/180.0))
	all, err := r.queryRequests(ctx,
		`SELECT `+clientRequestColumns+` FROM client_requests
         WHERE status='active' AND ABS(from_lat-$1) < $2 AND ABS(from_lon-$3) < $4
         ORDER BY created_at DESC`,
		c.Lat, latDiff, c.Lon, lonDiff)
	if err != nil {
		return nil, err
	}
	near := all[:0]
	for _, req := range all {
		if geo.DistanceKm(c, models.Coordinate{Lon: req.FromLon, Lat: req.FromLat}) <= radiusKm {
			near = append(near, req)
		}
	}
	return near, nil
}

// RequestsByRoute matches active requests whose addresses contain the given city names.
// An empty name matches anything.
func (r *Clients) RequestsByRoute(ctx context.Context, fromCity, toCity string) ([]models.ClientRequest, error) {
	return r.queryRequests(ctx,
		`SELECT `+clientRequestColumns+` FROM client_requests
         WHERE status='active' AND from_address ILIKE $1 AND to_address ILIKE $2
         ORDER BY created_at DESC`,
		"%"+fromCity+"%", "%"+toCity+"%")
}

func (r *Clients) UpdateRequestStatus(ctx context.Context, id int64, status string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE client_requests SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveJustClicked records that telegramID pressed /start.
func (r *Clients) SaveJustClicked(ctx context.Context, telegramID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO just_clicked_users (telegram_id, created_at) VALUES ($1, NOW())
         ON CONFLICT (telegram_id) DO NOTHING`, telegramID)
	return err
}

func (r *Clients) queryRequests(ctx context.Context, query string, args ...interface{}) ([]models.ClientRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []models.ClientRequest{}
	for rows.Next() {
		var req models.ClientRequest
		if err := rows.Scan(
			&req.ID, &req.ClientID, &req.FromAddress, &req.ToAddress,
			&req.FromLat, &req.FromLon, &req.ToLat, &req.ToLon,
			&req.Price, &req.TruckType, &req.Comment, &req.Contact,
			&req.PhotoPath, &req.Status, &req.CreatedAt,
		); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}
