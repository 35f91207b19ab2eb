package database

import (
	"context"
	"database/sql"
	"math"
	"time"

	"zholda/geo"
	"zholda/models"
)

// Drivers stores driver profiles and their route offers.
type Drivers struct {
	db *sql.DB
}

func NewDrivers(db *sql.DB) *Drivers {
	return &Drivers{db: db}
}

const driverColumns = `id, telegram_id, full_name, contact, gender,
	profile_photo_path, driver_license_path, truck_photo_path,
	start_city, start_lat, start_lon, paid, created_at, updated_at`

const driverRequestColumns = `id, driver_id, from_address, to_address,
	from_lat, from_lon, to_lat, to_lon,
	price, comment, departure_time, status, created_at`

func (r *Drivers) Exists(ctx context.Context, telegramID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM drivers WHERE telegram_id=$1)`, telegramID,
	).Scan(&exists)
	return exists, err
}

func (r *Drivers) GetByTelegramID(ctx context.Context, telegramID int64) (*models.Driver, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+driverColumns+` FROM drivers WHERE telegram_id=$1`, telegramID)
	d, err := scanDriver(row)
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

// Upsert registers d or replaces the profile of an already registered driver.
func (r *Drivers) Upsert(ctx context.Context, d *models.Driver) error {
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	return r.db.QueryRowContext(ctx,
		`INSERT INTO drivers (telegram_id, full_name, contact, gender,
             profile_photo_path, driver_license_path, truck_photo_path,
             start_city, start_lat, start_lon, paid, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
         ON CONFLICT (telegram_id) DO UPDATE SET
             full_name=EXCLUDED.full_name, contact=EXCLUDED.contact, gender=EXCLUDED.gender,
             profile_photo_path=EXCLUDED.profile_photo_path,
             driver_license_path=EXCLUDED.driver_license_path,
             truck_photo_path=EXCLUDED.truck_photo_path,
             start_city=EXCLUDED.start_city, start_lat=EXCLUDED.start_lat,
             start_lon=EXCLUDED.start_lon, updated_at=EXCLUDED.updated_at
         RETURNING id`,
		d.TelegramID, d.FullName, d.Contact, d.Gender,
		d.ProfilePhotoPath, d.DriverLicensePath, d.TruckPhotoPath,
		d.StartCity, d.StartLat, d.StartLon, d.Paid, d.CreatedAt, d.UpdatedAt,
	).Scan(&d.ID)
}

func (r *Drivers) InsertRequest(ctx context.Context, req *models.DriverRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if req.Status == "" {
		req.Status = "active"
	}
	return r.db.QueryRowContext(ctx,
		`INSERT INTO driver_requests (driver_id, from_address, to_address,
             from_lat, from_lon, to_lat, to_lon, price, comment, departure_time,
             status, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
         RETURNING id`,
		req.DriverID, req.FromAddress, req.ToAddress,
		req.FromLat, req.FromLon, req.ToLat, req.ToLon,
		req.Price, req.Comment, req.DepartureTime, req.Status, req.CreatedAt,
	).Scan(&req.ID)
}

// ActiveRequests returns the active offers of one driver, newest first.
func (r *Drivers) ActiveRequests(ctx context.Context, telegramID int64) ([]models.DriverRequest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+driverRequestColumns+` FROM driver_requests
         WHERE driver_id=$1 AND status='active' ORDER BY created_at DESC`, telegramID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []models.DriverRequest{}
	for rows.Next() {
		var req models.DriverRequest
		if err := rows.Scan(
			&req.ID, &req.DriverID, &req.FromAddress, &req.ToAddress,
			&req.FromLat, &req.FromLon, &req.ToLat, &req.ToLon,
			&req.Price, &req.Comment, &req.DepartureTime, &req.Status, &req.CreatedAt,
		); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// Near returns paid drivers whose start location is within radiusKm of c.
func (r *Drivers) Near(ctx context.Context, c models.Coordinate, radiusKm float64) ([]models.Driver, error) {
	latDiff := radiusKm / 111.0
	lonDiff := radiusKm / (111.0 * math.Cos(c.Lat*math.Pi/180.0))
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+driverColumns+` FROM drivers
         WHERE paid AND ABS(start_lat-$1) < $2 AND ABS(start_lon-$3) < $4`,
		c.Lat, latDiff, c.Lon, lonDiff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drivers := []models.Driver{}
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		if geo.DistanceKm(c, models.Coordinate{Lon: d.StartLon, Lat: d.StartLat}) <= radiusKm {
			drivers = append(drivers, *d)
		}
	}
	return drivers, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDriver(s scanner) (*models.Driver, error) {
	var d models.Driver
	err := s.Scan(
		&d.ID, &d.TelegramID, &d.FullName, &d.Contact, &d.Gender,
		&d.ProfilePhotoPath, &d.DriverLicensePath, &d.TruckPhotoPath,
		&d.StartCity, &d.StartLat, &d.StartLon, &d.Paid, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
