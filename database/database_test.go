package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"zholda/migration"
	"zholda/models"
)

// openTestDB connects to ZHOLDA_TEST_DSN and migrates it. Tests skip without it.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("ZHOLDA_TEST_DSN")
	if dsn == "" {
		t.Skip("ZHOLDA_TEST_DSN not set")
	}
	if err := migration.RunMigrations("file://migrations", dsn, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		db.Exec(`TRUNCATE driver_requests, drivers, client_requests, clients, just_clicked_users`)
		db.Close()
	})
	return db
}

func TestClientsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	clients := NewClients(db)

	if _, err := clients.GetByTelegramID(ctx, 1001); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing client: %v", err)
	}
	c := &models.Client{TelegramID: 1001, Contact: "+77011234567", OffertaAccepted: true}
	if err := clients.Insert(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := clients.Insert(ctx, &models.Client{TelegramID: 1001}); err != nil {
		t.Fatalf("second insert: %v", err)
	}
	got, err := clients.GetByTelegramID(ctx, 1001)
	if err != nil || !got.OffertaAccepted || got.Contact != "+77011234567" {
		t.Fatalf("client = %+v, %v", got, err)
	}

	almaty := &models.ClientRequest{
		ClientID: 1001, FromAddress: "Алматы, Абая 10", ToAddress: "Астана, Кенесары 1",
		FromLat: 43.238, FromLon: 76.945, ToLat: 51.128, ToLon: 71.430,
		Price: 50000, TruckType: "large", Contact: "+77011234567",
	}
	shymkent := &models.ClientRequest{
		ClientID: 1001, FromAddress: "Шымкент", ToAddress: "Тараз",
		FromLat: 42.315, FromLon: 69.586, ToLat: 42.900, ToLon: 71.366,
		Price: 20000, TruckType: "small", Contact: "+77011234567",
	}
	for _, req := range []*models.ClientRequest{almaty, shymkent} {
		if err := clients.InsertRequest(ctx, req); err != nil {
			t.Fatal(err)
		}
	}

	near, err := clients.RequestsNear(ctx, models.Coordinate{Lon: 76.9, Lat: 43.25}, 50)
	if err != nil || len(near) != 1 || near[0].ID != almaty.ID {
		t.Fatalf("near = %+v, %v", near, err)
	}
	byRoute, err := clients.RequestsByRoute(ctx, "алматы", "астана")
	if err != nil || len(byRoute) != 1 {
		t.Fatalf("by route = %+v, %v", byRoute, err)
	}

	if err := clients.UpdateRequestStatus(ctx, shymkent.ID, "closed"); err != nil {
		t.Fatal(err)
	}
	active, err := clients.ActiveRequests(ctx)
	if err != nil || len(active) != 1 {
		t.Fatalf("active = %+v, %v", active, err)
	}
	if err := clients.SaveJustClicked(ctx, 1001); err != nil {
		t.Fatal(err)
	}
	if err := clients.SaveJustClicked(ctx, 1001); err != nil {
		t.Fatalf("repeat click: %v", err)
	}
}

func TestDriversRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	drivers := NewDrivers(db)

	d := &models.Driver{
		TelegramID: 2002, FullName: "Асхат", Contact: "+77020000000",
		StartCity: "Алматы", StartLat: 43.24, StartLon: 76.89, Paid: true,
	}
	if err := drivers.Upsert(ctx, d); err != nil {
		t.Fatal(err)
	}
	d.FullName = "Асхат Б."
	if err := drivers.Upsert(ctx, d); err != nil {
		t.Fatal(err)
	}
	got, err := drivers.GetByTelegramID(ctx, 2002)
	if err != nil || got.FullName != "Асхат Б." {
		t.Fatalf("driver = %+v, %v", got, err)
	}
	if ok, _ := drivers.Exists(ctx, 2002); !ok {
		t.Error("driver should exist")
	}

	req := &models.DriverRequest{
		DriverID: 2002, FromAddress: "Алматы", ToAddress: "Астана",
		FromLat: 43.24, FromLon: 76.89, ToLat: 51.13, ToLon: 71.43,
		Price: 40000, DepartureTime: time.Now().Add(24 * time.Hour),
	}
	if err := drivers.InsertRequest(ctx, req); err != nil {
		t.Fatal(err)
	}
	reqs, err := drivers.ActiveRequests(ctx, 2002)
	if err != nil || len(reqs) != 1 || reqs[0].Price != 40000 {
		t.Fatalf("requests = %+v, %v", reqs, err)
	}

	near, err := drivers.Near(ctx, models.Coordinate{Lon: 76.95, Lat: 43.22}, 10)
	if err != nil || len(near) != 1 {
		t.Fatalf("near = %+v, %v", near, err)
	}
	far, _ := drivers.Near(ctx, models.Coordinate{Lon: 71.43, Lat: 51.13}, 10)
	if len(far) != 0 {
		t.Errorf("far = %+v", far)
	}
}
