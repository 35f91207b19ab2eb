package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"go.uber.org/zap"

	"zholda/api"
	"zholda/backend"
	"zholda/cache"
	"zholda/config"
	"zholda/database"
	"zholda/events"
	"zholda/geocoding"
	"zholda/location"
	"zholda/logger"
	"zholda/matching"
	"zholda/migration"
	"zholda/routing"
	"zholda/session"
	"zholda/telegram"
)

func main() {
	configPath := os.Getenv("ZHOLDA_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Initialize configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	logg, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer logg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Open(ctx, cfg.DB, logg)
	if err != nil {
		logg.Fatal("database unavailable", zap.Error(err))
	}
	defer db.Close()
	if err := migration.RunMigrations(cfg.DB.Migrations, cfg.DB.DSN(), logg); err != nil {
		logg.Fatal("migrations failed", zap.Error(err))
	}
	clients := database.NewClients(db)
	drivers := database.NewDrivers(db)

	// Initialize Redis. Without it drivers are searched in the table and geocoding is not cached.
	var (
		candidates  matching.Locator
		driverIndex *cache.DriverLocator
		geocoder    geocoding.Geocoder = geocoding.NewYandex(cfg.Geocoding)
	)
	rdb, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		logg.Warn("redis unavailable, driver index disabled", zap.Error(err))
	} else {
		defer rdb.Close()
		driverIndex = cache.NewDriverLocator(rdb)
		candidates = driverIndex
		geocoder = geocoding.NewCached(geocoder, rdb, cfg.Geocoding.CacheTTL, logg)
	}

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := events.NewKafka(cfg.Kafka)
		if err != nil {
			logg.Warn("kafka unavailable, events disabled", zap.Error(err))
		} else {
			publisher = k
		}
	}
	defer publisher.Close()

	matcher := matching.NewMatcher(drivers, candidates, logg)
	requests := matching.NewRequests()
	if n, err := requests.Load(ctx, clients); err != nil {
		logg.Warn("request index not loaded", zap.Error(err))
	} else {
		logg.Info("request index loaded", zap.Int("requests", n))
	}

	var notifier api.Notifier
	if cfg.Telegram.Token != "" {
		tb, err := bot.New(cfg.Telegram.Token)
		if err != nil {
			logg.Warn("telegram bot disabled", zap.Error(err))
		} else {
			zb := telegram.New(tb, clients, matcher, cfg.Server.PublicURL, logg.Named("bot"))
			zb.Register(tb)
			go tb.Start(ctx)
			notifier = zb
		}
	}

	sessions := session.NewManager(session.Config{
		Backend:  backend.New(cfg.Server.PublicURL, 10*time.Second),
		Router:   routing.NewOSRM(cfg.Routing),
		Geocoder: geocoder,
		Drivers:  sessionIndex(driverIndex),
		Events:   publisher,
		Policy:   location.PolicyFromConfig(cfg.Tracking),
		Map:      cfg.Map,
		Simulate: cfg.Tracking.Simulate,
		Log:      logg.Named("session"),
	})
	if err := config.Watch(configPath, logg.Named("config"), func(c *config.Config) {
		sessions.SetPolicy(location.PolicyFromConfig(c.Tracking))
	}); err != nil {
		logg.Info("config hot reload disabled", zap.Error(err))
	}

	if cfg.Telegram.Token == "" {
		logg.Warn("no telegram token, session tokens are issued without init data checks")
	}
	server := api.NewServer(ctx, api.Deps{
		Clients:  clients,
		Drivers:  drivers,
		Matcher:  matcher,
		Requests: requests,
		Locator:  apiIndex(driverIndex),
		Events:   publisher,
		Notifier: notifier,
		Sessions: sessions,
		Config:   cfg.Server,
		BotToken: cfg.Telegram.Token,
		Log:      logg.Named("api"),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logg.Info("server started", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Warn("server shutdown", zap.Error(err))
	}
}

func sessionIndex(l *cache.DriverLocator) session.DriverIndex {
	if l == nil {
		return nil
	}
	return l
}

func apiIndex(l *cache.DriverLocator) api.DriverIndex {
	if l == nil {
		return nil
	}
	return l
}
