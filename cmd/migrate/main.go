// Command migrate waits for the database and applies the schema migrations, for running
// ahead of the server in deployments.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"zholda/config"
	"zholda/database"
	"zholda/logger"
	"zholda/migration"
)

func main() {
	path := os.Getenv("ZHOLDA_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal(err)
	}
	logg, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer logg.Sync()

	// Wait for the database to be ready
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	db, err := database.Open(ctx, cfg.DB, logg)
	if err != nil {
		logg.Fatal("could not connect to the database", zap.Error(err))
	}
	db.Close()

	if err := migration.RunMigrations(cfg.DB.Migrations, cfg.DB.DSN(), logg); err != nil {
		logg.Fatal("migration error", zap.Error(err))
	}
}
