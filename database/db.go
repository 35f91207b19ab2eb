package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"zholda/config"
)

// ErrNotFound is returned when a lookup by telegram id matches no row.
var ErrNotFound = errors.New("database: not found")

const (
	connectAttempts = 10
	connectBackoff  = 3 * time.Second
)

// Open connects to Postgres and waits for it to accept connections.
func Open(ctx context.Context, cfg config.DBConfig, log *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}
	for i := 0; i < connectAttempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			log.Info("database connected", zap.String("host", cfg.Host), zap.String("db", cfg.DBName))
			return db, nil
		}
		log.Info("waiting for the database", zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	db.Close()
	return nil, fmt.Errorf("could not connect to the database: %w", err)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
