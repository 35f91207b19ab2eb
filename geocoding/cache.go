package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"zholda/metrics"
	"zholda/models"
)

// Cached wraps a Geocoder with a Redis cache. Cache errors degrade to a direct lookup.
type Cached struct {
	next Geocoder
	rdb  *redis.Client
	ttl  time.Duration
	log  *zap.Logger
}

// NewCached caches lookups of next in rdb for ttl.
func NewCached(next Geocoder, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Cached {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cached{next: next, rdb: rdb, ttl: ttl, log: log}
}

func reverseKey(c models.Coordinate) string {
	return fmt.Sprintf("geocode:rev:%.6f,%.6f", c.Lon, c.Lat)
}

func forwardKey(query string) string {
	return "geocode:fwd:" + strings.ToLower(strings.TrimSpace(query))
}

func (g *Cached) Reverse(ctx context.Context, c models.Coordinate) (string, error) {
	key := reverseKey(c)
	if addr, err := g.rdb.Get(ctx, key).Result(); err == nil {
		return addr, nil
	} else if err != redis.Nil {
		g.log.Debug("geocode cache read failed", zap.Error(err))
	}

	addr, err := g.next.Reverse(ctx, c)
	if err != nil {
		return "", err
	}
	if err := g.rdb.Set(ctx, key, addr, g.ttl).Err(); err != nil {
		g.log.Debug("geocode cache write failed", zap.Error(err))
	}
	return addr, nil
}

func (g *Cached) Forward(ctx context.Context, query string) (models.Coordinate, error) {
	key := forwardKey(query)
	if raw, err := g.rdb.Get(ctx, key).Bytes(); err == nil {
		var c models.Coordinate
		if json.Unmarshal(raw, &c) == nil {
			return c, nil
		}
	} else if err != redis.Nil {
		g.log.Debug("geocode cache read failed", zap.Error(err))
	}

	c, err := g.next.Forward(ctx, query)
	if err != nil {
		return models.Coordinate{}, err
	}
	raw, _ := json.Marshal(c)
	if err := g.rdb.Set(ctx, key, raw, g.ttl).Err(); err != nil {
		g.log.Debug("geocode cache write failed", zap.Error(err))
	}
	return c, nil
}

// AddressFor returns the address at c, or c formatted as "lat, lon" when the lookup fails.
func AddressFor(ctx context.Context, g Geocoder, c models.Coordinate, log *zap.Logger) string {
	if g != nil {
		addr, err := g.Reverse(ctx, c)
		if err == nil && addr != "" {
			return addr
		}
		if log != nil {
			log.Warn("reverse geocoding failed, using coordinates", zap.Error(err))
		}
	}
	metrics.GeocodeFallbacks.Inc()
	return c.String()
}
