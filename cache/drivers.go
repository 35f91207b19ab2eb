package cache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"zholda/geo"
	"zholda/models"
)

// Located is a driver id with its last indexed position.
type Located struct {
	TelegramID int64
	Coordinate models.Coordinate
}

// DriverLocator buckets driver positions into geohash sets ("drivers:<hash>").
// Each driver also has a "driver:loc:<id>" hash so a move can leave its old cell.
type DriverLocator struct {
	rdb *redis.Client
}

func NewDriverLocator(rdb *redis.Client) *DriverLocator {
	return &DriverLocator{rdb: rdb}
}

func cellKey(hash string) string { return fmt.Sprintf("drivers:%s", hash) }

func locKey(id int64) string { return fmt.Sprintf("driver:loc:%d", id) }

// Index records that driver id is at c.
func (l *DriverLocator) Index(ctx context.Context, id int64, c models.Coordinate) error {
	hash := geo.Encode(c.Lat, c.Lon, geo.DriverPrecision)
	member := strconv.FormatInt(id, 10)

	old, err := l.rdb.HGet(ctx, locKey(id), "hash").Result()
	if err != nil && err != redis.Nil {
		return err
	}

	_, err = l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if old != "" && old != hash {
			p.SRem(ctx, cellKey(old), member)
		}
		p.SAdd(ctx, cellKey(hash), member)
		p.HSet(ctx, locKey(id), "hash", hash,
			"lat", strconv.FormatFloat(c.Lat, 'f', -1, 64),
			"lon", strconv.FormatFloat(c.Lon, 'f', -1, 64))
		return nil
	})
	return err
}

// Remove drops driver id from the index.
func (l *DriverLocator) Remove(ctx context.Context, id int64) error {
	old, err := l.rdb.HGet(ctx, locKey(id), "hash").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SRem(ctx, cellKey(old), strconv.FormatInt(id, 10))
		p.Del(ctx, locKey(id))
		return nil
	})
	return err
}

// Candidates returns the drivers indexed in the cell of c and its neighbours.
// Callers filter by exact distance.
func (l *DriverLocator) Candidates(ctx context.Context, c models.Coordinate) ([]Located, error) {
	seen := make(map[int64]bool)
	var ids []int64
	for _, hash := range geo.Cover(c.Lat, c.Lon, geo.DriverPrecision) {
		members, err := l.rdb.SMembers(ctx, cellKey(hash)).Result()
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			id, err := strconv.ParseInt(m, 10, 64)
			if err != nil || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err := l.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HMGet(ctx, locKey(id), "lat", "lon")
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, err
	}

	out := make([]Located, 0, len(ids))
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) != 2 {
			continue
		}
		lat, okLat := parseFloat(vals[0])
		lon, okLon := parseFloat(vals[1])
		if !okLat || !okLon {
			continue
		}
		out = append(out, Located{TelegramID: ids[i], Coordinate: models.Coordinate{Lon: lon, Lat: lat}})
	}
	return out, nil
}

func parseFloat(v interface{}) (float64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}
