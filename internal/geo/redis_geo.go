package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/parish-rides/internal/models"
)

// OpenRequestIndex is the interface the HTTP layer and the event
// consumer use to keep a proximity index of open request pickups.
type OpenRequestIndex interface {
	Add(ctx context.Context, requestID string, pickup models.Coord) error
	Remove(ctx context.Context, requestID string) error
	NearbyIDs(ctx context.Context, center models.Coord, radiusMeters float64, limit int) ([]string, error)
}

// RedisIndex implements OpenRequestIndex using Redis GEO commands.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key}
}

func (r *RedisIndex) Add(ctx context.Context, requestID string, pickup models.Coord) error {
	return r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: pickup.Lon,
		Latitude:  pickup.Lat,
		Name:      requestID,
	}).Err()
}

func (r *RedisIndex) Remove(ctx context.Context, requestID string) error {
	return r.client.ZRem(ctx, r.key, requestID).Err()
}

func (r *RedisIndex) NearbyIDs(ctx context.Context, center models.Coord, radiusMeters float64, limit int) ([]string, error) {
	res, err := r.client.GeoRadius(ctx, r.key, center.Lon, center.Lat, &redis.GeoRadiusQuery{
		Radius: radiusMeters,
		Unit:   "m",
		Count:  limit,
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res))
	for _, g := range res {
		out = append(out, g.Name)
	}
	return out, nil
}
