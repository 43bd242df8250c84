package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/i474232898/weatherstation/internal/weather"
)

// LatestTTL drops sensors that stopped reporting from the cache.
const LatestTTL = 24 * time.Hour

// Redis keeps the latest reading of every sensor in a hash.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(addr string) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    LatestTTL,
	}
}

func (r *Redis) Name() string { return "redis" }

// Publish overwrites the latest-reading hash of each sensor in one round trip.
func (r *Redis) Publish(ctx context.Context, snap weather.Snapshot, at time.Time) error {
	if len(snap.Readings) == 0 {
		return nil
	}

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, reading := range snap.Readings {
			key := SensorKey(reading.Name)
			pipe.HSet(ctx, key, latestFields(reading, at))
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// SensorKey is the hash holding the latest reading of a sensor.
func SensorKey(name string) string {
	return "weatherstation:sensor:" + name
}

func latestFields(r weather.Reading, at time.Time) map[string]any {
	return map[string]any{
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
		"measured_at": weather.FormatTimestamp(at),
	}
}
