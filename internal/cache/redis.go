package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aquameter/telemetry-hub/internal/model"
)

const latestKey = "aquameter:reading:latest"

// Cache keeps the most recent validated reading in Redis so a freshly
// connected dashboard can hydrate without a round trip to SQLite. Writes
// are best-effort; the durable store remains the source of truth.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: 3,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// SetLatest stores the most recent reading under a fixed key.
func (c *Cache) SetLatest(ctx context.Context, reading *model.ValidatedReading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	return c.client.Set(ctx, latestKey, data, c.ttl).Err()
}

// GetLatest returns the most recent cached reading, or nil when the key is
// absent or expired.
func (c *Cache) GetLatest(ctx context.Context) (*model.ValidatedReading, error) {
	data, err := c.client.Get(ctx, latestKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}

	reading := &model.ValidatedReading{}
	if err := json.Unmarshal(data, reading); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached reading: %w", err)
	}
	return reading, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
