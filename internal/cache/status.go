package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"imagevault/internal/models"
)

// StatusTTL bounds how long a cached status may outlive its record.
const StatusTTL = 24 * time.Hour

// redisClient is the part of *redis.Client the cache uses.
type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// StatusCache mirrors image processing status in redis so pollers do not
// hit the record store.
type StatusCache struct {
	client redisClient
}

func NewStatusCache(ctx context.Context, addr string) (*StatusCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache.NewStatusCache: ping redis: %w", err)
	}
	return &StatusCache{client: client}, nil
}

func (c *StatusCache) Close() error {
	return c.client.Close()
}

func (c *StatusCache) SetStatus(ctx context.Context, imageID uuid.UUID, status models.ProcessingStatus) error {
	if err := c.client.Set(ctx, statusKey(imageID), string(status), StatusTTL).Err(); err != nil {
		return fmt.Errorf("cache.SetStatus: %w", err)
	}
	return nil
}

// GetStatus returns ok == false on a cache miss.
func (c *StatusCache) GetStatus(ctx context.Context, imageID uuid.UUID) (models.ProcessingStatus, bool, error) {
	const op = "cache.GetStatus"

	raw, err := c.client.Get(ctx, statusKey(imageID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	status, err := models.ParseProcessingStatus(raw)
	if err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return status, true, nil
}

// Forget drops the cached status of a deleted image.
func (c *StatusCache) Forget(ctx context.Context, imageID uuid.UUID) error {
	if err := c.client.Del(ctx, statusKey(imageID)).Err(); err != nil {
		return fmt.Errorf("cache.Forget: %w", err)
	}
	return nil
}

func statusKey(id uuid.UUID) string {
	return "image:status:" + id.String()
}
