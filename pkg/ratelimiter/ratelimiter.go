package ratelimiter

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimitError carries the remaining cooldown so handlers can set a
// Retry-After header.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return e.Message
}

func key(userID uuid.UUID, scope string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, userID.String())
}

// CheckAndSetRateLimit atomically claims the cooldown slot via SETNX.
// Returns false when the user is still inside the cooldown window. A nil
// redis client disables limiting (local development without Redis).
func CheckAndSetRateLimit(ctx context.Context, client *redis.Client, userID uuid.UUID, scope string, window time.Duration) (bool, error) {
	if client == nil {
		return true, nil
	}

	ok, err := client.SetNX(ctx, key(userID, scope), time.Now().Unix(), window).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func GetRateLimitTTL(ctx context.Context, client *redis.Client, userID uuid.UUID, scope string) (time.Duration, error) {
	if client == nil {
		return 0, nil
	}
	return client.TTL(ctx, key(userID, scope)).Result()
}

func ClearRateLimit(ctx context.Context, client *redis.Client, userID uuid.UUID, scope string) error {
	if client == nil {
		return nil
	}
	return client.Del(ctx, key(userID, scope)).Err()
}

func GetDurationFromEnv(envKey string, fallback time.Duration) time.Duration {
	raw := os.Getenv(envKey)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
