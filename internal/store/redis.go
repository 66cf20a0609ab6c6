package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the client used by the redis trigger-queue backend. Only
// multi-process deployments (agent and sync worker as separate binaries)
// need it; the memory backend needs no broker at all.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts so an absent broker fails
// fast instead of stalling scan ingestion.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}
