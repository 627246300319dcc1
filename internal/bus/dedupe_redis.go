package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedupe shares dedupe state between gateway replicas.
type RedisDedupe struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	// fallback answers when redis is unreachable.
	fallback Deduper
}

// NewRedisDedupe connects to url (redis://...) and verifies the connection.
func NewRedisDedupe(ctx context.Context, url, prefix string, ttl time.Duration, fallback Deduper) (*RedisDedupe, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisDedupe{client: client, prefix: prefix, ttl: ttl, fallback: fallback}, nil
}

func (r *RedisDedupe) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	created, err := r.client.SetNX(ctx, r.prefix+key, 1, r.ttl).Result()
	if err != nil {
		slog.Warn("dedupe: redis unavailable, using local cache", "error", err)
		if r.fallback != nil {
			return r.fallback.IsDuplicate(key)
		}
		return false
	}
	return !created
}

func (r *RedisDedupe) Close() error {
	return r.client.Close()
}
