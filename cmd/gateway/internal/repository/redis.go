package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/pkg/models"
)

const (
	keyPrefix     = "quote:"
	channelPrefix = "prices."
)

// Compile-time check to ensure RedisStore implements QuoteStore
var _ QuoteStore = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// PublishQuote stores the latest quote and publishes it on the symbol channel
// in one pipeline.
func (r *RedisStore) PublishQuote(ctx context.Context, q models.Quote) error {
	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, keyPrefix+q.Symbol, payload, r.ttl) // TTL prevents unbounded memory growth
	pipe.Publish(ctx, channelPrefix+q.Symbol, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline %s: %w", q.Symbol, err)
	}
	return nil
}

// GetSnapshots fetches the latest stored quote for a list of symbols (MGET).
// Missing or undecodable entries are skipped.
func (r *RedisStore) GetSnapshots(ctx context.Context, symbols []string) ([]models.Quote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	keys := make([]string, len(symbols))
	for i, sym := range symbols {
		keys[i] = keyPrefix + sym
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var snapshots []models.Quote
	for _, val := range results {
		payload, ok := val.(string)
		if !ok || payload == "" {
			continue
		}
		var q models.Quote
		if err := json.Unmarshal([]byte(payload), &q); err != nil {
			continue
		}
		snapshots = append(snapshots, q)
	}
	return snapshots, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
