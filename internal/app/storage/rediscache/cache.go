// Package rediscache stores the top gainers snapshot in Redis so several
// marketpulse replicas share one upstream fetch per TTL window.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/marketpulse/internal/app/domain/market"
	"github.com/R3E-Network/marketpulse/internal/app/storage"
)

const snapshotKey = "top-gainers"

// Commander is the subset of the go-redis client the cache uses.
type Commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cache implements storage.SnapshotCache on Redis.
type Cache struct {
	client Commander
	key    string
	expiry time.Duration
}

var _ storage.SnapshotCache = (*Cache)(nil)

// Open parses a redis:// URL and verifies connectivity.
func Open(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// New builds a cache under prefix. Entries expire after expiry so fallback
// data outlives the freshness window but not indefinitely; zero keeps them.
func New(client Commander, prefix string, expiry time.Duration) *Cache {
	return &Cache{
		client: client,
		key:    prefix + snapshotKey,
		expiry: expiry,
	}
}

func (c *Cache) Load(ctx context.Context) (market.Snapshot, bool, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return market.Snapshot{}, false, nil
	}
	if err != nil {
		return market.Snapshot{}, false, fmt.Errorf("redis get %s: %w", c.key, err)
	}

	var snap market.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return market.Snapshot{}, false, fmt.Errorf("decode cached snapshot: %w", err)
	}
	return snap, true, nil
}

func (c *Cache) Save(ctx context.Context, snap market.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, c.expiry).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key, err)
	}
	return nil
}
