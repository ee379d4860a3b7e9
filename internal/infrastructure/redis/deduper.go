package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultDedupTTL = 24 * time.Hour

func NewClient(addr, password string) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
	})
}

// Deduper records processed webhook deliveries so a replayed callback is
// acknowledged without being applied twice.
type Deduper struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewDeduper returns a Deduper whose keys expire after ttl, or after a day
// when ttl is zero.
func NewDeduper(client *goredis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &Deduper{client: client, ttl: ttl}
}

// Claim stores value under key if the key is new. Otherwise it reports the
// value stored by the first delivery.
func (d *Deduper) Claim(ctx context.Context, key, value string) (bool, string, error) {
	ok, err := d.client.SetNX(ctx, dedupKey(key), value, d.ttl).Result()
	if err != nil {
		return false, "", fmt.Errorf("redis setnx failed: %w", err)
	}
	if ok {
		return true, "", nil
	}

	existing, err := d.client.Get(ctx, dedupKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		// expired between the two calls
		return d.Claim(ctx, key, value)
	}
	if err != nil {
		return false, "", fmt.Errorf("redis get failed: %w", err)
	}
	return false, existing, nil
}

func (d *Deduper) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, dedupKey(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func dedupKey(key string) string {
	return fmt.Sprintf("marketplace:%s", key)
}
