package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireReconcileLock takes a short per-purchase lock so a racing webhook
// and redirect do not interleave their read-modify-write against the same
// purchase. The row lock in the store is the correctness guarantee; this
// just avoids redundant processor calls.
func (c *Client) AcquireReconcileLock(ctx context.Context, purchaseID int64, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:reconcile:%d", purchaseID), "1", ttl).Result()
}

// ReleaseReconcileLock releases the per-purchase reconcile lock.
func (c *Client) ReleaseReconcileLock(ctx context.Context, purchaseID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:reconcile:%d", purchaseID)).Err()
}

// MarkWebhookSeen records a webhook event ID with a TTL and reports whether
// it was already seen. The processor retries delivery on anything but a
// definitive 2xx, so the handler short-circuits repeats cheaply here before
// the durable processed_events check.
func (c *Client) MarkWebhookSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	fresh, err := c.rdb.SetNX(ctx, fmt.Sprintf("webhook:seen:%s", eventID), "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return !fresh, nil
}
