package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// OrderIDCounter allocates order ids with INCR, so several producer
// processes can share one sequence.
type OrderIDCounter struct {
	rdb *redis.Client
	key string
}

// NewOrderIDCounter seeds key so that the first id handed out is start.
// An existing sequence is left untouched.
func NewOrderIDCounter(ctx context.Context, rdb *redis.Client, key string, start int64) (*OrderIDCounter, error) {
	if err := rdb.SetNX(ctx, key, start-1, 0).Err(); err != nil {
		return nil, fmt.Errorf("redis SETNX failed: %w", err)
	}
	return &OrderIDCounter{rdb: rdb, key: key}, nil
}

// NextOrderID implements the OrderIDSource port.
func (c *OrderIDCounter) NextOrderID(ctx context.Context) (int64, error) {
	id, err := c.rdb.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis INCR failed: %w", err)
	}
	return id, nil
}

// Close gracefully closes the Redis connection.
func (c *OrderIDCounter) Close() error {
	return c.rdb.Close()
}
