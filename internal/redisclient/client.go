package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/set_stock.lua
var setStockScript string

//go:embed scripts/release_lock.lua
var releaseLockScript string

// Client is the Redis-backed stock cache and lock service
type Client struct {
	rdb           *redis.Client
	stockTTL      time.Duration
	setStock      *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int, stockTTL time.Duration) (*Client, error) {
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

	return &Client{
		rdb:           rdb,
		stockTTL:      stockTTL,
		setStock:      redis.NewScript(setStockScript),
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(warehouseID, itemID int64) string {
	return fmt.Sprintf("stock:%d:%d", warehouseID, itemID)
}

// SetStock caches a committed quantity. The write only lands when movementID
// is newer than the cached one, so late writers never roll the cache back.
// movementID 0 is a seed and only fills an empty entry.
func (c *Client) SetStock(ctx context.Context, warehouseID, itemID int64, quantity int, movementID int64) error {
	key := stockKey(warehouseID, itemID)
	ttl := int64(c.stockTTL / time.Second)

	_, err := c.setStock.Run(ctx, c.rdb, []string{key}, quantity, movementID, ttl).Result()
	if err != nil {
		return fmt.Errorf("set stock script failed: %w", err)
	}
	return nil
}

// GetStock returns the cached quantity; ok is false on a cache miss
func (c *Client) GetStock(ctx context.Context, warehouseID, itemID int64) (int, bool, error) {
	result, err := c.rdb.HGet(ctx, stockKey(warehouseID, itemID), "quantity").Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	quantity, err := strconv.Atoi(result)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cached quantity %q: %w", result, err)
	}
	return quantity, true, nil
}

// InvalidateStock drops a cached quantity
func (c *Client) InvalidateStock(ctx context.Context, warehouseID, itemID int64) error {
	return c.rdb.Del(ctx, stockKey(warehouseID, itemID)).Err()
}

// AcquireLock acquires a distributed lock. The returned token must be passed
// to ReleaseLock; ok is false when another holder owns the lock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock releases a distributed lock if token still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
