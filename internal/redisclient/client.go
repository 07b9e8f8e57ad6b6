package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/release_stock.lua
var releaseStockScript string

type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		releaseScript: redis.NewScript(releaseStockScript),
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

func stockKey(eventID string, tierIndex int) string {
	return fmt.Sprintf("inventory:%s:%d", eventID, tierIndex)
}

// ReserveStock atomically bumps the sold counter for a tier when the supply
// bound holds. The check and the increment happen inside one Lua script.
// Returns false when the tier cannot absorb quantity.
func (c *Client) ReserveStock(ctx context.Context, eventID string, tierIndex, quantity, supply int) (bool, error) {
	result, err := c.reserveScript.Run(ctx, c.rdb, []string{stockKey(eventID, tierIndex)}, quantity, supply).Result()
	if err != nil {
		return false, fmt.Errorf("reserve stock script failed: %w", err)
	}

	success, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return success == 1, nil
}

// ReleaseStock atomically decrements the sold counter, floored at zero.
func (c *Client) ReleaseStock(ctx context.Context, eventID string, tierIndex, quantity int) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{stockKey(eventID, tierIndex)}, quantity).Result()
	if err != nil {
		return fmt.Errorf("release stock script failed: %w", err)
	}

	return nil
}

// GetSold retrieves the cached sold count for a tier. Missing keys read as
// zero.
func (c *Client) GetSold(ctx context.Context, eventID string, tierIndex int) (int, error) {
	sold, err := c.rdb.HGet(ctx, stockKey(eventID, tierIndex), "sold").Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return sold, nil
}

// InitStock seeds the cached sold count for a tier.
func (c *Client) InitStock(ctx context.Context, eventID string, tierIndex, sold int) error {
	return c.rdb.HSet(ctx, stockKey(eventID, tierIndex), "sold", sold).Err()
}
