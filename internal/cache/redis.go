package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"linkdrop/internal/config"
	"linkdrop/internal/service"
)

const receiptPrefix = "receipt:"

// RedisReceipts records which provider message delivered each link.
// Entries expire together with the link.
type RedisReceipts struct {
	client *redis.Client
}

var _ service.ReceiptCache = (*RedisReceipts)(nil)

func NewRedisReceipts(client *redis.Client) *RedisReceipts {
	return &RedisReceipts{client: client}
}

// Connect creates a client and pings it.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (rc *RedisReceipts) StoreReceipt(ctx context.Context, token, messageID string, ttl time.Duration) error {
	return rc.client.Set(ctx, receiptPrefix+token, messageID, ttl).Err()
}
