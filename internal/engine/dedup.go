package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// OrderDedup short-circuits duplicate deliveries of the same purchase event
// before they reach the attributor. This is a fast path only: the converted
// flag's conditional update in the store is the durable idempotency token, so
// losing Redis (or the TTL expiring) never double-counts a conversion.
type OrderDedup struct {
	redisClient *redis.Client
	logger      *slog.Logger
	ttl         time.Duration
}

func NewOrderDedup(redisClient *redis.Client, ttl time.Duration, logger *slog.Logger) *OrderDedup {
	return &OrderDedup{redisClient: redisClient, logger: logger, ttl: ttl}
}

func dedupKey(orderID string) string {
	return fmt.Sprintf("order_seen:%s", orderID)
}

// FirstSeen records the order id and reports whether this is its first
// appearance. Fails open: on Redis error the event is treated as new and the
// store-level guard does the real work.
func (d *OrderDedup) FirstSeen(ctx context.Context, orderID string) bool {
	ok, err := d.redisClient.SetNX(ctx, dedupKey(orderID), 1, d.ttl).Result()
	if err != nil {
		d.logger.Error("order dedup check failed", "error", err, "order_id", orderID)
		return true
	}
	if !ok {
		d.logger.Info("duplicate order delivery suppressed", "order_id", orderID)
	}
	return ok
}
