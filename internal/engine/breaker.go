package engine

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Transport breaker states
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half-open"
)

const breakerKey = "breaker:transport"

// TransportBreaker pauses dispatch while the SMS provider is failing. It does
// not touch subscriber locks (a failed dispatch stays locked regardless)
// it only stops feeding new sends into a provider that is down. State is a
// Redis hash shared by all worker instances.
//
// closed -> open after consecutive failures reach the threshold;
// open -> half-open once the cooldown elapses (one probe send allowed);
// half-open -> closed on success, back to open on failure.
type TransportBreaker struct {
	redisClient *redis.Client
	logger      *slog.Logger
	threshold   int
	cooldown    time.Duration
}

func NewTransportBreaker(redisClient *redis.Client, logger *slog.Logger) *TransportBreaker {
	return &TransportBreaker{
		redisClient: redisClient,
		logger:      logger,
		threshold:   5,
		cooldown:    60 * time.Second,
	}
}

// Allow reports whether a send may be attempted right now.
func (b *TransportBreaker) Allow(ctx context.Context) bool {
	data, err := b.redisClient.HGetAll(ctx, breakerKey).Result()
	if err != nil || len(data) == 0 {
		return true
	}

	switch data["state"] {
	case BreakerOpen:
		lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
		if time.Now().Unix()-lastFailedAt < int64(b.cooldown.Seconds()) {
			return false
		}
		b.redisClient.HSet(ctx, breakerKey, "state", BreakerHalfOpen)
		b.logger.Info("transport breaker half-open, allowing probe send")
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker.
func (b *TransportBreaker) RecordSuccess(ctx context.Context) {
	state, _ := b.redisClient.HGet(ctx, breakerKey, "state").Result()
	b.redisClient.HSet(ctx, breakerKey, "state", BreakerClosed, "failures", 0)
	if state == BreakerHalfOpen {
		b.logger.Info("transport breaker closed, provider recovered")
	}
}

// RecordFailure counts a transport failure and opens the breaker at the
// threshold, or immediately when a half-open probe fails.
func (b *TransportBreaker) RecordFailure(ctx context.Context) {
	failures, err := b.redisClient.HIncrBy(ctx, breakerKey, "failures", 1).Result()
	if err != nil {
		b.logger.Error("recording transport failure", "error", err)
		return
	}
	b.redisClient.HSet(ctx, breakerKey, "last_failed_at", time.Now().Unix())

	state, _ := b.redisClient.HGet(ctx, breakerKey, "state").Result()
	if state == BreakerHalfOpen || failures >= int64(b.threshold) {
		b.redisClient.HSet(ctx, breakerKey, "state", BreakerOpen)
		b.logger.Warn("transport breaker opened",
			"failures", failures,
			"threshold", b.threshold,
		)
	}
}

// State returns the current breaker state for the metrics surface.
func (b *TransportBreaker) State(ctx context.Context) string {
	state, err := b.redisClient.HGet(ctx, breakerKey, "state").Result()
	if err != nil || state == "" {
		return BreakerClosed
	}
	return state
}
