package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const sendGateKey = "sendgate:transport"

// SendGate caps outbound sends per minute across every worker instance. The
// per-batch inter-message delay paces one worker; the gate is what keeps N
// overlapping workers inside the transport's throughput limit. Sliding window
// over a Redis sorted set, checked-and-advanced atomically by a Lua script.
type SendGate struct {
	redisClient *redis.Client
	logger      *slog.Logger
	limit       int
	script      *redis.Script
}

// The script drops entries older than the window, counts what is left, and
// either records this send and returns 1 or refuses with 0.
var sendWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, window / 1000 + 1)
    return 1
end
return 0
`)

func NewSendGate(redisClient *redis.Client, limit int, logger *slog.Logger) *SendGate {
	return &SendGate{
		redisClient: redisClient,
		logger:      logger,
		limit:       limit,
		script:      sendWindowScript,
	}
}

// Allow reports whether another send fits in the current minute. Fails open:
// a Redis outage slows nothing down, it only loses cross-instance pacing.
func (g *SendGate) Allow(ctx context.Context) bool {
	if g.limit <= 0 {
		return true
	}

	now := time.Now().UnixMilli()
	window := int64(60_000)
	member := time.Now().UnixNano()

	result, err := g.script.Run(ctx, g.redisClient, []string{sendGateKey},
		now, window, g.limit, member,
	).Int64()
	if err != nil {
		g.logger.Error("send gate script failed", "error", err)
		return true
	}

	if result == 0 {
		g.logger.Debug("send gate saturated", "limit_per_minute", g.limit)
		return false
	}
	return true
}
