package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingScript trims hits older than the window and records the new one only
// when it fits, so refused requests never extend a client's lockout. It returns
// {allowed, hits in window, unix ms when the oldest hit leaves the window}.
var slidingScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[4])
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, ARGV[1], ARGV[5])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)
local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {allowed, count, reset}
`)

// SlidingWindow is the shared limiter used when Redis is configured, so every API
// replica draws from the same per-client budget.
type SlidingWindow struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// Allow counts one hit for key if it fits in limit per rolling window.
func (l SlidingWindow) Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, int, time.Time, error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if l.Client == nil || limit <= 0 || window <= 0 {
		return true, limit, now.Add(window), nil
	}

	nowMs := now.UnixMilli()
	windowMs := max(window.Milliseconds(), 1)
	member := fmt.Sprintf("%d:%s", nowMs, uuid.NewString())
	res, err := slidingScript.Run(ctx, l.Client, []string{l.Prefix + key},
		nowMs, windowMs, limit, strconv.FormatInt(nowMs-windowMs, 10), member).Int64Slice()
	if err != nil {
		return false, 0, now.Add(window), err
	}
	if len(res) != 3 {
		return false, 0, now.Add(window), fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	remaining := max(limit-int(res[1]), 0)
	return res[0] == 1, remaining, time.UnixMilli(res[2]), nil
}
