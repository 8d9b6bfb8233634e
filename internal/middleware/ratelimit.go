package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cinema-seat-lock/internal/config"
)

// limiterScript refills the bucket continuously, takes one token if it can
// and returns {allowed, tokens_left, wait_ms}.
//
// ARGV: now_ms, capacity, refill_tokens, refill_interval_ms, ttl_seconds.
var limiterScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local per = tonumber(ARGV[3])
local every = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local b = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(b[1]) or capacity
local ts = tonumber(b[2]) or now
if now > ts then
	tokens = math.min(capacity, tokens + (now - ts) * per / every)
	ts = now
end

local ok, wait = 0, 0
if tokens >= 1 then
	ok = 1
	tokens = tokens - 1
else
	wait = math.ceil((1 - tokens) * every / per)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', ts)
redis.call('EXPIRE', KEYS[1], ttl)
return { ok, math.floor(tokens), wait }
`)

// NewTokenBucket limits requests per key with a Redis token bucket.  Redis
// errors let the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	return newTokenBucket(cfg, rdb, time.Now)
}

func newTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, now func() time.Time) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	limit := strconv.Itoa(cfg.Capacity)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg, c)
			res, err := limiterScript.Run(c.Request().Context(), rdb, []string{key},
				now().UnixMilli(),
				cfg.Capacity,
				cfg.RefillTokens,
				cfg.RefillInterval.Milliseconds(),
				int64(cfg.TTL/time.Second),
			).Int64Slice()
			if err != nil || len(res) != 3 {
				if cfg.Debug {
					c.Logger().Warnf("[ratelimit] key=%s: result=%v err=%v", key, res, err)
				}
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res[1], 10))
			if res[0] == 1 {
				return next(c)
			}

			secs := (max(res[2], 0) + 999) / 1000
			h.Set("Retry-After", strconv.FormatInt(secs, 10))
			if cfg.Debug {
				c.Logger().Infof("[ratelimit] block key=%s retry=%dms", key, res[2])
			}
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":      "rate limit exceeded",
				"retryAfter": secs,
			})
		}
	}
}

// rateKey names the bucket of a request.  KeyStrategy is a combination of
// ip, user and route joined by underscores; user_route is the default.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	strategy := strings.ToLower(cfg.KeyStrategy)
	if strategy == "" {
		strategy = "user_route"
	}
	parts := []string{cfg.Prefix}
	for _, dim := range strings.Split(strategy, "_") {
		switch dim {
		case "ip":
			parts = append(parts, "ip", orDefault(c.RealIP(), "unknown"))
		case "user":
			parts = append(parts, "user", orDefault(UserID(c), "anon"))
		case "route":
			parts = append(parts, "route", c.Request().Method+" "+c.Path())
		}
	}
	return strings.Join(parts, ":")
}

func orDefault(v, d string) string {
	if v == "" {
		return d
	}
	return v
}
