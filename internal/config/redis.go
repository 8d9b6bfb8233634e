package config

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
)

// RedisOptions resolves the Redis connection from the environment.
// REDIS_URL wins when set; otherwise REDIS_ADDR, or REDIS_HOST with
// REDIS_PORT, plus REDIS_PASSWORD, REDIS_DB and REDIS_TLS.
func RedisOptions() (*redis.Options, error) {
	if u := os.Getenv("REDIS_URL"); u != "" {
		return redis.ParseURL(u)
	}
	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host := os.Getenv("REDIS_HOST"); host != "" {
		addr = net.JoinHostPort(host, envStr("REDIS_PORT", "6379"))
	}
	opt := &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
	}
	if envBool("REDIS_TLS", false) {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opt, nil
}

// NewRedisClient connects to Redis, which backs rate limiting, the layout
// cache and payment confirmation de-duplication.  It returns nil when
// REDIS_DISABLED is set, the options are invalid or the server does not
// answer a ping; callers then fall back to in-process behaviour.
func NewRedisClient() *redis.Client {
	if envBool("REDIS_DISABLED", false) {
		return nil
	}
	opt, err := RedisOptions()
	if err != nil {
		log.Warnf("redis: %v", err)
		return nil
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnf("redis %s: %v", opt.Addr, err)
		_ = client.Close()
		return nil
	}
	return client
}
