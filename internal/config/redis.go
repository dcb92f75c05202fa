package config

// Redis backs the seat lock store, the rate limiter and the seat map cache.
// When the server cannot be reached at startup, NewRedisClient returns nil
// and callers degrade: the lock store falls back to memory (unless
// LOCK_STORE=redis forces it) and caching/rate limiting are disabled.

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisConfig carries connection settings.  Supported variables:
//
//	REDIS_HOST and REDIS_PORT, hostname and port of the Redis server
//	REDIS_ADDR, host:port shorthand used when host/port are not both set
//	REDIS_PASSWORD, optional password
//	REDIS_DB, database number (default 0)
//	REDIS_TLS, enable TLS when "true" or "1"
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
}

// LoadRedisConfig reads RedisConfig from the environment.
func LoadRedisConfig() RedisConfig {
	v := envViper()
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	addr := v.GetString("REDIS_ADDR")
	if host, port := v.GetString("REDIS_HOST"), v.GetString("REDIS_PORT"); host != "" && port != "" {
		addr = host + ":" + port
	}
	return RedisConfig{
		Addr:     addr,
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		TLS:      v.GetBool("REDIS_TLS"),
	}
}

// NewRedisClient connects and pings with a short timeout.  It returns nil
// when the server is unreachable.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	var tlsConf *tls.Config
	if cfg.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: tlsConf,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unreachable")
		_ = client.Close()
		return nil
	}
	return client
}
