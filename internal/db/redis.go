package db

import (
	"context"

	"restlib/internal/logger"

	"github.com/redis/go-redis/v9"
)

// NewRedis takes the address explicitly (not from os.Getenv). The client is
// optional: callers must tolerate a nil return when addr is "off".
func NewRedis(addr string) *redis.Client {
	if addr == "off" {
		return nil
	}
	if addr == "" {
		addr = "localhost:6379"
		logger.Warn("redis_default_addr", nil)
	}
	return redis.NewClient(&redis.Options{
		Addr: addr,
	})
}

func PingRedis(rdb *redis.Client) error {
	return rdb.Ping(context.Background()).Err()
}
