package router

import (
	"net"
	"strconv"

	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/MindShield/internal/pkg/cache"
	"github.com/ManuelReschke/MindShield/internal/pkg/env"
)

// NewLimiterStorage keeps rate limiter counters in Redis so every API
// instance shares them. Counters live in their own database next to the
// repair queue.
func NewLimiterStorage() *redis.Storage {
	opts := cache.Options()
	host := "localhost"
	port := 6379
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: env.GetEnvInt("LIMITER_CACHE_DB", 1),
		Reset:    false,
	})
}
