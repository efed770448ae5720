package cache

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"
)

// LimiterStorage returns a fiber storage on Redis database 1 (the cache uses
// DB 0) so rate limits are shared between instances. Nil when no cache is set up.
func LimiterStorage() fiber.Storage {
	cacheClient := GetClient()
	if cacheClient == nil {
		return nil
	}

	host := "localhost"
	port := 6379
	addr := cacheClient.Options().Addr
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: cacheClient.Options().Password,
		Database: 1,
		Reset:    false,
	})
}
