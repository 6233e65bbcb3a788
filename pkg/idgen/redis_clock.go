package idgen

import (
	"context"
	"time"

	"github.com/anthanhphan/gosdk/logger"
	"github.com/redis/go-redis/v9"
)

// Clock abstracts the time source for the ID generator.
type Clock interface {
	// Now returns the current timestamp in milliseconds.
	Now() int64
}

// SystemClock uses the local system time.
type SystemClock struct{}

func (s *SystemClock) Now() int64 {
	return time.Now().UnixMilli()
}

// RedisClock reads time from the Redis server so every process writing to
// the same registry agrees on record timestamps.
type RedisClock struct {
	client  redis.Cmdable
	timeout time.Duration
}

func NewRedisClock(client redis.Cmdable) *RedisClock {
	return &RedisClock{
		client:  client,
		timeout: time.Second,
	}
}

func (r *RedisClock) Now() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	// TIME returns [seconds, microseconds]
	res, err := r.client.Time(ctx).Result()
	if err != nil {
		logger.Warnw("Redis TIME failed, falling back to local clock", "error", err.Error())
		return time.Now().UnixMilli()
	}

	return res.UnixMilli()
}
