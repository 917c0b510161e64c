package cache

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mediocregopher/radix/v3"
)

// RedisCounter is a fixed-window counter shared across instances.
type RedisCounter struct {
	pool *radix.Pool
}

func NewRedisCounter(addr string) (*RedisCounter, error) {
	pool, err := radix.NewPool("tcp", addr, 10)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisCounter{pool: pool}, nil
}

func (c *RedisCounter) Incr(key string, window time.Duration) (int, error) {
	var n int
	if err := c.pool.Do(radix.Cmd(&n, "INCR", key)); err != nil {
		return 0, err
	}
	if n == 1 {
		secs := int(window.Seconds())
		if secs < 1 {
			secs = 1
		}
		if err := c.pool.Do(radix.Cmd(nil, "EXPIRE", key, strconv.Itoa(secs))); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (c *RedisCounter) Close() error {
	return c.pool.Close()
}
