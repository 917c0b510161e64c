package cache

import (
	"sync"
	"time"

	"bursar/internal/clock"
)

// MemoryCounter is a sliding-window counter for single-instance deployments.
type MemoryCounter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	clk  clock.Clock
}

func NewMemoryCounter(clk clock.Clock) *MemoryCounter {
	c := &MemoryCounter{
		hits: make(map[string][]time.Time),
		clk:  clk,
	}
	go c.cleanup()
	return c
}

func (c *MemoryCounter) Incr(key string, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	cutoff := now.Add(-window)
	var valid []time.Time
	for _, t := range c.hits[key] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	valid = append(valid, now)
	c.hits[key] = valid
	return len(valid), nil
}

func (c *MemoryCounter) cleanup() {
	tick := time.NewTicker(time.Minute)
	for range tick.C {
		c.mu.Lock()
		cutoff := c.clk.Now().Add(-time.Hour)
		for k, times := range c.hits {
			if len(times) == 0 || !times[len(times)-1].After(cutoff) {
				delete(c.hits, k)
			}
		}
		c.mu.Unlock()
	}
}
