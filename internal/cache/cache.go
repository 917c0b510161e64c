package cache

import "time"

// Counter increments a key and returns the count of hits inside the current
// window. Used for request rate limiting.
type Counter interface {
	Incr(key string, window time.Duration) (int, error)
}
