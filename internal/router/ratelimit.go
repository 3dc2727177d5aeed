package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateConfig is a token-bucket configuration for one server.
type RateConfig struct {
	Rate  float64 `json:"rate"`
	Burst int     `json:"burst"`
}

// DefaultRateConfig applies to servers without an explicit config.
var DefaultRateConfig = RateConfig{Rate: 10, Burst: 20}

// RateLimiter holds one continuously refilling token bucket per server
// id. Buckets are created lazily on first use.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	configs  map[string]RateConfig
}

// NewRateLimiter returns an empty limiter set.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		configs:  make(map[string]RateConfig),
	}
}

// Configure swaps the bucket config for a server. The bucket restarts
// full at the new burst.
func (l *RateLimiter) Configure(serverID string, cfg RateConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs[serverID] = cfg
	l.limiters[serverID] = rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)
}

func (l *RateLimiter) limiter(serverID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[serverID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(DefaultRateConfig.Rate), DefaultRateConfig.Burst)
		l.limiters[serverID] = lim
	}
	return lim
}

// Allow consumes one token for the server. When the bucket is empty it
// reports the wait until the next token becomes available.
func (l *RateLimiter) Allow(serverID string) (bool, time.Duration) {
	res := l.limiter(serverID).Reserve()
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}
