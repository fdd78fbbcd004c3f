package server

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter guards one connection's inbound events: a burst of events is
// allowed at once and the bucket refills fully over one interval.
type rateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	return newRateLimiterWithClock(burst, interval, time.Now)
}

func newRateLimiterWithClock(burst int, interval time.Duration, now func() time.Time) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	perEvent := interval / time.Duration(burst)
	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Every(perEvent), burst),
		now:     now,
	}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.AllowN(rl.now(), 1)
}
