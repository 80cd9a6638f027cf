package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleEvict = 15 * time.Minute

// LoginLimiter throttles login attempts per remote IP. Each IP gets its
// own token bucket; idle buckets are evicted so the map cannot grow
// without bound under address churn.
type LoginLimiter struct {
	mu        sync.Mutex
	perIP     map[string]*ipBucket
	rate      rate.Limit
	burst     int
	lastSweep time.Time
}

type ipBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLoginLimiter allows perMinute sustained attempts with the given
// burst per IP.
func NewLoginLimiter(perMinute, burst int) *LoginLimiter {
	return &LoginLimiter{
		perIP:     make(map[string]*ipBucket),
		rate:      rate.Limit(float64(perMinute) / 60.0),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// Allow reports whether ip may attempt a login now.
func (l *LoginLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > limiterIdleEvict {
		for k, b := range l.perIP {
			if now.Sub(b.lastSeen) > limiterIdleEvict {
				delete(l.perIP, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.perIP[ip]
	if !ok {
		b = &ipBucket{lim: rate.NewLimiter(l.rate, l.burst)}
		l.perIP[ip] = b
	}
	b.lastSeen = now
	return b.lim.Allow()
}
