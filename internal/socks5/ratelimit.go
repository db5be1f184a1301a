package socks5

import (
	"sync"

	"golang.org/x/time/rate"
)

// ipRateLimiter hands out a token-bucket limiter per source IP, creating
// one lazily on first sight. Used by the TCP listener as an
// admission-control gate ahead of the protocol engine; the WebSocket
// listener and the core itself never consult this.
type ipRateLimiter struct {
	mu  sync.Mutex
	ips map[string]*rate.Limiter
	r   rate.Limit
	b   int
}

func newIPRateLimiter(r rate.Limit, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		ips: make(map[string]*rate.Limiter),
		r:   r,
		b:   burst,
	}
}

// allow reports whether a new connection from ip may proceed right now.
func (l *ipRateLimiter) allow(ip string) bool {
	return l.limiterFor(ip).Allow()
}

func (l *ipRateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.ips[ip]
	if !exists {
		limiter = rate.NewLimiter(l.r, l.b)
		l.ips[ip] = limiter
	}
	return limiter
}
