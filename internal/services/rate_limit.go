package services

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kamune-org/taskbag/internal/config"
)

const (
	limiterIdle    = 10 * time.Minute
	limiterMaxSize = 4096
)

type limiter struct {
	cfg     config.RateLimit
	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLimiter(cfg config.RateLimit) *limiter {
	return &limiter{cfg: cfg, clients: make(map[string]*clientLimiter)}
}

// RateLimit reports whether a request of client may proceed. It always does
// when rate limiting is disabled.
func (s *Service) RateLimit(client string) bool {
	return s.limiter.allow(client, time.Now())
}

func (l *limiter) allow(client string, now time.Time) bool {
	if !l.cfg.Enabled {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[client]
	if !ok {
		if len(l.clients) >= limiterMaxSize {
			l.prune(now)
		}
		c = &clientLimiter{lim: rate.NewLimiter(rate.Limit(l.cfg.Rate), l.cfg.Burst)}
		l.clients[client] = c
	}
	c.lastSeen = now
	return c.lim.AllowN(now, 1)
}

func (l *limiter) prune(now time.Time) {
	for k, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterIdle {
			delete(l.clients, k)
		}
	}
}
