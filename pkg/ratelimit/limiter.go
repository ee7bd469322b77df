// Package ratelimit throttles mutating requests per caller.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy defines per-key limits.
type Policy struct {
	RPM   int
	Burst int
}

// perSecond converts RPM, falling back to one token per second.
func (p Policy) perSecond() float64 {
	r := float64(p.RPM) / 60.0
	if r <= 0 {
		return 1
	}
	return r
}

func (p Policy) burst() int {
	if p.Burst <= 0 {
		return 1
	}
	return p.Burst
}

// RetryAfter suggests a backoff in whole seconds.
func (p Policy) RetryAfter() int {
	if p.RPM <= 0 {
		return 1
	}
	secs := 60 / p.RPM
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter decides whether key may spend cost tokens now.
type Limiter interface {
	Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory.
type MemoryLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	idleTTL  time.Duration
	clock    func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryLimiter creates a limiter and starts a janitor that drops keys
// idle for longer than idleTTL. Close stops the janitor.
func NewMemoryLimiter(idleTTL time.Duration) *MemoryLimiter {
	if idleTTL <= 0 {
		idleTTL = 3 * time.Minute
	}
	l := &MemoryLimiter{
		visitors: make(map[string]*visitor),
		idleTTL:  idleTTL,
		clock:    time.Now,
		stop:     make(chan struct{}),
	}
	go l.janitor()
	return l
}

func (l *MemoryLimiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *MemoryLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idleTTL {
			delete(l.visitors, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error) {
	l.mu.Lock()
	now := l.clock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(policy.perSecond()), policy.burst())}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	return v.limiter.AllowN(now, cost), nil
}

// Close stops the janitor.
func (l *MemoryLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}
