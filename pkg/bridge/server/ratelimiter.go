package server

import (
	"sync"
	"time"
)

const rateWindow = time.Minute

// RateLimiter applies a per-IP sliding window over submissions, so one
// noisy agent cannot crowd out the rest of the editor's clients.
type RateLimiter struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	perMinute int
	stop      chan struct{}
	stopOnce  sync.Once
	now       func() time.Time
}

// NewRateLimiter creates a limiter allowing perMinute requests per client.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{
		hits:      make(map[string][]time.Time),
		perMinute: perMinute,
		stop:      make(chan struct{}),
		now:       time.Now,
	}
	go rl.cleanupLoop()
	return rl
}

// Allow records a hit for ip and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.hits[ip][:0]
	for _, t := range rl.hits[ip] {
		if now.Sub(t) < rateWindow {
			recent = append(recent, t)
		}
	}
	rl.hits[ip] = recent

	if len(recent) >= rl.perMinute {
		return false
	}
	rl.hits[ip] = append(recent, now)
	return true
}

// RetryAfter returns the seconds until ip's oldest hit leaves the window.
func (rl *RateLimiter) RetryAfter(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	hits := rl.hits[ip]
	if len(hits) == 0 {
		return 0
	}
	remaining := rateWindow - rl.now().Sub(hits[0])
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, hits := range rl.hits {
		recent := hits[:0]
		for _, t := range hits {
			if now.Sub(t) < rateWindow {
				recent = append(recent, t)
			}
		}
		if len(recent) == 0 {
			delete(rl.hits, ip)
		} else {
			rl.hits[ip] = recent
		}
	}
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
