// Package ratelimit guards outbound host-broker network calls per host,
// adapted from this codebase's per-key login rate limiter (same idle-GC'd
// map-of-limiters shape, applied to request hosts instead of login keys).
// Registry index fetches and archive downloads do not go through it.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter hands out a token-bucket limiter per host string, garbage
// collecting entries idle for longer than maxIdle.
type HostLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	lastSeen   map[string]time.Time
	r          rate.Limit
	burst      int
	maxIdle    time.Duration
	lastGC     time.Time
	gcInterval time.Duration
}

// NewHostLimiter returns a HostLimiter allowing r requests/sec with the
// given burst, per distinct host.
func NewHostLimiter(r rate.Limit, burst int) *HostLimiter {
	return &HostLimiter{
		limiters:   make(map[string]*rate.Limiter),
		lastSeen:   make(map[string]time.Time),
		r:          r,
		burst:      burst,
		maxIdle:    10 * time.Minute,
		gcInterval: 5 * time.Minute,
		lastGC:     time.Now(),
	}
}

// Allow reports whether a request to host is currently permitted,
// consuming a token if so.
func (h *HostLimiter) Allow(host string) bool {
	return h.get(host).Allow()
}

func (h *HostLimiter) get(host string) *rate.Limiter {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	if now.Sub(h.lastGC) >= h.gcInterval {
		for k, seen := range h.lastSeen {
			if now.Sub(seen) > h.maxIdle {
				delete(h.lastSeen, k)
				delete(h.limiters, k)
			}
		}
		h.lastGC = now
	}

	lim, ok := h.limiters[host]
	if !ok {
		lim = rate.NewLimiter(h.r, h.burst)
		h.limiters[host] = lim
	}
	h.lastSeen[host] = now
	return lim
}
