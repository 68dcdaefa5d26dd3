// Package ratelimit implements per-identity sliding-window admission control.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relaybot/internal/domain"
	"relaybot/internal/obs"
)

const (
	DefaultMaxRequests     = 10
	DefaultWindow          = 60 * time.Second
	DefaultCleanupInterval = 5 * time.Minute
)

// Config bounds admissions to MaxRequests per trailing Window for each identity.
type Config struct {
	MaxRequests     int
	Window          time.Duration
	CleanupInterval time.Duration
}

// Stats is a point-in-time view of the limiter.
type Stats struct {
	ActiveIdentities int
	MaxRequests      int
	Window           time.Duration
	LastCleanup      time.Time
}

// entry holds the admission timestamps of one identity in arrival order.
// removed is set by Sweep under mu once the entry has left the map.
type entry struct {
	mu      sync.Mutex
	stamps  []time.Time
	removed bool
}

// evictBefore drops leading timestamps older than cutoff. Caller holds e.mu.
func (e *entry) evictBefore(cutoff time.Time) {
	i := 0
	for i < len(e.stamps) && e.stamps[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	if i == len(e.stamps) {
		e.stamps = e.stamps[:0]
		return
	}
	e.stamps = append(e.stamps[:0], e.stamps[i:]...)
}

// Limiter is safe for concurrent use. Identities never share an entry lock.
type Limiter struct {
	cfg     Config
	now     func() time.Time
	logger  zerolog.Logger
	metrics *obs.Metrics

	mu      sync.RWMutex
	entries map[domain.Identity]*entry

	cleanupMu   sync.Mutex
	lastCleanup time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now. Tests use it to drive the window deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger for sweep events. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithMetrics counts denials and reports the tracked identity gauge on m.
func WithMetrics(m *obs.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// New returns a Limiter. Non-positive config fields fall back to the defaults.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		logger:  zerolog.Nop(),
		entries: make(map[domain.Identity]*entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastCleanup = l.now()
	return l
}

// Allow reports whether id may make a request now and, if so, records it.
// A denied call records nothing.
func (l *Limiter) Allow(id domain.Identity) bool {
	now := l.now()
	l.sweepIfDue(now)

	cutoff := now.Add(-l.cfg.Window)
	for {
		e := l.getOrCreate(id)
		e.mu.Lock()
		if e.removed {
			// Swept between lookup and lock; retry against the live map.
			e.mu.Unlock()
			continue
		}
		e.evictBefore(cutoff)
		if len(e.stamps) >= l.cfg.MaxRequests {
			e.mu.Unlock()
			l.metrics.ObserveRateLimited()
			return false
		}
		e.stamps = append(e.stamps, now)
		e.mu.Unlock()
		return true
	}
}

// WaitTime returns how long id must wait before Allow can succeed. It is zero when
// id is under the limit. WaitTime never creates or modifies state.
func (l *Limiter) WaitTime(id domain.Identity) time.Duration {
	l.mu.RLock()
	e, ok := l.entries[id]
	l.mu.RUnlock()
	if !ok {
		return 0
	}

	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	e.mu.Lock()
	defer e.mu.Unlock()
	i := 0
	for i < len(e.stamps) && e.stamps[i].Before(cutoff) {
		i++
	}
	if len(e.stamps)-i < l.cfg.MaxRequests {
		return 0
	}
	wait := l.cfg.Window - now.Sub(e.stamps[i])
	if wait < 0 {
		return 0
	}
	return wait
}

// WaitSeconds is WaitTime truncated to whole seconds, as shown to users.
func (l *Limiter) WaitSeconds(id domain.Identity) int {
	return int(l.WaitTime(id) / time.Second)
}

// Reset discards every recorded request of id.
func (l *Limiter) Reset(id domain.Identity) {
	l.mu.Lock()
	e, ok := l.entries[id]
	if ok {
		delete(l.entries, id)
	}
	l.mu.Unlock()
	if ok {
		e.mu.Lock()
		e.removed = true
		e.stamps = nil
		e.mu.Unlock()
	}
}

// Sweep drops expired timestamps for all identities and forgets identities left
// with none. It returns the number of identities removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := l.sweep(now)
	l.cleanupMu.Lock()
	l.lastCleanup = now
	l.cleanupMu.Unlock()
	return removed
}

// Stats returns the current limiter statistics.
func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	n := len(l.entries)
	l.mu.RUnlock()
	l.cleanupMu.Lock()
	last := l.lastCleanup
	l.cleanupMu.Unlock()
	return Stats{
		ActiveIdentities: n,
		MaxRequests:      l.cfg.MaxRequests,
		Window:           l.cfg.Window,
		LastCleanup:      last,
	}
}

// Config returns the effective configuration after defaults.
func (l *Limiter) Config() Config { return l.cfg }

func (l *Limiter) sweepIfDue(now time.Time) {
	l.cleanupMu.Lock()
	if now.Sub(l.lastCleanup) < l.cfg.CleanupInterval {
		l.cleanupMu.Unlock()
		return
	}
	l.lastCleanup = now
	l.cleanupMu.Unlock()
	l.sweep(now)
}

func (l *Limiter) sweep(now time.Time) int {
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, e := range l.entries {
		e.mu.Lock()
		e.evictBefore(cutoff)
		if len(e.stamps) == 0 {
			e.removed = true
			delete(l.entries, id)
			removed++
		}
		e.mu.Unlock()
	}
	l.metrics.SetLimiterIdentities(len(l.entries))
	if removed > 0 {
		l.logger.Debug().Int("removed", removed).Int("active", len(l.entries)).Msg("rate limiter sweep")
	}
	return removed
}

// getOrCreate returns the entry for id, creating it under the write lock if needed.
func (l *Limiter) getOrCreate(id domain.Identity) *entry {
	l.mu.RLock()
	e, ok := l.entries[id]
	l.mu.RUnlock()
	if ok {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[id]; ok {
		return e
	}
	e = &entry{}
	l.entries[id] = e
	return e
}
