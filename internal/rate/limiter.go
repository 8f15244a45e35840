package rate

import (
	"context"
	"math"
	"sync"
	"time"
)

// Config defines rate limiting parameters for a key. Interval, when set,
// takes precedence over RequestsPerSecond as the exact spacing between tokens.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	Interval          time.Duration
}

// Every returns the Config allowing one request per interval, i.e. a plain
// per-key cooldown.
func Every(interval time.Duration) Config {
	if interval <= 0 {
		return Config{}
	}
	return Config{Interval: interval, Burst: 1}
}

func (c Config) emission() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	if c.RequestsPerSecond <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(time.Second) / c.RequestsPerSecond))
}

// Limiter implements a token bucket rate limiter. The bucket is tracked as
// the time it will next be full (tat), in whole nanoseconds, so a cooldown
// ends exactly one emission interval after the token was taken.
type Limiter struct {
	mu       sync.Mutex
	tat      time.Time
	emission time.Duration
	capacity time.Duration // emission * burst
	now      func() time.Time
}

// New creates a new limiter. A zero rate disables limiting.
func New(cfg Config) *Limiter {
	return newWithClock(cfg, time.Now)
}

func newWithClock(cfg Config, now func() time.Time) *Limiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	emission := cfg.emission()
	return &Limiter{
		tat:      now(),
		emission: emission,
		capacity: emission * time.Duration(burst),
		now:      now,
	}
}

// base returns tat, or now when the bucket has fully refilled. Must be
// called with mu held.
func (l *Limiter) base(now time.Time) time.Time {
	if l.tat.Before(now) {
		return now
	}
	return l.tat
}

// Allow consumes a token if one is available.
func (l *Limiter) Allow() bool {
	ok, _ := l.Take()
	return ok
}

// Take consumes a token if one is available. Otherwise it reports how long
// until the next token.
func (l *Limiter) Take() (bool, time.Duration) {
	if l.emission <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	next := l.base(now).Add(l.emission)
	if over := next.Sub(now) - l.capacity; over > 0 {
		return false, over
	}
	l.tat = next
	return true, 0
}

// Refund gives back a token taken by Take, capped at the burst size.
func (l *Limiter) Refund() {
	if l.emission <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tat = l.base(now).Add(-l.emission)
	if l.tat.Before(now) {
		l.tat = now
	}
}

// Full reports whether the bucket is back at its burst size.
func (l *Limiter) Full() bool {
	if l.emission <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.tat.After(l.now())
}

// Wait blocks until a token becomes available or context is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		ok, retry := l.Take()
		if ok {
			return nil
		}
		if retry < 10*time.Millisecond {
			retry = 10 * time.Millisecond
		}
		select {
		case <-time.After(retry):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Manager holds per-key limiters sharing one Config.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
	now      func() time.Time
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
		now:      time.Now,
	}
}

func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim := newWithClock(m.defaults, m.now)
	m.limiters[key] = lim
	return lim
}

// Wait ensures rate limit compliance for a given key.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.GetLimiter(key).Wait(ctx)
}

// Take consumes a token for key without blocking. The take happens under
// the manager lock so Prune cannot drop the bucket in between.
func (m *Manager) Take(key string) (ok bool, retry time.Duration) {
	m.locked(key, func(lim *Limiter) { ok, retry = lim.Take() })
	return ok, retry
}

// Refund returns a token to key's bucket.
func (m *Manager) Refund(key string) {
	m.locked(key, func(lim *Limiter) { lim.Refund() })
}

// locked runs fn on key's limiter while holding m.mu, creating the limiter
// if needed.
func (m *Manager) locked(key string, fn func(*Limiter)) {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		fn(lim)
		m.mu.RUnlock()
		return
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.limiters[key]
	if !ok {
		lim = newWithClock(m.defaults, m.now)
		m.limiters[key] = lim
	}
	fn(lim)
}

// Prune drops limiters whose buckets have fully refilled; they are
// indistinguishable from fresh ones. Returns how many were dropped.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, lim := range m.limiters {
		if lim.Full() {
			delete(m.limiters, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.limiters)
}
