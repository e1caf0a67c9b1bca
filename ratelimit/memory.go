package ratelimit

import (
	"context"
	"sync"
	"time"
)

// minWait bounds the Acquire wakeup interval so a waiter re-checks even
// when the computed refill point is in the past.
const minWait = time.Millisecond

// bucket paces one provider. Tokens trickle back one at a time, each
// window/limit apart, so a burst of reasoner calls spreads out instead
// of clustering at window boundaries.
type bucket struct {
	limit    int
	tokens   int
	window   time.Duration
	last     time.Time // when the most recent token was credited
	inFlight int

	// notify is closed (and replaced) whenever a token comes back via
	// Release, waking blocked Acquire calls.
	notify chan struct{}
}

func newBucket(limit int, window time.Duration, now time.Time) *bucket {
	return &bucket{
		limit:  limit,
		tokens: limit,
		window: window,
		last:   now,
		notify: make(chan struct{}),
	}
}

// interval is the spacing between refilled tokens.
func (b *bucket) interval() time.Duration {
	return b.window / time.Duration(b.limit)
}

// topUp credits tokens earned since the last credit.
func (b *bucket) topUp(now time.Time) {
	if b.tokens >= b.limit {
		b.last = now
		return
	}
	step := b.interval()
	if step <= 0 {
		return
	}
	earned := int(now.Sub(b.last) / step)
	if earned <= 0 {
		return
	}
	if b.tokens+earned > b.limit {
		earned = b.limit - b.tokens
	}
	b.tokens += earned
	b.last = b.last.Add(time.Duration(earned) * step)
}

// take consumes one token, reporting success.
func (b *bucket) take() bool {
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	b.inFlight++
	return true
}

// nextToken says how long until the next refill credit lands.
func (b *bucket) nextToken(now time.Time) time.Duration {
	wait := b.last.Add(b.interval()).Sub(now)
	if wait < minWait {
		wait = minWait
	}
	return wait
}

func (b *bucket) wake() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// MemoryLimiter is a per-process RateLimiter pacing calls to LLM
// providers by name. Safe for concurrent use.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
	nowFunc func() time.Time // test hook
}

// NewMemoryLimiter creates an empty limiter; configure each provider
// with SetCapacity before acquiring.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		nowFunc: time.Now,
	}
}

// SetCapacity sets a provider's budget to capacity calls per window.
// Non-positive values remove the limit entirely.
func (m *MemoryLimiter) SetCapacity(resource string, capacity int, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if capacity <= 0 || window <= 0 {
		delete(m.buckets, resource)
		return
	}

	if b, ok := m.buckets[resource]; ok {
		b.limit = capacity
		b.window = window
		if b.tokens > capacity {
			b.tokens = capacity
		}
		return
	}
	m.buckets[resource] = newBucket(capacity, window, m.nowFunc())
}

// GetCapacity reports a provider's current budget, nil when unknown.
func (m *MemoryLimiter) GetCapacity(resource string) *Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[resource]
	if !ok {
		return nil
	}
	b.topUp(m.nowFunc())

	return &Capacity{
		Resource:  resource,
		Available: b.tokens,
		Total:     b.limit,
		Window:    b.window,
		InFlight:  b.inFlight,
	}
}

// TryAcquire takes a token without blocking.
func (m *MemoryLimiter) TryAcquire(resource string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	b, ok := m.buckets[resource]
	if !ok {
		return false
	}
	b.topUp(m.nowFunc())
	return b.take()
}

// Acquire blocks until a token is available, the context ends, or the
// limiter closes.
func (m *MemoryLimiter) Acquire(ctx context.Context, resource string) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		b, ok := m.buckets[resource]
		if !ok {
			m.mu.Unlock()
			return ErrResourceUnknown
		}

		now := m.nowFunc()
		b.topUp(now)
		if b.take() {
			m.mu.Unlock()
			return nil
		}
		wait := b.nextToken(now)
		notify := b.notify
		m.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Release hands a token back after a finished call, letting a queued
// caller proceed without waiting for the timed refill.
func (m *MemoryLimiter) Release(resource string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	b, ok := m.buckets[resource]
	if !ok {
		return
	}
	if b.inFlight > 0 {
		b.inFlight--
	}
	if b.tokens < b.limit {
		b.tokens++
	}
	b.wake()
}

// Backoff shrinks a provider's budget by a quarter (floor one call) in
// response to pushback such as a 429. The reason is accepted for
// interface symmetry with distributed limiters that broadcast it.
func (m *MemoryLimiter) Backoff(resource string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[resource]
	if !ok {
		return
	}
	reduced := b.limit * 3 / 4
	if reduced < 1 {
		reduced = 1
	}
	b.limit = reduced
	if b.tokens > reduced {
		b.tokens = reduced
	}
}

// Close shuts the limiter down and wakes every blocked Acquire.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.closed = true
	for _, b := range m.buckets {
		b.wake()
	}
	return nil
}

var _ RateLimiter = (*MemoryLimiter)(nil)
