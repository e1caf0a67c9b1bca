package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// --- Unit Tests ---

func newLLMLimiter(t *testing.T, capacity int, window time.Duration) *MemoryLimiter {
	t.Helper()
	m := NewMemoryLimiter()
	t.Cleanup(func() { m.Close() })
	m.SetCapacity("llm", capacity, window)
	return m
}

func drain(t *testing.T, m *MemoryLimiter, resource string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if !m.TryAcquire(resource) {
			t.Fatalf("TryAcquire %d/%d failed", i+1, n)
		}
	}
}

func TestCapacityReporting(t *testing.T) {
	m := newLLMLimiter(t, 8, time.Minute)

	c := m.GetCapacity("llm")
	if c == nil {
		t.Fatal("expected capacity for configured provider")
	}
	if c.Resource != "llm" || c.Total != 8 || c.Available != 8 || c.Window != time.Minute {
		t.Errorf("unexpected capacity: %+v", c)
	}
	if c.InFlight != 0 {
		t.Errorf("expected no calls in flight, got %d", c.InFlight)
	}
}

func TestTryAcquireExhaustsBudget(t *testing.T) {
	m := newLLMLimiter(t, 3, time.Minute)

	drain(t, m, "llm", 3)

	if m.TryAcquire("llm") {
		t.Error("expected TryAcquire to fail once the budget is spent")
	}
	c := m.GetCapacity("llm")
	if c.Available != 0 || c.InFlight != 3 {
		t.Errorf("expected 0 available / 3 in flight, got %d / %d", c.Available, c.InFlight)
	}
}

func TestReleaseReturnsToken(t *testing.T) {
	m := newLLMLimiter(t, 1, time.Hour)

	drain(t, m, "llm", 1)
	m.Release("llm")

	c := m.GetCapacity("llm")
	if c.InFlight != 0 {
		t.Errorf("expected in-flight 0 after release, got %d", c.InFlight)
	}
	if !m.TryAcquire("llm") {
		t.Error("expected the released token to be reusable")
	}
}

func TestReleaseNeverOverfills(t *testing.T) {
	m := newLLMLimiter(t, 4, time.Minute)

	// Release with nothing acquired.
	m.Release("llm")

	c := m.GetCapacity("llm")
	if c.Available != 4 || c.InFlight != 0 {
		t.Errorf("expected full budget untouched, got %d available / %d in flight", c.Available, c.InFlight)
	}
}

func TestAcquireHonorsDeadline(t *testing.T) {
	m := newLLMLimiter(t, 1, time.Hour)

	if err := m.Acquire(context.Background(), "llm"); err != nil {
		t.Fatalf("acquire on full budget failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Acquire(ctx, "llm"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestAcquireWakesOnRelease(t *testing.T) {
	m := newLLMLimiter(t, 1, time.Hour)
	drain(t, m, "llm", 1)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- m.Acquire(ctx, "llm")
	}()

	time.Sleep(30 * time.Millisecond)
	m.Release("llm")

	if err := <-done; err != nil {
		t.Errorf("expected waiter to acquire after release, got %v", err)
	}
}

func TestUnknownProvider(t *testing.T) {
	m := NewMemoryLimiter()
	defer m.Close()

	if m.TryAcquire("uplink") {
		t.Error("expected TryAcquire to fail for an unconfigured provider")
	}
	if err := m.Acquire(context.Background(), "uplink"); !errors.Is(err, ErrResourceUnknown) {
		t.Errorf("expected ErrResourceUnknown, got %v", err)
	}
	if m.GetCapacity("uplink") != nil {
		t.Error("expected nil capacity for an unconfigured provider")
	}
	// Release and Backoff on unknown providers are no-ops.
	m.Release("uplink")
	m.Backoff("uplink", "rate limited")
}

func TestRefillIsEvenlySpaced(t *testing.T) {
	m := NewMemoryLimiter()
	defer m.Close()

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return now }

	// 10 calls per second credits one token every 100ms.
	m.SetCapacity("llm", 10, time.Second)
	drain(t, m, "llm", 10)

	cases := []struct {
		advance time.Duration
		want    int
	}{
		{50 * time.Millisecond, 0},  // before the first credit lands
		{100 * time.Millisecond, 1}, // 150ms past the last credit
		{350 * time.Millisecond, 4}, // 400ms of spacing since then
		{10 * time.Second, 10},      // long idle refills to the cap
	}
	for _, tc := range cases {
		now = now.Add(tc.advance)
		got := 0
		for m.TryAcquire("llm") {
			got++
		}
		if got != tc.want {
			t.Errorf("after +%v: acquired %d tokens, want %d", tc.advance, got, tc.want)
		}
	}
}

func TestBackoffShrinksBudget(t *testing.T) {
	m := newLLMLimiter(t, 100, time.Minute)

	m.Backoff("llm", "provider returned 429")
	if c := m.GetCapacity("llm"); c.Total != 75 {
		t.Errorf("expected budget cut to 75, got %d", c.Total)
	}

	// Repeated pushback keeps shrinking but never reaches zero.
	for i := 0; i < 50; i++ {
		m.Backoff("llm", "provider returned 429")
	}
	if c := m.GetCapacity("llm"); c.Total != 1 {
		t.Errorf("expected budget floor of 1, got %d", c.Total)
	}
}

func TestBackoffCapsAvailable(t *testing.T) {
	m := newLLMLimiter(t, 4, time.Hour)

	m.Backoff("llm", "overload")
	c := m.GetCapacity("llm")
	if c.Available > c.Total {
		t.Errorf("available %d exceeds shrunk budget %d", c.Available, c.Total)
	}
}

func TestSetCapacityShrinkCapsTokens(t *testing.T) {
	m := newLLMLimiter(t, 100, time.Minute)
	drain(t, m, "llm", 50)

	m.SetCapacity("llm", 30, time.Minute)

	c := m.GetCapacity("llm")
	if c.Total != 30 {
		t.Errorf("expected budget 30, got %d", c.Total)
	}
	if c.Available != 30 {
		t.Errorf("expected available capped at 30, got %d", c.Available)
	}
}

func TestSetCapacityRemovesOnNonPositive(t *testing.T) {
	cases := []struct {
		name     string
		capacity int
		window   time.Duration
	}{
		{"zero capacity", 0, time.Minute},
		{"negative capacity", -1, time.Minute},
		{"zero window", 10, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newLLMLimiter(t, 10, time.Minute)
			m.SetCapacity("llm", tc.capacity, tc.window)
			if m.GetCapacity("llm") != nil {
				t.Error("expected the provider limit to be removed")
			}
		})
	}
}

func TestCloseStopsAcquisition(t *testing.T) {
	m := NewMemoryLimiter()
	m.SetCapacity("llm", 2, time.Minute)
	drain(t, m, "llm", 1)

	if err := m.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if m.TryAcquire("llm") {
		t.Error("expected TryAcquire to fail after close")
	}
	if err := m.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on second close, got %v", err)
	}
	// Post-close release and reconfiguration must not panic or take effect.
	m.Release("llm")
	m.SetCapacity("radio", 5, time.Minute)
	if m.GetCapacity("radio") != nil {
		t.Error("expected SetCapacity to be ignored after close")
	}
}

func TestCloseWakesWaiters(t *testing.T) {
	m := NewMemoryLimiter()
	m.SetCapacity("llm", 1, time.Hour)
	drain(t, m, "llm", 1)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- m.Acquire(ctx, "llm")
	}()

	time.Sleep(30 * time.Millisecond)
	m.Close()

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed for a waiter cut off by close, got %v", err)
	}
}

func TestConcurrentCallers(t *testing.T) {
	m := newLLMLimiter(t, 100, time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if m.TryAcquire("llm") {
					mu.Lock()
					total++
					mu.Unlock()
					time.Sleep(time.Millisecond)
					m.Release("llm")
				}
			}
		}()
	}
	wg.Wait()

	if total < 50 {
		t.Errorf("expected at least 50 successful acquisitions, got %d", total)
	}
}
