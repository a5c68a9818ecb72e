package gateway

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test clocks
// ---------------------------------------------------------------------------

// fakeClock only moves when the test calls Advance, firing any timers that
// come due.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at time.Time
	ch chan time.Time
	fn func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.mu.Lock()
	c.timers = append(c.timers, &fakeTimer{at: c.now.Add(d), ch: ch})
	c.mu.Unlock()
	return ch
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) {
	c.mu.Lock()
	c.timers = append(c.timers, &fakeTimer{at: c.now.Add(d), fn: f})
	c.mu.Unlock()
}

func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Advance moves the clock and fires due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, rest []*fakeTimer
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	now := c.now
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		if t.ch != nil {
			t.ch <- now
		}
		if t.fn != nil {
			t.fn()
		}
	}
}

// immediateClock fires every timer as soon as it is created, so backoff
// delays do not block.
type immediateClock struct {
	fakeClock
}

func (c *immediateClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *immediateClock) AfterFunc(d time.Duration, f func()) {
	go f()
}

// waitFor polls cond with a real-time deadline; the fake clock itself never
// moves unless the test advances it.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

func TestCacheHitWithinTTL(t *testing.T) {
	clk := newFakeClock()
	g := New(nil, clk)

	var calls atomic.Int64
	req := Request{
		Provider: "polygon",
		CacheKey: "bars_AAPL",
		TTL:      time.Minute,
		Op: func(context.Context) (any, error) {
			calls.Add(1)
			return "payload", nil
		},
	}

	var events []EventType
	g.Subscribe(func(ev Event) { events = append(events, ev.Type) })

	for i := 0; i < 3; i++ {
		got, err := g.Execute(context.Background(), req)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if got != "payload" {
			t.Fatalf("got %v", got)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("op called %d times, want 1 (cached)", calls.Load())
	}

	wantEvents := []EventType{EventCacheMiss, EventExecuted, EventCacheHit, EventCacheHit}
	if len(events) != len(wantEvents) {
		t.Fatalf("events = %v, want %v", events, wantEvents)
	}
	for i := range events {
		if events[i] != wantEvents[i] {
			t.Fatalf("events = %v, want %v", events, wantEvents)
		}
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	clk := newFakeClock()
	g := New(nil, clk)

	var calls atomic.Int64
	req := Request{
		Provider: "polygon",
		CacheKey: "bars_AAPL",
		TTL:      time.Minute,
		Op: func(context.Context) (any, error) {
			calls.Add(1)
			return "payload", nil
		},
	}

	if _, err := g.Execute(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	clk.Advance(61 * time.Second)
	if _, err := g.Execute(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("op called %d times, want 2 (TTL expired)", calls.Load())
	}
}

// ---------------------------------------------------------------------------
// Rate limiting and queueing
// ---------------------------------------------------------------------------

func TestRateLimitQueuesAndDrains(t *testing.T) {
	clk := newFakeClock()
	g := New(nil, clk)
	g.SetLimit("twelvedata", RateLimit{PerMinute: 2})

	var calls atomic.Int64
	op := func(context.Context) (any, error) {
		calls.Add(1)
		return calls.Load(), nil
	}

	var throttled atomic.Int64
	g.Subscribe(func(ev Event) {
		if ev.Type == EventThrottled {
			throttled.Add(1)
		}
	})

	for i := 0; i < 2; i++ {
		if _, err := g.Execute(context.Background(), Request{Provider: "twelvedata", Op: op}); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}

	// Third request exceeds the per-minute cap and must queue.
	resCh := make(chan error, 1)
	go func() {
		_, err := g.Execute(context.Background(), Request{Provider: "twelvedata", Op: op})
		resCh <- err
	}()

	waitFor(t, func() bool { return throttled.Load() == 1 })
	if calls.Load() != 2 {
		t.Fatalf("queued request executed before window reset")
	}
	// The drain loop parks itself on a timer once it sees no capacity.
	waitFor(t, func() bool { return clk.pendingTimers() > 0 })

	clk.Advance(61 * time.Second)
	if err := <-resCh; err != nil {
		t.Fatalf("queued request failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 after drain", calls.Load())
	}
}

func TestRollingWindowNeverExceedsCap(t *testing.T) {
	clk := newFakeClock()
	g := New(nil, clk)
	g.SetLimit("polygon", RateLimit{PerMinute: 3})

	var mu sync.Mutex
	var executedAt []time.Time
	op := func(context.Context) (any, error) {
		mu.Lock()
		executedAt = append(executedAt, clk.Now())
		mu.Unlock()
		return nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Execute(context.Background(), Request{Provider: "polygon", Op: op})
		}()
	}

	executed := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(executedAt)
	}
	waitFor(t, func() bool { return executed() == 3 })
	waitFor(t, func() bool { return g.QueueSize("polygon") == 3 && clk.pendingTimers() > 0 })

	clk.Advance(61 * time.Second)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(executedAt) != 6 {
		t.Fatalf("executed %d, want 6", len(executedAt))
	}
	// No 60s window may contain more than 3 executions.
	for i := range executedAt {
		inWindow := 0
		for j := range executedAt {
			d := executedAt[j].Sub(executedAt[i])
			if d >= 0 && d < time.Minute {
				inWindow++
			}
		}
		if inWindow > 3 {
			t.Fatalf("window starting at %v saw %d executions", executedAt[i], inWindow)
		}
	}
}

func TestQueuedRequestServedFromCache(t *testing.T) {
	clk := newFakeClock()
	g := New(nil, clk)
	g.SetLimit("tradier", RateLimit{PerMinute: 1})

	// Exhaust tradier's budget.
	if _, err := g.Execute(context.Background(), Request{
		Provider: "tradier",
		Op:       func(context.Context) (any, error) { return nil, nil },
	}); err != nil {
		t.Fatal(err)
	}

	// Queue a keyed tradier request; the drain loop parks on a timer.
	var tradierCalls atomic.Int64
	resCh := make(chan result, 1)
	go func() {
		data, err := g.Execute(context.Background(), Request{
			Provider: "tradier",
			CacheKey: "quote_SPY",
			TTL:      time.Hour,
			Op: func(context.Context) (any, error) {
				tradierCalls.Add(1)
				return "tradier quote", nil
			},
		})
		resCh <- result{data, err}
	}()
	waitFor(t, func() bool { return clk.pendingTimers() > 0 })

	// Another provider populates the same cache key before the drain runs.
	if _, err := g.Execute(context.Background(), Request{
		Provider: "twelvedata",
		CacheKey: "quote_SPY",
		TTL:      time.Hour,
		Op:       func(context.Context) (any, error) { return "cached quote", nil },
	}); err != nil {
		t.Fatal(err)
	}

	// The next drain cycle serves the queued request from cache without
	// spending tradier's budget or waiting for the window reset.
	clk.Advance(time.Second)
	res := <-resCh
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.data != "cached quote" {
		t.Errorf("data = %v, want cached quote", res.data)
	}
	if tradierCalls.Load() != 0 {
		t.Errorf("tradier op called %d times, want 0", tradierCalls.Load())
	}
	if info, ok := g.LimitInfo("tradier"); !ok || info.CurrentRequests != 1 {
		t.Errorf("tradier budget = %+v, want 1 request consumed", info)
	}
}

// ---------------------------------------------------------------------------
// Retry
// ---------------------------------------------------------------------------

func TestRetrySucceedsWithinBudget(t *testing.T) {
	g := New(nil, &immediateClock{})

	var calls atomic.Int64
	req := Request{
		Provider: "polygon",
		Retries:  3,
		Op: func(context.Context) (any, error) {
			if calls.Add(1) <= 2 {
				return nil, errors.New("transient")
			}
			return "ok", nil
		},
	}

	got, err := g.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "ok" {
		t.Fatalf("got %v", got)
	}
	if calls.Load() != 3 {
		t.Errorf("op called %d times, want 3", calls.Load())
	}
}

func TestRetryExhaustedPropagatesError(t *testing.T) {
	g := New(nil, &immediateClock{})

	sentinel := errors.New("provider down")
	var calls atomic.Int64
	var retryDelays []time.Duration
	g.Subscribe(func(ev Event) {
		if ev.Type == EventRetry {
			retryDelays = append(retryDelays, ev.Delay)
		}
	})

	_, err := g.Execute(context.Background(), Request{
		Provider: "polygon",
		Retries:  2,
		Op: func(context.Context) (any, error) {
			calls.Add(1)
			return nil, sentinel
		},
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped sentinel", err)
	}
	if calls.Load() != 3 {
		t.Errorf("op called %d times, want 3 (initial + 2 retries)", calls.Load())
	}

	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(retryDelays) != len(want) {
		t.Fatalf("retry delays = %v, want %v", retryDelays, want)
	}
	for i := range want {
		if retryDelays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, retryDelays[i], want[i])
		}
	}
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func TestSubscribersNotifiedInRegistrationOrder(t *testing.T) {
	g := New(nil, newFakeClock())

	var order []int
	g.Subscribe(func(Event) { order = append(order, 1) })
	g.Subscribe(func(Event) { order = append(order, 2) })

	_, err := g.Execute(context.Background(), Request{
		Provider: "polygon",
		Op:       func(context.Context) (any, error) { return nil, nil },
	})
	if err != nil {
		t.Fatal(err)
	}

	// Only REQUEST_EXECUTED fires for an uncached call.
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("notification order = %v, want [1 2]", order)
	}
}

func TestFetchTypeMismatch(t *testing.T) {
	g := New(nil, newFakeClock())
	_, err := Fetch[string](context.Background(), g, Request{
		Provider: "polygon",
		Op:       func(context.Context) (any, error) { return 42, nil },
	})
	if err == nil {
		t.Fatal("expected type mismatch error")
	}
}
