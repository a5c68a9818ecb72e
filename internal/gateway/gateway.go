// Package gateway wraps outbound calls to named data providers with
// caching, per-provider rate limiting, request queueing, and retry with
// exponential backoff. All state is owned by a Gateway instance; there are
// no package-level maps.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradecore/internal/util"
)

// Defaults applied when a Request leaves the field zero.
const (
	DefaultTTL     = 5 * time.Minute
	DefaultRetries = 3

	retryBaseDelay  = 500 * time.Millisecond
	drainRetryDelay = time.Second
	limitWindow     = time.Minute
)

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventType identifies a gateway telemetry event.
type EventType string

const (
	EventCacheHit  EventType = "CACHE_HIT"
	EventCacheMiss EventType = "CACHE_MISS"
	EventThrottled EventType = "THROTTLED"
	EventRetry     EventType = "RETRY"
	EventExecuted  EventType = "REQUEST_EXECUTED"
)

// Event is emitted to subscribers for external telemetry. The gateway takes
// no action on events itself.
type Event struct {
	Type      EventType
	Provider  string
	Key       string
	Attempt   int
	Delay     time.Duration
	QueueSize int
}

// ---------------------------------------------------------------------------
// Requests and limits
// ---------------------------------------------------------------------------

// Operation is the underlying provider call. There is no cancellation of an
// in-flight operation beyond what the operation itself does with ctx; the
// gateway only checks the context between retries and while queued.
type Operation func(ctx context.Context) (any, error)

// Request describes one gated provider call.
type Request struct {
	Provider string
	CacheKey string // empty disables caching
	TTL      time.Duration
	Retries  int
	Op       Operation
}

// RateLimit is the request budget for a provider. Only PerMinute gates
// execution; the hour and day budgets are carried for telemetry parity with
// the upstream providers' published limits.
type RateLimit struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// LimitState is a snapshot of a provider's limiter.
type LimitState struct {
	RateLimit
	CurrentRequests int
	ResetTime       time.Time
}

type limitState struct {
	RateLimit
	current int
	resetAt time.Time
}

type cacheEntry struct {
	data     any
	storedAt time.Time
	ttl      time.Duration
}

type result struct {
	data any
	err  error
}

type pending struct {
	ctx  context.Context
	req  Request
	done chan result
}

// ---------------------------------------------------------------------------
// Gateway
// ---------------------------------------------------------------------------

// Gateway owns the cache, rate-limit, and queue state for a set of
// providers. It is safe for concurrent use.
type Gateway struct {
	mu       sync.Mutex
	cache    map[string]cacheEntry
	limits   map[string]*limitState
	queues   map[string][]*pending
	draining map[string]bool

	subMu sync.Mutex
	subs  []func(Event)

	clock util.Clock
	log   *slog.Logger
}

// New creates a Gateway. Providers without a registered limit are not
// throttled.
func New(logger *slog.Logger, clock util.Clock) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = util.SystemClock()
	}
	return &Gateway{
		cache:    make(map[string]cacheEntry),
		limits:   make(map[string]*limitState),
		queues:   make(map[string][]*pending),
		draining: make(map[string]bool),
		clock:    clock,
		log:      logger.With("component", "gateway"),
	}
}

// SetLimit registers or replaces the rate limit for a provider.
func (g *Gateway) SetLimit(provider string, limit RateLimit) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits[provider] = &limitState{RateLimit: limit, resetAt: g.clock.Now()}
}

// Subscribe registers a telemetry listener. Listeners are invoked
// synchronously in registration order; a panicking listener loses the rest
// of the notification.
func (g *Gateway) Subscribe(fn func(Event)) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	g.subs = append(g.subs, fn)
}

func (g *Gateway) emit(ev Event) {
	g.subMu.Lock()
	subs := make([]func(Event), len(g.subs))
	copy(subs, g.subs)
	g.subMu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Execute runs the request through cache, rate limiter, and retry. When the
// provider is at capacity the request is queued and Execute blocks until a
// drain cycle runs it or ctx is cancelled.
func (g *Gateway) Execute(ctx context.Context, req Request) (any, error) {
	if req.TTL == 0 {
		req.TTL = DefaultTTL
	}
	if req.Retries == 0 {
		req.Retries = DefaultRetries
	}

	if data, ok := g.cacheGet(req); ok {
		g.emit(Event{Type: EventCacheHit, Provider: req.Provider, Key: req.CacheKey})
		return data, nil
	}

	if !g.tryAcquire(req.Provider) {
		return g.enqueue(ctx, req)
	}
	return g.run(ctx, req)
}

// Fetch is a typed wrapper around Execute.
func Fetch[T any](ctx context.Context, g *Gateway, req Request) (T, error) {
	var zero T
	data, err := g.Execute(ctx, req)
	if err != nil {
		return zero, err
	}
	v, ok := data.(T)
	if !ok {
		return zero, fmt.Errorf("gateway: %s returned %T, want %T", req.Provider, data, zero)
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

func (g *Gateway) cacheGet(req Request) (any, bool) {
	if req.CacheKey == "" {
		return nil, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cacheGetLocked(req)
}

func (g *Gateway) cacheGetLocked(req Request) (any, bool) {
	entry, ok := g.cache[req.CacheKey]
	if !ok {
		return nil, false
	}
	if g.clock.Now().Sub(entry.storedAt) >= entry.ttl {
		delete(g.cache, req.CacheKey)
		return nil, false
	}
	return entry.data, true
}

func (g *Gateway) cachePut(key string, data any, ttl time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[key] = cacheEntry{data: data, storedAt: g.clock.Now(), ttl: ttl}
}

// ClearCache drops all cached responses.
func (g *Gateway) ClearCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache = make(map[string]cacheEntry)
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

// tryAcquire consumes one request slot for the provider, resetting the
// window counter when at least the window duration has elapsed.
func (g *Gateway) tryAcquire(provider string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.capacityLocked(provider) {
		return false
	}
	g.acquireLocked(provider)
	return true
}

func (g *Gateway) capacityLocked(provider string) bool {
	ls, ok := g.limits[provider]
	if !ok {
		return true
	}
	now := g.clock.Now()
	if now.Sub(ls.resetAt) >= limitWindow {
		ls.current = 0
		ls.resetAt = now
	}
	return ls.current < ls.PerMinute
}

func (g *Gateway) acquireLocked(provider string) {
	if ls, ok := g.limits[provider]; ok {
		ls.current++
	}
}

// LimitInfo returns a snapshot of a provider's limiter state.
func (g *Gateway) LimitInfo(provider string) (LimitState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ls, ok := g.limits[provider]
	if !ok {
		return LimitState{}, false
	}
	return LimitState{RateLimit: ls.RateLimit, CurrentRequests: ls.current, ResetTime: ls.resetAt}, true
}

// ---------------------------------------------------------------------------
// Queueing
// ---------------------------------------------------------------------------

func (g *Gateway) enqueue(ctx context.Context, req Request) (any, error) {
	p := &pending{ctx: ctx, req: req, done: make(chan result, 1)}

	g.mu.Lock()
	g.queues[req.Provider] = append(g.queues[req.Provider], p)
	size := len(g.queues[req.Provider])
	g.mu.Unlock()

	g.emit(Event{Type: EventThrottled, Provider: req.Provider, QueueSize: size})
	g.startDrain(req.Provider)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-p.done:
		return res.data, res.err
	}
}

// QueueSize returns the number of requests waiting for the provider.
func (g *Gateway) QueueSize(provider string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queues[provider])
}

func (g *Gateway) startDrain(provider string) {
	g.mu.Lock()
	if g.draining[provider] {
		g.mu.Unlock()
		return
	}
	g.draining[provider] = true
	g.mu.Unlock()
	go g.drainLoop(provider)
}

// drainLoop pops and executes queued requests while capacity remains. When
// the provider is back at its cap and work is still queued, it reschedules
// itself after a fixed delay instead of busy-waiting.
func (g *Gateway) drainLoop(provider string) {
	for {
		g.mu.Lock()
		q := g.queues[provider]
		if len(q) == 0 {
			g.draining[provider] = false
			g.mu.Unlock()
			return
		}
		p := q[0]

		// A response cached since the request was queued is served without
		// consuming rate capacity.
		if data, ok := g.cacheGetLocked(p.req); ok {
			g.queues[provider] = q[1:]
			g.mu.Unlock()
			g.emit(Event{Type: EventCacheHit, Provider: provider, Key: p.req.CacheKey})
			p.done <- result{data: data}
			continue
		}

		if !g.capacityLocked(provider) {
			g.draining[provider] = false
			g.mu.Unlock()
			g.clock.AfterFunc(drainRetryDelay, func() { g.startDrain(provider) })
			return
		}

		g.queues[provider] = q[1:]
		g.acquireLocked(provider)
		g.mu.Unlock()

		data, err := g.run(p.ctx, p.req)
		p.done <- result{data: data, err: err}
	}
}

// ---------------------------------------------------------------------------
// Execution and retry
// ---------------------------------------------------------------------------

// run executes the operation with exponential backoff. The rate-limit slot
// has already been consumed; retries do not consume additional slots.
func (g *Gateway) run(ctx context.Context, req Request) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= req.Retries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			g.emit(Event{Type: EventRetry, Provider: req.Provider, Attempt: attempt, Delay: delay})
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-g.clock.After(delay):
			}
		}

		data, err := req.Op(ctx)
		if err != nil {
			lastErr = err
			g.log.Warn("provider call failed",
				"provider", req.Provider,
				"attempt", attempt+1,
				"err", err,
			)
			continue
		}

		if req.CacheKey != "" {
			g.emit(Event{Type: EventCacheMiss, Provider: req.Provider, Key: req.CacheKey})
			g.cachePut(req.CacheKey, data, req.TTL)
		}
		g.emit(Event{Type: EventExecuted, Provider: req.Provider, Key: req.CacheKey})
		return data, nil
	}
	return nil, fmt.Errorf("%s: retries exhausted: %w", req.Provider, lastErr)
}
