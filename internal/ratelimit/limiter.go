package ratelimit

import (
	"sync"
	"time"
)

// Limits are the per-provider budgets. A zero or negative limit means
// unbounded for that window.
type Limits struct {
	RequestsPerMinute int
	RequestsPerDay    int
	TokensPerMinute   int
	TokensPerDay      int
}

type window struct {
	count int
	reset time.Time
}

func (w *window) roll(now time.Time, span time.Duration) {
	if now.After(w.reset) || w.reset.IsZero() {
		w.count = 0
		w.reset = now.Add(span)
	}
}

func (w *window) headroom(limit, amount int) bool {
	if limit <= 0 {
		return true
	}
	return w.count+amount <= limit
}

type counters struct {
	requestsMinute window
	requestsDay    window
	tokensMinute   window
	tokensDay      window
}

// Limiter enforces four fixed-window budgets per provider: requests and
// tokens, per minute and per day. Each window is anchored at the first request
// after expiry, so bursts that straddle a boundary can briefly exceed the
// nominal rate. All state is guarded by one mutex; acquisition and commit are
// atomic with respect to concurrent generations against the same provider.
type Limiter struct {
	mu        sync.Mutex
	providers map[int64]*counters
	now       func() time.Time
}

func New() *Limiter {
	return &Limiter{providers: map[int64]*counters{}, now: time.Now}
}

// Permit is a granted right to consume provider capacity. Commit must be
// called exactly once when the call finishes, with the real token usage.
type Permit struct {
	limiter   *Limiter
	provider  int64
	estimated int
	committed bool
}

// TryAcquire admits a request only when all four windows have headroom for it.
// On denial the returned duration is the wait until the earliest-resetting
// exhausted window rolls over.
func (l *Limiter) TryAcquire(providerID int64, limits Limits, estimatedTokens int) (*Permit, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.providers[providerID]
	if !ok {
		state = &counters{}
		l.providers[providerID] = state
	}

	now := l.now()
	state.requestsMinute.roll(now, time.Minute)
	state.requestsDay.roll(now, 24*time.Hour)
	state.tokensMinute.roll(now, time.Minute)
	state.tokensDay.roll(now, 24*time.Hour)

	retryAfter := time.Duration(0)
	exhausted := func(w *window) {
		wait := w.reset.Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		if retryAfter == 0 || wait < retryAfter {
			retryAfter = wait
		}
	}
	if !state.requestsMinute.headroom(limits.RequestsPerMinute, 1) {
		exhausted(&state.requestsMinute)
	}
	if !state.requestsDay.headroom(limits.RequestsPerDay, 1) {
		exhausted(&state.requestsDay)
	}
	if !state.tokensMinute.headroom(limits.TokensPerMinute, estimatedTokens) {
		exhausted(&state.tokensMinute)
	}
	if !state.tokensDay.headroom(limits.TokensPerDay, estimatedTokens) {
		exhausted(&state.tokensDay)
	}
	if retryAfter > 0 {
		return nil, retryAfter
	}

	state.requestsMinute.count++
	state.requestsDay.count++
	state.tokensMinute.count += estimatedTokens
	state.tokensDay.count += estimatedTokens
	return &Permit{limiter: l, provider: providerID, estimated: estimatedTokens}, 0
}

// Commit reconciles the token estimate with actual usage. A failed call
// commits zero, returning the whole estimate to the budget. Counters never go
// below zero. Extra Commit calls are no-ops.
func (p *Permit) Commit(actualTokens int) {
	if p == nil {
		return
	}
	l := p.limiter
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.committed {
		return
	}
	p.committed = true

	state, ok := l.providers[p.provider]
	if !ok {
		return
	}
	delta := actualTokens - p.estimated
	state.tokensMinute.count = clamp(state.tokensMinute.count + delta)
	state.tokensDay.count = clamp(state.tokensDay.count + delta)
}

func clamp(value int) int {
	if value < 0 {
		return 0
	}
	return value
}
