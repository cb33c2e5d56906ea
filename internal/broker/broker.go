// Package broker implements admission control for a shared per-minute token
// quota. Callers lock an estimated token amount before invoking a backend,
// then either commit the actual usage or release the reservation. All worker
// processes that share one quota must share one Broker (embedded) or point at
// one broker service (HTTP).
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Denial reasons returned by Lock. These strings are part of the wire
// contract: the retry wrapper distinguishes retryable rate-limit denials
// from permanently oversized requests by exact match.
const (
	ReasonRateLimit  = "rate_limit_exceeded"
	ReasonTokenLimit = "token_limit_exceeded"
)

const windowLength = 60 * time.Second

// Reservation states. A reservation traverses LOCKED -> (COMMITTED | RELEASED)
// exactly once; terminal states exist only for observability in logs.
const (
	stateLocked    = "LOCKED"
	stateCommitted = "COMMITTED"
	stateReleased  = "RELEASED"
)

type reservation struct {
	requestID  string
	appID      string
	locked     int
	state      string
	acquiredAt time.Time
}

// LockResult is the outcome of an admission attempt.
type LockResult struct {
	Allowed      bool    `json:"allowed"`
	RequestID    string  `json:"request_id,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	ResetSeconds float64 `json:"reset_seconds"`
}

// Status is a read-only snapshot of the current window.
type Status struct {
	AvailableTokens  int     `json:"available_tokens"`
	UsedTokens       int     `json:"used_tokens"`
	LockedTokens     int     `json:"locked_tokens"`
	ResetTimeSeconds float64 `json:"reset_time_seconds"`
}

// Options tunes sweep behavior; zero values select defaults.
type Options struct {
	ReservationTTL time.Duration // reclaim LOCKED reservations older than this (default 5m)
	SweepInterval  time.Duration // how often the sweep goroutine scans (default 30s)
	Now            func() time.Time
}

// Broker is the single shared mutable state of the system. All four
// operations serialize on one mutex; each is O(1) amortized (the sweep is
// O(active reservations) but runs off the request path).
type Broker struct {
	mu              sync.Mutex
	tokensPerMinute int
	windowStart     time.Time
	used            int
	locked          int
	active          map[string]*reservation

	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
}

// New creates a broker enforcing the given per-minute token ceiling.
func New(tokensPerMinute int, opts Options) *Broker {
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Broker{
		tokensPerMinute: tokensPerMinute,
		windowStart:     opts.Now(),
		active:          make(map[string]*reservation),
		ttl:             opts.ReservationTTL,
		sweepInterval:   opts.SweepInterval,
		now:             opts.Now,
	}
}

// resetWindowLocked resets the sliding window if it has expired. Must be
// called with b.mu held, before any admission decision or status read.
// LOCKED reservations survive a reset: their tokens count against the new
// window until committed or released.
func (b *Broker) resetWindowLocked(now time.Time) {
	if now.Sub(b.windowStart) < windowLength {
		return
	}
	b.windowStart = now
	b.used = 0
	sum := 0
	for _, r := range b.active {
		sum += r.locked
	}
	b.locked = sum
}

func (b *Broker) resetSecondsLocked(now time.Time) float64 {
	rem := windowLength - now.Sub(b.windowStart)
	if rem < 0 {
		return 0
	}
	return rem.Seconds()
}

// Lock attempts to reserve estimate tokens for appID within the current
// window. A denial distinguishes "window is full right now" from "this
// request can never fit in a window".
func (b *Broker) Lock(appID string, estimate int) LockResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.resetWindowLocked(now)
	reset := b.resetSecondsLocked(now)

	if estimate > b.tokensPerMinute {
		return LockResult{Allowed: false, Reason: ReasonTokenLimit, ResetSeconds: reset}
	}
	if b.used+b.locked+estimate > b.tokensPerMinute {
		return LockResult{Allowed: false, Reason: ReasonRateLimit, ResetSeconds: reset}
	}

	r := &reservation{
		requestID:  uuid.NewString(),
		appID:      appID,
		locked:     estimate,
		state:      stateLocked,
		acquiredAt: now,
	}
	b.active[r.requestID] = r
	b.locked += estimate

	return LockResult{Allowed: true, RequestID: r.requestID, ResetSeconds: reset}
}

// Commit finalizes a LOCKED reservation with the backend's actual usage.
// The locked estimate is returned to the pool and the real prompt+completion
// count is charged against the window. Unknown or mismatched reservations
// return false without corrupting window accounting (the reservation may
// have been swept).
func (b *Broker) Commit(appID, requestID string, promptTokens, completionTokens int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetWindowLocked(b.now())

	r, ok := b.active[requestID]
	if !ok || r.appID != appID || r.state != stateLocked {
		return false
	}
	b.locked -= r.locked
	b.used += promptTokens + completionTokens
	r.state = stateCommitted
	delete(b.active, requestID)
	return true
}

// Release abandons a LOCKED reservation, returning its tokens to the pool.
func (b *Broker) Release(appID, requestID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.resetWindowLocked(b.now())

	r, ok := b.active[requestID]
	if !ok || r.appID != appID || r.state != stateLocked {
		return false
	}
	b.locked -= r.locked
	r.state = stateReleased
	delete(b.active, requestID)
	return true
}

// Status reports the current window without mutating reservations.
func (b *Broker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.resetWindowLocked(now)

	avail := b.tokensPerMinute - b.used - b.locked
	if avail < 0 {
		avail = 0
	}
	return Status{
		AvailableTokens:  avail,
		UsedTokens:       b.used,
		LockedTokens:     b.locked,
		ResetTimeSeconds: b.resetSecondsLocked(now),
	}
}

// sweepOnce reclaims LOCKED reservations older than the TTL. Callers that
// crash between Lock and Commit/Release would otherwise leak locked tokens
// forever.
func (b *Broker) sweepOnce() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	reclaimed := 0
	for id, r := range b.active {
		if now.Sub(r.acquiredAt) >= b.ttl {
			b.locked -= r.locked
			r.state = stateReleased
			delete(b.active, id)
			reclaimed++
			log.Warn().
				Str("request_id", id).
				Str("app_id", r.appID).
				Int("locked", r.locked).
				Dur("age", now.Sub(r.acquiredAt)).
				Msg("reclaimed orphaned token reservation")
		}
	}
	return reclaimed
}

// StartSweep runs the orphaned-reservation sweep until ctx is canceled.
func (b *Broker) StartSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sweepOnce()
			}
		}
	}()
}
