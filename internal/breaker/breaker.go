// Package breaker implements the per-provider circuit breaker: closed,
// open, and half_open states tracked independently for every provider,
// tripped by a count of recent failures within a cooldown window.
package breaker

import (
	"sync"
	"time"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

// Config holds the breaker's tuning parameters.
type Config struct {
	// Threshold is the number of failures within Cooldown that trips the
	// breaker. Default: 3.
	Threshold int
	// Cooldown is both the failure-tracking window and the time an open
	// breaker waits before admitting a half-open probe. Default: 60s.
	Cooldown time.Duration
}

func (c Config) threshold() int {
	if c.Threshold > 0 {
		return c.Threshold
	}
	return 3
}

func (c Config) cooldown() time.Duration {
	if c.Cooldown > 0 {
		return c.Cooldown
	}
	return 60 * time.Second
}

// providerState holds one provider's breaker state. failureTimestamps is a
// set (represented as a slice) of recent failure times, pruned lazily.
type providerState struct {
	mu                sync.Mutex
	st                state
	failureTimestamps []time.Time
	lastFailureTime   time.Time
	halfOpenAttempts  int
}

// Breaker tracks independent circuit breaker state per provider. Safe for
// concurrent use.
type Breaker struct {
	cfg Config

	mu    sync.RWMutex
	byKey map[string]*providerState
}

// New creates a Breaker with the given config. A zero Config uses the
// defaults (threshold=3, cooldown=60s).
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, byKey: make(map[string]*providerState)}
}

func (b *Breaker) stateFor(provider string) *providerState {
	b.mu.RLock()
	ps, ok := b.byKey[provider]
	b.mu.RUnlock()
	if ok {
		return ps
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ps, ok := b.byKey[provider]; ok {
		return ps
	}
	ps = &providerState{st: closed}
	b.byKey[provider] = ps
	return ps
}

// prune drops failure timestamps at or beyond the cooldown window. The
// comparison is a strict inequality: a timestamp exactly cooldown old is
// pruned, matching the "now - ts < cooldown" survival rule.
func (ps *providerState) prune(now time.Time, cooldown time.Duration) {
	kept := ps.failureTimestamps[:0]
	for _, ts := range ps.failureTimestamps {
		if now.Sub(ts) < cooldown {
			kept = append(kept, ts)
		}
	}
	ps.failureTimestamps = kept
}

// CanAttempt reports whether provider should receive the next request.
// Closed always allows. Open lazily transitions to half_open once the
// cooldown has elapsed since the last failure, and admits exactly one probe
// while half_open. A provider never seen before is treated as closed.
func (b *Breaker) CanAttempt(provider string) bool {
	ps := b.stateFor(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	cooldown := b.cfg.cooldown()

	switch ps.st {
	case closed:
		ps.prune(now, cooldown)
		return true

	case open:
		if now.Sub(ps.lastFailureTime) >= cooldown {
			ps.st = halfOpen
			ps.halfOpenAttempts = 0
		} else {
			return false
		}
		fallthrough

	case halfOpen:
		if ps.halfOpenAttempts < 1 {
			ps.halfOpenAttempts++
			return true
		}
		return false
	}

	return true
}

// RecordSuccess closes the breaker for provider and clears its failure
// history.
func (b *Breaker) RecordSuccess(provider string) {
	ps := b.stateFor(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.st = closed
	ps.failureTimestamps = nil
	ps.halfOpenAttempts = 0
}

// RecordFailure appends a failure timestamp for provider. In closed state
// the breaker trips open once the pruned failure count reaches threshold.
// In half_open state — a failed probe — it always trips open immediately,
// with a fresh last_failure_time, regardless of the failure count.
func (b *Breaker) RecordFailure(provider string) {
	ps := b.stateFor(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	cooldown := b.cfg.cooldown()

	switch ps.st {
	case halfOpen:
		ps.st = open
		ps.lastFailureTime = now
		ps.failureTimestamps = append(ps.failureTimestamps, now)

	default:
		ps.failureTimestamps = append(ps.failureTimestamps, now)
		ps.prune(now, cooldown)
		if len(ps.failureTimestamps) >= b.cfg.threshold() {
			ps.st = open
			ps.lastFailureTime = now
		}
	}
}

// State returns a human-readable state label: "closed", "open", or
// "half_open". Does not itself perform the lazy open→half_open transition;
// call CanAttempt first if that transition matters to the caller.
func (b *Breaker) State(provider string) string {
	ps := b.stateFor(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	switch ps.st {
	case open:
		return "open"
	case halfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// StateCode returns the numeric state used by the circuit_breaker_state
// metric: 0=closed, 1=open, 2=half_open.
func (b *Breaker) StateCode(provider string) int64 {
	ps := b.stateFor(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	switch ps.st {
	case open:
		return 1
	case halfOpen:
		return 2
	default:
		return 0
	}
}
