package rules

import (
	"fmt"
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "OPEN"
	case breakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

type breakerEntry struct {
	state        breakerState
	emissions    []time.Time
	openedAt     time.Time
	cooldown     time.Duration
	halfOpenUsed bool
}

// BreakerTable tracks one circuit breaker per (rule_id, market_id). A pair
// that emits more than max times inside the window trips OPEN for the
// cooldown; after the cooldown HALF_OPEN admits exactly one emission, and a
// re-trip doubles the cooldown up to the bound.
type BreakerTable struct {
	Window       time.Duration
	Max          int
	BaseCooldown time.Duration
	MaxCooldown  time.Duration

	mu      sync.Mutex
	entries map[string]*breakerEntry
	now     func() time.Time
}

func NewBreakerTable(window time.Duration, max int, cooldown time.Duration) *BreakerTable {
	if window <= 0 {
		window = time.Minute
	}
	if max <= 0 {
		max = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &BreakerTable{
		Window:       window,
		Max:          max,
		BaseCooldown: cooldown,
		MaxCooldown:  8 * cooldown,
		entries:      map[string]*breakerEntry{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func breakerKey(ruleID uint64, marketID string) string {
	return fmt.Sprintf("%d:%s", ruleID, marketID)
}

func (t *BreakerTable) entry(key string) *breakerEntry {
	e, ok := t.entries[key]
	if !ok {
		e = &breakerEntry{state: breakerClosed, cooldown: t.BaseCooldown}
		t.entries[key] = e
	}
	return e
}

// Allow reports whether the pair may emit right now. An OPEN breaker whose
// cooldown has elapsed moves to HALF_OPEN and admits a single emission.
func (t *BreakerTable) Allow(ruleID uint64, marketID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(breakerKey(ruleID, marketID))
	now := t.now()
	switch e.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if now.Sub(e.openedAt) >= e.cooldown {
			e.state = breakerHalfOpen
			e.halfOpenUsed = false
			return true
		}
		return false
	case breakerHalfOpen:
		return !e.halfOpenUsed
	}
	return false
}

// IsOpen is the read-only view the intent gauntlet consults.
func (t *BreakerTable) IsOpen(ruleID uint64, marketID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[breakerKey(ruleID, marketID)]
	if !ok {
		return false
	}
	if e.state == breakerOpen && t.now().Sub(e.openedAt) >= e.cooldown {
		return false
	}
	return e.state == breakerOpen
}

// Limits overrides the table defaults for one rule; zero fields fall back.
type Limits struct {
	Window   time.Duration
	Max      int
	Cooldown time.Duration
}

// RecordEmission counts an emission and trips the breaker once the rate
// exceeds the max inside the window.
func (t *BreakerTable) RecordEmission(ruleID uint64, marketID string, limits Limits) {
	window := limits.Window
	if window <= 0 {
		window = t.Window
	}
	max := limits.Max
	if max <= 0 {
		max = t.Max
	}
	baseCooldown := limits.Cooldown
	if baseCooldown <= 0 {
		baseCooldown = t.BaseCooldown
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(breakerKey(ruleID, marketID))
	now := t.now()

	kept := e.emissions[:0]
	for _, ts := range e.emissions {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}
	e.emissions = append(kept, now)
	over := len(e.emissions) > max

	switch e.state {
	case breakerHalfOpen:
		e.halfOpenUsed = true
		if over {
			e.cooldown *= 2
			if e.cooldown > t.MaxCooldown {
				e.cooldown = t.MaxCooldown
			}
			e.state = breakerOpen
			e.openedAt = now
		} else {
			e.state = breakerClosed
			e.cooldown = baseCooldown
		}
	default:
		if over {
			e.cooldown = baseCooldown
			e.state = breakerOpen
			e.openedAt = now
		}
	}
}

// State returns the current state string for telemetry and tests.
func (t *BreakerTable) State(ruleID uint64, marketID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[breakerKey(ruleID, marketID)]
	if !ok {
		return breakerClosed.String()
	}
	return e.state.String()
}
