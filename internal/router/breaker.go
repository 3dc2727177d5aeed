package router

import (
	"sync"
	"time"
)

// Breaker states.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

type breakerEntry struct {
	state    string
	failures int
	openedAt time.Time
	probing  bool
}

// Breaker is a per-server circuit breaker. It is keyed solely by server
// id: the upstream endpoint is shared across tenants, so its failure
// state is too.
type Breaker struct {
	mu        sync.Mutex
	entries   map[string]*breakerEntry
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreaker returns a breaker with the default threshold and cooldown.
func NewBreaker() *Breaker {
	return &Breaker{
		entries:   make(map[string]*breakerEntry),
		threshold: defaultFailureThreshold,
		cooldown:  defaultCooldown,
		now:       time.Now,
	}
}

func (b *Breaker) entry(serverID string) *breakerEntry {
	e, ok := b.entries[serverID]
	if !ok {
		e = &breakerEntry{state: BreakerClosed}
		b.entries[serverID] = e
	}
	return e
}

// Allow reports whether a call to the server may proceed. After the
// cooldown an open breaker moves to half-open and admits exactly one
// trial call; further calls are refused until that trial resolves.
func (b *Breaker) Allow(serverID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(serverID)
	switch e.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(e.openedAt) < b.cooldown {
			return false
		}
		e.state = BreakerHalfOpen
		e.probing = true
		return true
	case BreakerHalfOpen:
		if e.probing {
			return false
		}
		e.probing = true
		return true
	}
	return true
}

// CancelProbe releases a half-open trial slot that was admitted but
// never dispatched, such as when the rate limiter refused the call.
// Without this the slot would stay taken and no trial could ever run.
func (b *Breaker) CancelProbe(serverID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(serverID)
	if e.state == BreakerHalfOpen {
		e.probing = false
	}
}

// RecordSuccess resets the breaker after a successful call.
func (b *Breaker) RecordSuccess(serverID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(serverID)
	e.state = BreakerClosed
	e.failures = 0
	e.probing = false
}

// RecordFailure counts a failure, opening the breaker at the threshold.
// A failed half-open trial reopens immediately.
func (b *Breaker) RecordFailure(serverID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(serverID)
	if e.state == BreakerHalfOpen {
		e.state = BreakerOpen
		e.openedAt = b.now()
		e.probing = false
		return
	}
	e.failures++
	if e.failures >= b.threshold {
		e.state = BreakerOpen
		e.openedAt = b.now()
	}
}

// State reports the current state label for the server.
func (b *Breaker) State(serverID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[serverID]
	if !ok {
		return BreakerClosed
	}
	return e.state
}
