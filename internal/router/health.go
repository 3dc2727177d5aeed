package router

import (
	"sync"
	"time"
)

// Health labels.
const (
	HealthUnknown   = "unknown"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// HealthStatus is the latest observed state of one server.
type HealthStatus struct {
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthTracker keeps an in-memory map of per-server health labels.
// It is purely observational.
type HealthTracker struct {
	mu      sync.Mutex
	servers map[string]HealthStatus
}

// NewHealthTracker returns an empty tracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{servers: make(map[string]HealthStatus)}
}

// MarkHealthy records a successful call.
func (t *HealthTracker) MarkHealthy(serverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.servers[serverID] = HealthStatus{Status: HealthHealthy, CheckedAt: time.Now().UTC()}
}

// MarkUnhealthy records a failed call with its reason.
func (t *HealthTracker) MarkUnhealthy(serverID, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.servers[serverID] = HealthStatus{
		Status:    HealthUnhealthy,
		Reason:    reason,
		CheckedAt: time.Now().UTC(),
	}
}

// Status reports the latest label, HealthUnknown when never observed.
func (t *HealthTracker) Status(serverID string) HealthStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.servers[serverID]
	if !ok {
		return HealthStatus{Status: HealthUnknown}
	}
	return st
}
