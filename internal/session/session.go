// Package session tracks budgeted call envelopes for agents. Sessions
// live in process memory only: a restart clears them and agents are
// expected to re-create theirs.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"slices"
	"sync"
	"time"
)

// Session statuses. Transitions are monotonic toward a terminal state.
const (
	StatusActive    = "active"
	StatusExhausted = "exhausted"
	StatusExpired   = "expired"
	StatusClosed    = "closed"
)

// Denial codes returned by Enforce.
const (
	CodeSessionNotFound        = "SESSION_NOT_FOUND"
	CodeSessionClosed          = "SESSION_CLOSED"
	CodeSessionExpired         = "SESSION_EXPIRED"
	CodeBudgetCallsExceeded    = "BUDGET_CALLS_EXCEEDED"
	CodeBudgetCostExceeded     = "BUDGET_COST_EXCEEDED"
	CodeBudgetDurationExceeded = "BUDGET_DURATION_EXCEEDED"
	CodeServerNotAllowed       = "SERVER_NOT_ALLOWED"
	CodeToolDenied             = "TOOL_DENIED"
)

// Budget is the immutable policy attached to a session at creation.
type Budget struct {
	MaxToolCalls   *int       `json:"max_tool_calls,omitempty"`
	MaxDurationMs  *int64     `json:"max_duration_ms,omitempty"`
	MaxCostUSD     *float64   `json:"max_cost_usd,omitempty"`
	AllowedServers []string   `json:"allowed_servers,omitempty"`
	DeniedTools    []string   `json:"denied_tools,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Usage is the running consumption against the budget.
type Usage struct {
	ToolCalls int     `json:"tool_calls"`
	CostUSD   float64 `json:"cost_usd"`
}

// Session is a budget envelope for a run of tool calls by one agent.
type Session struct {
	ID        string    `json:"session_id"`
	TenantID  string    `json:"tenant_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Budget    Budget    `json:"budget"`
	Usage     Usage     `json:"usage"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decision is the outcome of a budget check.
type Decision struct {
	Allowed bool
	Code    string
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(code, reason string) Decision {
	return Decision{Allowed: false, Code: code, Reason: reason}
}

// Store holds sessions for the lifetime of the process.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time

	stopJanitor chan struct{}
	janitorDone chan struct{}
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func newSessionID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic("session: rand read: " + err.Error())
	}
	return "sess_" + hex.EncodeToString(buf)
}

// Create registers a new active session for the tenant.
func (s *Store) Create(tenantID string, budget Budget, agentID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	sess := &Session{
		ID:        newSessionID(),
		TenantID:  tenantID,
		AgentID:   agentID,
		Budget:    budget,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	return sess
}

// Get returns a copy of the session scoped to the tenant, or nil.
func (s *Store) Get(tenantID, sessionID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.TenantID != tenantID {
		return nil
	}
	cp := *sess
	return &cp
}

// Enforce runs the budget checks in a fixed order and returns the first
// violation. Checks that discover an expired or exhausted envelope also
// flip the session into its terminal status.
func (s *Store) Enforce(sessionID, serverID, toolName string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return deny(CodeSessionNotFound, "session not found")
	}
	if sess.Status == StatusClosed {
		return deny(CodeSessionClosed, "session is closed")
	}
	if sess.Status == StatusExhausted {
		return deny(CodeBudgetCallsExceeded, "session budget exhausted")
	}

	now := s.now().UTC()
	if sess.Budget.ExpiresAt != nil && now.After(*sess.Budget.ExpiresAt) {
		s.transition(sess, StatusExpired)
		return deny(CodeSessionExpired, "session expired")
	}
	if sess.Budget.MaxDurationMs != nil &&
		now.Sub(sess.CreatedAt).Milliseconds() > *sess.Budget.MaxDurationMs {
		s.transition(sess, StatusExpired)
		return deny(CodeBudgetDurationExceeded, "session duration budget exceeded")
	}
	if sess.Budget.MaxToolCalls != nil && sess.Usage.ToolCalls >= *sess.Budget.MaxToolCalls {
		s.transition(sess, StatusExhausted)
		return deny(CodeBudgetCallsExceeded, "tool call budget exceeded")
	}
	if sess.Budget.MaxCostUSD != nil && sess.Usage.CostUSD >= *sess.Budget.MaxCostUSD {
		s.transition(sess, StatusExhausted)
		return deny(CodeBudgetCostExceeded, "cost budget exceeded")
	}
	if len(sess.Budget.AllowedServers) > 0 &&
		!slices.Contains(sess.Budget.AllowedServers, serverID) {
		return deny(CodeServerNotAllowed, "server not allowed by session budget")
	}
	if slices.Contains(sess.Budget.DeniedTools, toolName) {
		return deny(CodeToolDenied, "tool denied by session budget")
	}
	return allow()
}

// RecordUsage bumps the counters after a successful dispatch.
func (s *Store) RecordUsage(sessionID string, cost float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	sess.Usage.ToolCalls++
	sess.Usage.CostUSD += cost
	sess.UpdatedAt = s.now().UTC()
}

// Close marks the session closed. Closing an unknown session reports
// false; closing twice is not an error.
func (s *Store) Close(tenantID, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.TenantID != tenantID {
		return false
	}
	s.transition(sess, StatusClosed)
	return true
}

// transition moves a session to a terminal status; callers hold s.mu.
func (s *Store) transition(sess *Session, status string) {
	sess.Status = status
	sess.UpdatedAt = s.now().UTC()
}

// StartJanitor expires overdue sessions and drops terminal ones that
// have been idle longer than retain. It runs until Stop is called.
func (s *Store) StartJanitor(interval, retain time.Duration) {
	s.mu.Lock()
	if s.stopJanitor != nil {
		s.mu.Unlock()
		return
	}
	s.stopJanitor = make(chan struct{})
	s.janitorDone = make(chan struct{})
	stop, done := s.stopJanitor, s.janitorDone
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.sweep(retain)
			}
		}
	}()
}

// Stop halts the janitor, if running.
func (s *Store) Stop() {
	s.mu.Lock()
	stop, done := s.stopJanitor, s.janitorDone
	s.stopJanitor, s.janitorDone = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *Store) sweep(retain time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for id, sess := range s.sessions {
		if sess.Status == StatusActive {
			if sess.Budget.ExpiresAt != nil && now.After(*sess.Budget.ExpiresAt) {
				s.transition(sess, StatusExpired)
			} else if sess.Budget.MaxDurationMs != nil &&
				now.Sub(sess.CreatedAt).Milliseconds() > *sess.Budget.MaxDurationMs {
				s.transition(sess, StatusExpired)
			}
		}
		if sess.Status != StatusActive && now.Sub(sess.UpdatedAt) > retain {
			delete(s.sessions, id)
		}
	}
}
