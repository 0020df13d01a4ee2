// Package statemgr maintains a process-wide lifecycle for sessions:
// creation, phase transitions, metric updates, completion/failure, and a
// bounded broadcast of state events to subscribers.
package statemgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaorenex1/memex-cli-sub000/internal/observability"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// EventKind enumerates the state events the manager broadcasts.
type EventKind string

const (
	EventSessionCreated      EventKind = "session.created"
	EventSessionPhaseChanged EventKind = "session.phase_changed"
	EventToolEventReceived   EventKind = "tool_event.received"
	EventMemoryHit           EventKind = "memory.hit"
	EventGatekeeperDecision  EventKind = "gatekeeper.decision"
	EventSessionCompleted    EventKind = "session.completed"
	EventSessionFailed       EventKind = "session.failed"
)

// Event is one state-change notification broadcast to subscribers.
type Event struct {
	Kind      EventKind
	SessionID string
	OldPhase  models.SessionPhase
	NewPhase  models.SessionPhase
	ExitCode  int
	Error     string
	Count     int
	Timestamp time.Time
}

// Stats summarizes session counts by status.
type Stats struct {
	Created   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

// CleanupPolicy retains the most recent N completed/failed sessions and
// discards older ones on each completion.
type CleanupPolicy struct {
	RetainCompleted int
}

// Manager is a process-wide session-lifecycle tracker.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*models.RunSessionState
	// finishedOrder tracks completed/failed session ids in completion order,
	// used by the cleanup policy to evict the oldest beyond RetainCompleted.
	finishedOrder []string
	activeCount   int

	subMu sync.Mutex
	subs  []chan Event

	cleanup CleanupPolicy
	store   Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New builds a state manager with the given cleanup policy. A zero-value
// policy disables cleanup (nothing is ever evicted). Records are kept in
// memory only; call WithStore to also persist them durably.
func New(cleanup CleanupPolicy) *Manager {
	return &Manager{
		sessions: make(map[string]*models.RunSessionState),
		cleanup:  cleanup,
		store:    NoopStore{},
		logger:   slog.Default(),
	}
}

// WithStore attaches a durable Store; every completed or failed session is
// persisted through it in addition to being kept in memory. Persistence
// failures are logged, not returned — a store outage must never fail a run.
func (m *Manager) WithStore(store Store) *Manager {
	m.store = store
	return m
}

// WithMetrics attaches a Prometheus metrics sink. A nil metrics pointer
// (the zero value of this option) disables metrics entirely.
func (m *Manager) WithMetrics(metrics *observability.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Subscribe returns a bounded channel of state events. The channel is
// closed when Unsubscribe is called; events are dropped (never block the
// emitter) if a subscriber falls behind.
func (m *Manager) Subscribe(bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ch := make(chan Event, bufferSize)

	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()

	unsub := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for i, s := range m.subs {
			if s == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsub
}

func (m *Manager) emit(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// CreateSession registers a new session under sessionID in the Created status.
func (m *Manager) CreateSession(sessionID, runID string) {
	m.mu.Lock()
	m.sessions[sessionID] = &models.RunSessionState{
		SessionID: sessionID,
		RunID:     runID,
		Phase:     models.PhaseIdle,
		Status:    models.StatusCreated,
		StartedAt: time.Now(),
	}
	m.activeCount++
	m.mu.Unlock()

	m.publishStats()
	m.emit(Event{Kind: EventSessionCreated, SessionID: sessionID, Timestamp: time.Now()})
}

// Get returns a copy of a session's current state.
func (m *Manager) Get(sessionID string) (models.RunSessionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return models.RunSessionState{}, false
	}
	return *s, true
}

// TransitionPhase moves a session to a new phase and broadcasts the change.
func (m *Manager) TransitionPhase(sessionID string, newPhase models.SessionPhase) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %s not found", sessionID)
	}
	oldPhase := s.Phase
	s.Phase = newPhase
	if newPhase == models.PhaseRunnerRunning {
		s.Status = models.StatusRunning
	}
	m.mu.Unlock()

	m.publishStats()
	m.emit(Event{Kind: EventSessionPhaseChanged, SessionID: sessionID, OldPhase: oldPhase, NewPhase: newPhase, Timestamp: time.Now()})
	return nil
}

// RecordToolEvents increments the session's observed tool-event count.
func (m *Manager) RecordToolEvents(sessionID string, count int) {
	m.mu.Lock()
	if s, ok := m.sessions[sessionID]; ok {
		s.ToolEventsSeen += count
	}
	m.mu.Unlock()
	m.emit(Event{Kind: EventToolEventReceived, SessionID: sessionID, Count: count, Timestamp: time.Now()})
}

// RecordMemoryHit increments the session's memory-hit count.
func (m *Manager) RecordMemoryHit(sessionID string, count int) {
	m.mu.Lock()
	if s, ok := m.sessions[sessionID]; ok {
		s.MemoryHits += count
	}
	m.mu.Unlock()
	m.emit(Event{Kind: EventMemoryHit, SessionID: sessionID, Count: count, Timestamp: time.Now()})
}

// RecordGatekeeperDecision stores the gatekeeper's decision on the session.
func (m *Manager) RecordGatekeeperDecision(sessionID string, decision models.GatekeeperDecision) {
	m.mu.Lock()
	if s, ok := m.sessions[sessionID]; ok {
		s.GatekeeperDecision = &decision
	}
	m.mu.Unlock()
	m.emit(Event{Kind: EventGatekeeperDecision, SessionID: sessionID, Timestamp: time.Now()})
}

// Complete marks a session completed with the given exit code.
func (m *Manager) Complete(sessionID string, exitCode int) error {
	return m.finish(sessionID, models.StatusCompleted, exitCode, "")
}

// Fail marks a session failed with the given error.
func (m *Manager) Fail(sessionID string, errMsg string) error {
	return m.finish(sessionID, models.StatusFailed, -1, errMsg)
}

func (m *Manager) finish(sessionID string, status models.SessionStatus, exitCode int, errMsg string) error {
	now := time.Now()

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %s not found", sessionID)
	}
	s.Status = status
	s.CompletedAt = &now
	if status == models.StatusCompleted {
		s.Phase = models.PhaseCompleted
	} else {
		s.Phase = models.PhaseFailed
	}
	m.activeCount--
	m.finishedOrder = append(m.finishedOrder, sessionID)
	m.evictOverflow()
	snapshot := *s
	m.mu.Unlock()

	if err := m.store.SaveSession(context.Background(), snapshot); err != nil {
		m.logger.Warn("session store persist failed", "session_id", sessionID, "error", err)
	}

	m.metrics.RecordSessionDuration(now.Sub(snapshot.StartedAt).Seconds())
	m.publishStats()

	kind := EventSessionCompleted
	if status == models.StatusFailed {
		kind = EventSessionFailed
	}
	m.emit(Event{Kind: kind, SessionID: sessionID, ExitCode: exitCode, Error: errMsg, Timestamp: now})
	return nil
}

// evictOverflow drops the oldest finished sessions beyond RetainCompleted.
// Must be called with mu held.
func (m *Manager) evictOverflow() {
	if m.cleanup.RetainCompleted <= 0 {
		return
	}
	for len(m.finishedOrder) > m.cleanup.RetainCompleted {
		oldest := m.finishedOrder[0]
		m.finishedOrder = m.finishedOrder[1:]
		delete(m.sessions, oldest)
	}
}

// ActiveSessions returns a copy of every session not yet completed/failed.
func (m *Manager) ActiveSessions() []models.RunSessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.RunSessionState
	for _, s := range m.sessions {
		if s.Status == models.StatusCreated || s.Status == models.StatusRunning {
			out = append(out, *s)
		}
	}
	return out
}

// SessionStats aggregates session counts by status.
func (m *Manager) SessionStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, session := range m.sessions {
		switch session.Status {
		case models.StatusCreated:
			s.Created++
		case models.StatusRunning:
			s.Running++
		case models.StatusCompleted:
			s.Completed++
		case models.StatusFailed:
			s.Failed++
		case models.StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// publishStats pushes the current per-status session counts to the metrics
// gauge. A no-op when no Metrics sink is attached.
func (m *Manager) publishStats() {
	if m.metrics == nil {
		return
	}
	stats := m.SessionStats()
	m.metrics.SetStatemgrSessions("created", stats.Created)
	m.metrics.SetStatemgrSessions("running", stats.Running)
	m.metrics.SetStatemgrSessions("completed", stats.Completed)
	m.metrics.SetStatemgrSessions("failed", stats.Failed)
	m.metrics.SetStatemgrSessions("cancelled", stats.Cancelled)
}
