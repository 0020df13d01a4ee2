package statemgr

import (
	"testing"
	"time"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

func TestCreateAndTransitionBroadcasts(t *testing.T) {
	m := New(CleanupPolicy{})
	events, unsub := m.Subscribe(16)
	defer unsub()

	m.CreateSession("s1", "run-1")
	m.TransitionPhase("s1", models.PhaseRunnerRunning)

	var kinds []EventKind
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	if kinds[0] != EventSessionCreated || kinds[1] != EventSessionPhaseChanged {
		t.Fatalf("unexpected event sequence: %v", kinds)
	}

	s, ok := m.Get("s1")
	if !ok || s.Status != models.StatusRunning {
		t.Fatalf("expected running status, got %+v ok=%v", s, ok)
	}
}

func TestCompleteAndFailUpdateStats(t *testing.T) {
	m := New(CleanupPolicy{})
	m.CreateSession("s1", "")
	m.CreateSession("s2", "")

	if err := m.Complete("s1", 0); err != nil {
		t.Fatal(err)
	}
	if err := m.Fail("s2", "boom"); err != nil {
		t.Fatal(err)
	}

	stats := m.SessionStats()
	if stats.Completed != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(m.ActiveSessions()) != 0 {
		t.Fatalf("expected no active sessions, got %v", m.ActiveSessions())
	}
}

func TestCleanupPolicyRetainsOnlyLastN(t *testing.T) {
	m := New(CleanupPolicy{RetainCompleted: 1})
	m.CreateSession("s1", "")
	m.CreateSession("s2", "")
	m.Complete("s1", 0)
	m.Complete("s2", 0)

	if _, ok := m.Get("s1"); ok {
		t.Fatal("expected s1 evicted after retention cap exceeded")
	}
	if _, ok := m.Get("s2"); !ok {
		t.Fatal("expected s2 retained as most recent completion")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := New(CleanupPolicy{})
	events, unsub := m.Subscribe(4)
	unsub()

	m.CreateSession("s1", "")

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed channel with no events after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected channel to be closed immediately")
	}
}

func TestTransitionUnknownSessionErrors(t *testing.T) {
	m := New(CleanupPolicy{})
	if err := m.TransitionPhase("missing", models.PhaseRunnerRunning); err == nil {
		t.Fatal("expected error for unknown session")
	}
}
