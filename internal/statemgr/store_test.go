package statemgr

import (
	"context"
	"testing"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

type recordingStore struct {
	saved []models.RunSessionState
}

func (r *recordingStore) SaveSession(_ context.Context, s models.RunSessionState) error {
	r.saved = append(r.saved, s)
	return nil
}

func TestCompleteCallsStore(t *testing.T) {
	store := &recordingStore{}
	m := New(CleanupPolicy{}).WithStore(store)

	m.CreateSession("s1", "run-1")
	if err := m.Complete("s1", 0); err != nil {
		t.Fatal(err)
	}

	if len(store.saved) != 1 || store.saved[0].SessionID != "s1" {
		t.Fatalf("expected session s1 persisted, got %+v", store.saved)
	}
}
