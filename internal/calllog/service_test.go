package calllog

import (
	"context"
	"testing"
	"time"
)

func TestRecordFillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	now := time.Unix(1700000000, 0).UTC()
	svc.clock = func() time.Time { return now }

	if err := svc.Record(context.Background(), Event{Type: "call.initiated", CallControlID: "cc-1"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	events := repo.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ID == "" {
		t.Fatal("expected generated id")
	}
	if !events[0].CreatedAt.Equal(now) {
		t.Fatalf("expected clock timestamp, got %s", events[0].CreatedAt)
	}
}

func TestRecordRejectsMissingType(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	if err := svc.Record(context.Background(), Event{CallControlID: "cc-1"}); err != ErrInvalidEvent {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}
