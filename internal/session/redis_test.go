package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, Codec{}), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	sess := Session{CallControlID: "cc-1", UserID: "u1", ConferenceName: "conf-1", State: StateInitiated}
	if err := store.Put(ctx, sess, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "cc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "u1" || got.State != StateInitiated {
		t.Fatalf("unexpected session: %+v", got)
	}

	byConf, err := store.GetByConference(ctx, "conf-1")
	if err != nil || byConf.CallControlID != "cc-1" {
		t.Fatalf("get by conference: %+v (%v)", byConf, err)
	}

	if err := store.Remove(ctx, "cc-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Get(ctx, "cc-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisStoreRemovesSessionlessLegMembership(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	// Monitor legs join via AddLegToConference only; they never get a
	// session record. Hangup must still prune their membership.
	if err := store.AddLegToConference(ctx, "conf-abc", "monitor-leg-1", time.Hour); err != nil {
		t.Fatalf("add leg: %v", err)
	}
	if err := store.Remove(ctx, "monitor-leg-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	legs, err := store.LegsByConference(ctx, "conf-abc")
	if err != nil {
		t.Fatalf("legs: %v", err)
	}
	if len(legs) != 0 {
		t.Fatalf("membership not pruned after hangup: %v", legs)
	}
	if mr.Exists(conferenceKey("conf-abc")) {
		t.Fatal("expected empty conference set to be deleted")
	}
	if mr.Exists(legConferenceKey("monitor-leg-1")) {
		t.Fatal("expected reverse index entry to be deleted")
	}

	// Removing the same leg again is a no-op.
	if err := store.Remove(ctx, "monitor-leg-1"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestRedisStoreRemoveKeepsOtherLegs(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	sess := Session{CallControlID: "cc-1", UserID: "u1", ConferenceName: "conf-1", State: StateStreaming}
	if err := store.Put(ctx, sess, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.AddLegToConference(ctx, "conf-1", "monitor-leg-1", time.Hour); err != nil {
		t.Fatalf("add leg: %v", err)
	}

	if err := store.Remove(ctx, "monitor-leg-1"); err != nil {
		t.Fatalf("remove monitor leg: %v", err)
	}
	legs, err := store.LegsByConference(ctx, "conf-1")
	if err != nil || len(legs) != 1 || legs[0] != "cc-1" {
		t.Fatalf("expected only the session leg to remain, got %v (%v)", legs, err)
	}
}
