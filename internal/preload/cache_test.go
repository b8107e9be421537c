package preload

import (
	"testing"
	"time"

	"callbridge/internal/audio"
)

func TestCacheEvictsOnRead(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewCache(30 * time.Minute)
	c.SetClock(func() time.Time { return now })

	key := Key{UserID: "u1", ScenarioID: 1}
	c.Put(key, map[int64]audio.PreloadedAudio{1: {VoiceLineID: 1}})

	if _, ok := c.Get(key); !ok {
		t.Fatal("expected fresh entry to hit")
	}

	now = now.Add(31 * time.Minute)
	if _, ok := c.Get(key); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Fatal("expected expired entry to be evicted on read")
	}
}

func TestCacheSweepAndDropAll(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewCache(30 * time.Minute)
	c.SetClock(func() time.Time { return now })

	c.Put(Key{UserID: "u1", ScenarioID: 1}, nil)
	now = now.Add(31 * time.Minute)
	c.Put(Key{UserID: "u2", ScenarioID: 2}, nil)

	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept entry, got %d", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", c.Len())
	}

	c.DropAll()
	if c.Len() != 0 {
		t.Fatal("expected empty cache after DropAll")
	}
}

func TestCacheMergeKeepsEntryAge(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewCache(30 * time.Minute)
	c.SetClock(func() time.Time { return now })

	key := Key{UserID: "u1", ScenarioID: 1}
	c.Put(key, map[int64]audio.PreloadedAudio{1: {VoiceLineID: 1}})

	// A late on-demand line joins the entry but must not reset its TTL.
	now = now.Add(29 * time.Minute)
	c.Merge(key, 2, audio.PreloadedAudio{VoiceLineID: 2})

	got, ok := c.Get(key)
	if !ok || len(got) != 2 {
		t.Fatalf("expected merged entry with 2 lines, got %v (%v)", got, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(key); ok {
		t.Fatal("expected entry to expire on the original schedule")
	}

	// Merging into an expired entry starts a fresh one.
	c.Merge(key, 3, audio.PreloadedAudio{VoiceLineID: 3})
	got, ok = c.Get(key)
	if !ok || len(got) != 1 {
		t.Fatalf("expected fresh single-line entry, got %v (%v)", got, ok)
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	c := NewCache(time.Hour)
	key := Key{UserID: "u1", ScenarioID: 1}
	c.Put(key, map[int64]audio.PreloadedAudio{1: {VoiceLineID: 1}})

	got, _ := c.Get(key)
	delete(got, 1)

	again, _ := c.Get(key)
	if len(again) != 1 {
		t.Fatal("mutating a Get result must not affect the cache")
	}
}
