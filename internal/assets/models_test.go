package assets

import (
	"testing"
	"time"

	"callbridge/internal/audio"
)

func TestBestCandidatePrefersPreferredVoice(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	line := VoiceLine{
		ID:   1,
		Type: audio.VoiceLineTypeOpening,
		Assets: []Asset{
			{ID: 1, VoiceID: "alpha", Status: AssetStatusReady, StoragePath: "a", CreatedAt: t0},
			{ID: 2, VoiceID: "beta", Status: AssetStatusReady, StoragePath: "b", CreatedAt: t0.Add(time.Hour)},
			{ID: 3, VoiceID: "alpha", Status: AssetStatusReady, StoragePath: "c", CreatedAt: t0.Add(2 * time.Hour)},
			{ID: 4, VoiceID: "alpha", Status: AssetStatusPending, StoragePath: "d", CreatedAt: t0.Add(3 * time.Hour)},
		},
	}

	got, ok := line.BestCandidate("alpha")
	if !ok || got.ID != 3 {
		t.Fatalf("expected most recent ready alpha take (id 3), got %+v ok=%v", got, ok)
	}

	// No preferred match: newest ready of any voice.
	got, ok = line.BestCandidate("gamma")
	if !ok || got.ID != 3 {
		t.Fatalf("expected fallback to newest ready take, got %+v ok=%v", got, ok)
	}

	// Nothing ready at all.
	empty := VoiceLine{Assets: []Asset{{Status: AssetStatusPending}}}
	if _, ok := empty.BestCandidate(""); ok {
		t.Fatal("expected no candidate for line without ready assets")
	}
}
