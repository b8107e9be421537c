package preload

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"callbridge/internal/assets"
	"callbridge/internal/audio"
)

type staticSigner struct {
	base string
}

func (s staticSigner) SignedURL(_ context.Context, storagePath string, _ time.Duration) (string, error) {
	return s.base + "/" + storagePath, nil
}

func testWav(sampleRate int, dur time.Duration) []byte {
	n := int(int64(sampleRate) * dur.Nanoseconds() / int64(time.Second))
	var pcm bytes.Buffer
	for i := 0; i < n; i++ {
		s := int16(0.3 * math.MaxInt16 * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate)))
		_ = binary.Write(&pcm, binary.LittleEndian, s)
	}
	data := pcm.Bytes()
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func testService(t *testing.T, catalog *assets.MemoryCatalog) (*Service, *int32) {
	t.Helper()
	var downloads int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&downloads, 1)
		_, _ = w.Write(testWav(8000, 400*time.Millisecond))
	}))
	t.Cleanup(srv.Close)

	svc := NewService(
		catalog,
		staticSigner{base: srv.URL},
		quietDownloader(5),
		NewCache(30*time.Minute),
		audio.NewTranscoder(),
		nil,
	)
	return svc, &downloads
}

func readyLine(id int64, typ audio.VoiceLineType, order int, voiceID string) assets.VoiceLine {
	return assets.VoiceLine{
		ID:         id,
		ScenarioID: 1,
		Type:       typ,
		OrderIndex: order,
		Assets: []assets.Asset{{
			ID:          id * 10,
			VoiceLineID: id,
			VoiceID:     voiceID,
			Status:      assets.AssetStatusReady,
			StoragePath: fmt.Sprintf("u1/line-%d.wav", id),
			CreatedAt:   time.Unix(1700000000, 0),
		}},
	}
}

func TestPreloadCachedHitSkipsNetwork(t *testing.T) {
	catalog := assets.NewMemoryCatalog()
	catalog.SetScenario(1, "u1", []assets.VoiceLine{
		readyLine(1, audio.VoiceLineTypeOpening, 0, "alpha"),
		readyLine(2, audio.VoiceLineTypeClosing, 1, "alpha"),
	})
	svc, downloads := testService(t, catalog)

	first, err := svc.Preload(context.Background(), "u1", 1, "")
	if err != nil {
		t.Fatalf("preload: %v", err)
	}
	if first.Cached || first.AudioCount != 2 {
		t.Fatalf("unexpected first stats: %+v", first)
	}
	got := atomic.LoadInt32(downloads)
	if got != 2 {
		t.Fatalf("expected 2 downloads, got %d", got)
	}

	second, err := svc.Preload(context.Background(), "u1", 1, "")
	if err != nil {
		t.Fatalf("second preload: %v", err)
	}
	if !second.Cached {
		t.Fatal("expected cached=true on fresh entry")
	}
	if atomic.LoadInt32(downloads) != got {
		t.Fatal("cached preload must perform zero downloads")
	}
}

func TestPreloadAfterExpiryDownloadsAgain(t *testing.T) {
	catalog := assets.NewMemoryCatalog()
	catalog.SetScenario(1, "u1", []assets.VoiceLine{readyLine(1, audio.VoiceLineTypeOpening, 0, "alpha")})
	svc, downloads := testService(t, catalog)

	now := time.Unix(1700000000, 0)
	svc.cache.SetClock(func() time.Time { return now })

	if _, err := svc.Preload(context.Background(), "u1", 1, ""); err != nil {
		t.Fatalf("preload: %v", err)
	}
	now = now.Add(31 * time.Minute)
	if _, err := svc.Preload(context.Background(), "u1", 1, ""); err != nil {
		t.Fatalf("preload after expiry: %v", err)
	}
	if atomic.LoadInt32(downloads) < 2 {
		t.Fatal("expected at least one download after entry expired")
	}
}

func TestPreloadPartialSuccess(t *testing.T) {
	catalog := assets.NewMemoryCatalog()
	catalog.SetScenario(1, "u1", []assets.VoiceLine{
		readyLine(1, audio.VoiceLineTypeOpening, 0, "alpha"),
		readyLine(2, audio.VoiceLineTypeQuestion, 1, "alpha"),
		{ID: 3, ScenarioID: 1, Type: audio.VoiceLineTypeResponse, OrderIndex: 2},
		{ID: 4, ScenarioID: 1, Type: audio.VoiceLineTypeFiller, OrderIndex: 3},
		{ID: 5, ScenarioID: 1, Type: audio.VoiceLineTypeClosing, OrderIndex: 4},
	})
	svc, _ := testService(t, catalog)

	stats, err := svc.Preload(context.Background(), "u1", 1, "")
	if err != nil {
		t.Fatalf("preload: %v", err)
	}
	if stats.AudioCount != 2 {
		t.Fatalf("expected audio_count=2, got %d", stats.AudioCount)
	}
	if stats.Skipped != 3 {
		t.Fatalf("expected 3 skipped lines, got %d", stats.Skipped)
	}
	if stats.ByType[audio.VoiceLineTypeOpening] != 1 || stats.ByType[audio.VoiceLineTypeQuestion] != 1 {
		t.Fatalf("unexpected type breakdown: %v", stats.ByType)
	}
}

func TestPreloadAllLinesEmptyFails(t *testing.T) {
	catalog := assets.NewMemoryCatalog()
	catalog.SetScenario(1, "u1", []assets.VoiceLine{
		{ID: 1, ScenarioID: 1, Type: audio.VoiceLineTypeOpening},
		{ID: 2, ScenarioID: 1, Type: audio.VoiceLineTypeClosing},
	})
	svc, _ := testService(t, catalog)

	if _, err := svc.Preload(context.Background(), "u1", 1, ""); !errors.Is(err, ErrNoReadyAudio) {
		t.Fatalf("expected ErrNoReadyAudio, got %v", err)
	}
}

func TestPreloadRejectsWrongOwner(t *testing.T) {
	catalog := assets.NewMemoryCatalog()
	catalog.SetScenario(1, "owner", []assets.VoiceLine{readyLine(1, audio.VoiceLineTypeOpening, 0, "alpha")})
	svc, downloads := testService(t, catalog)

	if _, err := svc.Preload(context.Background(), "intruder", 1, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if atomic.LoadInt32(downloads) != 0 {
		t.Fatal("unauthorized preload must not touch the network")
	}
}

func TestOnDemandFeedsCache(t *testing.T) {
	catalog := assets.NewMemoryCatalog()
	catalog.SetScenario(1, "u1", []assets.VoiceLine{readyLine(7, audio.VoiceLineTypeFiller, 0, "alpha")})
	svc, _ := testService(t, catalog)

	rec, err := svc.OnDemand(context.Background(), "u1", 1, 7)
	if err != nil {
		t.Fatalf("on demand: %v", err)
	}
	if len(rec.Frames) == 0 {
		t.Fatal("expected frames from on-demand transcode")
	}
	audios, ok := svc.Preloaded("u1", 1)
	if !ok || len(audios[7].Frames) == 0 {
		t.Fatal("expected on-demand result to be cached")
	}

	if _, err := svc.OnDemand(context.Background(), "u1", 1, 999); !errors.Is(err, ErrLineNotFound) {
		t.Fatalf("expected ErrLineNotFound, got %v", err)
	}
}
