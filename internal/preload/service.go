package preload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callbridge/internal/assets"
	"callbridge/internal/audio"
	"callbridge/internal/storage"
)

var (
	ErrUnauthorized = errors.New("preload: unauthorized access to scenario")
	ErrNoVoiceLines = errors.New("preload: scenario has no voice lines")
	ErrNoReadyAudio = errors.New("preload: no ready audio assets to preload")
	ErrLineNotFound = errors.New("preload: voice line has no usable audio")
)

const signedURLTTL = 10 * time.Minute

// Stats summarizes one preload call.
type Stats struct {
	Cached     bool                        `json:"cached"`
	AudioCount int                         `json:"audio_count"`
	TotalBytes int64                       `json:"total_bytes"`
	ByType     map[audio.VoiceLineType]int `json:"by_type"`
	Skipped    int                         `json:"skipped_lines"`
}

func statsFor(audios map[int64]audio.PreloadedAudio, cached bool, skipped int) Stats {
	s := Stats{
		Cached:  cached,
		ByType:  make(map[audio.VoiceLineType]int),
		Skipped: skipped,
	}
	for _, a := range audios {
		s.AudioCount++
		s.TotalBytes += a.SizeBytes
		s.ByType[a.Type]++
	}
	return s
}

// Service turns stored speech assets into wire-ready frame sets ahead of
// playback, so live calls stream with no added latency.
type Service struct {
	catalog    assets.Catalog
	signer     storage.Signer
	downloader *Downloader
	cache      *Cache
	transcoder *audio.Transcoder
	clock      func() time.Time
	log        *slog.Logger
}

func NewService(catalog assets.Catalog, signer storage.Signer, dl *Downloader, cache *Cache, tr *audio.Transcoder, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		catalog:    catalog,
		signer:     signer,
		downloader: dl,
		cache:      cache,
		transcoder: tr,
		clock:      time.Now,
		log:        log,
	}
}

// Cache exposes the underlying cache for playback lookups and admin drops.
func (s *Service) Cache() *Cache { return s.cache }

// Preload fetches and transcodes every voice line of the scenario that has a
// ready asset. A fresh call against an unexpired entry returns cached stats
// and performs zero network activity. Lines without a usable asset are
// skipped; producing no usable line at all is an error.
func (s *Service) Preload(ctx context.Context, userID string, scenarioID int64, preferredVoiceID string) (Stats, error) {
	s.cache.Sweep()

	key := Key{UserID: userID, ScenarioID: scenarioID}
	if audios, ok := s.cache.Get(key); ok {
		return statsFor(audios, true, 0), nil
	}

	owner, err := s.catalog.ScenarioOwner(ctx, scenarioID)
	if err != nil {
		return Stats{}, err
	}
	if owner != userID {
		return Stats{}, ErrUnauthorized
	}

	lines, err := s.catalog.VoiceLinesWithAssets(ctx, scenarioID)
	if err != nil {
		return Stats{}, err
	}
	if len(lines) == 0 {
		return Stats{}, ErrNoVoiceLines
	}

	type candidate struct {
		line  assets.VoiceLine
		asset assets.Asset
	}
	var candidates []candidate
	skipped := 0
	for _, line := range lines {
		asset, ok := line.BestCandidate(preferredVoiceID)
		if !ok {
			skipped++
			continue
		}
		candidates = append(candidates, candidate{line: line, asset: asset})
	}
	if len(candidates) == 0 {
		return Stats{}, ErrNoReadyAudio
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		audios = make(map[int64]audio.PreloadedAudio, len(candidates))
	)
	for _, cand := range candidates {
		wg.Add(1)
		go func(cand candidate) {
			defer wg.Done()
			rec, err := s.loadOne(ctx, cand.line, cand.asset)
			if err != nil {
				// Single-line failures degrade the preload, they do not kill it.
				s.log.Warn("voice line preload failed",
					"voice_line_id", cand.line.ID, "asset_id", cand.asset.ID, "err", err)
				return
			}
			mu.Lock()
			audios[cand.line.ID] = rec
			mu.Unlock()
		}(cand)
	}
	wg.Wait()

	if len(audios) == 0 {
		return Stats{}, ErrNoReadyAudio
	}
	s.cache.Put(key, audios)
	return statsFor(audios, false, skipped+len(candidates)-len(audios)), nil
}

// Preloaded returns the cached frame sets for the key, if still live.
func (s *Service) Preloaded(userID string, scenarioID int64) (map[int64]audio.PreloadedAudio, bool) {
	return s.cache.Get(Key{UserID: userID, ScenarioID: scenarioID})
}

// OnDemand converts a single voice line right now, bypassing the cache read
// but feeding the result back into it. This is the playback fallback for
// lines that were skipped or evicted.
func (s *Service) OnDemand(ctx context.Context, userID string, scenarioID, voiceLineID int64) (audio.PreloadedAudio, error) {
	owner, err := s.catalog.ScenarioOwner(ctx, scenarioID)
	if err != nil {
		return audio.PreloadedAudio{}, err
	}
	if owner != userID {
		return audio.PreloadedAudio{}, ErrUnauthorized
	}

	lines, err := s.catalog.VoiceLinesWithAssets(ctx, scenarioID)
	if err != nil {
		return audio.PreloadedAudio{}, err
	}
	for _, line := range lines {
		if line.ID != voiceLineID {
			continue
		}
		asset, ok := line.BestCandidate("")
		if !ok {
			return audio.PreloadedAudio{}, ErrLineNotFound
		}
		rec, err := s.loadOne(ctx, line, asset)
		if err != nil {
			return audio.PreloadedAudio{}, err
		}
		s.cache.Merge(Key{UserID: userID, ScenarioID: scenarioID}, voiceLineID, rec)
		return rec, nil
	}
	return audio.PreloadedAudio{}, ErrLineNotFound
}

func (s *Service) loadOne(ctx context.Context, line assets.VoiceLine, asset assets.Asset) (audio.PreloadedAudio, error) {
	signedURL, err := s.signer.SignedURL(ctx, asset.StoragePath, signedURLTTL)
	if err != nil {
		return audio.PreloadedAudio{}, fmt.Errorf("sign %s: %w", asset.StoragePath, err)
	}
	blob, err := s.downloader.Fetch(ctx, signedURL)
	if err != nil {
		return audio.PreloadedAudio{}, err
	}
	frames, err := s.transcoder.Transcode(blob)
	if err != nil {
		return audio.PreloadedAudio{}, fmt.Errorf("transcode voice line %d: %w", line.ID, err)
	}
	return audio.PreloadedAudio{
		VoiceLineID:   line.ID,
		OrderIndex:    line.OrderIndex,
		Type:          line.Type,
		VoiceID:       asset.VoiceID,
		RawBytes:      blob,
		SizeBytes:     int64(len(blob)),
		LoadedAt:      s.clock().UTC(),
		Frames:        frames,
		FrameDuration: s.transcoder.FrameDuration,
		SampleRate:    s.transcoder.SampleRate,
	}, nil
}
