package assets

import (
	"time"

	"callbridge/internal/audio"
)

// AssetStatus tracks the rendering pipeline for one voice line take.
// Only Ready assets are eligible for preload.
type AssetStatus string

const (
	AssetStatusPending AssetStatus = "pending"
	AssetStatusReady   AssetStatus = "ready"
	AssetStatusFailed  AssetStatus = "failed"
)

// VoiceLine is one scripted line within a scenario.
type VoiceLine struct {
	ID         int64               `json:"id" db:"id"`
	ScenarioID int64               `json:"scenario_id" db:"scenario_id"`
	Type       audio.VoiceLineType `json:"type" db:"type"`
	OrderIndex int                 `json:"order_index" db:"order_index"`

	Assets []Asset `json:"assets,omitempty"`
}

// Asset is one rendered audio take of a voice line with a specific voice.
type Asset struct {
	ID          int64       `json:"id" db:"id"`
	VoiceLineID int64       `json:"voice_line_id" db:"voice_line_id"`
	VoiceID     string      `json:"voice_id" db:"voice_id"`
	Status      AssetStatus `json:"status" db:"status"`
	StoragePath string      `json:"storage_path" db:"storage_path"`
	DurationMs  int         `json:"duration_ms" db:"duration_ms"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}

// BestCandidate picks the single asset to preload for a line: the most recent
// ready take matching the preferred voice, falling back to the most recent
// ready take of any voice. ok is false when the line has no ready take.
func (v VoiceLine) BestCandidate(preferredVoiceID string) (Asset, bool) {
	var bestPreferred, bestAny *Asset
	for i := range v.Assets {
		a := &v.Assets[i]
		if a.Status != AssetStatusReady || a.StoragePath == "" {
			continue
		}
		if bestAny == nil || a.CreatedAt.After(bestAny.CreatedAt) {
			bestAny = a
		}
		if preferredVoiceID != "" && a.VoiceID == preferredVoiceID {
			if bestPreferred == nil || a.CreatedAt.After(bestPreferred.CreatedAt) {
				bestPreferred = a
			}
		}
	}
	if bestPreferred != nil {
		return *bestPreferred, true
	}
	if bestAny != nil {
		return *bestAny, true
	}
	return Asset{}, false
}
