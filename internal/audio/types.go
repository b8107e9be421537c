package audio

import (
	"encoding/json"
	"fmt"
	"time"
)

// VoiceLineType categorizes a scripted line within a scenario.
//
// The type is part of the session record stored in Redis, so it must
// round-trip losslessly through JSON. Unknown values are rejected at
// decode time instead of silently collapsing to a zero value.
type VoiceLineType string

const (
	VoiceLineTypeOpening  VoiceLineType = "opening"
	VoiceLineTypeQuestion VoiceLineType = "question"
	VoiceLineTypeResponse VoiceLineType = "response"
	VoiceLineTypeClosing  VoiceLineType = "closing"
	VoiceLineTypeFiller   VoiceLineType = "filler"
)

func (t VoiceLineType) Valid() bool {
	switch t {
	case VoiceLineTypeOpening, VoiceLineTypeQuestion, VoiceLineTypeResponse,
		VoiceLineTypeClosing, VoiceLineTypeFiller:
		return true
	default:
		return false
	}
}

func (t VoiceLineType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("audio: invalid voice line type %q", string(t))
	}
	return json.Marshal(string(t))
}

func (t *VoiceLineType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v := VoiceLineType(s)
	if !v.Valid() {
		return fmt.Errorf("audio: invalid voice line type %q", s)
	}
	*t = v
	return nil
}

// PreloadedAudio is one voice line rendered into wire-ready telephony frames.
//
// Invariant: when Frames is non-empty, FrameDuration * len(Frames) approximates
// the playable duration of the source asset within one frame.
// Immutable after the transcoder returns it.
type PreloadedAudio struct {
	VoiceLineID int64         `json:"voice_line_id"`
	OrderIndex  int           `json:"order_index"`
	Type        VoiceLineType `json:"type"`
	VoiceID     string        `json:"voice_id"`

	// RawBytes holds the decoded source asset. Omitted when the session
	// codec is configured to strip bulk audio before persistence.
	RawBytes  []byte    `json:"raw_bytes,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
	LoadedAt  time.Time `json:"loaded_at"`

	// Frames are base64-ready mu-law payloads, in playback order.
	Frames        [][]byte      `json:"frames,omitempty"`
	FrameDuration time.Duration `json:"frame_duration_ns"`
	SampleRate    int           `json:"sample_rate_hz"`
}

// Duration reports the playable duration implied by the frame set.
func (p PreloadedAudio) Duration() time.Duration {
	return time.Duration(len(p.Frames)) * p.FrameDuration
}
