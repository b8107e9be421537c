package session

import (
	"encoding/json"
	"fmt"

	"callbridge/internal/audio"
)

// codecVersion tags every stored record so future layout changes can be
// migrated instead of guessed at.
const codecVersion = 1

type storedSession struct {
	Version int     `json:"v"`
	Session Session `json:"session"`
}

// Codec encodes sessions for the shared store. The stored form is flat and
// self-describing: no live handles, no process-local state.
type Codec struct {
	// IncludeAudio keeps raw bytes and codec frames in the persisted record.
	// Off by default: bulk audio lives in the process-local preload cache and
	// is re-derived on demand after a failover.
	IncludeAudio bool
}

func (c Codec) Encode(s Session) ([]byte, error) {
	if !c.IncludeAudio && len(s.VoiceLineAudios) > 0 {
		slim := make(map[int64]audio.PreloadedAudio, len(s.VoiceLineAudios))
		for id, a := range s.VoiceLineAudios {
			a.RawBytes = nil
			a.Frames = nil
			slim[id] = a
		}
		s.VoiceLineAudios = slim
	}
	return json.Marshal(storedSession{Version: codecVersion, Session: s})
}

func (c Codec) Decode(b []byte) (Session, error) {
	var rec storedSession
	if err := json.Unmarshal(b, &rec); err != nil {
		return Session{}, fmt.Errorf("session: decode: %w", err)
	}
	if rec.Version != codecVersion {
		return Session{}, fmt.Errorf("session: unsupported record version %d", rec.Version)
	}
	if rec.Session.CallControlID == "" {
		return Session{}, fmt.Errorf("session: record missing call_control_id")
	}
	if rec.Session.State == "" {
		rec.Session.State = StateInitiated
	}
	if !rec.Session.State.Valid() {
		return Session{}, fmt.Errorf("session: invalid state %q", rec.Session.State)
	}
	return rec.Session, nil
}
