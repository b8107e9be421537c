package session

import (
	"fmt"
	"time"

	"callbridge/internal/audio"
)

// State is the explicit call lifecycle. Transitions only move forward;
// Ended is terminal. Duplicate webhook delivery makes same-state
// "transitions" legal everywhere.
type State string

const (
	StateInitiated State = "initiated"
	StateAnswered  State = "answered"
	StateJoined    State = "joined"
	StateStreaming State = "streaming"
	StateEnded     State = "ended"
)

var stateRank = map[State]int{
	StateInitiated: 0,
	StateAnswered:  1,
	StateJoined:    2,
	StateStreaming: 3,
	StateEnded:     4,
}

func (s State) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// CanAdvance reports whether moving to next is a legal transition.
// Re-applying the current state is allowed (idempotent event replay),
// moving backwards or out of Ended is not.
func (s State) CanAdvance(next State) bool {
	a, ok := stateRank[s]
	if !ok {
		return false
	}
	b, ok := stateRank[next]
	if !ok {
		return false
	}
	if s == StateEnded {
		return next == StateEnded
	}
	return b >= a
}

// Advance validates and applies a transition.
func (s *Session) Advance(next State) error {
	if !s.State.CanAdvance(next) {
		return fmt.Errorf("session: illegal transition %s -> %s", s.State, next)
	}
	s.State = next
	return nil
}

// Session is one outbound call attempt and its conference bridge.
//
// ConferenceName doubles as the authorization secret for monitor legs:
// it is generated from crypto-grade randomness at call creation and is
// never derived from user input.
type Session struct {
	CallControlID string `json:"call_control_id"`
	CallLegID     string `json:"call_leg_id"`
	CallSessionID string `json:"call_session_id"`

	UserID     string `json:"user_id"`
	ScenarioID int64  `json:"scenario_id"`

	ToNumber   string `json:"to_number"`
	FromNumber string `json:"from_number"`

	ConferenceName string `json:"conference_name"`

	State State `json:"state"`

	CreatedAt time.Time `json:"created_at"`

	// VoiceLineAudios maps voice line id to its preloaded audio record.
	// May be empty until preload completes. Bulk fields (raw bytes, frames)
	// are stripped before persistence unless the codec says otherwise.
	VoiceLineAudios map[int64]audio.PreloadedAudio `json:"voice_line_audios,omitempty"`
}
