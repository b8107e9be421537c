package calllog

import "time"

// Event is an immutable call lifecycle record.
//
// Invariants:
// - Events are never updated or deleted.
// - Appends are best-effort; call handling must not block on log failures.
//
// Storage recommendation (Postgres):
// - Table call_events with an INSERT-only policy.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	CallControlID  string `json:"call_control_id" db:"call_control_id"`
	ConferenceName string `json:"conference_name,omitempty" db:"conference_name"`

	// Type is the provider event type or an internal marker
	// (call.requested, call.hangup_requested).
	Type string `json:"type" db:"type"`

	Direction string `json:"direction,omitempty" db:"direction"`
	From      string `json:"from,omitempty" db:"from_number"`
	To        string `json:"to,omitempty" db:"to_number"`

	UserID string `json:"user_id,omitempty" db:"user_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
