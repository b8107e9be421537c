package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session: not found")

// Store is the shared session registry. It must be visible across worker
// processes; everything process-local (sockets, playback tasks) stays out.
//
// Contract:
//   - Put upserts the session and registers its leg under the conference index.
//   - Remove also prunes the leg from the conference membership, deleting the
//     membership set entirely once it empties. Removing an absent session is
//     a no-op (hangup events are replayed).
//   - GetByConference returns the first live member session of the conference.
type Store interface {
	Put(ctx context.Context, s Session, ttl time.Duration) error
	Get(ctx context.Context, callControlID string) (Session, error)
	GetByConference(ctx context.Context, conferenceName string) (Session, error)
	Remove(ctx context.Context, callControlID string) error

	AddLegToConference(ctx context.Context, conferenceName, callControlID string, ttl time.Duration) error
	LegsByConference(ctx context.Context, conferenceName string) ([]string, error)
}
