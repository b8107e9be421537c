package calllog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call events.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error

	// ListByUser returns the user's events within [from, to), newest first.
	// A limit of 0 means no limit.
	ListByUser(ctx context.Context, userID string, from, to time.Time, limit int) ([]Event, error)
}

var ErrInvalidEvent = errors.New("calllog: invalid event")

// Service records call lifecycle events for later analytics.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Record(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("calllog: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}
