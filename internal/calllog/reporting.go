package calllog

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidRequest = errors.New("calllog: invalid request")

const defaultHistoryLimit = 100

type HistoryRequest struct {
	UserID string
	From   time.Time
	To     time.Time
	Limit  int
}

func (r HistoryRequest) validate() error {
	if r.UserID == "" {
		return ErrInvalidRequest
	}
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return ErrInvalidRequest
	}
	return nil
}

// Summary aggregates a user's call activity over a time range.
type Summary struct {
	UserID string `json:"user_id"`

	TotalRequested int `json:"total_requested"`
	Answered       int `json:"answered"`
	Ended          int `json:"ended"`
	MonitorLegs    int `json:"monitor_legs"`
}

// History returns the user's call events within the range, newest first.
func (s *Service) History(ctx context.Context, req HistoryRequest) ([]Event, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if s.repo == nil {
		return nil, errors.New("calllog: repository not configured")
	}
	limit := req.Limit
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}
	return s.repo.ListByUser(ctx, req.UserID, req.From, req.To, limit)
}

// UserSummary rolls the range up into per-outcome counters.
func (s *Service) UserSummary(ctx context.Context, req HistoryRequest) (Summary, error) {
	if err := req.validate(); err != nil {
		return Summary{}, err
	}
	if s.repo == nil {
		return Summary{}, errors.New("calllog: repository not configured")
	}

	rows, err := s.repo.ListByUser(ctx, req.UserID, req.From, req.To, 0)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{UserID: req.UserID}
	// One monitor leg emits several incoming events over its lifetime, so
	// count distinct legs rather than rows.
	monitorLegs := make(map[string]struct{})
	for _, e := range rows {
		switch e.Type {
		case "call.requested":
			out.TotalRequested++
		case "call.answered":
			out.Answered++
		case "call.hangup", "call.ended":
			out.Ended++
		}
		if e.Direction == "incoming" && e.CallControlID != "" {
			monitorLegs[e.CallControlID] = struct{}{}
		}
	}
	out.MonitorLegs = len(monitorLegs)
	return out, nil
}
