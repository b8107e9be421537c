package calls

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callbridge/internal/blocklist"
	"callbridge/internal/callcontrol"
	"callbridge/internal/calllog"
	"callbridge/internal/preload"
	"callbridge/internal/session"
)

var (
	ErrInvalidNumber = errors.New("calls: destination number is required")
	ErrNumberBlocked = errors.New("calls: destination number is blocked")
	ErrTooManyCalls  = errors.New("calls: concurrent call limit reached")
	ErrNotFound      = errors.New("calls: no live session for conference")
	ErrUnauthorized  = errors.New("calls: conference does not belong to caller")
)

// CallControl is the provider surface the orchestrator drives.
type CallControl interface {
	InitiateCall(ctx context.Context, toNumber string) (callcontrol.CallHandle, error)
	Hangup(ctx context.Context, callControlID string) error
	GetOrCreateOnDemandCredential(ctx context.Context, userID string) (string, error)
	MintRealtimeToken(ctx context.Context, credentialID string) (string, error)
}

// Preloader warms the scenario's audio before the dial goes out.
type Preloader interface {
	Preload(ctx context.Context, userID string, scenarioID int64, preferredVoiceID string) (preload.Stats, error)
}

// Stopper cuts any in-flight playback when a conference is torn down.
type Stopper interface {
	StopConference(conferenceName string) bool
}

type InitiateRequest struct {
	UserID           string
	ScenarioID       int64
	ToNumber         string
	PreferredVoiceID string
}

type InitiateResult struct {
	CallControlID  string        `json:"call_control_id"`
	CallSessionID  string        `json:"call_session_id"`
	ConferenceName string        `json:"conference_name"`
	Preload        preload.Stats `json:"preload"`
}

// Service orchestrates outbound calls end to end: screening, quota, audio
// warmup, the provider dial, and the session record the webhook router will
// advance. Teardown mirrors it in reverse.
type Service struct {
	cc        CallControl
	sessions  session.Store
	preloader Preloader
	screen    blocklist.Checker
	quota     Quota
	streams   Stopper
	events    *calllog.Service

	sessionTTL time.Duration
	clock      func() time.Time
	log        *slog.Logger
}

func NewService(cc CallControl, sessions session.Store, preloader Preloader, screen blocklist.Checker,
	quota Quota, streams Stopper, events *calllog.Service, sessionTTL time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if sessionTTL <= 0 {
		sessionTTL = 2 * time.Hour
	}
	return &Service{
		cc:         cc,
		sessions:   sessions,
		preloader:  preloader,
		screen:     screen,
		quota:      quota,
		streams:    streams,
		events:     events,
		sessionTTL: sessionTTL,
		clock:      time.Now,
		log:        log,
	}
}

// Initiate dials the destination and registers the session the webhook
// lifecycle will drive. Audio preload happens before the dial: a callee that
// answers must never wait on a download.
//
// A quota slot is held from before the dial until teardown; every failure
// path in between gives it back.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	if req.ToNumber == "" {
		return InitiateResult{}, ErrInvalidNumber
	}

	blocked, err := s.screen.IsBlocked(ctx, req.ToNumber)
	if err != nil {
		return InitiateResult{}, err
	}
	if blocked {
		return InitiateResult{}, ErrNumberBlocked
	}

	ok, err := s.quota.Acquire(ctx, req.UserID)
	if err != nil {
		return InitiateResult{}, err
	}
	if !ok {
		return InitiateResult{}, ErrTooManyCalls
	}
	release := func() {
		if err := s.quota.Release(ctx, req.UserID); err != nil {
			s.log.Warn("quota release failed", "user_id", req.UserID, "err", err)
		}
	}

	stats, err := s.preloader.Preload(ctx, req.UserID, req.ScenarioID, req.PreferredVoiceID)
	if err != nil {
		release()
		return InitiateResult{}, err
	}

	handle, err := s.cc.InitiateCall(ctx, req.ToNumber)
	if err != nil {
		release()
		return InitiateResult{}, err
	}

	sess := session.Session{
		CallControlID:  handle.CallControlID,
		CallLegID:      handle.CallLegID,
		CallSessionID:  handle.CallSessionID,
		UserID:         req.UserID,
		ScenarioID:     req.ScenarioID,
		ToNumber:       req.ToNumber,
		ConferenceName: handle.ConferenceName,
		State:          session.StateInitiated,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.sessions.Put(ctx, sess, s.sessionTTL); err != nil {
		// The leg exists at the provider but nothing can route its webhooks.
		// Kill it rather than leave a zombie call ringing.
		if herr := s.cc.Hangup(ctx, handle.CallControlID); herr != nil {
			s.log.Error("orphaned leg hangup failed", "call_control_id", handle.CallControlID, "err", herr)
		}
		release()
		return InitiateResult{}, err
	}

	s.record(ctx, calllog.Event{
		CallControlID:  handle.CallControlID,
		ConferenceName: handle.ConferenceName,
		Type:           "call.requested",
		To:             req.ToNumber,
		UserID:         req.UserID,
	})
	return InitiateResult{
		CallControlID:  handle.CallControlID,
		CallSessionID:  handle.CallSessionID,
		ConferenceName: handle.ConferenceName,
		Preload:        stats,
	}, nil
}

// HangupConference tears the whole conference down: playback first, then
// every leg, then the session records. Per-leg provider failures are logged
// and skipped so one stuck leg cannot strand the rest.
func (s *Service) HangupConference(ctx context.Context, userID, conferenceName string) error {
	sess, err := s.sessions.GetByConference(ctx, conferenceName)
	if errors.Is(err, session.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if sess.UserID != userID {
		return ErrUnauthorized
	}

	s.streams.StopConference(conferenceName)

	legs, err := s.sessions.LegsByConference(ctx, conferenceName)
	if err != nil {
		return err
	}
	for _, leg := range legs {
		if err := s.cc.Hangup(ctx, leg); err != nil {
			s.log.Warn("leg hangup failed", "call_control_id", leg, "err", err)
		}
		if err := s.sessions.Remove(ctx, leg); err != nil {
			s.log.Warn("session removal failed", "call_control_id", leg, "err", err)
		}
	}

	if err := s.quota.Release(ctx, userID); err != nil {
		s.log.Warn("quota release failed", "user_id", userID, "err", err)
	}
	s.record(ctx, calllog.Event{
		CallControlID:  sess.CallControlID,
		ConferenceName: conferenceName,
		Type:           "call.hangup.requested",
		UserID:         userID,
	})
	return nil
}

// RealtimeToken mints short-lived WebRTC credentials for the user's monitor
// client.
func (s *Service) RealtimeToken(ctx context.Context, userID string) (string, error) {
	credentialID, err := s.cc.GetOrCreateOnDemandCredential(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.cc.MintRealtimeToken(ctx, credentialID)
}

func (s *Service) record(ctx context.Context, ev calllog.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Record(ctx, ev); err != nil {
		s.log.Warn("call event log append failed", "type", ev.Type, "err", err)
	}
}
