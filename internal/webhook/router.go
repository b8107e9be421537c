package webhook

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"callbridge/internal/calllog"
	"callbridge/internal/session"
)

// CallControl is the subset of the call-control client the router drives.
type CallControl interface {
	AnswerWithRetry(ctx context.Context, callControlID string) error
	JoinConferenceByName(ctx context.Context, callControlID, conferenceName string, mute bool) error
	StartMediaFork(ctx context.Context, callControlID string) error
}

// Router consumes provider lifecycle events and advances call sessions.
//
// Every handler is idempotent: the provider delivers at-least-once and may
// reorder, so executing any transition twice must land in the same state.
type Router struct {
	cc         CallControl
	sessions   session.Store
	events     *calllog.Service
	sessionTTL time.Duration
	release    func(ctx context.Context, userID string)
	log        *slog.Logger
}

func NewRouter(cc CallControl, sessions session.Store, events *calllog.Service, sessionTTL time.Duration, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	if sessionTTL <= 0 {
		sessionTTL = 2 * time.Hour
	}
	return &Router{cc: cc, sessions: sessions, events: events, sessionTTL: sessionTTL, log: log}
}

// SetReleaseHook installs a callback fired once per session when the provider
// reports its leg hung up. The call orchestrator uses it to give the user's
// quota slot back on callee-side hangups.
func (r *Router) SetReleaseHook(fn func(ctx context.Context, userID string)) {
	r.release = fn
}

// HandleEvent dispatches one webhook event. Errors are for the caller's log
// only; the HTTP layer acknowledges 200 regardless.
func (r *Router) HandleEvent(ctx context.Context, ev Event) error {
	ccid := ev.Payload.CallControlID
	if ccid == "" {
		r.log.Warn("webhook event without call_control_id", "event_type", ev.EventType)
		return nil
	}
	r.record(ctx, ev)

	switch ev.EventType {
	case EventCallInitiated:
		return r.handleInitiated(ctx, ev)
	case EventCallAnswered:
		return r.handleAnswered(ctx, ev)
	case EventCallHangup, EventCallEnded:
		return r.handleHangup(ctx, ccid)
	default:
		r.log.Debug("ignoring webhook event", "event_type", ev.EventType, "call_control_id", ccid)
		return nil
	}
}

func (r *Router) handleInitiated(ctx context.Context, ev Event) error {
	ccid := ev.Payload.CallControlID
	switch ev.Payload.Direction {
	case DirectionOutgoing:
		// Our PSTN leg. Conference auto-join was embedded at creation, so
		// nothing to do until it is answered.
		return nil
	case DirectionIncoming:
		conferenceName := ev.Payload.ConferenceName()
		if conferenceName == "" {
			r.log.Warn("inbound leg without conference target, dropping", "call_control_id", ccid)
			return nil
		}
		return r.admitMonitorLeg(ctx, ccid, conferenceName)
	default:
		r.log.Warn("unknown leg direction", "direction", ev.Payload.Direction, "call_control_id", ccid)
		return nil
	}
}

// admitMonitorLeg answers a realtime monitor leg and bridges it, muted, into
// its target conference. Both provider calls tolerate "already done".
func (r *Router) admitMonitorLeg(ctx context.Context, ccid, conferenceName string) error {
	if err := r.cc.AnswerWithRetry(ctx, ccid); err != nil {
		return err
	}
	if err := r.cc.JoinConferenceByName(ctx, ccid, conferenceName, true); err != nil {
		return err
	}
	return r.sessions.AddLegToConference(ctx, conferenceName, ccid, r.sessionTTL)
}

func (r *Router) handleAnswered(ctx context.Context, ev Event) error {
	ccid := ev.Payload.CallControlID

	sess, err := r.sessions.Get(ctx, ccid)
	switch {
	case err == nil:
		// The outbound PSTN leg answered: the callee is live, open the media
		// fork so generated speech can reach the conversation. The state
		// guard keeps duplicate answered events from forking twice.
		if sess.State.CanAdvance(session.StateStreaming) && sess.State != session.StateStreaming {
			if err := r.cc.StartMediaFork(ctx, ccid); err != nil {
				return err
			}
			if err := sess.Advance(session.StateStreaming); err != nil {
				return err
			}
			return r.sessions.Put(ctx, sess, r.sessionTTL)
		}
		return nil
	case errors.Is(err, session.ErrNotFound):
		// Monitor legs on providers that only allow join post-answer carry
		// their target conference in client state.
		if cs, err := DecodeClientState(ev.Payload.ClientState); err == nil && cs.ConferenceName != "" {
			if joined, err := r.legInConference(ctx, cs.ConferenceName, ccid); err == nil && !joined {
				if err := r.cc.JoinConferenceByName(ctx, ccid, cs.ConferenceName, true); err != nil {
					return err
				}
				return r.sessions.AddLegToConference(ctx, cs.ConferenceName, ccid, r.sessionTTL)
			}
		}
		return nil
	default:
		return err
	}
}

func (r *Router) legInConference(ctx context.Context, conferenceName, ccid string) (bool, error) {
	legs, err := r.sessions.LegsByConference(ctx, conferenceName)
	if err != nil {
		return false, err
	}
	for _, leg := range legs {
		if leg == ccid {
			return true, nil
		}
	}
	return false, nil
}

// handleHangup removes the session and its membership. Removing an absent
// session is a no-op, which makes duplicate hangup delivery harmless.
func (r *Router) handleHangup(ctx context.Context, ccid string) error {
	if r.release != nil {
		// Only a still-present session frees a quota slot, so replayed
		// hangups cannot double-release.
		if sess, err := r.sessions.Get(ctx, ccid); err == nil {
			r.release(ctx, sess.UserID)
		}
	}
	return r.sessions.Remove(ctx, ccid)
}

// record appends a call event row, best-effort. Rows are attributed to the
// owning user when a session is still live for the leg or its conference.
func (r *Router) record(ctx context.Context, ev Event) {
	if r.events == nil {
		return
	}
	row := calllog.Event{
		CallControlID: ev.Payload.CallControlID,
		Type:          ev.EventType,
		Direction:     ev.Payload.Direction,
		From:          ev.Payload.From,
		To:            ev.Payload.To,
	}
	if sess, err := r.sessions.Get(ctx, ev.Payload.CallControlID); err == nil {
		row.UserID = sess.UserID
		row.ConferenceName = sess.ConferenceName
	} else if conf := ev.Payload.ConferenceName(); conf != "" {
		row.ConferenceName = conf
		if sess, err := r.sessions.GetByConference(ctx, conf); err == nil {
			row.UserID = sess.UserID
		}
	}
	if err := r.events.Record(ctx, row); err != nil {
		r.log.Warn("call event log append failed", "event_type", ev.EventType, "err", err)
	}
}
