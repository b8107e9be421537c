package stream

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"

	"callbridge/internal/audio"
	"callbridge/internal/session"
)

var (
	ErrNotFound     = errors.New("stream: no live session for conference")
	ErrUnauthorized = errors.New("stream: conference does not belong to caller")
)

// AudioSource resolves wire-ready frame sets for a voice line. Satisfied by
// the preload service; the second method is the slow path for lines that were
// skipped during preload or already evicted.
type AudioSource interface {
	Preloaded(userID string, scenarioID int64) (map[int64]audio.PreloadedAudio, bool)
	OnDemand(ctx context.Context, userID string, scenarioID, voiceLineID int64) (audio.PreloadedAudio, error)
}

// mediaMessage is the frame envelope written into media fork sockets.
type mediaMessage struct {
	Event string       `json:"event"`
	Media mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type playback struct {
	voiceLineID int64
	cancel      context.CancelFunc
	done        chan struct{}
}

// Streamer pushes voice line frames into the live media sockets of a
// conference, paced against a fixed anchor so jitter in individual writes
// never accumulates into drift.
//
// At most one playback runs per conference. Starting a new one preempts the
// previous line mid-air, matching how an operator would talk over themselves.
type Streamer struct {
	sessions session.Store
	sockets  *session.SocketRegistry
	source   AudioSource

	mu     sync.Mutex
	active map[string]*playback

	clock func() time.Time
	log   *slog.Logger
}

func NewStreamer(sessions session.Store, sockets *session.SocketRegistry, source AudioSource, log *slog.Logger) *Streamer {
	if log == nil {
		log = slog.Default()
	}
	return &Streamer{
		sessions: sessions,
		sockets:  sockets,
		source:   source,
		active:   make(map[string]*playback),
		clock:    time.Now,
		log:      log,
	}
}

// Play starts streaming the voice line into the conference and returns its
// airtime. The caller must own the conference's session; lookup failure is
// treated as unauthorized territory, not as a retryable miss.
//
// Playback outlives the request context: it is tied to the conference, and
// only Stop, preemption, or frame exhaustion ends it.
func (s *Streamer) Play(ctx context.Context, userID, conferenceName string, voiceLineID int64) (time.Duration, error) {
	sess, err := s.authorize(ctx, userID, conferenceName)
	if err != nil {
		return 0, err
	}

	rec, ok := s.cachedLine(userID, sess.ScenarioID, voiceLineID)
	if !ok {
		rec, err = s.source.OnDemand(ctx, userID, sess.ScenarioID, voiceLineID)
		if err != nil {
			return 0, err
		}
	}

	pb := &playback{voiceLineID: voiceLineID, done: make(chan struct{})}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	pb.cancel = cancel

	s.mu.Lock()
	prev := s.active[conferenceName]
	if prev != nil {
		prev.cancel()
	}
	s.active[conferenceName] = pb
	s.mu.Unlock()
	if prev != nil {
		// Let the preempted run drain so frames never interleave.
		<-prev.done
	}

	go s.run(runCtx, pb, conferenceName, rec)
	return rec.Duration(), nil
}

// Stop cancels the conference's active playback. It reports whether anything
// was actually playing.
func (s *Streamer) Stop(ctx context.Context, userID, conferenceName string) (bool, error) {
	if _, err := s.authorize(ctx, userID, conferenceName); err != nil {
		return false, err
	}
	return s.stop(conferenceName), nil
}

// StopConference cancels playback without an ownership check. This is the
// teardown path for hangups, where the session may already be gone.
func (s *Streamer) StopConference(conferenceName string) bool {
	return s.stop(conferenceName)
}

// Playing reports the voice line currently on air for the conference.
func (s *Streamer) Playing(conferenceName string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pb := s.active[conferenceName]
	if pb == nil {
		return 0, false
	}
	return pb.voiceLineID, true
}

func (s *Streamer) authorize(ctx context.Context, userID, conferenceName string) (session.Session, error) {
	sess, err := s.sessions.GetByConference(ctx, conferenceName)
	if errors.Is(err, session.ErrNotFound) {
		return session.Session{}, ErrNotFound
	}
	if err != nil {
		return session.Session{}, err
	}
	if sess.UserID != userID {
		return session.Session{}, ErrUnauthorized
	}
	return sess, nil
}

func (s *Streamer) cachedLine(userID string, scenarioID, voiceLineID int64) (audio.PreloadedAudio, bool) {
	audios, ok := s.source.Preloaded(userID, scenarioID)
	if !ok {
		return audio.PreloadedAudio{}, false
	}
	rec, ok := audios[voiceLineID]
	if !ok || len(rec.Frames) == 0 {
		return audio.PreloadedAudio{}, false
	}
	return rec, true
}

func (s *Streamer) stop(conferenceName string) bool {
	s.mu.Lock()
	pb := s.active[conferenceName]
	s.mu.Unlock()
	if pb == nil {
		return false
	}
	pb.cancel()
	<-pb.done
	return true
}

func (s *Streamer) run(ctx context.Context, pb *playback, conferenceName string, rec audio.PreloadedAudio) {
	defer close(pb.done)
	defer func() {
		s.mu.Lock()
		if s.active[conferenceName] == pb {
			delete(s.active, conferenceName)
		}
		s.mu.Unlock()
	}()

	anchor := s.clock()
	for i, frame := range rec.Frames {
		// Deadlines derive from the anchor, not from the previous send, so a
		// slow write delays one frame and the schedule recovers on the next.
		if !s.waitUntil(ctx, anchor.Add(time.Duration(i)*rec.FrameDuration)) {
			return
		}
		s.broadcast(ctx, conferenceName, frame)
	}
	// Hold the last frame's airtime so a follow-up line cannot clip it.
	s.waitUntil(ctx, anchor.Add(time.Duration(len(rec.Frames))*rec.FrameDuration))
}

func (s *Streamer) waitUntil(ctx context.Context, deadline time.Time) bool {
	d := deadline.Sub(s.clock())
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Streamer) broadcast(ctx context.Context, conferenceName string, frame []byte) {
	legs, err := s.sessions.LegsByConference(ctx, conferenceName)
	if err != nil {
		s.log.Warn("conference membership lookup failed", "conference", conferenceName, "err", err)
		return
	}
	conns := s.sockets.Conns(legs...)
	if len(conns) == 0 {
		return
	}

	msg := mediaMessage{
		Event: "media",
		Media: mediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}
	for _, conn := range conns {
		if err := conn.WriteJSON(msg); err != nil {
			// The socket's read loop owns teardown; a failed write here just
			// means that teardown is already underway.
			s.log.Debug("media frame write failed", "conference", conferenceName, "err", err)
		}
	}
}
