package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"callbridge/internal/calllog"
	"callbridge/internal/session"
)

type fakeCallControl struct {
	mu      sync.Mutex
	answers []string
	joins   []joinCall
	forks   []string
}

type joinCall struct {
	ccid, conference string
	mute             bool
}

func (f *fakeCallControl) AnswerWithRetry(_ context.Context, ccid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, ccid)
	return nil
}

func (f *fakeCallControl) JoinConferenceByName(_ context.Context, ccid, conference string, mute bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, joinCall{ccid: ccid, conference: conference, mute: mute})
	return nil
}

func (f *fakeCallControl) StartMediaFork(_ context.Context, ccid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forks = append(f.forks, ccid)
	return nil
}

func newTestRouter(t *testing.T) (*Router, *fakeCallControl, *session.MemoryStore, *calllog.MemoryRepo) {
	t.Helper()
	cc := &fakeCallControl{}
	store := session.NewMemoryStore()
	repo := calllog.NewMemoryRepo()
	r := NewRouter(cc, store, calllog.NewService(repo), time.Hour, nil)
	return r, cc, store, repo
}

func putSession(t *testing.T, store *session.MemoryStore, ccid, conference string) {
	t.Helper()
	err := store.Put(context.Background(), session.Session{
		CallControlID:  ccid,
		UserID:         "u1",
		ScenarioID:     1,
		ConferenceName: conference,
		State:          session.StateInitiated,
	}, time.Hour)
	if err != nil {
		t.Fatalf("put session: %v", err)
	}
}

func TestOutboundAnsweredForksExactlyOnce(t *testing.T) {
	r, cc, store, _ := newTestRouter(t)
	ctx := context.Background()
	putSession(t, store, "cc-out", "conf-1")

	// call.initiated for our own outbound leg: no action.
	if err := r.HandleEvent(ctx, Event{
		EventType: EventCallInitiated,
		Payload:   Payload{CallControlID: "cc-out", Direction: DirectionOutgoing},
	}); err != nil {
		t.Fatalf("initiated: %v", err)
	}
	if len(cc.answers) != 0 || len(cc.joins) != 0 || len(cc.forks) != 0 {
		t.Fatalf("outbound initiated must be a no-op, got %+v", cc)
	}

	answered := Event{
		EventType: EventCallAnswered,
		Payload:   Payload{CallControlID: "cc-out", Direction: DirectionOutgoing},
	}
	if err := r.HandleEvent(ctx, answered); err != nil {
		t.Fatalf("answered: %v", err)
	}
	// Duplicate delivery must not fork again.
	if err := r.HandleEvent(ctx, answered); err != nil {
		t.Fatalf("answered replay: %v", err)
	}

	if len(cc.forks) != 1 || cc.forks[0] != "cc-out" {
		t.Fatalf("expected exactly one media fork, got %v", cc.forks)
	}
	if len(cc.joins) != 0 {
		t.Fatalf("outbound leg must not be joined explicitly, got %v", cc.joins)
	}

	sess, err := store.Get(ctx, "cc-out")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.State != session.StateStreaming {
		t.Fatalf("expected streaming state, got %s", sess.State)
	}
}

func TestInboundMonitorLegJoinsViaHeader(t *testing.T) {
	r, cc, store, _ := newTestRouter(t)
	ctx := context.Background()

	ev := Event{
		EventType: EventCallInitiated,
		Payload: Payload{
			CallControlID: "cc-mon",
			Direction:     DirectionIncoming,
			CustomHeaders: []CustomHeader{{Name: "X-Conference-Name", Value: "abc123"}},
		},
	}
	if err := r.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(cc.answers) != 1 || cc.answers[0] != "cc-mon" {
		t.Fatalf("expected one answer for cc-mon, got %v", cc.answers)
	}
	if len(cc.joins) != 1 || cc.joins[0] != (joinCall{ccid: "cc-mon", conference: "abc123", mute: true}) {
		t.Fatalf("expected one muted join into abc123, got %v", cc.joins)
	}

	legs, err := store.LegsByConference(ctx, "abc123")
	if err != nil || len(legs) != 1 || legs[0] != "cc-mon" {
		t.Fatalf("expected membership for cc-mon, got %v (%v)", legs, err)
	}
}

func TestInboundLegWithoutTargetIsDropped(t *testing.T) {
	r, cc, _, _ := newTestRouter(t)

	err := r.HandleEvent(context.Background(), Event{
		EventType: EventCallInitiated,
		Payload:   Payload{CallControlID: "cc-x", Direction: DirectionIncoming},
	})
	if err != nil {
		t.Fatalf("expected drop without error, got %v", err)
	}
	if len(cc.answers) != 0 || len(cc.joins) != 0 {
		t.Fatal("unroutable leg must not be answered or joined")
	}
}

func TestAnsweredJoinsPendingClientStateConference(t *testing.T) {
	r, cc, store, _ := newTestRouter(t)
	ctx := context.Background()

	state := EncodeClientState(ClientState{ConferenceName: "conf-cs"})
	ev := Event{
		EventType: EventCallAnswered,
		Payload:   Payload{CallControlID: "cc-mon", Direction: DirectionIncoming, ClientState: state},
	}
	if err := r.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("answered: %v", err)
	}
	if len(cc.joins) != 1 || cc.joins[0].conference != "conf-cs" || !cc.joins[0].mute {
		t.Fatalf("expected muted join into conf-cs, got %v", cc.joins)
	}

	// Replay: already a member, no second join.
	if err := r.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("answered replay: %v", err)
	}
	if len(cc.joins) != 1 {
		t.Fatalf("duplicate answered must not re-join, got %v", cc.joins)
	}

	legs, _ := store.LegsByConference(ctx, "conf-cs")
	if len(legs) != 1 {
		t.Fatalf("expected one member, got %v", legs)
	}
}

func TestHangupIsIdempotent(t *testing.T) {
	r, _, store, _ := newTestRouter(t)
	ctx := context.Background()
	putSession(t, store, "cc-out", "conf-1")

	hangup := Event{
		EventType: EventCallHangup,
		Payload:   Payload{CallControlID: "cc-out"},
	}
	if err := r.HandleEvent(ctx, hangup); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if err := r.HandleEvent(ctx, hangup); err != nil {
		t.Fatalf("hangup replay: %v", err)
	}

	if _, err := store.Get(ctx, "cc-out"); err != session.ErrNotFound {
		t.Fatalf("expected session removed, got %v", err)
	}
	legs, _ := store.LegsByConference(ctx, "conf-1")
	if len(legs) != 0 {
		t.Fatalf("expected empty membership, got %v", legs)
	}
}

func TestHangupReleasesQuotaOnce(t *testing.T) {
	r, _, store, _ := newTestRouter(t)
	ctx := context.Background()
	putSession(t, store, "cc-out", "conf-1")

	var released []string
	r.SetReleaseHook(func(_ context.Context, userID string) { released = append(released, userID) })

	hangup := Event{EventType: EventCallHangup, Payload: Payload{CallControlID: "cc-out"}}
	if err := r.HandleEvent(ctx, hangup); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if err := r.HandleEvent(ctx, hangup); err != nil {
		t.Fatalf("hangup replay: %v", err)
	}
	if len(released) != 1 || released[0] != "u1" {
		t.Fatalf("expected one release for u1, got %v", released)
	}
}

func TestEventsAreRecorded(t *testing.T) {
	r, _, store, repo := newTestRouter(t)
	putSession(t, store, "cc-out", "conf-1")

	_ = r.HandleEvent(context.Background(), Event{
		EventType: EventCallAnswered,
		Payload:   Payload{CallControlID: "cc-out", Direction: DirectionOutgoing, From: "+1555", To: "+1666"},
	})

	events := repo.Events()
	if len(events) != 1 || events[0].Type != EventCallAnswered {
		t.Fatalf("expected recorded answered event, got %v", events)
	}
}

func TestClientStateRoundTrip(t *testing.T) {
	token := EncodeClientState(ClientState{ConferenceName: "conf-9"})
	cs, err := DecodeClientState(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cs.ConferenceName != "conf-9" {
		t.Fatalf("round trip lost conference name: %+v", cs)
	}
	if _, err := DecodeClientState("!!!"); err == nil {
		t.Fatal("expected error for invalid token")
	}
}
