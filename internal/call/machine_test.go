package call

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Voicecall/internal/core"
	"github.com/dkeye/Voicecall/internal/domain"
)

// ringing drives a callee rig into the incoming state.
func ringing(t *testing.T, r *rig, kind domain.MediaKind) {
	t.Helper()
	r.m.HandleEvent(core.Event{Type: core.EventCallIncoming, From: from(alice), Kind: kind})
	if s := r.m.Snapshot(); s.Status != StatusIncoming || s.Remote.ID != alice.ID || s.HasMedia {
		t.Fatalf("not ringing: %+v", s)
	}
}

// ongoingCaller drives a caller rig through start and accepted.
func ongoingCaller(t *testing.T, r *rig) {
	t.Helper()
	if err := r.m.StartCall(context.Background(), bob, domain.MediaAudio); err != nil {
		t.Fatal(err)
	}
	r.m.HandleEvent(core.Event{Type: core.EventCallAccepted, From: from(bob)})
	if s := r.m.Snapshot(); s.Status != StatusOngoing || !s.HasPeer {
		t.Fatalf("not ongoing: %+v", s)
	}
}

func TestStartCallEmitsStart(t *testing.T) {
	r := newRig(alice)
	if err := r.m.StartCall(context.Background(), bob, domain.MediaVideo); err != nil {
		t.Fatal(err)
	}
	s := r.m.Snapshot()
	if s.Status != StatusCalling || s.Remote.ID != bob.ID || s.Kind != domain.MediaVideo || !s.HasMedia {
		t.Fatalf("snapshot = %+v", s)
	}
	starts := r.sig.ofType(core.EventCallStart)
	if len(starts) != 1 || starts[0].To != bob.ID || starts[0].Kind != domain.MediaVideo {
		t.Fatalf("starts = %+v", starts)
	}
	if err := r.m.StartCall(context.Background(), carol, domain.MediaAudio); !errors.Is(err, ErrBusy) {
		t.Fatalf("second start err = %v", err)
	}
	if err := r.m.StartCall(context.Background(), alice, domain.MediaAudio); !errors.Is(err, ErrSelfCall) {
		t.Fatalf("self call err = %v", err)
	}
}

func TestCallerNegotiation(t *testing.T) {
	r := newRig(alice)
	ongoingCaller(t, r)

	offers := r.sig.ofType(core.EventCallOffer)
	if len(offers) != 1 || offers[0].Reconnect || offers[0].SDP.SDP != "offer-a0" {
		t.Fatalf("offers = %+v", offers)
	}
	p := r.peers.peer(0)
	if p.relayOnly || p.media == nil {
		t.Fatal("first session must be unrestricted with media attached")
	}
	if r.clock.armed() == nil {
		t.Fatal("recovery timer must be armed on entering ongoing")
	}

	r.m.HandleEvent(core.Event{Type: core.EventCallAnswer, From: from(bob), SDP: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-b0"}})
	if p.remoteSDP() != "answer-b0" {
		t.Fatal("answer not applied")
	}

	r.m.HandleEvent(core.Event{Type: core.EventICECandidate, From: from(bob), Candidate: &webrtc.ICECandidateInit{Candidate: "c1"}})
	if len(p.cands) != 1 {
		t.Fatal("candidate not applied")
	}

	p.h.OnICECandidate(webrtc.ICECandidateInit{Candidate: "local"})
	if ice := r.sig.ofType(core.EventICECandidate); len(ice) != 1 || ice[0].To != bob.ID {
		t.Fatalf("local candidate not trickled: %+v", ice)
	}

	p.setState(webrtc.PeerConnectionStateConnected)
	if r.clock.armed() != nil {
		t.Fatal("connected must clear the recovery timer")
	}
}

func TestCalleeNegotiation(t *testing.T) {
	r := newRig(bob)
	ringing(t, r, domain.MediaVideo)

	r.m.HandleEvent(core.Event{Type: core.EventICECandidate, From: from(alice), Candidate: &webrtc.ICECandidateInit{Candidate: "early"}})
	if r.peers.count() != 0 {
		t.Fatal("candidate before a session must be dropped")
	}

	if err := r.m.AcceptCall(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s := r.m.Snapshot(); s.Status != StatusOngoing || !s.HasMedia || s.HasPeer {
		t.Fatalf("after accept: %+v", s)
	}
	if acc := r.sig.ofType(core.EventCallAccept); len(acc) != 1 || acc[0].To != alice.ID {
		t.Fatalf("accept = %+v", acc)
	}

	r.m.HandleEvent(core.Event{Type: core.EventCallOffer, From: from(alice), SDP: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-a0"}})
	p := r.peers.peer(0)
	if p.remoteSDP() != "offer-a0" {
		t.Fatal("offer not applied")
	}
	answers := r.sig.ofType(core.EventCallAnswer)
	if len(answers) != 1 || answers[0].SDP.SDP != "answer-b0" || answers[0].Reconnect {
		t.Fatalf("answers = %+v", answers)
	}
}

func TestRejectCall(t *testing.T) {
	r := newRig(bob)
	if err := r.m.RejectCall(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("reject while idle err = %v", err)
	}
	ringing(t, r, domain.MediaAudio)
	if err := r.m.RejectCall(); err != nil {
		t.Fatal(err)
	}
	assertIdle(t, r.m)
	if rej := r.sig.ofType(core.EventCallReject); len(rej) != 1 || rej[0].To != alice.ID {
		t.Fatalf("reject = %+v", rej)
	}
}

func TestCallerSeesRejection(t *testing.T) {
	r := newRig(alice)
	if err := r.m.StartCall(context.Background(), bob, domain.MediaAudio); err != nil {
		t.Fatal(err)
	}
	media := r.media.last()
	r.m.HandleEvent(core.Event{Type: core.EventCallRejected, From: from(bob)})
	assertIdle(t, r.m)
	if media.stopCount() != 1 {
		t.Fatal("media must be released on rejection")
	}
	if errs := r.errors.all(); len(errs) != 1 || !errors.Is(errs[0], ErrCallRejected) {
		t.Fatalf("errors = %v", errs)
	}
}

func TestRelayErrorResetsToIdle(t *testing.T) {
	r := newRig(alice)
	if err := r.m.StartCall(context.Background(), bob, domain.MediaAudio); err != nil {
		t.Fatal(err)
	}
	r.m.HandleEvent(core.Event{Type: core.EventCallError, Code: core.CodeUserUnavailable, Message: "user is not available"})
	assertIdle(t, r.m)
	var re *RelayError
	if errs := r.errors.all(); len(errs) != 1 || !errors.As(errs[0], &re) || re.Code != core.CodeUserUnavailable {
		t.Fatalf("errors = %v", errs)
	}
}

func TestEndCallIsIdempotent(t *testing.T) {
	states := map[string]func(t *testing.T, r *rig){
		"idle": func(*testing.T, *rig) {},
		"calling": func(t *testing.T, r *rig) {
			if err := r.m.StartCall(context.Background(), bob, domain.MediaAudio); err != nil {
				t.Fatal(err)
			}
		},
		"incoming": func(t *testing.T, r *rig) { ringing(t, r, domain.MediaAudio) },
		"ongoing":  ongoingCaller,
	}
	for name, setup := range states {
		t.Run(name, func(t *testing.T) {
			r := newRig(alice)
			if name == "incoming" {
				r = newRig(bob)
			}
			setup(t, r)
			media := r.media.last()
			r.m.EndCall()
			assertIdle(t, r.m)
			r.m.EndCall()
			assertIdle(t, r.m)
			if media != nil && media.stopCount() != 1 {
				t.Fatalf("media stopped %d times", media.stopCount())
			}
			if r.peers.count() > 0 && !r.peers.peer(0).isClosed() {
				t.Fatal("peer session left open")
			}
			wantEnds := 1
			if name == "idle" {
				wantEnds = 0
			}
			if got := len(r.sig.ofType(core.EventCallEnd)); got != wantEnds {
				t.Fatalf("end sent %d times, want %d", got, wantEnds)
			}
		})
	}
}

func TestBusyAutoRejects(t *testing.T) {
	r := newRig(alice)
	ongoingCaller(t, r)
	r.m.HandleEvent(core.Event{Type: core.EventCallIncoming, From: from(carol), Kind: domain.MediaAudio})

	s := r.m.Snapshot()
	if s.Status != StatusOngoing || s.Remote.ID != bob.ID {
		t.Fatalf("current call disturbed: %+v", s)
	}
	rej := r.sig.ofType(core.EventCallReject)
	if len(rej) != 1 || rej[0].To != carol.ID {
		t.Fatalf("reject = %+v", rej)
	}
}

func TestStaleEventsIgnored(t *testing.T) {
	r := newRig(alice)
	sdp := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}
	r.m.HandleEvent(core.Event{Type: core.EventCallAccepted, From: from(bob)})
	r.m.HandleEvent(core.Event{Type: core.EventCallOffer, From: from(bob), SDP: sdp})
	r.m.HandleEvent(core.Event{Type: core.EventCallAnswer, From: from(bob), SDP: sdp})
	r.m.HandleEvent(core.Event{Type: core.EventCallEnded, From: from(bob)})
	r.m.HandleEvent(core.Event{Type: core.EventCallError, Code: core.CodeCallerUnavailable})
	r.m.HandleEvent(core.Event{Type: "call:bogus"})
	assertIdle(t, r.m)
	if r.peers.count() != 0 || len(r.errors.all()) != 0 {
		t.Fatal("stale events must have no effect")
	}

	ongoingCaller(t, r)
	r.m.HandleEvent(core.Event{Type: core.EventCallEnded, From: from(carol)})
	r.m.HandleEvent(core.Event{Type: core.EventCallAccepted, From: from(bob)})
	if s := r.m.Snapshot(); s.Status != StatusOngoing || r.peers.count() != 1 {
		t.Fatalf("mismatched sender or state changed the call: %+v", s)
	}
}

func TestRemoteLeavingPresenceEndsCall(t *testing.T) {
	r := newRig(alice)
	ongoingCaller(t, r)
	r.m.HandleEvent(core.Event{Type: core.EventPresenceUpdate, Users: []domain.User{alice, bob}})
	if r.m.Snapshot().Status != StatusOngoing {
		t.Fatal("call must survive presence listing the remote")
	}
	r.m.HandleEvent(core.Event{Type: core.EventPresenceUpdate, Users: []domain.User{alice}})
	assertIdle(t, r.m)
	if errs := r.errors.all(); len(errs) != 1 || !errors.Is(errs[0], ErrRemoteGone) {
		t.Fatalf("errors = %v", errs)
	}
}

func TestObserversRunOutsideLock(t *testing.T) {
	r := newRig(alice)
	var seen []Status
	r.m.opts.OnChange = func(s Snapshot) {
		// Re-entering the machine would deadlock if the lock were held.
		seen = append(seen, r.m.Snapshot().Status)
	}
	ongoingCaller(t, r)
	r.m.EndCall()
	if len(seen) == 0 || seen[len(seen)-1] != StatusIdle {
		t.Fatalf("observer saw %v", seen)
	}
}

func TestStalePeerCallbacksIgnored(t *testing.T) {
	r := newRig(alice)
	ongoingCaller(t, r)
	old := r.peers.peer(0)
	r.m.EndCall()

	old.h.OnICECandidate(webrtc.ICECandidateInit{Candidate: "late"})
	old.setState(webrtc.PeerConnectionStateFailed)
	if len(r.sig.ofType(core.EventICECandidate)) != 0 {
		t.Fatal("callback from a closed session leaked a candidate")
	}
	assertIdle(t, r.m)
}

func TestSnapshotFromBeforeCallIgnored(t *testing.T) {
	r := newRig(alice)
	if err := r.m.StartCall(context.Background(), bob, domain.MediaAudio); err != nil {
		t.Fatal(err)
	}
	// Queued at connect time, before bob was known to be online.
	r.m.HandleEvent(core.Event{Type: core.EventPresenceUpdate, Users: []domain.User{alice}})
	if s := r.m.Snapshot(); s.Status != StatusCalling {
		t.Fatalf("status = %s, errors = %v", s.Status, r.errors.all())
	}

	r.m.HandleEvent(core.Event{Type: core.EventPresenceUpdate, Users: []domain.User{alice, bob}})
	r.m.HandleEvent(core.Event{Type: core.EventPresenceUpdate, Users: []domain.User{alice}})
	assertIdle(t, r.m)
	if errs := r.errors.all(); len(errs) != 1 || !errors.Is(errs[0], ErrRemoteGone) {
		t.Fatalf("errors = %v", errs)
	}
}

func TestRemoteKnownOnlineBeforeCallThenLeaves(t *testing.T) {
	r := newRig(alice)
	r.m.HandleEvent(core.Event{Type: core.EventPresenceUpdate, Users: []domain.User{alice, bob}})
	ongoingCaller(t, r)
	r.m.HandleEvent(core.Event{Type: core.EventPresenceUpdate, Users: []domain.User{alice}})
	assertIdle(t, r.m)
}

func TestRelayErrorForOtherTargetIgnored(t *testing.T) {
	r := newRig(alice)
	ongoingCaller(t, r)
	r.m.HandleEvent(core.Event{Type: core.EventCallError, To: carol.ID, Code: core.CodeUserUnavailable})
	if s := r.m.Snapshot(); s.Status != StatusOngoing || len(r.errors.all()) != 0 {
		t.Fatalf("error for an earlier call ended this one: %+v", s)
	}
	r.m.HandleEvent(core.Event{Type: core.EventCallError, To: bob.ID, Code: core.CodeRecipientUnavailable})
	assertIdle(t, r.m)
}
