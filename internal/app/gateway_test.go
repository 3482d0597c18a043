package app

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/Voicecall/internal/core"
	"github.com/dkeye/Voicecall/internal/domain"
)

func newTestGateway() *Gateway {
	reg := NewRegistry()
	g := NewGateway(reg, NewRelay(reg, SimplePolicy{}, nil), SimplePolicy{})
	n := 0
	g.newID = func() core.ConnID {
		n++
		return core.ConnID(fmt.Sprintf("c%d", n))
	}
	return g
}

func lastPresence(t *testing.T, c *fakeConn) []string {
	t.Helper()
	evs := c.ofType(t, core.EventPresenceUpdate)
	if len(evs) == 0 {
		t.Fatal("no presence update received")
	}
	var ids []string
	for _, u := range evs[len(evs)-1].Users {
		ids = append(ids, string(u.ID))
	}
	return ids
}

func TestGatewayBroadcastsPresence(t *testing.T) {
	g := newTestGateway()
	a, b := &fakeConn{}, &fakeConn{}

	idA := g.Connect(user("a"), a)
	if got := lastPresence(t, a); len(got) != 1 || got[0] != "a" {
		t.Fatalf("a sees %v", got)
	}
	g.Connect(user("b"), b)
	if got := lastPresence(t, a); len(got) != 2 {
		t.Fatalf("a sees %v after b joined", got)
	}
	if got := lastPresence(t, b); len(got) != 2 {
		t.Fatalf("b sees %v", got)
	}

	g.Disconnect(idA)
	if got := lastPresence(t, b); len(got) != 1 || got[0] != "b" {
		t.Fatalf("b sees %v after a left", got)
	}
	before := len(b.events(t))
	g.Disconnect(idA)
	if len(b.events(t)) != before {
		t.Fatal("repeated disconnect must not broadcast")
	}
}

func TestGatewaySecondConnectionKeepsPresence(t *testing.T) {
	g := newTestGateway()
	a1, a2, b := &fakeConn{}, &fakeConn{}, &fakeConn{}
	id1 := g.Connect(user("a"), a1)
	g.Connect(user("a"), a2)
	g.Connect(user("b"), b)

	g.Disconnect(id1)
	if got := lastPresence(t, b); len(got) != 2 {
		t.Fatalf("a must stay present with one connection left, b sees %v", got)
	}
}

func TestGatewayHandle(t *testing.T) {
	g := newTestGateway()
	a, b := &fakeConn{}, &fakeConn{}
	idA := g.Connect(user("a"), a)
	g.Connect(user("b"), b)
	a.reset()
	b.reset()

	g.Handle(idA, []byte(`{"type":"ping"}`))
	if len(a.ofType(t, core.EventPong)) != 1 {
		t.Fatal("ping must be answered with pong")
	}

	g.Handle(idA, []byte(`{not json`))
	g.Handle(idA, []byte(`{"type":"call:start"}`))
	errs := a.ofType(t, core.EventCallError)
	if len(errs) != 2 || errs[0].Code != core.CodeInvalidEvent || errs[1].Code != core.CodeInvalidEvent {
		t.Fatalf("got %+v", errs)
	}

	g.Handle(idA, []byte(`{"type":"call:start","to":"b","kind":"video"}`))
	in := b.ofType(t, core.EventCallIncoming)
	if len(in) != 1 || in[0].From.ID != "a" || in[0].Kind != "video" {
		t.Fatalf("b got %+v", b.events(t))
	}

	g.Handle("unknown", []byte(`{"type":"ping"}`))
}

func TestGatewayKicksSlowConnectionOnBroadcast(t *testing.T) {
	g := newTestGateway()
	a := &fakeConn{}
	g.Connect(user("a"), a)
	a.full = true
	g.Connect(user("b"), &fakeConn{})
	if !a.isClosed() {
		t.Fatal("full connection must be closed by policy")
	}
}

func TestGatewayReconnectKeepsRateLimit(t *testing.T) {
	g := newTestGateway()
	now := time.Unix(1000, 0)
	g.Relay.Limiter = NewRateLimiter(1, time.Minute)
	g.Relay.Limiter.now = func() time.Time { return now }
	g.Connect(user("a"), &fakeConn{})

	b := &fakeConn{}
	idB := g.Connect(user("b"), b)
	g.Handle(idB, []byte(`{"type":"call:start","to":"a"}`))
	g.Disconnect(idB)

	b = &fakeConn{}
	idB = g.Connect(user("b"), b)
	g.Handle(idB, []byte(`{"type":"call:start","to":"a"}`))
	errs := b.ofType(t, core.EventCallError)
	if len(errs) != 1 || errs[0].Code != core.CodeRateLimited {
		t.Fatalf("reconnect must not reset the window, got %+v", b.events(t))
	}
}

type policyFunc func() BackpressureAction

func (f policyFunc) OnBackPressure(domain.User, core.ConnID) BackpressureAction { return f() }

func TestDeliverPolicyActions(t *testing.T) {
	for _, tc := range []struct {
		action BackpressureAction
		closed bool
	}{
		{NoAction, false},
		{DropFrame, false},
		{KickConn, true},
	} {
		c := &fakeConn{full: true}
		err := deliver(policyFunc(func() BackpressureAction { return tc.action }), ConnSnap{ID: "c1", User: user("a"), Conn: c}, core.Frame(`{}`))
		if !errors.Is(err, core.ErrBackpressure) {
			t.Fatalf("action %d: err = %v", tc.action, err)
		}
		if c.isClosed() != tc.closed {
			t.Fatalf("action %d: closed = %v", tc.action, c.isClosed())
		}
	}
}
