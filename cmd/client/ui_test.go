package main

import (
	"strings"
	"testing"

	"github.com/dkeye/Voicecall/internal/call"
	"github.com/dkeye/Voicecall/internal/domain"
)

func TestOfferDropsOldest(t *testing.T) {
	ch := make(chan int, 2)
	for i := 1; i <= 4; i++ {
		offer(ch, i)
	}
	if a, b := <-ch, <-ch; a != 3 || b != 4 {
		t.Fatalf("kept %d, %d", a, b)
	}
}

func TestPresenceView(t *testing.T) {
	out := presenceView([]domain.User{{ID: "1", Username: "alice"}, {ID: "2", Username: "bob"}}, "2")
	if !strings.Contains(out, "alice") || !strings.Contains(out, "bob (you)") {
		t.Fatalf("view:\n%s", out)
	}
	if !strings.Contains(presenceView(nil, "1"), "Nobody") {
		t.Fatal("empty list not reported")
	}
}

func TestStatusLine(t *testing.T) {
	bob := &domain.User{ID: "2", Username: "bob"}
	cases := []struct {
		snap call.Snapshot
		want string
	}{
		{call.Snapshot{Status: call.StatusCalling, Remote: bob, Kind: domain.MediaVideo}, "Calling"},
		{call.Snapshot{Status: call.StatusIncoming, Remote: bob, Kind: domain.MediaAudio}, "Incoming audio call"},
		{call.Snapshot{Status: call.StatusOngoing, Remote: bob, RelayOnly: true}, "relayed"},
		{call.Snapshot{Status: call.StatusIdle}, "Call ended"},
	}
	for _, c := range cases {
		if got := statusLine(c.snap); !strings.Contains(got, c.want) {
			t.Errorf("%s: %q lacks %q", c.snap.Status, got, c.want)
		}
	}
}
