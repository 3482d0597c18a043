package rtc

import (
	"errors"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Voicecall/internal/call"
)

func TestConfigurationRelayOnly(t *testing.T) {
	cfg := Config{
		STUNServers:  []string{"stun:stun.example.org:3478"},
		TURNServers:  []string{"turn:turn.example.org:3478"},
		TURNUsername: "u",
		TURNPassword: "p",
	}
	direct, err := cfg.Configuration(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(direct.ICEServers) != 2 || direct.ICETransportPolicy == webrtc.ICETransportPolicyRelay {
		t.Fatalf("direct = %+v", direct)
	}
	relay, err := cfg.Configuration(true)
	if err != nil {
		t.Fatal(err)
	}
	if relay.ICETransportPolicy != webrtc.ICETransportPolicyRelay {
		t.Fatal("relay-only policy not set")
	}
	if len(relay.ICEServers) != 1 || relay.ICEServers[0].Username != "u" {
		t.Fatalf("relay servers = %+v", relay.ICEServers)
	}

	if _, err := DefaultConfig().Configuration(true); !errors.Is(err, ErrNoTURN) {
		t.Fatalf("err = %v", err)
	}
}

func TestTrackStatsObserve(t *testing.T) {
	var s TrackStats
	for _, seq := range []uint16{65533, 65534, 1, 1, 0, 2} {
		s.Observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: seq}, Payload: make([]byte, 10)})
	}
	if s.Packets != 6 || s.Bytes != 60 {
		t.Fatalf("stats = %+v", s)
	}
	// 65535 and 0 were skipped when 1 arrived; the late 0 is not un-counted.
	if s.Lost != 2 {
		t.Fatalf("lost = %d, want 2", s.Lost)
	}
}

func TestFactoryCreatesSessions(t *testing.T) {
	f, err := NewFactory(DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	s, err := f.NewPeerSession(false, call.SessionHandlers{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.ConnectionState() != webrtc.PeerConnectionStateNew {
		t.Fatalf("state = %s", s.ConnectionState())
	}
	if _, err := f.NewPeerSession(true, call.SessionHandlers{}); !errors.Is(err, ErrNoTURN) {
		t.Fatalf("relay-only without TURN err = %v", err)
	}
}
