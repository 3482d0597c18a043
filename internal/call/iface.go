package call

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Voicecall/internal/core"
)

// Signaler enqueues an event for the server. It must not block on the peer.
type Signaler interface {
	Send(core.Event) error
}

// SessionHandlers receive peer session callbacks. They may run on any goroutine.
type SessionHandlers struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnStateChange  func(webrtc.PeerConnectionState)
	OnTrack        func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

// PeerSession is one negotiated media session with the remote party.
// Implementations must not invoke handlers synchronously from these methods.
type PeerSession interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddMedia(LocalMedia) error
	ConnectionState() webrtc.PeerConnectionState
	Close() error
}

type PeerFactory interface {
	// NewPeerSession builds a session. relayOnly restricts ICE to TURN.
	NewPeerSession(relayOnly bool, h SessionHandlers) (PeerSession, error)
}

// Constraints describe a capture request. Zero values mean unconstrained.
type Constraints struct {
	Audio           bool
	Video           bool
	Width           int
	Height          int
	FrameRate       float64
	AudioSampleRate int
	AudioChannels   int
}

// LocalMedia is a captured local stream. Stop releases every device.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	Stop()
}

type MediaCapturer interface {
	Capture(ctx context.Context, c Constraints) (LocalMedia, error)
}
