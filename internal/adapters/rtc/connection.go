package rtc

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Voicecall/internal/call"
)

var ErrNoTURN = errors.New("relay-only session requested but no TURN server configured")

type Config struct {
	STUNServers  []string
	TURNServers  []string
	TURNUsername string
	TURNPassword string
}

// ICEServers lists the servers a session may use. Relay-only sessions get
// TURN servers only.
func (c Config) ICEServers(relayOnly bool) []webrtc.ICEServer {
	var out []webrtc.ICEServer
	if !relayOnly && len(c.STUNServers) > 0 {
		out = append(out, webrtc.ICEServer{URLs: c.STUNServers})
	}
	if len(c.TURNServers) > 0 {
		out = append(out, webrtc.ICEServer{
			URLs:           c.TURNServers,
			Username:       c.TURNUsername,
			Credential:     c.TURNPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return out
}

func DefaultConfig() Config {
	return Config{STUNServers: []string{"stun:stun.l.google.com:19302"}}
}

// Configuration builds the pion configuration for one session.
func (c Config) Configuration(relayOnly bool) (webrtc.Configuration, error) {
	conf := webrtc.Configuration{ICEServers: c.ICEServers(relayOnly)}
	if relayOnly {
		if len(c.TURNServers) == 0 {
			return conf, ErrNoTURN
		}
		conf.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return conf, nil
}

// Factory creates pion-backed sessions sharing one API instance.
type Factory struct {
	api *webrtc.API
	cfg Config
}

// NewFactory registers codecs from the capture selector when present so the
// SDP matches what the encoders produce.
func NewFactory(cfg Config, codecs *mediadevices.CodecSelector) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if codecs != nil {
		codecs.Populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(5*time.Second, 25*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api, cfg: cfg}, nil
}

func (f *Factory) NewPeerSession(relayOnly bool, h call.SessionHandlers) (call.PeerSession, error) {
	conf, err := f.cfg.Configuration(relayOnly)
	if err != nil {
		return nil, err
	}
	pc, err := f.api.NewPeerConnection(conf)
	if err != nil {
		return nil, err
	}
	s := &WebRTCConnection{pc: pc, id: uuid.NewString()[:8], relayOnly: relayOnly}
	s.bind(h)
	log.Info().Str("module", "webrtc").Str("session", s.id).Bool("relay_only", relayOnly).Msg("peer session created")
	return s, nil
}

// WebRTCConnection adapts a pion PeerConnection to call.PeerSession.
type WebRTCConnection struct {
	pc        *webrtc.PeerConnection
	id        string
	relayOnly bool
}

// bind wires pion callbacks. Pion invokes state handlers on its own
// goroutines, never from inside our method calls.
func (c *WebRTCConnection) bind(h call.SessionHandlers) {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("session", c.id).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("session", c.id).Str("peer_connection_state", s.String()).Msg("Peer state")
		if h.OnStateChange != nil {
			h.OnStateChange(s)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && h.OnICECandidate != nil {
			h.OnICECandidate(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("session", c.id).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("codec", track.Codec().MimeType).
			Msg("OnTrack received")
		if h.OnTrack != nil {
			h.OnTrack(track, receiver)
		}
	})
}

func (c *WebRTCConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *WebRTCConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *WebRTCConnection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *WebRTCConnection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) ConnectionState() webrtc.PeerConnectionState {
	return c.pc.ConnectionState()
}

// AddMedia attaches every local track. RTCP from each sender is drained so
// the interceptors keep working.
func (c *WebRTCConnection) AddMedia(m call.LocalMedia) error {
	for _, track := range m.Tracks() {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

func (c *WebRTCConnection) Close() error {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("session", c.id).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("session", c.id).Msg("closed")
	return nil
}
