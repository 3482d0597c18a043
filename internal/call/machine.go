// Package call drives one side of a two-party call: local media, the peer
// session and the signaling exchange with the remote party.
package call

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Voicecall/internal/core"
	"github.com/dkeye/Voicecall/internal/domain"
)

type Status string

const (
	StatusIdle     Status = "idle"
	StatusCalling  Status = "calling"
	StatusIncoming Status = "incoming"
	StatusOngoing  Status = "ongoing"
)

type role int

const (
	roleNone role = iota
	roleCaller
	roleCallee
)

const DefaultRecoveryTimeout = 15 * time.Second

// Snapshot is a read-only view of the machine handed to observers.
type Snapshot struct {
	Status    Status
	Kind      domain.MediaKind
	Remote    *domain.User
	HasMedia  bool
	HasPeer   bool
	RelayOnly bool
}

type Options struct {
	Self            domain.User
	Signaler        Signaler
	Peers           PeerFactory
	Media           MediaCapturer
	RecoveryTimeout time.Duration

	OnChange      func(Snapshot)
	OnError       func(error)
	OnRemoteTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
}

// Machine is the per-process call state machine. Every transition runs
// under mu; observers are notified after it is released.
type Machine struct {
	opts      Options
	afterFunc func(time.Duration, func()) stopper
	logger    zerolog.Logger

	mu        sync.Mutex
	status    Status
	kind      domain.MediaKind
	remote    *domain.User
	media     LocalMedia
	peer      PeerSession
	role      role
	relayOnly bool
	acquiring bool
	// online is the last presence snapshot. remoteSeen is set once a
	// snapshot handled during this call lists the remote party, so a
	// snapshot queued before the call cannot end it.
	online     []domain.User
	remoteSeen bool
	// gen changes on every reset so async continuations can detect
	// that the call they belong to is gone.
	gen uint64
	// epoch changes whenever the peer session is replaced.
	epoch uint64
	rec   recovery

	pending []func()
}

func NewMachine(opts Options) *Machine {
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return &Machine{
		opts:      opts,
		afterFunc: realAfterFunc,
		logger:    log.With().Str("module", "call").Str("self", string(opts.Self.ID)).Logger(),
		status:    StatusIdle,
	}
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		Status:    m.status,
		Kind:      m.kind,
		HasMedia:  m.media != nil,
		HasPeer:   m.peer != nil,
		RelayOnly: m.relayOnly,
	}
	if m.remote != nil {
		r := *m.remote
		s.Remote = &r
	}
	return s
}

// unlock releases mu and runs the notifications queued by the transition.
func (m *Machine) unlock() {
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (m *Machine) changedLocked() {
	if m.opts.OnChange == nil {
		return
	}
	s := m.snapshotLocked()
	m.pending = append(m.pending, func() { m.opts.OnChange(s) })
}

func (m *Machine) failLocked(err error) {
	m.logger.Warn().Err(err).Msg("call error")
	if m.opts.OnError == nil {
		return
	}
	m.pending = append(m.pending, func() { m.opts.OnError(err) })
}

func (m *Machine) sendLocked(ev core.Event) error {
	if err := m.opts.Signaler.Send(ev); err != nil {
		m.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("signal send failed")
		return err
	}
	return nil
}

// resetLocked returns to idle and releases everything the call owned.
func (m *Machine) resetLocked() {
	m.stopTimerLocked()
	if m.media != nil {
		m.media.Stop()
		m.media = nil
	}
	if m.peer != nil {
		if err := m.peer.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("peer close")
		}
		m.peer = nil
	}
	wasActive := m.status != StatusIdle
	m.status = StatusIdle
	m.kind = ""
	m.remote = nil
	m.role = roleNone
	m.relayOnly = false
	m.remoteSeen = false
	m.rec = recovery{}
	m.gen++
	m.epoch++
	if wasActive {
		m.changedLocked()
	}
}

// terminateLocked ends the call from our side after an unrecoverable error.
func (m *Machine) terminateLocked(err error) {
	if m.remote != nil {
		_ = m.sendLocked(core.Event{Type: core.EventCallEnd, To: m.remote.ID})
	}
	m.resetLocked()
	m.failLocked(err)
}

// StartCall acquires media and rings to. It returns once the start event
// is queued; the outcome arrives through HandleEvent.
func (m *Machine) StartCall(ctx context.Context, to domain.User, kind domain.MediaKind) error {
	if !kind.Valid() {
		kind = domain.MediaAudio
	}
	m.mu.Lock()
	if to.ID == m.opts.Self.ID {
		m.mu.Unlock()
		return ErrSelfCall
	}
	if m.status != StatusIdle || m.acquiring {
		m.mu.Unlock()
		return ErrBusy
	}
	m.acquiring = true
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	media, got, err := AcquireMedia(ctx, m.opts.Media, kind)

	m.mu.Lock()
	defer m.unlock()
	m.acquiring = false
	if gen != m.gen || m.status != StatusIdle {
		if media != nil {
			media.Stop()
		}
		return ErrCallCanceled
	}
	if err != nil {
		m.failLocked(err)
		return err
	}

	remote := to
	m.status = StatusCalling
	m.remote = &remote
	m.remoteSeen = listed(m.online, remote.ID)
	m.kind = got
	m.media = media
	m.role = roleCaller
	if err := m.sendLocked(core.Event{Type: core.EventCallStart, To: to.ID, Kind: got}); err != nil {
		m.resetLocked()
		m.failLocked(err)
		return err
	}
	m.logger.Info().Str("to", string(to.ID)).Str("kind", string(got)).Msg("calling")
	m.changedLocked()
	return nil
}

// AcceptCall answers the ringing call.
func (m *Machine) AcceptCall(ctx context.Context) error {
	m.mu.Lock()
	if m.status != StatusIncoming || m.acquiring {
		m.mu.Unlock()
		return ErrInvalidState
	}
	m.acquiring = true
	gen := m.gen
	kind := m.kind
	m.mu.Unlock()

	media, got, err := AcquireMedia(ctx, m.opts.Media, kind)

	m.mu.Lock()
	defer m.unlock()
	m.acquiring = false
	if gen != m.gen || m.status != StatusIncoming {
		if media != nil {
			media.Stop()
		}
		return ErrCallCanceled
	}
	if err != nil {
		_ = m.sendLocked(core.Event{Type: core.EventCallReject, To: m.remote.ID})
		m.resetLocked()
		m.failLocked(err)
		return err
	}

	m.media = media
	m.kind = got
	m.status = StatusOngoing
	if err := m.sendLocked(core.Event{Type: core.EventCallAccept, To: m.remote.ID}); err != nil {
		m.resetLocked()
		m.failLocked(err)
		return err
	}
	m.logger.Info().Str("from", string(m.remote.ID)).Str("kind", string(got)).Msg("call accepted")
	m.armTimerLocked()
	m.changedLocked()
	return nil
}

func (m *Machine) RejectCall() error {
	m.mu.Lock()
	defer m.unlock()
	if m.status != StatusIncoming {
		return ErrInvalidState
	}
	_ = m.sendLocked(core.Event{Type: core.EventCallReject, To: m.remote.ID})
	m.resetLocked()
	return nil
}

// EndCall hangs up. Safe to call in any state, any number of times.
func (m *Machine) EndCall() {
	m.mu.Lock()
	defer m.unlock()
	if m.status != StatusIdle && m.remote != nil {
		_ = m.sendLocked(core.Event{Type: core.EventCallEnd, To: m.remote.ID})
	}
	m.resetLocked()
}

func (m *Machine) fromRemoteLocked(ev core.Event) bool {
	return ev.From != nil && m.remote != nil && ev.From.ID == m.remote.ID
}

func (m *Machine) staleLocked(ev core.Event) {
	m.logger.Debug().Str("type", string(ev.Type)).Str("status", string(m.status)).Msg("stale event ignored")
}

// HandleEvent applies one event delivered by the signaling server.
func (m *Machine) HandleEvent(ev core.Event) {
	m.mu.Lock()
	defer m.unlock()

	switch ev.Type {
	case core.EventPresenceUpdate:
		m.onPresenceLocked(ev.Users)
	case core.EventCallIncoming:
		m.onIncomingLocked(ev)
	case core.EventCallAccepted:
		if m.status != StatusCalling || !m.fromRemoteLocked(ev) {
			m.staleLocked(ev)
			return
		}
		m.status = StatusOngoing
		m.logger.Info().Str("to", string(m.remote.ID)).Msg("call accepted by remote")
		m.changedLocked()
		m.armTimerLocked()
		if err := m.offerLocked(false, false); err != nil {
			m.negotiationFailedLocked(err)
		}
	case core.EventCallRejected:
		if m.status != StatusCalling || !m.fromRemoteLocked(ev) {
			m.staleLocked(ev)
			return
		}
		m.resetLocked()
		m.failLocked(ErrCallRejected)
	case core.EventCallEnded:
		if m.status == StatusIdle || !m.fromRemoteLocked(ev) {
			m.staleLocked(ev)
			return
		}
		m.logger.Info().Str("by", string(ev.From.ID)).Msg("call ended by remote")
		m.resetLocked()
	case core.EventCallError:
		// Errors name the target of the failed event; one for another
		// party belongs to an earlier call.
		if m.status == StatusIdle || (ev.To != "" && ev.To != m.remote.ID) {
			m.staleLocked(ev)
			return
		}
		m.resetLocked()
		m.failLocked(&RelayError{Code: ev.Code, Message: ev.Message})
	case core.EventCallOffer:
		if ev.SDP == nil || m.status != StatusOngoing || m.role != roleCallee || !m.fromRemoteLocked(ev) {
			m.staleLocked(ev)
			return
		}
		if ev.Reconnect {
			m.onReconnectOfferLocked(*ev.SDP)
			return
		}
		if m.peer != nil {
			m.staleLocked(ev)
			return
		}
		if err := m.answerLocked(*ev.SDP, false, false); err != nil {
			m.negotiationFailedLocked(err)
		}
	case core.EventCallAnswer:
		if ev.SDP == nil || m.status != StatusOngoing || m.role != roleCaller || m.peer == nil || !m.fromRemoteLocked(ev) {
			m.staleLocked(ev)
			return
		}
		if err := m.peer.SetRemoteDescription(*ev.SDP); err != nil {
			err = &NegotiationError{Op: "apply answer", Err: err}
			if ev.Reconnect {
				m.terminateLocked(err)
				return
			}
			m.negotiationFailedLocked(err)
			return
		}
		if ev.Reconnect {
			m.logger.Info().Msg("relay-only session negotiated")
			m.stopTimerLocked()
		}
	case core.EventICECandidate:
		if ev.Candidate == nil || m.peer == nil || m.status != StatusOngoing || !m.fromRemoteLocked(ev) {
			m.staleLocked(ev)
			return
		}
		if err := m.peer.AddICECandidate(*ev.Candidate); err != nil {
			m.logger.Debug().Err(err).Msg("add ice candidate")
		}
	case core.EventPong:
	default:
		m.staleLocked(ev)
	}
}

func listed(users []domain.User, id domain.UserID) bool {
	return slices.ContainsFunc(users, func(u domain.User) bool { return u.ID == id })
}

func (m *Machine) onPresenceLocked(users []domain.User) {
	m.online = users
	if m.status == StatusIdle || m.remote == nil {
		return
	}
	id := m.remote.ID
	if listed(users, id) {
		m.remoteSeen = true
		return
	}
	if !m.remoteSeen {
		m.logger.Debug().Str("remote", string(id)).Msg("snapshot predates remote, ignored")
		return
	}
	m.logger.Info().Str("remote", string(id)).Msg("remote party left")
	m.resetLocked()
	m.failLocked(ErrRemoteGone)
}

// onIncomingLocked rings, or auto-rejects when a call is already active.
func (m *Machine) onIncomingLocked(ev core.Event) {
	if ev.From == nil {
		m.staleLocked(ev)
		return
	}
	if m.status != StatusIdle || m.acquiring {
		m.logger.Info().Str("from", string(ev.From.ID)).Msg("busy, rejecting incoming call")
		_ = m.sendLocked(core.Event{Type: core.EventCallReject, To: ev.From.ID})
		return
	}
	kind := ev.Kind
	if !kind.Valid() {
		kind = domain.MediaAudio
	}
	from := *ev.From
	m.status = StatusIncoming
	m.remote = &from
	m.remoteSeen = listed(m.online, from.ID)
	m.kind = kind
	m.role = roleCallee
	m.logger.Info().Str("from", string(from.ID)).Str("kind", string(kind)).Msg("incoming call")
	m.changedLocked()
}

// newPeerLocked replaces the peer session and attaches local media.
func (m *Machine) newPeerLocked(relayOnly bool) error {
	if m.peer != nil {
		_ = m.peer.Close()
		m.peer = nil
	}
	m.epoch++
	epoch := m.epoch
	peer, err := m.opts.Peers.NewPeerSession(relayOnly, SessionHandlers{
		OnICECandidate: func(c webrtc.ICECandidateInit) { m.onLocalCandidate(epoch, c) },
		OnStateChange:  func(s webrtc.PeerConnectionState) { m.onPeerState(epoch, s) },
		OnTrack:        func(t *webrtc.TrackRemote, r *webrtc.RTPReceiver) { m.onRemoteTrack(epoch, t, r) },
	})
	if err != nil {
		return &NegotiationError{Op: "create peer session", Err: err}
	}
	if m.media != nil {
		if err := peer.AddMedia(m.media); err != nil {
			_ = peer.Close()
			return &NegotiationError{Op: "attach media", Err: err}
		}
	}
	m.peer = peer
	m.relayOnly = relayOnly
	return nil
}

func (m *Machine) offerLocked(relayOnly, reconnect bool) error {
	if err := m.newPeerLocked(relayOnly); err != nil {
		return err
	}
	offer, err := m.peer.CreateOffer()
	if err != nil {
		return &NegotiationError{Op: "create offer", Err: err}
	}
	if err := m.peer.SetLocalDescription(offer); err != nil {
		return &NegotiationError{Op: "set local offer", Err: err}
	}
	return m.sendLocked(core.Event{Type: core.EventCallOffer, To: m.remote.ID, SDP: &offer, Reconnect: reconnect})
}

func (m *Machine) answerLocked(offer webrtc.SessionDescription, relayOnly, reconnect bool) error {
	if err := m.newPeerLocked(relayOnly); err != nil {
		return err
	}
	if err := m.peer.SetRemoteDescription(offer); err != nil {
		return &NegotiationError{Op: "apply offer", Err: err}
	}
	answer, err := m.peer.CreateAnswer()
	if err != nil {
		return &NegotiationError{Op: "create answer", Err: err}
	}
	if err := m.peer.SetLocalDescription(answer); err != nil {
		return &NegotiationError{Op: "set local answer", Err: err}
	}
	return m.sendLocked(core.Event{Type: core.EventCallAnswer, To: m.remote.ID, SDP: &answer, Reconnect: reconnect})
}

func (m *Machine) onLocalCandidate(epoch uint64, c webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.unlock()
	if epoch != m.epoch || m.status != StatusOngoing || m.remote == nil {
		return
	}
	_ = m.sendLocked(core.Event{Type: core.EventICECandidate, To: m.remote.ID, Candidate: &c})
}

func (m *Machine) onPeerState(epoch uint64, s webrtc.PeerConnectionState) {
	m.mu.Lock()
	defer m.unlock()
	if epoch != m.epoch || m.status != StatusOngoing {
		return
	}
	m.logger.Info().Str("peer_connection_state", s.String()).Bool("relay_only", m.relayOnly).Msg("peer state")
	switch s {
	case webrtc.PeerConnectionStateConnected:
		m.stopTimerLocked()
		m.changedLocked()
	case webrtc.PeerConnectionStateFailed:
		m.stallLocked()
	}
}

func (m *Machine) onRemoteTrack(epoch uint64, t *webrtc.TrackRemote, r *webrtc.RTPReceiver) {
	m.mu.Lock()
	current := epoch == m.epoch && m.status == StatusOngoing
	m.mu.Unlock()
	if current && m.opts.OnRemoteTrack != nil {
		m.opts.OnRemoteTrack(t, r)
	}
}
