package call

import (
	"time"

	"github.com/pion/webrtc/v4"
)

type stopper interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// recovery tracks the connectivity watchdog of the current call.
// It is zeroed on every reset.
type recovery struct {
	timer  stopper
	seq    uint64
	stalls int
}

func (m *Machine) armTimerLocked() {
	m.stopTimerLocked()
	m.rec.seq++
	seq, gen := m.rec.seq, m.gen
	m.rec.timer = m.afterFunc(m.opts.RecoveryTimeout, func() { m.onTimer(gen, seq) })
}

func (m *Machine) stopTimerLocked() {
	if m.rec.timer != nil {
		m.rec.timer.Stop()
		m.rec.timer = nil
	}
}

func (m *Machine) onTimer(gen, seq uint64) {
	m.mu.Lock()
	defer m.unlock()
	if gen != m.gen || seq != m.rec.seq || m.status != StatusOngoing {
		return
	}
	m.rec.timer = nil
	if !m.unresolvedLocked() {
		return
	}
	m.logger.Warn().Dur("budget", m.opts.RecoveryTimeout).Msg("connectivity not established in time")
	m.stallLocked()
}

// unresolvedLocked reports whether no media path is up yet.
func (m *Machine) unresolvedLocked() bool {
	if m.peer == nil {
		return true
	}
	switch m.peer.ConnectionState() {
	case webrtc.PeerConnectionStateNew,
		webrtc.PeerConnectionStateConnecting,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed:
		return true
	}
	return false
}

// stallLocked handles a stalled or failed negotiation. The first stall of a
// call triggers relay-only recovery; the second ends the call.
func (m *Machine) stallLocked() {
	m.rec.stalls++
	if m.rec.stalls > 1 {
		m.terminateLocked(ErrNegotiationTimeout)
		return
	}
	switch m.role {
	case roleCaller:
		m.logger.Info().Msg("retrying with relay-only session")
		if err := m.offerLocked(true, true); err != nil {
			m.terminateLocked(err)
			return
		}
		m.armTimerLocked()
		m.changedLocked()
	case roleCallee:
		// The caller drives renegotiation; give its reconnect offer a full budget.
		m.logger.Info().Msg("waiting for reconnect offer")
		m.armTimerLocked()
	}
}

// negotiationFailedLocked counts a failed offer/answer step as a stall.
func (m *Machine) negotiationFailedLocked(err error) {
	m.logger.Warn().Err(err).Int("stalls", m.rec.stalls).Msg("negotiation failed")
	if m.rec.stalls > 0 {
		m.terminateLocked(err)
		return
	}
	if m.peer != nil {
		_ = m.peer.Close()
		m.peer = nil
		m.epoch++
	}
	m.stallLocked()
}

// onReconnectOfferLocked switches the callee to a relay-only session.
// Any failure here is final.
func (m *Machine) onReconnectOfferLocked(offer webrtc.SessionDescription) {
	m.logger.Info().Msg("reconnect offer received, switching to relay-only")
	if m.rec.stalls < 1 {
		m.rec.stalls = 1
	}
	if err := m.answerLocked(offer, true, true); err != nil {
		m.terminateLocked(err)
		return
	}
	m.armTimerLocked()
	m.changedLocked()
}
