package app

import (
	"errors"

	"github.com/dkeye/Voicecall/internal/core"
	"github.com/dkeye/Voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

// BackpressureAction tells deliver what to do with a full connection.
// NoAction and DropFrame both keep the connection; DropFrame also logs.
type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickConn
)

// Policy decides what to do with a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(user domain.User, id core.ConnID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.User, core.ConnID) BackpressureAction {
	return KickConn
}

// deliver sends f to one connection and applies the policy on backpressure.
// Closing a kicked connection lets its adapter deregister it as usual.
func deliver(p Policy, t ConnSnap, f core.Frame) error {
	err := t.Conn.TrySend(f)
	if err == nil || p == nil || !errors.Is(err, core.ErrBackpressure) {
		return err
	}
	switch p.OnBackPressure(t.User, t.ID) {
	case NoAction:
		// The caller sees the error; the connection is left alone.
	case KickConn:
		log.Warn().Str("module", "app.policy").Str("conn", string(t.ID)).Str("user", string(t.User.ID)).Msg("kicking slow connection")
		t.Conn.Close()
	case DropFrame:
		log.Debug().Str("module", "app.policy").Str("conn", string(t.ID)).Msg("dropped frame")
	}
	return err
}
