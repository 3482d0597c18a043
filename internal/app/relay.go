package app

import (
	"github.com/dkeye/Voicecall/internal/core"
	"github.com/dkeye/Voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Relay forwards call events between users. It keeps no per-call state.
type Relay struct {
	Registry *Registry
	Policy   Policy
	Limiter  *RateLimiter
}

func NewRelay(reg *Registry, policy Policy, limiter *RateLimiter) *Relay {
	return &Relay{Registry: reg, Policy: policy, Limiter: limiter}
}

// unavailable reports the error code a sender gets when its target cannot
// be reached. Events without a code are dropped silently.
func unavailable(t core.EventType) (core.ErrorCode, string, bool) {
	switch t {
	case core.EventCallStart:
		return core.CodeUserUnavailable, "user is not available", true
	case core.EventCallAccept, core.EventCallAnswer:
		return core.CodeCallerUnavailable, "caller is no longer available", true
	case core.EventCallOffer:
		return core.CodeRecipientUnavailable, "recipient is no longer available", true
	}
	return "", "", false
}

// Route delivers ev from sender to exactly one live connection of ev.To,
// trying them in registration order.
func (r *Relay) Route(sender ConnSnap, ev core.Event) {
	l := log.With().Str("module", "app.relay").Str("type", string(ev.Type)).
		Str("from", string(sender.User.ID)).Str("to", string(ev.To)).Logger()

	if ev.To == sender.User.ID {
		r.fail(sender, ev.To, core.CodeInvalidEvent, "cannot signal yourself")
		return
	}
	if ev.Type == core.EventCallStart && !r.Limiter.Allow(sender.User.ID) {
		l.Warn().Msg("call rate limited")
		r.fail(sender, ev.To, core.CodeRateLimited, "too many call attempts")
		return
	}
	outType, ok := ev.Type.Outbound()
	if !ok {
		r.fail(sender, ev.To, core.CodeInvalidEvent, "unknown event type")
		return
	}

	out := ev
	out.Type = outType
	out.To = ""
	from := sender.User
	out.From = &from
	frame, err := out.Encode()
	if err != nil {
		l.Error().Err(err).Msg("encode")
		return
	}

	for _, t := range r.Registry.Targets(ev.To) {
		if err := deliver(r.Policy, t, frame); err != nil {
			l.Warn().Err(err).Str("conn", string(t.ID)).Msg("delivery failed, trying next connection")
			continue
		}
		l.Debug().Str("conn", string(t.ID)).Msg("relayed")
		return
	}

	code, msg, ok := unavailable(ev.Type)
	if !ok {
		l.Debug().Msg("target unavailable, dropped")
		return
	}
	l.Info().Str("code", string(code)).Msg("target unavailable")
	r.fail(sender, ev.To, code, msg)
}

// fail replies with a call:error naming the target of the failed event,
// so the client can tell which call it belongs to.
func (r *Relay) fail(sender ConnSnap, to domain.UserID, code core.ErrorCode, msg string) {
	ev := core.ErrorEvent(code, msg)
	ev.To = to
	r.Reply(sender, ev)
}

// Reply sends ev back to the originating connection only.
func (r *Relay) Reply(sender ConnSnap, ev core.Event) {
	frame, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("encode reply")
		return
	}
	if err := deliver(r.Policy, sender, frame); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("conn", string(sender.ID)).Msg("reply failed")
	}
}
