package app

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Voicecall/internal/core"
	"github.com/dkeye/Voicecall/internal/domain"
)

// Gateway owns the connection lifecycle: register, dispatch, deregister.
// Every mutation is followed by a presence broadcast; mu keeps broadcasts
// in mutation order.
type Gateway struct {
	Registry *Registry
	Relay    *Relay
	Policy   Policy

	mu    sync.Mutex
	newID func() core.ConnID
}

func NewGateway(reg *Registry, relay *Relay, policy Policy) *Gateway {
	return &Gateway{
		Registry: reg,
		Relay:    relay,
		Policy:   policy,
		newID:    func() core.ConnID { return core.ConnID(uuid.NewString()) },
	}
}

// Connect registers an authenticated connection and announces presence.
func (g *Gateway) Connect(user domain.User, conn core.SignalConnection) core.ConnID {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.newID()
	for !g.Registry.Register(id, user, conn) {
		id = g.newID()
	}
	g.broadcastPresence()
	return id
}

// Disconnect is safe to call more than once.
func (g *Gateway) Disconnect(id core.ConnID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.Registry.Deregister(id); !ok {
		return
	}
	g.broadcastPresence()
}

// Handle processes one inbound frame from a registered connection.
func (g *Gateway) Handle(id core.ConnID, data []byte) {
	user, conn, ok := g.Registry.Lookup(id)
	if !ok {
		log.Debug().Str("module", "app.gateway").Str("conn", string(id)).Msg("frame from unknown connection")
		return
	}
	sender := ConnSnap{ID: id, User: user, Conn: conn}

	ev, err := core.DecodeEvent(data)
	if err == nil {
		err = ev.ValidateInbound()
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "app.gateway").Str("conn", string(id)).Msg("invalid event")
		g.Relay.fail(sender, ev.To, core.CodeInvalidEvent, err.Error())
		return
	}
	if ev.Type == core.EventPing {
		g.Relay.Reply(sender, core.Event{Type: core.EventPong})
		return
	}
	g.Relay.Route(sender, ev)
}

func (g *Gateway) broadcastPresence() {
	ev := core.Event{Type: core.EventPresenceUpdate, Users: g.Registry.Snapshot()}
	frame, err := ev.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.gateway").Msg("encode presence")
		return
	}
	targets := g.Registry.All()
	for _, t := range targets {
		if err := deliver(g.Policy, t, frame); err != nil {
			log.Warn().Err(err).Str("module", "app.gateway").Str("conn", string(t.ID)).Msg("presence delivery failed")
		}
	}
	log.Debug().Str("module", "app.gateway").Int("users", len(ev.Users)).Int("conns", len(targets)).Msg("presence broadcast")
}
