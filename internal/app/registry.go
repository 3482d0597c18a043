package app

import (
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/Voicecall/internal/core"
	"github.com/dkeye/Voicecall/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	user domain.User
	conn core.SignalConnection
}

type presenceEntry struct {
	user  domain.User
	conns []core.ConnID // registration order
}

// Registry is the presence directory: user -> live connections.
// A user is present iff it holds at least one connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
	users map[domain.UserID]*presenceEntry
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[core.ConnID]*connEntry),
		users: make(map[domain.UserID]*presenceEntry),
	}
}

// Register binds conn to user. Returns false if id is already registered.
func (r *Registry) Register(id core.ConnID, user domain.User, conn core.SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		return false
	}
	r.conns[id] = &connEntry{user: user, conn: conn}
	p, ok := r.users[user.ID]
	if !ok {
		p = &presenceEntry{user: user}
		r.users[user.ID] = p
	}
	p.conns = append(p.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(user.ID)).Int("conns", len(p.conns)).Msg("registered connection")
	return true
}

// Deregister removes a connection and drops its user once the set empties.
// Calling it again for the same id is a no-op.
func (r *Registry) Deregister(id core.ConnID) (domain.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return domain.User{}, false
	}
	delete(r.conns, id)
	if p, ok := r.users[e.user.ID]; ok {
		p.conns = slices.DeleteFunc(p.conns, func(c core.ConnID) bool { return c == id })
		if len(p.conns) == 0 {
			delete(r.users, e.user.ID)
		}
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(e.user.ID)).Msg("deregistered connection")
	return e.user, true
}

// Snapshot lists present users sorted by id.
func (r *Registry) Snapshot() []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.User, 0, len(r.users))
	for _, p := range r.users {
		out = append(out, p.user)
	}
	slices.SortFunc(out, func(a, b domain.User) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

func (r *Registry) ConnectionsFor(uid domain.UserID) []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.users[uid]
	if !ok {
		return nil
	}
	return slices.Clone(p.conns)
}

func (r *Registry) IsPresent(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[uid]
	return ok
}

// Lookup resolves a connection to its owner.
func (r *Registry) Lookup(id core.ConnID) (domain.User, core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return domain.User{}, nil, false
	}
	return e.user, e.conn, true
}

type ConnSnap struct {
	ID   core.ConnID
	User domain.User
	Conn core.SignalConnection
}

// Targets returns the live connections of uid in registration order.
func (r *Registry) Targets(uid domain.UserID) []ConnSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.users[uid]
	if !ok {
		return nil
	}
	out := make([]ConnSnap, 0, len(p.conns))
	for _, id := range p.conns {
		if e, ok := r.conns[id]; ok {
			out = append(out, ConnSnap{ID: id, User: e.user, Conn: e.conn})
		}
	}
	return out
}

func (r *Registry) All() []ConnSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnSnap, 0, len(r.conns))
	for id, e := range r.conns {
		out = append(out, ConnSnap{ID: id, User: e.user, Conn: e.conn})
	}
	return out
}

// PresenceStat backs the status endpoint.
type PresenceStat struct {
	User        domain.User `json:"user"`
	Connections int         `json:"connections"`
}

func (r *Registry) Stats() []PresenceStat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PresenceStat, 0, len(r.users))
	for _, p := range r.users {
		out = append(out, PresenceStat{User: p.user, Connections: len(p.conns)})
	}
	slices.SortFunc(out, func(a, b PresenceStat) int { return strings.Compare(string(a.User.ID), string(b.User.ID)) })
	return out
}
