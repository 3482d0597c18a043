package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Voicecall/internal/app"
	"github.com/dkeye/Voicecall/internal/auth"
	"github.com/dkeye/Voicecall/internal/core"
	"github.com/dkeye/Voicecall/internal/domain"
)

// SessionTokenKey is the gin context key the session middleware fills.
const SessionTokenKey = "session_token"

type Settings struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func DefaultSettings() Settings {
	return Settings{
		ReadLimit:  64 * 1024,
		PingPeriod: 54 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  10 * time.Second,
		SendBuffer: 64,
	}
}

type SignalWSController struct {
	Gateway  *app.Gateway
	Auth     core.Authenticator
	Settings Settings
}

func NewSignalWSController(gw *app.Gateway, authn core.Authenticator, s Settings) *SignalWSController {
	return &SignalWSController{Gateway: gw, Auth: authn, Settings: s}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TokenFromRequest looks for a credential in the Authorization header,
// the token query parameter, then the cookie session.
func TokenFromRequest(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if tok := c.Query("token"); tok != "" {
		return tok
	}
	return c.GetString(SessionTokenKey)
}

// HandleSignal authenticates before upgrading. A rejected client gets a
// plain 401 and is never registered.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user, err := ctl.Auth.Authenticate(TokenFromRequest(c))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("ws auth failed")
		status := http.StatusUnauthorized
		msg := "unauthorized"
		if errors.Is(err, auth.ErrMissingToken) {
			msg = "missing token"
		}
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.Settings.SendBuffer),
	}
	id := ctl.Gateway.Connect(*user, conn)
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("user", string(user.ID)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, id, conn)
	go ctl.readPump(cancel, id, *user, conn)
}

func (ctl *SignalWSController) disconnect(id core.ConnID, user domain.User, c *WsSignalConn) {
	c.Close()
	ctl.Gateway.Disconnect(id)
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("user", string(user.ID)).Msg("WS connection closed")
}
