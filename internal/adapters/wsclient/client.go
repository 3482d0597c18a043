// Package wsclient is the call client's side of the signaling socket.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Voicecall/internal/core"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var (
	ErrUnauthorized = errors.New("server rejected credentials")
	ErrClosed       = errors.New("signaling connection closed")
)

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	conn *websocket.Conn
	send chan core.Frame
	// quit is closed by Close; Run then flushes send and hangs up.
	quit chan struct{}
	once sync.Once
}

// Dial connects and authenticates with a bearer token.
func Dial(ctx context.Context, serverURL, token string) (*Client, error) {
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, serverURL, hdr)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	log.Info().Str("module", "wsclient").Str("url", serverURL).Msg("connected")
	return &Client{
		conn: conn,
		send: make(chan core.Frame, sendBuffer),
		quit: make(chan struct{}),
	}, nil
}

func (c *Client) closing() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}

// Send queues ev without waiting for the network.
func (c *Client) Send(ev core.Event) error {
	if c.closing() {
		return ErrClosed
	}
	f, err := ev.Encode()
	if err != nil {
		return err
	}
	select {
	case c.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// Close asks Run to flush queued frames and hang up. Safe to call repeatedly.
func (c *Client) Close() {
	c.once.Do(func() { close(c.quit) })
}

// Run pumps the connection until ctx ends, Close is called or the server
// goes away. handle is called on the read goroutine, one event at a time.
func (c *Client) Run(ctx context.Context, handle func(core.Event)) error {
	defer c.conn.Close()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readPump(handle) })
	g.Go(func() error {
		err := c.writePump()
		_ = c.conn.Close()
		return err
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-c.quit:
		}
		c.Close()
		return ErrClosed
	})
	err := g.Wait()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) readPump(handle func(core.Event)) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closing() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		ev, err := core.DecodeEvent(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Msg("bad frame")
			continue
		}
		handle(ev)
	}
}

func (c *Client) write(f core.Frame) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, f)
}

func (c *Client) writePump() error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.quit:
			c.hangUp()
			return ErrClosed
		case f := <-c.send:
			if err := c.write(f); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// hangUp writes whatever is still queued, then a close frame.
func (c *Client) hangUp() {
	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				return
			}
		default:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = c.conn.Close()
			return
		}
	}
}
