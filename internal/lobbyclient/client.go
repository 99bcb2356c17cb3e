package lobbyclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/beyond-all-reason/autohost-go/internal/config"
	"github.com/beyond-all-reason/autohost-go/internal/lobbywire"
)

// tachyonSubprotocol pins the wire version the lobby channel speaks
// (spec §4.8 step 4, §6.2).
const tachyonSubprotocol = "tachyon/1"

const initialReconnectDelay = 50 * time.Millisecond

// Events is the Lobby Client's typed event bus (spec §9 design note).
type Events struct {
	OnConnected func()
	OnMessage   func(lobbywire.InEnvelope)
	OnError     func(err error)
	OnClose     func()
}

// ErrNotConnected is returned by Send when no connection is currently
// established; the caller (the adapter's status publication, mostly)
// is expected to swallow it.
var ErrNotConnected = errors.New("lobbyclient: not connected")

// Client is a reconnecting duplex text channel to the lobby server
// (spec §4.8). Run owns the reconnect-forever loop for the life of the
// process; Send may be called concurrently from any goroutine once
// connected.
type Client struct {
	cfg        config.Config
	events     Events
	httpClient *http.Client
	dialer     *websocket.Dialer

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// New returns a Client for cfg's configured lobby server.
func New(cfg config.Config, events Events) *Client {
	return &Client{
		cfg:        cfg,
		events:     events,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Subprotocols:     []string{tachyonSubprotocol},
		},
	}
}

func wsScheme(secure bool) string {
	if secure {
		return "wss"
	}
	return "ws"
}

func (c *Client) wsURL() string {
	host := c.cfg.TachyonServer
	if c.cfg.TachyonServerPort != 0 {
		host = fmt.Sprintf("%s:%d", host, c.cfg.TachyonServerPort)
	}
	return fmt.Sprintf("%s://%s/tachyon", wsScheme(c.cfg.Secure()), host)
}

// dial performs one full handshake (spec §4.8 steps 1-4): discovery,
// token fetch, and the upgrade request carrying the bearer token.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	meta, err := discoverOAuth(ctx, c.httpClient, c.cfg.TachyonBaseURL())
	if err != nil {
		return nil, err
	}
	token, err := fetchToken(ctx, c.httpClient, meta.TokenEndpoint, c.cfg.AuthClientID, c.cfg.AuthClientSecret)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL(), header)
	if err != nil {
		return nil, fmt.Errorf("lobbyclient: dial: %w", err)
	}
	return conn, nil
}

// Run connects and reconnects for the life of ctx (spec §4.8 Reconnect
// loop): exponential backoff from 50ms, doubling per failure, capped at
// maxReconnectDelaySeconds, reset to 50ms on every successful connect.
// It returns only when ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialReconnectDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Duration(c.cfg.MaxReconnectDelaySeconds) * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if c.events.OnError != nil {
				c.events.OnError(err)
			}
			d := bo.NextBackOff()
			slog.Warn("lobbyclient: connect failed, backing off", "err", err, "delay", d)
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return
			}
			continue
		}

		bo.Reset()
		c.setConn(conn)
		if c.events.OnConnected != nil {
			c.events.OnConnected()
		}

		c.readLoop(conn)

		c.setConn(nil)
		_ = conn.Close()
		if c.events.OnClose != nil {
			c.events.OnClose()
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

// readLoop implements the steady state (spec §4.8 Steady state): text
// frames only, parsed as envelopes; a binary frame or a parse failure
// closes the connection. Returns when the connection is no longer
// usable.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if c.events.OnError != nil {
				c.events.OnError(fmt.Errorf("lobbyclient: read: %w", err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			if c.events.OnError != nil {
				c.events.OnError(errors.New("lobbyclient: binary frame received, closing with protocol error"))
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseProtocolError, "binary frames are not supported"),
				time.Now().Add(time.Second))
			return
		}

		env, err := lobbywire.ParseEnvelope(data)
		if err != nil {
			if c.events.OnError != nil {
				c.events.OnError(fmt.Errorf("lobbyclient: parse error: %w", err))
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseProtocolError, "parse error"),
				time.Now().Add(time.Second))
			return
		}
		if c.events.OnMessage != nil {
			c.events.OnMessage(env)
		}
	}
}

// Send transmits env over the current connection. It satisfies
// adapter.Sender.
func (c *Client) Send(env lobbywire.OutEnvelope) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("lobbyclient: marshaling envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}
