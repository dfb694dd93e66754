package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ricochet1k/driftwire/pkg/events"
)

// WSOptions configure a WSTransport.
type WSOptions struct {
	// BuildURL returns the ws:// or wss:// endpoint, called on every
	// connect attempt.
	BuildURL func() (string, error)

	Header http.Header

	// Channels are subscribed immediately after the socket opens.
	// Defaults to the wildcard channel.
	Channels []string

	Dialer *websocket.Dialer

	Config    Config
	Callbacks Callbacks
	Monitor   NetworkMonitor
}

// WSTransport speaks the relay realtime protocol over a WebSocket: it
// subscribes on open, unwraps server envelopes into channel events, and
// sends by writing JSON frames. Unlike the SSE transport, its send path
// rides the socket and requires a live connection.
type WSTransport struct {
	*machine
	opts WSOptions

	sendMu sync.Mutex
	sock   *websocket.Conn
}

func NewWSTransport(opts WSOptions) *WSTransport {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if len(opts.Channels) == 0 {
		opts.Channels = []string{"*"}
	}
	t := &WSTransport{opts: opts}
	t.machine = newMachine(opts.Config, opts.Callbacks, opts.Monitor, t.dialWS)
	return t
}

func (t *WSTransport) Send(ctx context.Context, data any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.sendMu.Lock()
	sock := t.sock
	t.sendMu.Unlock()
	if sock == nil {
		return nil, ErrNotConnected
	}
	if err := sock.WriteJSON(data); err != nil {
		return nil, fmt.Errorf("ws transport: send: %w", err)
	}
	return nil, nil
}

func (t *WSTransport) dialWS(ctx context.Context) (transportConn, error) {
	if t.opts.BuildURL == nil {
		return nil, errors.New("ws transport: BuildURL not configured")
	}
	url, err := t.opts.BuildURL()
	if err != nil {
		return nil, fmt.Errorf("ws transport: build url: %w", err)
	}

	sock, _, err := t.opts.Dialer.DialContext(ctx, url, t.opts.Header)
	if err != nil {
		return nil, err
	}

	sub := events.ClientEnvelope{
		Type:     events.ClientMessageTypeSubscribe,
		Channels: t.opts.Channels,
	}
	if err := sock.WriteJSON(sub); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("ws transport: subscribe: %w", err)
	}

	t.sendMu.Lock()
	t.sock = sock
	t.sendMu.Unlock()
	return &wsConn{sock: sock, owner: t}, nil
}

type wsConn struct {
	sock  *websocket.Conn
	owner *WSTransport
}

func (c *wsConn) read() (any, error) {
	for {
		var env events.ServerEnvelope
		if err := c.sock.ReadJSON(&env); err != nil {
			return nil, err
		}
		switch env.Type {
		case events.ServerMessageTypeEvent:
			if env.Event != nil {
				return *env.Event, nil
			}
		case events.ServerMessageTypeError:
			if cb := c.owner.cbs.OnError; cb != nil {
				cb(errors.New(env.Message))
			}
		case events.ServerMessageTypePong:
			// keepalive only
		}
	}
}

func (c *wsConn) close() error {
	c.owner.sendMu.Lock()
	if c.owner.sock == c.sock {
		c.owner.sock = nil
	}
	c.owner.sendMu.Unlock()
	return c.sock.Close()
}
