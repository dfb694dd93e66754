// Package transport provides the resilient receive channel the driftwire
// client stack sits on: an abstract bidirectional contract plus SSE and
// WebSocket implementations that share one reconnection state machine.
package transport

import (
	"context"
	"errors"
	"time"
)

// State is the connection lifecycle state. Exactly one value holds at a time.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateOffline      State = "offline"
)

// Info is a point-in-time snapshot of the transport.
type Info struct {
	State              State
	ReconnectAttempts  int
	LastError          error
	LastConnectedAt    time.Time
	LastDisconnectedAt time.Time
}

// Config holds the reconnection parameters. Zero values take the defaults
// documented on each field.
type Config struct {
	// ReconnectDelay is the base backoff delay. Default 1s.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the computed backoff delay. Default 5s.
	MaxReconnectDelay time.Duration

	// MaxReconnectAttempts bounds automatic reconnects. 0 means unlimited.
	MaxReconnectAttempts int

	// ReconnectJitter widens each delay by ±(jitter × delay). Default 0.25.
	// Set to a negative value to disable jitter entirely.
	ReconnectJitter float64
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 5 * time.Second
	}
	if c.ReconnectJitter == 0 {
		c.ReconnectJitter = 0.25
	} else if c.ReconnectJitter < 0 {
		c.ReconnectJitter = 0
	}
	return c
}

// Callbacks are the optional lifecycle hooks. Absent hooks are skipped;
// none may be assumed present.
type Callbacks struct {
	OnConnect         func()
	OnDisconnect      func(reason string)
	OnReconnecting    func(attempt int, delay time.Duration)
	OnReconnected     func(attempts int)
	OnReconnectFailed func(attempts int)
	OnError           func(err error)
	OnOffline         func()
	OnOnline          func()
	OnStateChange     func(state State, info Info)
}

// Handler receives one decoded inbound payload.
type Handler func(payload any)

// Transport is the abstract bidirectional channel. Dispose is terminal;
// no method may be called afterwards.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	Reconnect()
	Dispose()

	// Send performs the outbound call. It is independent of the receive
	// channel's connection state unless the implementation's send path
	// rides the same connection.
	Send(ctx context.Context, data any) (any, error)

	// OnPayload registers a receive handler and returns its removal func.
	OnPayload(h Handler) (remove func())

	State() State
	Info() Info
	Connected() bool
}

// NetworkMonitor reports environment connectivity. Notify registers an
// observer invoked on every online/offline flip and returns its removal
// func.
type NetworkMonitor interface {
	Online() bool
	Notify(func(online bool)) (remove func())
}

// AlwaysOnline is the default monitor for environments without
// connectivity signals.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool                      { return true }
func (AlwaysOnline) Notify(func(bool)) (remove func()) { return func() {} }

var (
	// ErrDisposed is returned by operations on a disposed transport.
	ErrDisposed = errors.New("transport disposed")

	// ErrNotConnected is returned by sends that require a live connection.
	ErrNotConnected = errors.New("transport not connected")

	// ErrNoSender is returned by Send when no outbound path is configured.
	ErrNoSender = errors.New("transport has no send path")
)
