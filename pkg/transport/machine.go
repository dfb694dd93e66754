package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// transportConn is one established receive channel. read blocks until the
// next payload or a terminal error.
type transportConn interface {
	read() (any, error)
	close() error
}

// dialFunc opens a receive channel. ctx is cancelled when the machine
// tears the connection down.
type dialFunc func(ctx context.Context) (transportConn, error)

// machine is the reconnection state machine shared by the SSE and
// WebSocket transports. All state is guarded by mu; lifecycle callbacks
// are collected under the lock and invoked after release so a callback
// may safely call back into the transport.
type machine struct {
	cfg     Config
	cbs     Callbacks
	monitor NetworkMonitor
	dial    dialFunc
	rng     *rand.Rand

	mu                 sync.Mutex
	state              State
	attempts           int
	lastErr            error
	lastConnectedAt    time.Time
	lastDisconnectedAt time.Time

	// manual is set by Disconnect and cleared by Connect/Reconnect so
	// later channel errors resume auto-reconnecting.
	manual   bool
	disposed bool

	// gen invalidates callbacks from torn-down connections.
	gen    int
	conn   transportConn
	cancel context.CancelFunc
	timer  *time.Timer

	handlers    map[uint64]Handler
	nextHandler uint64
	stopMonitor func()
}

func newMachine(cfg Config, cbs Callbacks, monitor NetworkMonitor, dial dialFunc) *machine {
	if monitor == nil {
		monitor = AlwaysOnline{}
	}
	m := &machine{
		cfg:      cfg.withDefaults(),
		cbs:      cbs,
		monitor:  monitor,
		dial:     dial,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		state:    StateDisconnected,
		handlers: make(map[uint64]Handler),
	}
	m.stopMonitor = monitor.Notify(m.networkChange)
	return m
}

func run(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

func (m *machine) setStateLocked(s State, after *[]func()) {
	if m.state == s {
		return
	}
	m.state = s
	if cb := m.cbs.OnStateChange; cb != nil {
		info := m.infoLocked()
		*after = append(*after, func() { cb(s, info) })
	}
}

func (m *machine) infoLocked() Info {
	return Info{
		State:              m.state,
		ReconnectAttempts:  m.attempts,
		LastError:          m.lastErr,
		LastConnectedAt:    m.lastConnectedAt,
		LastDisconnectedAt: m.lastDisconnectedAt,
	}
}

// Connect opens the receive channel, or settles in offline when the
// environment has no connectivity.
func (m *machine) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return ErrDisposed
	}
	m.manual = false
	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return nil
	}
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return err
	}
	var after []func()
	m.connectLocked(&after)
	m.mu.Unlock()
	run(after)
	return nil
}

// connectLocked is the connect routine shared by Connect, Reconnect, and
// the reconnect timer.
func (m *machine) connectLocked(after *[]func()) {
	if !m.monitor.Online() {
		m.setStateLocked(StateOffline, after)
		return
	}
	m.gen++
	gen := m.gen
	connCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.setStateLocked(StateConnecting, after)
	go m.runConn(connCtx, gen)
}

func (m *machine) runConn(ctx context.Context, gen int) {
	c, err := m.dial(ctx)
	if err != nil {
		m.connClosed(gen, err)
		return
	}

	m.mu.Lock()
	if m.disposed || gen != m.gen {
		m.mu.Unlock()
		_ = c.close()
		return
	}
	m.conn = c
	prevAttempts := m.attempts
	m.attempts = 0
	m.lastErr = nil
	m.lastConnectedAt = time.Now()
	var after []func()
	m.setStateLocked(StateConnected, &after)
	cbs := m.cbs
	m.mu.Unlock()

	run(after)
	if prevAttempts > 0 {
		if cbs.OnReconnected != nil {
			cbs.OnReconnected(prevAttempts)
		}
	} else if cbs.OnConnect != nil {
		cbs.OnConnect()
	}

	for {
		payload, err := c.read()
		if err != nil {
			m.connClosed(gen, err)
			return
		}
		m.dispatch(payload)
	}
}

// connClosed handles a channel error or close from connection gen.
func (m *machine) connClosed(gen int, err error) {
	m.mu.Lock()
	if m.disposed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.close()
		m.conn = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.lastErr = err
	m.lastDisconnectedAt = time.Now()
	cbs := m.cbs
	reason := "connection closed"
	if err != nil {
		reason = err.Error()
	}
	var after []func()
	if m.manual {
		m.setStateLocked(StateDisconnected, &after)
	} else {
		m.scheduleReconnectLocked(&after)
	}
	m.mu.Unlock()

	if cbs.OnDisconnect != nil {
		cbs.OnDisconnect(reason)
	}
	if err != nil && cbs.OnError != nil {
		cbs.OnError(err)
	}
	run(after)
}

func (m *machine) scheduleReconnectLocked(after *[]func()) {
	if !m.monitor.Online() {
		m.setStateLocked(StateOffline, after)
		return
	}
	if m.cfg.MaxReconnectAttempts > 0 && m.attempts >= m.cfg.MaxReconnectAttempts {
		attempts := m.attempts
		m.setStateLocked(StateDisconnected, after)
		if cb := m.cbs.OnReconnectFailed; cb != nil {
			*after = append(*after, func() { cb(attempts) })
		}
		return
	}
	m.attempts++
	attempt := m.attempts
	delay := backoffDelay(m.cfg, attempt, m.rng)
	m.setStateLocked(StateReconnecting, after)
	if cb := m.cbs.OnReconnecting; cb != nil {
		*after = append(*after, func() { cb(attempt, delay) })
	}
	m.timer = time.AfterFunc(delay, m.timerFired)
}

func (m *machine) timerFired() {
	m.mu.Lock()
	if m.disposed || m.manual || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	var after []func()
	m.connectLocked(&after)
	m.mu.Unlock()
	run(after)
}

// teardownLocked tears down any live connection and pending timer and
// invalidates their callbacks.
func (m *machine) teardownLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.close()
		m.conn = nil
	}
}

// Disconnect settles in disconnected and suppresses auto-reconnect until
// the next Connect or Reconnect.
func (m *machine) Disconnect() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.manual = true
	wasIdle := m.state == StateDisconnected
	m.teardownLocked()
	if !wasIdle {
		m.lastDisconnectedAt = time.Now()
	}
	var after []func()
	m.setStateLocked(StateDisconnected, &after)
	cbs := m.cbs
	m.mu.Unlock()

	if !wasIdle && cbs.OnDisconnect != nil {
		cbs.OnDisconnect("client disconnect")
	}
	run(after)
}

// Reconnect tears down any existing connection, resets the attempt
// counter, and connects immediately, bypassing backoff.
func (m *machine) Reconnect() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.manual = false
	m.teardownLocked()
	m.attempts = 0
	var after []func()
	m.connectLocked(&after)
	m.mu.Unlock()
	run(after)
}

func (m *machine) networkChange(online bool) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	cbs := m.cbs
	var after []func()
	if !online {
		switch m.state {
		case StateConnected, StateConnecting, StateReconnecting:
			m.teardownLocked()
			m.setStateLocked(StateOffline, &after)
			m.mu.Unlock()
			if cbs.OnOffline != nil {
				cbs.OnOffline()
			}
			run(after)
			return
		}
		m.mu.Unlock()
		return
	}

	if m.state == StateOffline && !m.manual {
		m.scheduleReconnectLocked(&after)
		m.mu.Unlock()
		if cbs.OnOnline != nil {
			cbs.OnOnline()
		}
		run(after)
		return
	}
	m.mu.Unlock()
}

// Dispose is terminal: stops the monitor observer, tears down the
// connection and timer, and clears the handler registry. No callbacks
// fire afterwards.
func (m *machine) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	stop := m.stopMonitor
	m.stopMonitor = nil
	m.teardownLocked()
	m.handlers = nil
	m.attempts = 0
	m.state = StateDisconnected
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
}

func (m *machine) OnPayload(h Handler) (remove func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed || h == nil {
		return func() {}
	}
	id := m.nextHandler
	m.nextHandler++
	m.handlers[id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.handlers != nil {
			delete(m.handlers, id)
		}
	}
}

func (m *machine) dispatch(payload any) {
	m.mu.Lock()
	hs := make([]Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		hs = append(hs, h)
	}
	m.mu.Unlock()
	for _, h := range hs {
		invoke(h, payload)
	}
}

// invoke shields the read loop and sibling handlers from a panicking
// subscriber.
func invoke(h Handler, payload any) {
	defer func() { _ = recover() }()
	h(payload)
}

func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *machine) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infoLocked()
}

func (m *machine) Connected() bool {
	return m.State() == StateConnected
}
