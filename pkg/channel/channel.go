// Package channel multiplexes many named pub/sub channels over a single
// transport, deciding from its subscription registry when the underlying
// connection should be up at all.
package channel

import (
	"context"
	"sync"

	"github.com/ricochet1k/driftwire/pkg/events"
	"github.com/ricochet1k/driftwire/pkg/transport"
)

// Wildcard subscribes a handler to every dispatched event regardless of
// channel. Wildcard handlers run in addition to exact-match handlers,
// never instead of them.
const Wildcard = "*"

// Handler receives one classified channel event.
type Handler func(ev events.ChannelEvent)

// PublishFunc overrides the outbound path, letting callers route
// publishes through e.g. HTTP while events arrive over a push channel.
type PublishFunc func(ctx context.Context, channel, eventType string, payload any) (any, error)

// Options configure a Client.
type Options struct {
	// Classifier decides which raw payloads are channel events.
	// Defaults to events.AsChannelEvent.
	Classifier events.Classifier

	// Publish overrides Transport.Send for outbound events.
	Publish PublishFunc

	// DoNotOwnTransport leaves transport disposal to the caller.
	// By default Dispose also disposes the transport.
	DoNotOwnTransport bool
}

// Client is the channel multiplexer. It holds exactly one payload
// subscription on the transport; all fan-out is internal.
type Client struct {
	transport transport.Transport
	classify  events.Classifier
	publish   PublishFunc
	owns      bool

	mu        sync.Mutex
	handlers  map[string]map[uint64]Handler
	nextID    uint64
	removeRaw func()
	disposed  bool
}

func New(t transport.Transport, opts Options) *Client {
	c := &Client{
		transport: t,
		classify:  opts.Classifier,
		publish:   opts.Publish,
		owns:      !opts.DoNotOwnTransport,
		handlers:  make(map[string]map[uint64]Handler),
	}
	if c.classify == nil {
		c.classify = events.AsChannelEvent
	}
	c.removeRaw = t.OnPayload(c.dispatch)
	return c
}

// Subscribe registers handler on every named channel and connects the
// transport if it is not already connected. The returned func removes the
// handler everywhere it was added; calling it more than once is a no-op.
// When the last handler of the last channel is removed the transport is
// disconnected.
func (c *Client) Subscribe(channels []string, h Handler) (unsubscribe func()) {
	if h == nil || len(channels) == 0 {
		return func() {}
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return func() {}
	}
	id := c.nextID
	c.nextID++
	added := make([]string, 0, len(channels))
	for _, name := range channels {
		if name == "" {
			continue
		}
		set := c.handlers[name]
		if set == nil {
			set = make(map[uint64]Handler)
			c.handlers[name] = set
		}
		set[id] = h
		added = append(added, name)
	}
	needConnect := len(c.handlers) > 0 && !c.transport.Connected()
	c.mu.Unlock()

	if needConnect {
		_ = c.transport.Connect(context.Background())
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.remove(id, added) })
	}
}

func (c *Client) remove(id uint64, names []string) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	for _, name := range names {
		set := c.handlers[name]
		if set == nil {
			continue
		}
		delete(set, id)
		if len(set) == 0 {
			delete(c.handlers, name)
		}
	}
	empty := len(c.handlers) == 0
	c.mu.Unlock()

	if empty {
		c.transport.Disconnect()
	}
}

// Publish sends an event through the publish override when one was
// configured, otherwise through Transport.Send as a ChannelEvent.
func (c *Client) Publish(ctx context.Context, channelName, eventType string, payload any) (any, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, transport.ErrDisposed
	}
	c.mu.Unlock()

	if c.publish != nil {
		return c.publish(ctx, channelName, eventType, payload)
	}
	return c.transport.Send(ctx, events.ChannelEvent{
		Channel: channelName,
		Type:    eventType,
		Payload: payload,
	})
}

// dispatch classifies one raw transport payload and fans it out to the
// exact-match handlers and then the wildcard handlers. Payloads that are
// not channel events are dropped.
func (c *Client) dispatch(payload any) {
	ev, ok := c.classify(payload)
	if !ok {
		return
	}

	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[ev.Channel])+len(c.handlers[Wildcard]))
	for _, h := range c.handlers[ev.Channel] {
		hs = append(hs, h)
	}
	if ev.Channel != Wildcard {
		for _, h := range c.handlers[Wildcard] {
			hs = append(hs, h)
		}
	}
	c.mu.Unlock()

	for _, h := range hs {
		call(h, ev)
	}
}

// call shields sibling handlers and the dispatch loop from a panicking
// subscriber.
func call(h Handler, ev events.ChannelEvent) {
	defer func() { _ = recover() }()
	h(ev)
}

// Reconnect forces a transport reconnect, unless nothing is subscribed.
func (c *Client) Reconnect() {
	c.mu.Lock()
	empty := len(c.handlers) == 0 || c.disposed
	c.mu.Unlock()
	if empty {
		return
	}
	c.transport.Reconnect()
}

// Disconnect clears the entire registry and disconnects the transport.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.handlers = make(map[string]map[uint64]Handler)
	c.mu.Unlock()
	c.transport.Disconnect()
}

// Dispose removes the client's transport subscription, clears the
// registry, and disposes the transport when owned. Terminal.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	removeRaw := c.removeRaw
	c.removeRaw = nil
	c.handlers = nil
	owns := c.owns
	c.mu.Unlock()

	if removeRaw != nil {
		removeRaw()
	}
	if owns {
		c.transport.Dispose()
	}
}

func (c *Client) Transport() transport.Transport { return c.transport }
func (c *Client) Connected() bool                { return c.transport.Connected() }
func (c *Client) State() transport.State         { return c.transport.State() }
func (c *Client) Info() transport.Info           { return c.transport.Info() }
