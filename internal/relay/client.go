package relay

import (
	"sync"

	"github.com/ricochet1k/driftwire/pkg/events"
)

const outboundBufferSize = 64

// Client is one connected consumer (WebSocket or SSE). The owning
// handler drains Events; Queue never blocks the hub.
type Client struct {
	id    string
	send  chan events.ServerEnvelope
	done  chan struct{}
	mu    sync.RWMutex
	chans map[string]struct{}
	close sync.Once
}

func NewClient(id string) *Client {
	return &Client{
		id:    id,
		send:  make(chan events.ServerEnvelope, outboundBufferSize),
		done:  make(chan struct{}),
		chans: make(map[string]struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Events() <-chan events.ServerEnvelope {
	return c.send
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Queue offers an envelope without blocking. False means the client's
// buffer is full and it should be dropped.
func (c *Client) Queue(env events.ServerEnvelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	c.close.Do(func() {
		close(c.done)
	})
}

func (c *Client) Subscribe(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range channels {
		if name != "" {
			c.chans[name] = struct{}{}
		}
	}
}

func (c *Client) Unsubscribe(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range channels {
		delete(c.chans, name)
	}
}

// IsSubscribed reports whether the client should see events on channel,
// either exactly or through the wildcard.
func (c *Client) IsSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.chans["*"]; ok {
		return true
	}
	_, ok := c.chans[channel]
	return ok
}
