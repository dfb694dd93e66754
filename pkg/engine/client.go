// Package engine is the session facade over the driftwire core: one
// client composes an SSE transport and a channel multiplexer with the
// engine's route conventions, request deadlines, and lifecycle hooks.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ricochet1k/driftwire/pkg/channel"
	"github.com/ricochet1k/driftwire/pkg/events"
	"github.com/ricochet1k/driftwire/pkg/stream"
	"github.com/ricochet1k/driftwire/pkg/transport"
)

const (
	publishPath    = "/v1/channels/publish"
	streamPath     = "/v1/channels/stream"
	executionsPath = "/v1/executions"

	defaultRequestTimeout = 30 * time.Second
)

// Config configures a Client. BaseURL is required.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Header     http.Header

	// RequestTimeout bounds outbound publishes without their own
	// deadline. Default 30s.
	RequestTimeout time.Duration

	Transport transport.Config
	Callbacks transport.Callbacks
	Monitor   transport.NetworkMonitor
}

// Client is the engine session facade. Construct one per session with
// NewClient; there is no shared default instance.
type Client struct {
	cfg      Config
	http     *http.Client
	channels *channel.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("engine: BaseURL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	c := &Client{cfg: cfg, http: cfg.HTTPClient}
	t := transport.NewSSETransport(transport.SSEOptions{
		BuildURL:   c.streamURL,
		Send:       c.postEvent,
		HTTPClient: cfg.HTTPClient,
		Header:     cfg.Header,
		Config:     cfg.Transport,
		Callbacks:  cfg.Callbacks,
		Monitor:    cfg.Monitor,
	})
	c.channels = channel.New(t, channel.Options{})
	return c, nil
}

// ExecutionChannel names the event channel for one execution.
func ExecutionChannel(executionID string) string {
	return "executions." + executionID
}

// Subscribe registers a handler for the named channels. The transport
// connects when the first handler arrives and disconnects when the last
// one leaves.
func (c *Client) Subscribe(channels []string, h channel.Handler) (unsubscribe func()) {
	return c.channels.Subscribe(channels, h)
}

// Publish sends one event to the engine over HTTP and returns the
// decoded response body.
func (c *Client) Publish(ctx context.Context, channelName, eventType string, payload any) (any, error) {
	return c.channels.Publish(ctx, channelName, eventType, payload)
}

// Events subscribes to one execution's event channel, decoding payloads
// into engine events. Undecodable payloads are reported to OnError and
// skipped.
func (c *Client) Events(executionID string, h func(ev events.Event)) (unsubscribe func()) {
	return c.Subscribe([]string{ExecutionChannel(executionID)}, func(ce events.ChannelEvent) {
		ev, err := events.DecodeEvent(ce.Payload)
		if err != nil {
			if cb := c.cfg.Callbacks.OnError; cb != nil {
				cb(err)
			}
			return
		}
		h(ev)
	})
}

// Run feeds one execution's event stream through a processor, in arrival
// order, until unsubscribed.
func (c *Client) Run(executionID string, p *stream.Processor) (unsubscribe func()) {
	run := stream.NewRun()
	return c.Events(executionID, func(ev events.Event) {
		p.ProcessEvent(ev, run)
	})
}

func (c *Client) Reconnect()             { c.channels.Reconnect() }
func (c *Client) Disconnect()            { c.channels.Disconnect() }
func (c *Client) Dispose()               { c.channels.Dispose() }
func (c *Client) Connected() bool        { return c.channels.Connected() }
func (c *Client) State() transport.State { return c.channels.State() }
func (c *Client) Info() transport.Info   { return c.channels.Info() }

func (c *Client) streamURL() (string, error) {
	return c.cfg.BaseURL + streamPath, nil
}

// postEvent is the transport's send path: a plain request/response call,
// deliberately independent of the receive channel's connection state.
func (c *Client) postEvent(ctx context.Context, data any) (any, error) {
	var out any
	err := c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+publishPath, data, &out)
	return out, err
}

// Execution is the engine's execution history record.
type Execution struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// ListExecutions fetches the execution history.
func (c *Client) ListExecutions(ctx context.Context) ([]Execution, error) {
	var out []Execution
	if err := c.doJSON(ctx, http.MethodGet, c.cfg.BaseURL+executionsPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetExecution fetches a single execution record.
func (c *Client) GetExecution(ctx context.Context, executionID string) (*Execution, error) {
	var out Execution
	if err := c.doJSON(ctx, http.MethodGet, c.cfg.BaseURL+executionsPath+"/"+executionID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("engine: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	for key, values := range c.cfg.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapAbort(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("engine: %s %s: status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapAbort(err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("engine: decode response: %w", err)
	}
	return nil
}
