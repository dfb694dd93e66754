package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SendFunc performs the outbound request/response call for transports
// whose send path is independent of the receive channel.
type SendFunc func(ctx context.Context, data any) (any, error)

// SSEOptions configure an SSETransport.
type SSEOptions struct {
	// BuildURL returns the receive-channel endpoint. It is called on
	// every connect attempt so session parameters stay fresh.
	BuildURL func() (string, error)

	// Send performs outbound calls. Optional; Send on the transport
	// returns ErrNoSender when absent.
	Send SendFunc

	HTTPClient *http.Client
	Header     http.Header

	Config    Config
	Callbacks Callbacks
	Monitor   NetworkMonitor
}

// SSETransport receives payloads over a text event stream (`data: <JSON>`
// lines) and sends through a separate request/response call. Sends are
// never blocked by the receive channel's connection state.
type SSETransport struct {
	*machine
	opts SSEOptions
}

func NewSSETransport(opts SSEOptions) *SSETransport {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	t := &SSETransport{opts: opts}
	t.machine = newMachine(opts.Config, opts.Callbacks, opts.Monitor, t.dialSSE)
	return t
}

func (t *SSETransport) Send(ctx context.Context, data any) (any, error) {
	if t.opts.Send == nil {
		return nil, ErrNoSender
	}
	return t.opts.Send(ctx, data)
}

func (t *SSETransport) dialSSE(ctx context.Context) (transportConn, error) {
	if t.opts.BuildURL == nil {
		return nil, errors.New("sse transport: BuildURL not configured")
	}
	url, err := t.opts.BuildURL()
	if err != nil {
		return nil, fmt.Errorf("sse transport: build url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("sse transport: %w", err)
	}
	for key, values := range t.opts.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("sse transport: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseConn{body: resp.Body, scanner: scanner}, nil
}

type sseConn struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// read returns the next decoded `data:` payload. Payloads that fail to
// parse as JSON are delivered as the raw string rather than surfaced as
// errors.
func (c *sseConn) read() (any, error) {
	for c.scanner.Scan() {
		line := c.scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// event names, ids, comments, and blank separator lines
			continue
		}
		data = strings.TrimPrefix(data, " ")
		var payload any
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return data, nil
		}
		return payload, nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (c *sseConn) close() error {
	return c.body.Close()
}
