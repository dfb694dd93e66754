package channel

import (
	"context"
	"sync"
	"testing"

	"github.com/ricochet1k/driftwire/pkg/events"
	"github.com/ricochet1k/driftwire/pkg/transport"
)

// fakeTransport records lifecycle calls and lets tests inject payloads
// through the registered handler.
type fakeTransport struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	reconnects  int
	disposed    bool
	connected   bool
	handler     transport.Handler
	sent        []events.ChannelEvent
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeTransport) Reconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	f.connected = true
}

func (f *fakeTransport) Dispose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
	f.connected = false
}

func (f *fakeTransport) Send(ctx context.Context, data any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev, ok := data.(events.ChannelEvent); ok {
		f.sent = append(f.sent, ev)
	}
	return "sent", nil
}

func (f *fakeTransport) OnPayload(h transport.Handler) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handler = nil
	}
}

func (f *fakeTransport) State() transport.State {
	if f.Connected() {
		return transport.StateConnected
	}
	return transport.StateDisconnected
}

func (f *fakeTransport) Info() transport.Info { return transport.Info{State: f.State()} }

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) inject(payload any) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (f *fakeTransport) counts() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

func event(channel string) events.ChannelEvent {
	return events.ChannelEvent{Channel: channel, Type: "event"}
}

func TestClient_SubscribeConnectsOnce(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{})
	defer c.Dispose()

	unsubA := c.Subscribe([]string{"a"}, func(events.ChannelEvent) {})
	unsubB := c.Subscribe([]string{"b"}, func(events.ChannelEvent) {})
	defer unsubA()
	defer unsubB()

	if connects, _ := ft.counts(); connects != 1 {
		t.Errorf("expected 1 connect, got %d", connects)
	}
}

func TestClient_ChannelIsolation(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{})
	defer c.Dispose()

	var gotA, gotB []string
	c.Subscribe([]string{"a"}, func(ev events.ChannelEvent) { gotA = append(gotA, ev.Channel) })
	c.Subscribe([]string{"b"}, func(ev events.ChannelEvent) { gotB = append(gotB, ev.Channel) })

	ft.inject(event("a"))
	ft.inject(event("a"))
	ft.inject(event("b"))

	if len(gotA) != 2 {
		t.Errorf("expected handler a to see 2 events, got %d", len(gotA))
	}
	if len(gotB) != 1 {
		t.Errorf("expected handler b to see 1 event, got %d", len(gotB))
	}
}

func TestClient_WildcardIsAdditive(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{})
	defer c.Dispose()

	exact := 0
	wild := 0
	c.Subscribe([]string{"a"}, func(events.ChannelEvent) { exact++ })
	c.Subscribe([]string{Wildcard}, func(events.ChannelEvent) { wild++ })

	ft.inject(event("a"))
	ft.inject(event("other"))

	if exact != 1 {
		t.Errorf("expected exact handler to fire once, got %d", exact)
	}
	if wild != 2 {
		t.Errorf("expected wildcard handler to fire for both events, got %d", wild)
	}
}

func TestClient_LastUnsubscribeDisconnects(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{})
	defer c.Dispose()

	unsubA := c.Subscribe([]string{"a"}, func(events.ChannelEvent) {})
	unsubB := c.Subscribe([]string{"a", "b"}, func(events.ChannelEvent) {})

	unsubA()
	if _, disconnects := ft.counts(); disconnects != 0 {
		t.Errorf("disconnected while subscriptions remain: %d", disconnects)
	}

	unsubB()
	if _, disconnects := ft.counts(); disconnects != 1 {
		t.Errorf("expected exactly 1 disconnect after last unsubscribe, got %d", disconnects)
	}

	// calling an unsubscribe func again must not disconnect twice
	unsubB()
	unsubA()
	if _, disconnects := ft.counts(); disconnects != 1 {
		t.Errorf("repeat unsubscribe changed disconnect count: %d", disconnects)
	}
}

func TestClient_ResubscribeReconnects(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{})
	defer c.Dispose()

	unsub := c.Subscribe([]string{"a"}, func(events.ChannelEvent) {})
	unsub()
	c.Subscribe([]string{"a"}, func(events.ChannelEvent) {})

	if connects, _ := ft.counts(); connects != 2 {
		t.Errorf("expected 2 connects across subscribe cycles, got %d", connects)
	}
}

func TestClient_PublishThroughTransport(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{})
	defer c.Dispose()

	out, err := c.Publish(context.Background(), "executions.1", "user_input", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if out != "sent" {
		t.Errorf("unexpected publish result: %v", out)
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.sent) != 1 {
		t.Fatalf("expected 1 sent event, got %d", len(ft.sent))
	}
	sent := ft.sent[0]
	if sent.Channel != "executions.1" || sent.Type != "user_input" {
		t.Errorf("unexpected envelope: %+v", sent)
	}
	if payload, ok := sent.Payload.(map[string]any); !ok || payload["text"] != "hi" {
		t.Errorf("payload lost: %#v", sent.Payload)
	}
}

func TestClient_PublishOverride(t *testing.T) {
	ft := &fakeTransport{}
	var published []string
	c := New(ft, Options{
		Publish: func(ctx context.Context, channel, eventType string, payload any) (any, error) {
			published = append(published, channel+"/"+eventType)
			return nil, nil
		},
	})
	defer c.Dispose()

	if _, err := c.Publish(context.Background(), "a", "t", nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(published) != 1 || published[0] != "a/t" {
		t.Errorf("override not used: %v", published)
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.sent) != 0 {
		t.Errorf("transport Send used despite override: %d", len(ft.sent))
	}
}

func TestClient_NonChannelPayloadsDropped(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{})
	defer c.Dispose()

	fired := 0
	c.Subscribe([]string{Wildcard}, func(events.ChannelEvent) { fired++ })

	ft.inject("not an event")
	ft.inject(map[string]any{"channel": "a"})
	ft.inject(nil)

	if fired != 0 {
		t.Errorf("expected no dispatches for non-events, got %d", fired)
	}
}

func TestClient_PanickingHandlerDoesNotStopSiblings(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{})
	defer c.Dispose()

	sibling := 0
	c.Subscribe([]string{"a"}, func(events.ChannelEvent) { panic("boom") })
	c.Subscribe([]string{"a"}, func(events.ChannelEvent) { sibling++ })

	ft.inject(event("a"))
	if sibling != 1 {
		t.Errorf("sibling handler skipped after panic: %d", sibling)
	}
}

func TestClient_ReconnectNoopWhenEmpty(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{})
	defer c.Dispose()

	c.Reconnect()
	ft.mu.Lock()
	reconnects := ft.reconnects
	ft.mu.Unlock()
	if reconnects != 0 {
		t.Errorf("expected no reconnect with empty registry, got %d", reconnects)
	}

	c.Subscribe([]string{"a"}, func(events.ChannelEvent) {})
	c.Reconnect()
	ft.mu.Lock()
	reconnects = ft.reconnects
	ft.mu.Unlock()
	if reconnects != 1 {
		t.Errorf("expected 1 reconnect, got %d", reconnects)
	}
}

func TestClient_DisconnectClearsRegistry(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{})
	defer c.Dispose()

	fired := 0
	c.Subscribe([]string{"a"}, func(events.ChannelEvent) { fired++ })
	c.Disconnect()

	ft.inject(event("a"))
	if fired != 0 {
		t.Errorf("handler fired after Disconnect cleared the registry: %d", fired)
	}
	if _, disconnects := ft.counts(); disconnects != 1 {
		t.Errorf("expected 1 transport disconnect, got %d", disconnects)
	}
}

func TestClient_DisposeOwnership(t *testing.T) {
	owned := &fakeTransport{}
	c := New(owned, Options{})
	c.Dispose()
	owned.mu.Lock()
	if !owned.disposed {
		t.Error("owned transport not disposed")
	}
	owned.mu.Unlock()

	borrowed := &fakeTransport{}
	c = New(borrowed, Options{DoNotOwnTransport: true})
	c.Dispose()
	borrowed.mu.Lock()
	if borrowed.disposed {
		t.Error("borrowed transport disposed")
	}
	if borrowed.handler != nil {
		t.Error("raw payload subscription not removed on Dispose")
	}
	borrowed.mu.Unlock()
}

func TestClient_SubscribeAfterDisposeIsNoop(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, Options{})
	c.Dispose()

	unsub := c.Subscribe([]string{"a"}, func(events.ChannelEvent) {})
	unsub()
	if connects, _ := ft.counts(); connects != 0 {
		t.Errorf("disposed client connected transport: %d", connects)
	}
	if _, err := c.Publish(context.Background(), "a", "t", nil); err != transport.ErrDisposed {
		t.Errorf("expected ErrDisposed from Publish, got %v", err)
	}
}
