package events

// Wire envelopes for the relay's WebSocket surface. Clients drive the
// subscription set; the server pushes channel events back.

type ClientMessageType string

const (
	ClientMessageTypeSubscribe   ClientMessageType = "subscribe"
	ClientMessageTypeUnsubscribe ClientMessageType = "unsubscribe"
	ClientMessageTypePing        ClientMessageType = "ping"
)

type ServerMessageType string

const (
	ServerMessageTypeEvent ServerMessageType = "event"
	ServerMessageTypeError ServerMessageType = "error"
	ServerMessageTypePong  ServerMessageType = "pong"
)

type ClientEnvelope struct {
	Type     ClientMessageType `json:"type"`
	Channels []string          `json:"channels,omitempty"`
}

type ServerEnvelope struct {
	Type    ServerMessageType `json:"type"`
	Event   *ChannelEvent     `json:"event,omitempty"`
	Message string            `json:"message,omitempty"`
}
