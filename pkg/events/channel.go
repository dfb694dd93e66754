package events

// ChannelEvent is the envelope every multiplexed payload travels in. Channel
// names a logical stream; Type discriminates payloads within it.
type ChannelEvent struct {
	Channel  string         `json:"channel"`
	Type     string         `json:"type"`
	Payload  any            `json:"payload,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Classifier decides whether a raw transport payload is a ChannelEvent.
// It must be a pure function; payloads it rejects are dropped silently.
type Classifier func(payload any) (ChannelEvent, bool)

// AsChannelEvent is the default classifier. It accepts ChannelEvent values
// and decoded JSON objects carrying non-empty string "channel" and "type"
// fields. Anything else is not a channel event.
func AsChannelEvent(payload any) (ChannelEvent, bool) {
	switch v := payload.(type) {
	case ChannelEvent:
		if v.Channel == "" || v.Type == "" {
			return ChannelEvent{}, false
		}
		return v, true
	case *ChannelEvent:
		if v == nil || v.Channel == "" || v.Type == "" {
			return ChannelEvent{}, false
		}
		return *v, true
	case map[string]any:
		channel, _ := v["channel"].(string)
		typ, _ := v["type"].(string)
		if channel == "" || typ == "" {
			return ChannelEvent{}, false
		}
		metadata, _ := v["metadata"].(map[string]any)
		return ChannelEvent{
			Channel:  channel,
			Type:     typ,
			Payload:  v["payload"],
			Metadata: metadata,
		}, true
	default:
		return ChannelEvent{}, false
	}
}
