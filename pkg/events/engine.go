package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminates engine protocol events within one execution.
type EventType string

const (
	EventTypeExecutionStart EventType = "execution_start"
	EventTypeExecutionEnd   EventType = "execution_end"
	EventTypeAgentStart     EventType = "agent_start"
	EventTypeAgentEnd       EventType = "agent_end"
	EventTypeTickStart      EventType = "tick_start"
	EventTypeTickEnd        EventType = "tick_end"
	EventTypeMessageStart   EventType = "message_start"
	EventTypeMessageEnd     EventType = "message_end"
	EventTypeContentStart   EventType = "content_start"
	EventTypeContentDelta   EventType = "content_delta"
	EventTypeContentEnd     EventType = "content_end"
	EventTypeReasoningDelta EventType = "reasoning_delta"
	EventTypeToolCall       EventType = "tool_call"
	EventTypeToolResult     EventType = "tool_result"
	EventTypeError          EventType = "error"
	EventTypeEngineError    EventType = "engine_error"
)

// Event is one engine protocol event. Data carries the type-specific
// payload struct, or nil for events with no payload.
type Event struct {
	ID        string
	Tick      int
	Timestamp time.Time
	Type      EventType
	Data      any
}

type ExecutionStartData struct {
	ThreadID string
}

type ExecutionEndData struct {
	Output any
}

type AgentEndData struct {
	Output any
}

type ContentDeltaData struct {
	Delta     string
	BlockType string
}

type ReasoningDeltaData struct {
	Delta string
}

type ToolCallData struct {
	ToolUseID string
	Name      string
	Input     map[string]any
}

type ToolResultData struct {
	ToolUseID string
	Name      string
	Content   any
	IsError   bool
}

type ErrorData struct {
	Message string
}

func NewContentDeltaEvent(id string, tick int, delta, blockType string) Event {
	return Event{
		ID:        id,
		Tick:      tick,
		Timestamp: time.Now(),
		Type:      EventTypeContentDelta,
		Data:      ContentDeltaData{Delta: delta, BlockType: blockType},
	}
}

func NewToolCallEvent(id string, tick int, toolUseID, name string, input map[string]any) Event {
	return Event{
		ID:        id,
		Tick:      tick,
		Timestamp: time.Now(),
		Type:      EventTypeToolCall,
		Data:      ToolCallData{ToolUseID: toolUseID, Name: name, Input: input},
	}
}

func NewToolResultEvent(id string, tick int, toolUseID, name string, content any, isError bool) Event {
	return Event{
		ID:        id,
		Tick:      tick,
		Timestamp: time.Now(),
		Type:      EventTypeToolResult,
		Data:      ToolResultData{ToolUseID: toolUseID, Name: name, Content: content, IsError: isError},
	}
}

// wireEvent is the flat JSON shape engine events travel in. Field presence
// depends on the type tag.
type wireEvent struct {
	ID        string         `json:"id"`
	Tick      int            `json:"tick"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	ThreadID  string         `json:"threadId,omitempty"`
	Output    any            `json:"output,omitempty"`
	Delta     string         `json:"delta,omitempty"`
	BlockType string         `json:"blockType,omitempty"`
	ToolUseID string         `json:"toolUseId,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Content   any            `json:"content,omitempty"`
	IsError   bool           `json:"isError,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ParseEvent decodes a single engine event from JSON. Unknown type tags
// decode successfully with nil Data so the fold can treat them as no-ops.
func ParseEvent(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, fmt.Errorf("parse engine event: %w", err)
	}
	if w.Type == "" {
		return Event{}, fmt.Errorf("parse engine event: missing type tag")
	}
	return w.toEvent(), nil
}

// DecodeEvent converts an already-decoded payload (typically a
// map[string]any from a ChannelEvent) into an Event.
func DecodeEvent(payload any) (Event, error) {
	if ev, ok := payload.(Event); ok {
		return ev, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("decode engine event: %w", err)
	}
	return ParseEvent(raw)
}

func (w wireEvent) toEvent() Event {
	ev := Event{
		ID:        w.ID,
		Tick:      w.Tick,
		Timestamp: w.Timestamp,
		Type:      w.Type,
	}

	switch w.Type {
	case EventTypeExecutionStart:
		ev.Data = ExecutionStartData{ThreadID: w.ThreadID}
	case EventTypeExecutionEnd:
		ev.Data = ExecutionEndData{Output: w.Output}
	case EventTypeAgentEnd:
		ev.Data = AgentEndData{Output: w.Output}
	case EventTypeContentDelta:
		ev.Data = ContentDeltaData{Delta: w.Delta, BlockType: w.BlockType}
	case EventTypeReasoningDelta:
		ev.Data = ReasoningDeltaData{Delta: w.Delta}
	case EventTypeToolCall:
		ev.Data = ToolCallData{ToolUseID: w.ToolUseID, Name: w.Name, Input: w.Input}
	case EventTypeToolResult:
		ev.Data = ToolResultData{ToolUseID: w.ToolUseID, Name: w.Name, Content: w.Content, IsError: w.IsError}
	case EventTypeError, EventTypeEngineError:
		ev.Data = ErrorData{Message: w.Error}
	}
	return ev
}

// MarshalJSON flattens the typed payload back into the wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		ID:        e.ID,
		Tick:      e.Tick,
		Timestamp: e.Timestamp,
		Type:      e.Type,
	}

	switch d := e.Data.(type) {
	case ExecutionStartData:
		w.ThreadID = d.ThreadID
	case ExecutionEndData:
		w.Output = d.Output
	case AgentEndData:
		w.Output = d.Output
	case ContentDeltaData:
		w.Delta = d.Delta
		w.BlockType = d.BlockType
	case ReasoningDeltaData:
		w.Delta = d.Delta
	case ToolCallData:
		w.ToolUseID = d.ToolUseID
		w.Name = d.Name
		w.Input = d.Input
	case ToolResultData:
		w.ToolUseID = d.ToolUseID
		w.Name = d.Name
		w.Content = d.Content
		w.IsError = d.IsError
	case ErrorData:
		w.Error = d.Message
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *Event) UnmarshalJSON(raw []byte) error {
	ev, err := ParseEvent(raw)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}
