// Package stream folds an ordered engine event sequence into conversation
// state: a growing message list with streamed text, tool calls, and
// tool results patched back in place.
package stream

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleEvent     Role = "event"
)

type BlockType string

const (
	BlockTypeText       BlockType = "text"
	BlockTypeReasoning  BlockType = "reasoning"
	BlockTypeToolUse    BlockType = "tool_use"
	BlockTypeToolResult BlockType = "tool_result"
)

// ContentBlock is one element of a message's content. Which fields are
// meaningful depends on Type: Text for text/reasoning blocks; ToolUseID,
// Name, Input for tool_use; ToolUseID, Name, Content, IsError for
// tool_result. ToolResult is absent at creation and patched onto a
// tool_use block when its result arrives.
type ContentBlock struct {
	Type       BlockType      `json:"type"`
	Text       string         `json:"text,omitempty"`
	ToolUseID  string         `json:"toolUseId,omitempty"`
	Name       string         `json:"name,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Content    []ContentBlock `json:"content,omitempty"`
	IsError    bool           `json:"isError,omitempty"`
	ToolResult *ContentBlock  `json:"toolResult,omitempty"`
}

type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt,omitempty"`
}
