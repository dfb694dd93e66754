package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ricochet1k/driftwire/pkg/events"
)

// Callbacks are the processor's optional notification hooks.
type Callbacks struct {
	// OnMessagesChange receives the full message list after every
	// mutation. The list is a fresh slice each time, so holding the
	// previous value and comparing references detects change.
	OnMessagesChange func(messages []Message)

	// OnThreadChange receives the engine thread id when an execution
	// starts; "" means the thread id was cleared.
	OnThreadChange func(threadID string)

	// OnComplete receives the final output of an execution.
	OnComplete func(output any)

	// OnError receives terminal run errors. Accumulated state is kept;
	// callers decide whether to Clear.
	OnError func(err error)
}

// location records where a tool_use block lives so its result can be
// patched back without scanning the message list.
type location struct {
	messageID  string
	blockIndex int
}

// Processor folds engine events into an append-only message list. One
// instance serves one logical conversation; Clear resets it for reuse.
type Processor struct {
	cbs Callbacks

	mu       sync.Mutex
	messages []Message
	toolUses map[string]location
}

func NewProcessor(cbs Callbacks) *Processor {
	return &Processor{
		cbs:      cbs,
		messages: []Message{},
		toolUses: make(map[string]location),
	}
}

// Run is the per-execution fold context: the assistant message id events
// accumulate into, and whether its placeholder has been inserted yet.
type Run struct {
	AssistantMessageID string
	Added              bool
}

func NewRun() *Run {
	return &Run{AssistantMessageID: uuid.NewString()}
}

// ProcessEvent folds one event into the conversation. Events must be
// supplied in arrival order; processing is synchronous.
func (p *Processor) ProcessEvent(ev events.Event, run *Run) {
	switch ev.Type {
	case events.EventTypeExecutionStart:
		if d, ok := ev.Data.(events.ExecutionStartData); ok && d.ThreadID != "" {
			if cb := p.cbs.OnThreadChange; cb != nil {
				cb(d.ThreadID)
			}
		}

	case events.EventTypeExecutionEnd:
		if d, ok := ev.Data.(events.ExecutionEndData); ok && d.Output != nil {
			if cb := p.cbs.OnComplete; cb != nil {
				cb(d.Output)
			}
		}

	case events.EventTypeAgentEnd:
		if d, ok := ev.Data.(events.AgentEndData); ok && d.Output != nil {
			if cb := p.cbs.OnComplete; cb != nil {
				cb(d.Output)
			}
		}

	case events.EventTypeMessageStart:
		p.ensureAssistant(run)

	case events.EventTypeContentDelta:
		d, ok := ev.Data.(events.ContentDeltaData)
		if !ok {
			return
		}
		switch d.BlockType {
		case string(BlockTypeToolUse):
			// informational only; the authoritative call arrives via tool_call
		case string(BlockTypeToolResult):
			p.appendToolResultDelta(run, d.Delta)
		default:
			p.appendTextDelta(run, d.Delta)
		}

	case events.EventTypeReasoningDelta:
		if d, ok := ev.Data.(events.ReasoningDeltaData); ok {
			p.appendReasoningDelta(run, d.Delta)
		}

	case events.EventTypeToolCall:
		if d, ok := ev.Data.(events.ToolCallData); ok {
			p.applyToolCall(run, d)
		}

	case events.EventTypeToolResult:
		if d, ok := ev.Data.(events.ToolResultData); ok {
			p.applyToolResult(d)
		}

	case events.EventTypeError, events.EventTypeEngineError:
		if d, ok := ev.Data.(events.ErrorData); ok {
			if cb := p.cbs.OnError; cb != nil {
				cb(errors.New(d.Message))
			}
		}

	default:
		// tick and block boundary events carry no display state
	}
}

// ensureAssistant lazily inserts the run's assistant placeholder so no
// empty bubble appears before the first content event.
func (p *Processor) ensureAssistant(run *Run) {
	if run.Added {
		return
	}
	run.Added = true
	now := time.Now()
	p.mu.Lock()
	next := append(p.copyLocked(), Message{
		ID:        run.AssistantMessageID,
		Role:      RoleAssistant,
		Content:   []ContentBlock{},
		CreatedAt: now,
		UpdatedAt: now,
	})
	notify := p.commitLocked(next)
	p.mu.Unlock()
	notify()
}

func (p *Processor) appendTextDelta(run *Run, delta string) {
	p.ensureAssistant(run)
	p.mu.Lock()
	idx := p.indexLocked(run.AssistantMessageID)
	if idx < 0 {
		p.mu.Unlock()
		return
	}
	msg := p.messages[idx]
	content := append([]ContentBlock(nil), msg.Content...)
	appended := false
	for i := range content {
		if content[i].Type == BlockTypeText {
			content[i].Text += delta
			appended = true
			break
		}
	}
	if !appended {
		content = append(content, ContentBlock{Type: BlockTypeText, Text: delta})
	}
	notify := p.replaceLocked(idx, msg, content)
	p.mu.Unlock()
	notify()
}

// appendReasoningDelta targets the reasoning block, inserting it at the
// front of the content when newly created: reasoning precedes other
// content positionally.
func (p *Processor) appendReasoningDelta(run *Run, delta string) {
	p.ensureAssistant(run)
	p.mu.Lock()
	idx := p.indexLocked(run.AssistantMessageID)
	if idx < 0 {
		p.mu.Unlock()
		return
	}
	msg := p.messages[idx]
	content := append([]ContentBlock(nil), msg.Content...)
	appended := false
	for i := range content {
		if content[i].Type == BlockTypeReasoning {
			content[i].Text += delta
			appended = true
			break
		}
	}
	if !appended {
		content = append([]ContentBlock{{Type: BlockTypeReasoning, Text: delta}}, content...)
	}
	notify := p.replaceLocked(idx, msg, content)
	p.mu.Unlock()
	notify()
}

// appendToolResultDelta streams partial result text into the most recent
// tool_result block's last text sub-block. Without such a block the
// delta has nowhere to land and is dropped.
func (p *Processor) appendToolResultDelta(run *Run, delta string) {
	p.ensureAssistant(run)
	p.mu.Lock()
	idx := p.indexLocked(run.AssistantMessageID)
	if idx < 0 {
		p.mu.Unlock()
		return
	}
	msg := p.messages[idx]
	content := append([]ContentBlock(nil), msg.Content...)
	target := -1
	for i := len(content) - 1; i >= 0; i-- {
		if content[i].Type == BlockTypeToolResult {
			target = i
			break
		}
	}
	if target < 0 {
		p.mu.Unlock()
		return
	}
	sub := append([]ContentBlock(nil), content[target].Content...)
	appended := false
	for i := len(sub) - 1; i >= 0; i-- {
		if sub[i].Type == BlockTypeText {
			sub[i].Text += delta
			appended = true
			break
		}
	}
	if !appended {
		sub = append(sub, ContentBlock{Type: BlockTypeText, Text: delta})
	}
	content[target].Content = sub
	notify := p.replaceLocked(idx, msg, content)
	p.mu.Unlock()
	notify()
}

// applyToolCall records the block's location in the tool-use index before
// committing the mutation, so a result arriving any time afterwards
// resolves without scanning the message list.
func (p *Processor) applyToolCall(run *Run, d events.ToolCallData) {
	p.ensureAssistant(run)
	p.mu.Lock()
	idx := p.indexLocked(run.AssistantMessageID)
	if idx < 0 {
		p.mu.Unlock()
		return
	}
	msg := p.messages[idx]
	p.toolUses[d.ToolUseID] = location{messageID: msg.ID, blockIndex: len(msg.Content)}
	content := append(append([]ContentBlock(nil), msg.Content...), ContentBlock{
		Type:      BlockTypeToolUse,
		ToolUseID: d.ToolUseID,
		Name:      d.Name,
		Input:     d.Input,
	})
	notify := p.replaceLocked(idx, msg, content)
	p.mu.Unlock()
	notify()
}

// applyToolResult patches the originating tool_use block in place via the
// index, and always appends a standalone tool-role message carrying the
// result for consumers that expect tool results as separate turns.
func (p *Processor) applyToolResult(d events.ToolResultData) {
	result := toolResultBlock(d)
	now := time.Now()

	p.mu.Lock()
	next := p.copyLocked()
	if loc, ok := p.toolUses[d.ToolUseID]; ok {
		if idx := indexOf(next, loc.messageID); idx >= 0 {
			msg := next[idx]
			if loc.blockIndex < len(msg.Content) && msg.Content[loc.blockIndex].Type == BlockTypeToolUse {
				content := append([]ContentBlock(nil), msg.Content...)
				patched := content[loc.blockIndex]
				resultCopy := result
				patched.ToolResult = &resultCopy
				content[loc.blockIndex] = patched
				msg.Content = content
				msg.UpdatedAt = now
				next[idx] = msg
			}
		}
	}
	next = append(next, Message{
		ID:        uuid.NewString(),
		Role:      RoleTool,
		Content:   []ContentBlock{result},
		CreatedAt: now,
		UpdatedAt: now,
	})
	notify := p.commitLocked(next)
	p.mu.Unlock()
	notify()
}

func toolResultBlock(d events.ToolResultData) ContentBlock {
	return ContentBlock{
		Type:      BlockTypeToolResult,
		ToolUseID: d.ToolUseID,
		Name:      d.Name,
		Content:   resultContent(d.Content),
		IsError:   d.IsError,
	}
}

// resultContent normalises a result payload into content sub-blocks,
// wrapping non-array results as a single text block.
func resultContent(v any) []ContentBlock {
	switch c := v.(type) {
	case nil:
		return nil
	case []ContentBlock:
		return c
	case []any:
		blocks := make([]ContentBlock, 0, len(c))
		for _, item := range c {
			blocks = append(blocks, coerceBlock(item))
		}
		return blocks
	case string:
		return []ContentBlock{{Type: BlockTypeText, Text: c}}
	default:
		return []ContentBlock{{Type: BlockTypeText, Text: stringify(c)}}
	}
}

func coerceBlock(item any) ContentBlock {
	switch b := item.(type) {
	case ContentBlock:
		return b
	case string:
		return ContentBlock{Type: BlockTypeText, Text: b}
	case map[string]any:
		if raw, err := json.Marshal(b); err == nil {
			var blk ContentBlock
			if json.Unmarshal(raw, &blk) == nil && blk.Type != "" {
				return blk
			}
		}
	}
	return ContentBlock{Type: BlockTypeText, Text: stringify(item)}
}

func stringify(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

// Messages returns the current message list. The slice is replaced, never
// mutated, on every change.
func (p *Processor) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages
}

// AddMessage appends a message directly, filling in id and timestamps
// when absent, and returns the stored value.
func (p *Processor) AddMessage(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	p.mu.Lock()
	next := append(p.copyLocked(), msg)
	notify := p.commitLocked(next)
	p.mu.Unlock()
	notify()
	return msg
}

// UpdateMessage replaces the message with a matching id. Reports whether
// a message was found.
func (p *Processor) UpdateMessage(msg Message) bool {
	p.mu.Lock()
	idx := p.indexLocked(msg.ID)
	if idx < 0 {
		p.mu.Unlock()
		return false
	}
	msg.UpdatedAt = time.Now()
	next := p.copyLocked()
	next[idx] = msg
	notify := p.commitLocked(next)
	p.mu.Unlock()
	notify()
	return true
}

// Clear empties the message list and the tool-use index and notifies both
// the messages-changed and thread-cleared callbacks. The processor
// remains usable.
func (p *Processor) Clear() {
	p.mu.Lock()
	p.messages = []Message{}
	p.toolUses = make(map[string]location)
	empty := p.messages
	p.mu.Unlock()

	if cb := p.cbs.OnMessagesChange; cb != nil {
		cb(empty)
	}
	if cb := p.cbs.OnThreadChange; cb != nil {
		cb("")
	}
}

func (p *Processor) copyLocked() []Message {
	return append([]Message(nil), p.messages...)
}

func (p *Processor) indexLocked(id string) int {
	return indexOf(p.messages, id)
}

func indexOf(msgs []Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// commitLocked installs the new list and returns the deferred
// messages-changed notification, run after the lock is released.
func (p *Processor) commitLocked(next []Message) func() {
	p.messages = next
	if cb := p.cbs.OnMessagesChange; cb != nil {
		return func() { cb(next) }
	}
	return func() {}
}

// replaceLocked swaps one message's content in a fresh list copy.
func (p *Processor) replaceLocked(idx int, msg Message, content []ContentBlock) func() {
	msg.Content = content
	msg.UpdatedAt = time.Now()
	next := p.copyLocked()
	next[idx] = msg
	return p.commitLocked(next)
}
