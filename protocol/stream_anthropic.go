package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Anthropic SSE dialect.

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index,omitempty"`
	Message *struct {
		ID    string         `json:"id"`
		Model string         `json:"model"`
		Usage anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`
	ContentBlock *anthropicBlock `json:"content_block,omitempty"`
	Delta        *struct {
		Type        string  `json:"type,omitempty"`
		Text        string  `json:"text,omitempty"`
		Thinking    string  `json:"thinking,omitempty"`
		PartialJSON string  `json:"partial_json,omitempty"`
		StopReason  *string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *anthropicUsage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicStreamParser struct {
	blocks     map[int]*ToolCall
	stopReason string
	started    bool
	stopped    bool
}

func newAnthropicStreamParser() *anthropicStreamParser {
	return &anthropicStreamParser{blocks: make(map[int]*ToolCall)}
}

func (p *anthropicStreamParser) Feed(eventType string, data []byte) ([]StreamEvent, error) {
	var ev anthropicStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("anthropic stream event: %w", err)
	}
	kind := ev.Type
	if kind == "" {
		kind = eventType
	}

	switch kind {
	case "message_start":
		p.started = true
		out := []StreamEvent{}
		if ev.Message != nil {
			out = append(out, StreamEvent{Kind: EventMessageStart, MessageID: ev.Message.ID, Model: ev.Message.Model})
			if u := ev.Message.Usage; u.InputTokens > 0 || u.OutputTokens > 0 {
				out = append(out, StreamEvent{Kind: EventUsage, Usage: &Usage{
					InputTokens:  u.InputTokens,
					OutputTokens: u.OutputTokens,
					CachedTokens: u.CacheReadInputTokens,
				}})
			}
		} else {
			out = append(out, StreamEvent{Kind: EventMessageStart})
		}
		return out, nil

	case "content_block_start":
		if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
			call := &ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
			p.blocks[ev.Index] = call
			return []StreamEvent{{
				Kind:      EventToolCallDelta,
				ToolID:    call.ID,
				ToolName:  call.Name,
				ToolIndex: ev.Index,
			}}, nil
		}
		return nil, nil

	case "content_block_delta":
		if ev.Delta == nil {
			return nil, nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []StreamEvent{{Kind: EventTextDelta, Text: ev.Delta.Text}}, nil
		case "thinking_delta":
			return []StreamEvent{{Kind: EventThinkingDelta, Text: ev.Delta.Thinking}}, nil
		case "input_json_delta":
			delta := StreamEvent{Kind: EventToolCallDelta, ToolIndex: ev.Index, ArgsChunk: ev.Delta.PartialJSON}
			if call, ok := p.blocks[ev.Index]; ok {
				delta.ToolID = call.ID
			}
			return []StreamEvent{delta}, nil
		}
		return nil, nil

	case "content_block_stop":
		return nil, nil

	case "message_delta":
		var out []StreamEvent
		if ev.Delta != nil && ev.Delta.StopReason != nil {
			p.stopReason = *ev.Delta.StopReason
		}
		if ev.Usage != nil {
			out = append(out, StreamEvent{Kind: EventUsage, Usage: &Usage{
				InputTokens:  ev.Usage.InputTokens,
				OutputTokens: ev.Usage.OutputTokens,
				CachedTokens: ev.Usage.CacheReadInputTokens,
			}})
		}
		return out, nil

	case "message_stop":
		p.stopped = true
		return []StreamEvent{{Kind: EventMessageStop, StopReason: p.stopReason}}, nil

	case "error":
		msg := "upstream stream error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		return []StreamEvent{{Kind: EventError, Err: errors.New(msg)}}, nil

	case "ping":
		return nil, nil
	}
	return nil, nil
}

func (p *anthropicStreamParser) Flush() []StreamEvent {
	if p.started && !p.stopped {
		p.stopped = true
		return []StreamEvent{{Kind: EventMessageStop, StopReason: p.stopReason}}
	}
	return nil
}

// anthropicStreamEncoder renders intermediate events as Anthropic SSE. It
// tracks the open content block so text, thinking and tool deltas land in
// correctly indexed blocks.
type anthropicStreamEncoder struct {
	model      string
	messageID  string
	blockIndex int
	blockOpen  bool
	blockType  string
	toolID     string
	usage      Usage
	started    bool
	closed     bool
}

func newAnthropicStreamEncoder(model string) *anthropicStreamEncoder {
	return &anthropicStreamEncoder{model: model, blockIndex: -1}
}

func (e *anthropicStreamEncoder) Encode(ev StreamEvent) ([]byte, error) {
	var buf bytes.Buffer

	switch ev.Kind {
	case EventMessageStart:
		e.started = true
		e.messageID = ev.MessageID
		if e.messageID == "" {
			e.messageID = NewMessageID()
		}
		model := ev.Model
		if model == "" {
			model = e.model
		}
		writeSSE(&buf, "message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            e.messageID,
				"type":          "message",
				"role":          "assistant",
				"model":         model,
				"content":       []any{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
			},
		})

	case EventTextDelta:
		e.ensureStarted(&buf)
		e.openBlock(&buf, "text", nil)
		writeSSE(&buf, "content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": e.blockIndex,
			"delta": map[string]any{"type": "text_delta", "text": ev.Text},
		})

	case EventThinkingDelta:
		e.ensureStarted(&buf)
		e.openBlock(&buf, "thinking", nil)
		writeSSE(&buf, "content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": e.blockIndex,
			"delta": map[string]any{"type": "thinking_delta", "thinking": ev.Text},
		})

	case EventToolCallDelta:
		e.ensureStarted(&buf)
		if ev.ToolName != "" || (ev.ToolID != "" && ev.ToolID != e.toolID) {
			id := ev.ToolID
			if id == "" {
				id = NewToolCallID()
			}
			e.closeBlock(&buf)
			e.openBlock(&buf, "tool_use", map[string]any{
				"type":  "tool_use",
				"id":    id,
				"name":  ev.ToolName,
				"input": map[string]any{},
			})
			e.toolID = id
		}
		if ev.ArgsChunk != "" {
			e.openBlock(&buf, "tool_use", nil)
			writeSSE(&buf, "content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": e.blockIndex,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.ArgsChunk},
			})
		}

	case EventUsage:
		if ev.Usage != nil {
			e.usage.Add(*ev.Usage)
		}

	case EventMessageStop:
		if e.closed {
			break
		}
		e.ensureStarted(&buf)
		e.closeBlock(&buf)
		stop := ev.StopReason
		if stop == "" {
			stop = StopEndTurn
		}
		writeSSE(&buf, "message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": stop, "stop_sequence": nil},
			"usage": map[string]int{"output_tokens": e.usage.OutputTokens},
		})
		writeSSE(&buf, "message_stop", map[string]any{"type": "message_stop"})
		e.closed = true

	case EventError:
		msg := "stream error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		writeSSE(&buf, "error", map[string]any{
			"type":  "error",
			"error": map[string]string{"type": "api_error", "message": msg},
		})
		e.closed = true
	}

	return buf.Bytes(), nil
}

func (e *anthropicStreamEncoder) Flush() ([]byte, error) {
	if e.started && !e.closed {
		return e.Encode(StreamEvent{Kind: EventMessageStop, StopReason: StopEndTurn})
	}
	return nil, nil
}

func (e *anthropicStreamEncoder) ensureStarted(buf *bytes.Buffer) {
	if e.started {
		return
	}
	frames, _ := e.Encode(StreamEvent{Kind: EventMessageStart})
	buf.Write(frames)
}

// openBlock starts a content block of the given type unless one of that
// type is already open. A non-nil block payload forces a fresh block.
func (e *anthropicStreamEncoder) openBlock(buf *bytes.Buffer, blockType string, block map[string]any) {
	if e.blockOpen && e.blockType == blockType && block == nil {
		return
	}
	e.closeBlock(buf)
	e.blockIndex++
	e.blockOpen = true
	e.blockType = blockType
	if block == nil {
		switch blockType {
		case "text":
			block = map[string]any{"type": "text", "text": ""}
		case "thinking":
			block = map[string]any{"type": "thinking", "thinking": ""}
		default:
			block = map[string]any{"type": blockType}
		}
	}
	writeSSE(buf, "content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         e.blockIndex,
		"content_block": block,
	})
}

func (e *anthropicStreamEncoder) closeBlock(buf *bytes.Buffer) {
	if !e.blockOpen {
		return
	}
	writeSSE(buf, "content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": e.blockIndex,
	})
	e.blockOpen = false
	e.blockType = ""
}

// writeSSE appends one SSE frame with an event name and JSON data.
func writeSSE(buf *bytes.Buffer, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	if event != "" {
		buf.WriteString("event: ")
		buf.WriteString(event)
		buf.WriteByte('\n')
	}
	buf.WriteString("data: ")
	buf.Write(raw)
	buf.WriteString("\n\n")
}
