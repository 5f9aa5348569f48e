package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// OpenAI responses SSE dialect. Frames carry a typed event name plus a
// JSON body that repeats the type.

type responsesStreamEvent struct {
	Type        string         `json:"type"`
	OutputIndex int            `json:"output_index,omitempty"`
	ItemID      string         `json:"item_id,omitempty"`
	Delta       string         `json:"delta,omitempty"`
	Item        *responsesItem `json:"item,omitempty"`
	Response    *struct {
		ID     string          `json:"id"`
		Model  string          `json:"model"`
		Status string          `json:"status"`
		Usage  *responsesUsage `json:"usage,omitempty"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	} `json:"response,omitempty"`
	Message string `json:"message,omitempty"`
}

type responsesStreamParser struct {
	items   map[string]*ToolCall
	indexes map[string]int
	started bool
	stopped bool
}

func newResponsesStreamParser() *responsesStreamParser {
	return &responsesStreamParser{
		items:   make(map[string]*ToolCall),
		indexes: make(map[string]int),
	}
}

func (p *responsesStreamParser) Feed(eventType string, data []byte) ([]StreamEvent, error) {
	var ev responsesStreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("responses stream event: %w", err)
	}
	kind := ev.Type
	if kind == "" {
		kind = eventType
	}

	switch kind {
	case "response.created":
		p.started = true
		out := StreamEvent{Kind: EventMessageStart}
		if ev.Response != nil {
			out.MessageID = ev.Response.ID
			out.Model = ev.Response.Model
		}
		return []StreamEvent{out}, nil

	case "response.output_item.added":
		if ev.Item == nil || ev.Item.Type != "function_call" {
			return nil, nil
		}
		call := &ToolCall{ID: ev.Item.CallID, Name: ev.Item.Name}
		if call.ID == "" {
			call.ID = ev.Item.ID
		}
		p.items[ev.Item.ID] = call
		if ev.Item.CallID != "" {
			p.items[ev.Item.CallID] = call
		}
		p.indexes[call.ID] = ev.OutputIndex
		return []StreamEvent{{
			Kind:      EventToolCallDelta,
			ToolID:    call.ID,
			ToolName:  call.Name,
			ToolIndex: ev.OutputIndex,
		}}, nil

	case "response.output_text.delta":
		if ev.Delta == "" {
			return nil, nil
		}
		return []StreamEvent{{Kind: EventTextDelta, Text: ev.Delta}}, nil

	case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
		if ev.Delta == "" {
			return nil, nil
		}
		return []StreamEvent{{Kind: EventThinkingDelta, Text: ev.Delta}}, nil

	case "response.function_call_arguments.delta", "response.function_call.arguments.delta":
		delta := StreamEvent{Kind: EventToolCallDelta, ArgsChunk: ev.Delta, ToolIndex: ev.OutputIndex}
		if call, ok := p.items[ev.ItemID]; ok {
			delta.ToolID = call.ID
			delta.ToolIndex = p.indexes[call.ID]
		}
		return []StreamEvent{delta}, nil

	case "response.completed", "response.incomplete":
		p.stopped = true
		stop := StopEndTurn
		if kind == "response.incomplete" {
			stop = StopMaxTokens
		} else if len(p.items) > 0 {
			stop = StopToolUse
		}
		var out []StreamEvent
		if ev.Response != nil && ev.Response.Usage != nil {
			u := ev.Response.Usage
			usage := &Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
			if u.InputTokensDetails != nil {
				usage.CachedTokens = u.InputTokensDetails.CachedTokens
			}
			out = append(out, StreamEvent{Kind: EventUsage, Usage: usage})
		}
		return append(out, StreamEvent{Kind: EventMessageStop, StopReason: stop}), nil

	case "response.failed", "error":
		msg := ev.Message
		if msg == "" && ev.Response != nil && ev.Response.Error != nil {
			msg = ev.Response.Error.Message
		}
		if msg == "" {
			msg = "upstream stream error"
		}
		return []StreamEvent{{Kind: EventError, Err: errors.New(msg)}}, nil
	}
	return nil, nil
}

func (p *responsesStreamParser) Flush() []StreamEvent {
	if p.started && !p.stopped {
		p.stopped = true
		return []StreamEvent{{Kind: EventMessageStop, StopReason: StopEndTurn}}
	}
	return nil
}

// responsesStreamEncoder renders intermediate events as responses SSE,
// tracking one open output item at a time.
type responsesStreamEncoder struct {
	model       string
	responseID  string
	seq         int
	outputIndex int
	itemOpen    bool
	itemID      string
	itemType    string
	toolID      string
	usage       Usage
	started     bool
	closed      bool
}

func newResponsesStreamEncoder(model string) *responsesStreamEncoder {
	return &responsesStreamEncoder{model: model, outputIndex: -1}
}

func (e *responsesStreamEncoder) Encode(ev StreamEvent) ([]byte, error) {
	var buf bytes.Buffer

	switch ev.Kind {
	case EventMessageStart:
		e.started = true
		e.responseID = ev.MessageID
		if e.responseID == "" || !strings.HasPrefix(e.responseID, "resp_") {
			e.responseID = NewResponseID()
		}
		if ev.Model != "" {
			e.model = ev.Model
		}
		e.write(&buf, "response.created", map[string]any{
			"response": map[string]any{
				"id":     e.responseID,
				"object": "response",
				"status": "in_progress",
				"model":  e.model,
				"output": []any{},
			},
		})

	case EventTextDelta:
		e.ensureStarted(&buf)
		e.openItem(&buf, "message", "", "")
		e.write(&buf, "response.output_text.delta", map[string]any{
			"item_id":       e.itemID,
			"output_index":  e.outputIndex,
			"content_index": 0,
			"delta":         ev.Text,
		})

	case EventThinkingDelta:
		e.ensureStarted(&buf)
		e.write(&buf, "response.reasoning_summary_text.delta", map[string]any{
			"delta": ev.Text,
		})

	case EventToolCallDelta:
		e.ensureStarted(&buf)
		if ev.ToolName != "" || (ev.ToolID != "" && ev.ToolID != e.toolID) {
			e.openItem(&buf, "function_call", ev.ToolID, ev.ToolName)
			e.toolID = ev.ToolID
		}
		if ev.ArgsChunk != "" {
			e.write(&buf, "response.function_call_arguments.delta", map[string]any{
				"item_id":      e.itemID,
				"output_index": e.outputIndex,
				"delta":        ev.ArgsChunk,
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
		e.closeItem(&buf)
		status := "completed"
		if ev.StopReason == StopMaxTokens {
			status = "incomplete"
		}
		usage := map[string]any{
			"input_tokens":  e.usage.InputTokens,
			"output_tokens": e.usage.OutputTokens,
			"total_tokens":  e.usage.InputTokens + e.usage.OutputTokens,
		}
		if e.usage.CachedTokens > 0 {
			usage["input_tokens_details"] = map[string]int{"cached_tokens": e.usage.CachedTokens}
		}
		e.write(&buf, "response."+status, map[string]any{
			"response": map[string]any{
				"id":     e.responseID,
				"object": "response",
				"status": status,
				"model":  e.model,
				"usage":  usage,
			},
		})
		e.closed = true

	case EventError:
		msg := "stream error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		e.write(&buf, "error", map[string]any{"message": msg})
		e.closed = true
	}

	return buf.Bytes(), nil
}

func (e *responsesStreamEncoder) Flush() ([]byte, error) {
	if e.started && !e.closed {
		return e.Encode(StreamEvent{Kind: EventMessageStop, StopReason: StopEndTurn})
	}
	return nil, nil
}

func (e *responsesStreamEncoder) ensureStarted(buf *bytes.Buffer) {
	if e.started {
		return
	}
	frames, _ := e.Encode(StreamEvent{Kind: EventMessageStart})
	buf.Write(frames)
}

func (e *responsesStreamEncoder) openItem(buf *bytes.Buffer, itemType, callID, name string) {
	if e.itemOpen && e.itemType == itemType && itemType == "message" {
		return
	}
	e.closeItem(buf)
	e.outputIndex++
	e.itemOpen = true
	e.itemType = itemType

	item := map[string]any{"type": itemType, "status": "in_progress"}
	switch itemType {
	case "message":
		e.itemID = NewMessageID()
		item["id"] = e.itemID
		item["role"] = "assistant"
		item["content"] = []any{}
	case "function_call":
		e.itemID = "fc_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
		if callID == "" {
			callID = NewResponsesCallID()
		}
		item["id"] = e.itemID
		item["call_id"] = callID
		item["name"] = name
		item["arguments"] = ""
	}
	e.write(buf, "response.output_item.added", map[string]any{
		"output_index": e.outputIndex,
		"item":         item,
	})
}

func (e *responsesStreamEncoder) closeItem(buf *bytes.Buffer) {
	if !e.itemOpen {
		return
	}
	e.write(buf, "response.output_item.done", map[string]any{
		"output_index": e.outputIndex,
		"item":         map[string]any{"id": e.itemID, "type": e.itemType, "status": "completed"},
	})
	e.itemOpen = false
}

// write appends a responses SSE frame, stamping type and sequence number
// into the body.
func (e *responsesStreamEncoder) write(buf *bytes.Buffer, event string, body map[string]any) {
	body["type"] = event
	body["sequence_number"] = e.seq
	e.seq++
	writeSSE(buf, event, body)
}
