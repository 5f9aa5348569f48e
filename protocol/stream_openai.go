package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OpenAI chat completions SSE dialect. Frames are bare data lines; the
// terminal sentinel is `data: [DONE]`.

var doneSentinel = []byte("[DONE]")

type openaiStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role             string           `json:"role,omitempty"`
			Content          string           `json:"content,omitempty"`
			ReasoningContent string           `json:"reasoning_content,omitempty"`
			ToolCalls        []openaiToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type openaiStreamParser struct {
	tools      map[int]*ToolCall
	stopReason string
	started    bool
	stopped    bool
}

func newOpenAIStreamParser() *openaiStreamParser {
	return &openaiStreamParser{tools: make(map[int]*ToolCall)}
}

func (p *openaiStreamParser) Feed(_ string, data []byte) ([]StreamEvent, error) {
	if bytes.Equal(bytes.TrimSpace(data), doneSentinel) {
		if p.stopped {
			return nil, nil
		}
		p.stopped = true
		return []StreamEvent{{Kind: EventMessageStop, StopReason: p.stopReason}}, nil
	}

	var chunk openaiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("chat completions stream chunk: %w", err)
	}
	if chunk.Error != nil {
		return []StreamEvent{{Kind: EventError, Err: errors.New(chunk.Error.Message)}}, nil
	}

	var out []StreamEvent
	if !p.started {
		p.started = true
		out = append(out, StreamEvent{Kind: EventMessageStart, MessageID: chunk.ID, Model: chunk.Model})
	}

	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		if choice.Delta.ReasoningContent != "" {
			out = append(out, StreamEvent{Kind: EventThinkingDelta, Text: choice.Delta.ReasoningContent})
		}
		if choice.Delta.Content != "" {
			out = append(out, StreamEvent{Kind: EventTextDelta, Text: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			out = append(out, p.toolCallEvent(tc))
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			p.stopReason = finishReasonToNormalized(*choice.FinishReason)
		}
	}

	if chunk.Usage != nil {
		usage := &Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}
		if chunk.Usage.PromptTokensDetails != nil {
			usage.CachedTokens = chunk.Usage.PromptTokensDetails.CachedTokens
		}
		out = append(out, StreamEvent{Kind: EventUsage, Usage: usage})
	}
	return out, nil
}

// toolCallEvent stitches a streamed tool-call fragment onto the call it
// belongs to, keyed by the upstream index.
func (p *openaiStreamParser) toolCallEvent(tc openaiToolCall) StreamEvent {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	call := p.tools[idx]
	fresh := call == nil || (tc.ID != "" && tc.ID != call.ID)
	if fresh {
		call = &ToolCall{ID: tc.ID, Name: tc.Function.Name}
		if call.ID == "" {
			call.ID = NewToolCallID()
		}
		p.tools[idx] = call
	}
	if tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}

	ev := StreamEvent{
		Kind:      EventToolCallDelta,
		ToolID:    call.ID,
		ToolIndex: idx,
		ArgsChunk: tc.Function.Arguments,
	}
	if fresh {
		ev.ToolName = call.Name
	}
	return ev
}

func (p *openaiStreamParser) Flush() []StreamEvent {
	if p.started && !p.stopped {
		p.stopped = true
		return []StreamEvent{{Kind: EventMessageStop, StopReason: p.stopReason}}
	}
	return nil
}

// openaiStreamEncoder renders intermediate events as chat completions SSE.
type openaiStreamEncoder struct {
	model   string
	id      string
	created int64
	indexes map[string]int
	usage   Usage
	started bool
	closed  bool
}

func newOpenAIStreamEncoder(model string) *openaiStreamEncoder {
	return &openaiStreamEncoder{model: model, indexes: make(map[string]int)}
}

func (e *openaiStreamEncoder) Encode(ev StreamEvent) ([]byte, error) {
	var buf bytes.Buffer

	switch ev.Kind {
	case EventMessageStart:
		e.started = true
		e.id = ev.MessageID
		if e.id == "" {
			e.id = NewCompletionID()
		}
		if ev.Model != "" {
			e.model = ev.Model
		}
		e.created = time.Now().Unix()
		e.writeChunk(&buf, map[string]any{"role": "assistant", "content": ""}, nil)

	case EventTextDelta:
		e.ensureStarted(&buf)
		e.writeChunk(&buf, map[string]any{"content": ev.Text}, nil)

	case EventThinkingDelta:
		e.ensureStarted(&buf)
		e.writeChunk(&buf, map[string]any{"reasoning_content": ev.Text}, nil)

	case EventToolCallDelta:
		e.ensureStarted(&buf)
		id := ev.ToolID
		if id == "" {
			id = fmt.Sprintf("tool-%d", ev.ToolIndex)
		}
		idx, seen := e.indexes[id]
		if !seen {
			idx = len(e.indexes)
			e.indexes[id] = idx
			call := map[string]any{
				"index": idx,
				"id":    ev.ToolID,
				"type":  "function",
				"function": map[string]any{
					"name":      ev.ToolName,
					"arguments": ev.ArgsChunk,
				},
			}
			e.writeChunk(&buf, map[string]any{"tool_calls": []any{call}}, nil)
			break
		}
		if ev.ArgsChunk != "" {
			call := map[string]any{
				"index":    idx,
				"function": map[string]any{"arguments": ev.ArgsChunk},
			}
			e.writeChunk(&buf, map[string]any{"tool_calls": []any{call}}, nil)
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
		stop := ev.StopReason
		if stop == "" {
			stop = StopEndTurn
		}
		finish := stopReasonToOpenAI(stop)
		e.writeChunk(&buf, map[string]any{}, &finish)
		if e.usage != (Usage{}) {
			e.writeUsageChunk(&buf)
		}
		buf.WriteString("data: [DONE]\n\n")
		e.closed = true

	case EventError:
		msg := "stream error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		writeSSE(&buf, "", map[string]any{
			"error": map[string]string{"message": msg, "type": "upstream_error"},
		})
		buf.WriteString("data: [DONE]\n\n")
		e.closed = true
	}

	return buf.Bytes(), nil
}

func (e *openaiStreamEncoder) Flush() ([]byte, error) {
	if e.started && !e.closed {
		return e.Encode(StreamEvent{Kind: EventMessageStop, StopReason: StopEndTurn})
	}
	return nil, nil
}

func (e *openaiStreamEncoder) ensureStarted(buf *bytes.Buffer) {
	if e.started {
		return
	}
	frames, _ := e.Encode(StreamEvent{Kind: EventMessageStart})
	buf.Write(frames)
}

func (e *openaiStreamEncoder) writeChunk(buf *bytes.Buffer, delta map[string]any, finish *string) {
	writeSSE(buf, "", map[string]any{
		"id":      e.id,
		"object":  "chat.completion.chunk",
		"created": e.created,
		"model":   e.model,
		"choices": []any{map[string]any{
			"index":         0,
			"delta":         delta,
			"finish_reason": finish,
		}},
	})
}

func (e *openaiStreamEncoder) writeUsageChunk(buf *bytes.Buffer) {
	usage := map[string]any{
		"prompt_tokens":     e.usage.InputTokens,
		"completion_tokens": e.usage.OutputTokens,
		"total_tokens":      e.usage.InputTokens + e.usage.OutputTokens,
	}
	if e.usage.CachedTokens > 0 {
		usage["prompt_tokens_details"] = map[string]int{"cached_tokens": e.usage.CachedTokens}
	}
	writeSSE(buf, "", map[string]any{
		"id":      e.id,
		"object":  "chat.completion.chunk",
		"created": e.created,
		"model":   e.model,
		"choices": []any{},
		"usage":   usage,
	})
}
