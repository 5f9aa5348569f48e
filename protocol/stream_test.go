package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseFrame struct {
	Event string
	Data  string
}

func parseFrames(t *testing.T, raw []byte) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, block := range strings.Split(string(raw), "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var f sseFrame
		for _, line := range strings.Split(block, "\n") {
			if rest, ok := strings.CutPrefix(line, "event: "); ok {
				f.Event = rest
			}
			if rest, ok := strings.CutPrefix(line, "data: "); ok {
				f.Data = rest
			}
		}
		frames = append(frames, f)
	}
	return frames
}

func feedAll(t *testing.T, p StreamParser, frames []sseFrame) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	for _, f := range frames {
		evs, err := p.Feed(f.Event, []byte(f.Data))
		require.NoError(t, err)
		out = append(out, evs...)
	}
	return append(out, p.Flush()...)
}

func kinds(events []StreamEvent) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestAnthropicStreamParser(t *testing.T) {
	frames := []sseFrame{
		{"message_start", `{"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4-5","usage":{"input_tokens":10,"output_tokens":1}}}`},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hel"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":0}`},
		{"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"lookup","input":{}}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"q\":"}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"x\"}"}}`},
		{"content_block_stop", `{"type":"content_block_stop","index":1}`},
		{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}`},
		{"message_stop", `{"type":"message_stop"}`},
	}

	events := feedAll(t, newAnthropicStreamParser(), frames)

	assert.Equal(t, []EventKind{
		EventMessageStart, EventUsage,
		EventTextDelta, EventTextDelta,
		EventToolCallDelta, EventToolCallDelta, EventToolCallDelta,
		EventUsage, EventMessageStop,
	}, kinds(events))

	assert.Equal(t, "msg_1", events[0].MessageID)
	assert.Equal(t, "hel", events[2].Text)

	first := events[4]
	assert.Equal(t, "toolu_1", first.ToolID)
	assert.Equal(t, "lookup", first.ToolName)
	assert.Equal(t, `{"q":`, events[5].ArgsChunk)
	assert.Equal(t, "toolu_1", events[5].ToolID)

	stop := events[len(events)-1]
	assert.Equal(t, StopToolUse, stop.StopReason)
}

func TestOpenAIStreamParser(t *testing.T) {
	frames := []sseFrame{
		{"", `{"id":"chatcmpl-1","model":"kimi-k2","choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}`},
		{"", `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":null}]}`},
		{"", `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"reasoning_content":"hmm"},"finish_reason":null}]}`},
		{"", `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":""}}]},"finish_reason":null}]}`},
		{"", `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":\"x\"}"}}]},"finish_reason":null}]}`},
		{"", `{"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`},
		{"", `{"id":"chatcmpl-1","choices":[],"usage":{"prompt_tokens":11,"completion_tokens":7,"total_tokens":18}}`},
		{"", `[DONE]`},
	}

	events := feedAll(t, newOpenAIStreamParser(), frames)

	assert.Equal(t, []EventKind{
		EventMessageStart, EventTextDelta, EventThinkingDelta,
		EventToolCallDelta, EventToolCallDelta,
		EventUsage, EventMessageStop,
	}, kinds(events))

	assert.Equal(t, "chatcmpl-1", events[0].MessageID)
	assert.Equal(t, "kimi-k2", events[0].Model)

	first := events[3]
	assert.Equal(t, "call_1", first.ToolID)
	assert.Equal(t, "lookup", first.ToolName)
	cont := events[4]
	assert.Equal(t, "call_1", cont.ToolID)
	assert.Empty(t, cont.ToolName)
	assert.Equal(t, `{"q":"x"}`, cont.ArgsChunk)

	usage := events[5]
	assert.Equal(t, 11, usage.Usage.InputTokens)
	assert.Equal(t, 7, usage.Usage.OutputTokens)

	assert.Equal(t, StopToolUse, events[6].StopReason)
}

func TestOpenAIStreamParserFlushWithoutDone(t *testing.T) {
	p := newOpenAIStreamParser()
	_, err := p.Feed("", []byte(`{"id":"chatcmpl-2","model":"m","choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":null}]}`))
	require.NoError(t, err)

	tail := p.Flush()
	require.Len(t, tail, 1)
	assert.Equal(t, EventMessageStop, tail[0].Kind)
}

func TestResponsesStreamParser(t *testing.T) {
	frames := []sseFrame{
		{"response.created", `{"type":"response.created","response":{"id":"resp_1","model":"gpt-4o","status":"in_progress"}}`},
		{"response.output_item.added", `{"type":"response.output_item.added","output_index":0,"item":{"type":"message","id":"msg_1","role":"assistant"}}`},
		{"response.output_text.delta", `{"type":"response.output_text.delta","item_id":"msg_1","output_index":0,"delta":"hel"}`},
		{"response.output_text.delta", `{"type":"response.output_text.delta","item_id":"msg_1","output_index":0,"delta":"lo"}`},
		{"response.output_item.added", `{"type":"response.output_item.added","output_index":1,"item":{"type":"function_call","id":"fc_1","call_id":"call_1","name":"lookup"}}`},
		{"response.function_call.arguments.delta", `{"type":"response.function_call.arguments.delta","item_id":"fc_1","output_index":1,"delta":"{\"q\":\"x\"}"}`},
		{"response.completed", `{"type":"response.completed","response":{"id":"resp_1","status":"completed","usage":{"input_tokens":8,"output_tokens":4,"total_tokens":12}}}`},
	}

	events := feedAll(t, newResponsesStreamParser(), frames)

	assert.Equal(t, []EventKind{
		EventMessageStart, EventTextDelta, EventTextDelta,
		EventToolCallDelta, EventToolCallDelta,
		EventUsage, EventMessageStop,
	}, kinds(events))

	assert.Equal(t, "resp_1", events[0].MessageID)

	first := events[3]
	assert.Equal(t, "call_1", first.ToolID)
	assert.Equal(t, "lookup", first.ToolName)
	assert.Equal(t, `{"q":"x"}`, events[4].ArgsChunk)

	assert.Equal(t, StopToolUse, events[6].StopReason)
}

func TestAnthropicStreamEncoder(t *testing.T) {
	enc := newAnthropicStreamEncoder("claude-sonnet-4-5")

	var raw []byte
	events := []StreamEvent{
		{Kind: EventMessageStart, MessageID: "msg_1"},
		{Kind: EventThinkingDelta, Text: "hm"},
		{Kind: EventTextDelta, Text: "hel"},
		{Kind: EventTextDelta, Text: "lo"},
		{Kind: EventToolCallDelta, ToolID: "toolu_1", ToolName: "lookup"},
		{Kind: EventToolCallDelta, ToolID: "toolu_1", ArgsChunk: `{"q":"x"}`},
		{Kind: EventUsage, Usage: &Usage{OutputTokens: 9}},
		{Kind: EventMessageStop, StopReason: StopToolUse},
	}
	for _, ev := range events {
		frame, err := enc.Encode(ev)
		require.NoError(t, err)
		raw = append(raw, frame...)
	}

	frames := parseFrames(t, raw)
	var names []string
	for _, f := range frames {
		names = append(names, f.Event)
	}
	assert.Equal(t, []string{
		"message_start",
		"content_block_start", "content_block_delta", // thinking
		"content_block_stop", "content_block_start", "content_block_delta", "content_block_delta", // text
		"content_block_stop", "content_block_start", "content_block_delta", // tool_use
		"content_block_stop", "message_delta", "message_stop",
	}, names)

	var delta struct {
		Delta struct {
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
		Usage struct {
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal([]byte(frames[11].Data), &delta))
	assert.Equal(t, "tool_use", delta.Delta.StopReason)
	assert.Equal(t, 9, delta.Usage.OutputTokens)
}

func TestOpenAIStreamEncoder(t *testing.T) {
	enc := newOpenAIStreamEncoder("kimi-k2")

	var raw []byte
	events := []StreamEvent{
		{Kind: EventMessageStart, MessageID: "chatcmpl-1"},
		{Kind: EventTextDelta, Text: "hi"},
		{Kind: EventToolCallDelta, ToolID: "call_1", ToolName: "lookup"},
		{Kind: EventToolCallDelta, ToolID: "call_1", ArgsChunk: `{"q":"x"}`},
		{Kind: EventUsage, Usage: &Usage{InputTokens: 11, OutputTokens: 7}},
		{Kind: EventMessageStop, StopReason: StopToolUse},
	}
	for _, ev := range events {
		frame, err := enc.Encode(ev)
		require.NoError(t, err)
		raw = append(raw, frame...)
	}

	frames := parseFrames(t, raw)
	require.GreaterOrEqual(t, len(frames), 6)
	assert.Equal(t, "[DONE]", frames[len(frames)-1].Data)

	// Every non-sentinel frame is a well-formed chunk.
	var sawFinish, sawUsage bool
	for _, f := range frames[:len(frames)-1] {
		var chunk openaiStreamChunk
		require.NoError(t, json.Unmarshal([]byte(f.Data), &chunk))
		assert.Equal(t, "chatcmpl-1", chunk.ID)
		for _, c := range chunk.Choices {
			if c.FinishReason != nil && *c.FinishReason == "tool_calls" {
				sawFinish = true
			}
		}
		if chunk.Usage != nil && chunk.Usage.TotalTokens == 18 {
			sawUsage = true
		}
	}
	assert.True(t, sawFinish)
	assert.True(t, sawUsage)
}

func TestResponsesStreamEncoder(t *testing.T) {
	enc := newResponsesStreamEncoder("gpt-4o")

	var raw []byte
	events := []StreamEvent{
		{Kind: EventMessageStart, MessageID: "resp_1"},
		{Kind: EventTextDelta, Text: "hel"},
		{Kind: EventTextDelta, Text: "lo"},
		{Kind: EventToolCallDelta, ToolID: "call_1", ToolName: "lookup"},
		{Kind: EventToolCallDelta, ToolID: "call_1", ArgsChunk: `{}`},
		{Kind: EventUsage, Usage: &Usage{InputTokens: 8, OutputTokens: 4}},
		{Kind: EventMessageStop},
	}
	for _, ev := range events {
		frame, err := enc.Encode(ev)
		require.NoError(t, err)
		raw = append(raw, frame...)
	}

	frames := parseFrames(t, raw)
	var names []string
	for _, f := range frames {
		names = append(names, f.Event)
	}
	assert.Equal(t, []string{
		"response.created",
		"response.output_item.added", "response.output_text.delta", "response.output_text.delta",
		"response.output_item.done", "response.output_item.added", "response.function_call_arguments.delta",
		"response.output_item.done", "response.completed",
	}, names)

	var done struct {
		Response struct {
			Status string `json:"status"`
			Usage  struct {
				TotalTokens int `json:"total_tokens"`
			} `json:"usage"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-1].Data), &done))
	assert.Equal(t, "completed", done.Response.Status)
	assert.Equal(t, 12, done.Response.Usage.TotalTokens)
}

// Anthropic SSE in, chat completions SSE out: what a caller on the chat
// endpoint sees when the route lands on an Anthropic upstream.
func TestStreamTranslationAnthropicToChat(t *testing.T) {
	upstream := []sseFrame{
		{"message_start", `{"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4-5","usage":{"input_tokens":5,"output_tokens":0}}}`},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello"}}`},
		{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`},
		{"message_stop", `{"type":"message_stop"}`},
	}

	parser := newAnthropicStreamParser()
	enc := newOpenAIStreamEncoder("claude-sonnet-4-5")

	var raw []byte
	for _, f := range upstream {
		events, err := parser.Feed(f.Event, []byte(f.Data))
		require.NoError(t, err)
		for _, ev := range events {
			frame, err := enc.Encode(ev)
			require.NoError(t, err)
			raw = append(raw, frame...)
		}
	}

	frames := parseFrames(t, raw)
	assert.Equal(t, "[DONE]", frames[len(frames)-1].Data)

	var text strings.Builder
	for _, f := range frames[:len(frames)-1] {
		var chunk openaiStreamChunk
		require.NoError(t, json.Unmarshal([]byte(f.Data), &chunk))
		for _, c := range chunk.Choices {
			text.WriteString(c.Delta.Content)
		}
	}
	assert.Equal(t, "hello", text.String())
}

func TestStreamEncoderErrorFrame(t *testing.T) {
	enc := newAnthropicStreamEncoder("m")
	_, err := enc.Encode(StreamEvent{Kind: EventMessageStart})
	require.NoError(t, err)

	frame, err := enc.Encode(StreamEvent{Kind: EventError, Err: assert.AnError})
	require.NoError(t, err)

	frames := parseFrames(t, frame)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0].Event)
	assert.Contains(t, frames[0].Data, "api_error")
}
