package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccgw/cc-gw/types"
)

func TestDecodeOpenAIChatBasic(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "developer", "content": "be terse"},
			{"role": "user", "content": [
				{"type": "text", "text": "describe "},
				{"type": "image_url", "image_url": {"url": "https://x/img.png"}}
			]},
			{"role": "assistant", "content": "an image"}
		],
		"max_completion_tokens": 300,
		"stop": ["END", "STOP"],
		"stream": true
	}`)

	p, err := DecodeOpenAIChat(body)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", p.Model)
	assert.Equal(t, 300, p.MaxTokens)
	assert.Equal(t, []string{"END", "STOP"}, p.Stop)
	assert.True(t, p.Stream)

	require.Len(t, p.Messages, 3)
	assert.Equal(t, RoleSystem, p.Messages[0].Role)
	assert.Equal(t, "describe [image]", p.Messages[1].Text)
	assert.Equal(t, "an image", p.Messages[2].Text)
}

func TestDecodeOpenAIChatTools(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "user", "content": "weather?"},
			{"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"oslo\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "4C"}
		],
		"tools": [{"type": "function", "function": {"name": "get_weather", "parameters": {"type": "object"}}}],
		"tool_choice": "required",
		"reasoning_effort": "high"
	}`)

	p, err := DecodeOpenAIChat(body)
	require.NoError(t, err)

	assert.True(t, p.Thinking)
	assert.Equal(t, "any", p.ToolChoice)
	require.Len(t, p.Tools, 1)

	require.Len(t, p.Messages, 3)
	asst := p.Messages[1]
	require.Len(t, asst.ToolCalls, 1)
	assert.Equal(t, "call_1", asst.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", asst.ToolCalls[0].Name)

	tool := p.Messages[2]
	assert.Equal(t, RoleTool, tool.Role)
	require.Len(t, tool.ToolResults, 1)
	assert.Equal(t, "call_1", tool.ToolResults[0].CallID)
	assert.Equal(t, "4C", tool.ToolResults[0].Content)
}

func TestDecodeOpenAIChatRejects(t *testing.T) {
	_, err := DecodeOpenAIChat([]byte(`{"model":"m","messages":[]}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrBadRequest, types.GetErrorCode(err))

	_, err = DecodeOpenAIChat([]byte(`{"model":"m","messages":[{"role":"alien","content":"x"}]}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrBadRequest, types.GetErrorCode(err))
}

func TestEncodeOpenAIChatShape(t *testing.T) {
	p := &Payload{
		Model:  "kimi-k2",
		Stream: true,
		Messages: []Message{
			{Role: RoleSystem, Text: "be terse"},
			{Role: RoleUser, Text: "weather?"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "get_weather", Arguments: `{"city":"oslo"}`}}},
			{Role: RoleTool, ToolResults: []ToolResult{{CallID: "call_1", Content: "4C"}}},
		},
		Tools:      []Tool{{Name: "get_weather", Parameters: json.RawMessage(`{"type":"object"}`)}},
		ToolChoice: "any",
		Stop:       []string{"END"},
	}

	raw, err := EncodeOpenAIChat(p)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(raw, &req))

	assert.Equal(t, "kimi-k2", req["model"])
	assert.Equal(t, "END", req["stop"])
	assert.Equal(t, "required", req["tool_choice"])
	assert.Equal(t, map[string]any{"include_usage": true}, req["stream_options"])

	msgs := req["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])

	asst := msgs[2].(map[string]any)
	assert.Equal(t, "assistant", asst["role"])
	calls := asst["tool_calls"].([]any)
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].(map[string]any)["id"])

	tool := msgs[3].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_1", tool["tool_call_id"])
	assert.Equal(t, "4C", tool["content"])
}

// A conversation decoded from Anthropic wire must encode to OpenAI chat
// losslessly for the fields both protocols share.
func TestAnthropicToOpenAIChat(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"system": "short",
		"messages": [
			{"role": "user", "content": "weather?"},
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "oslo"}}
			]},
			{"role": "user", "content": [{"type": "tool_result", "tool_use_id": "toolu_1", "content": "4C"}]}
		],
		"max_tokens": 256
	}`)

	p, err := DecodeAnthropic(body)
	require.NoError(t, err)
	p.Model = "deepseek-chat"

	raw, err := EncodeOpenAIChat(p)
	require.NoError(t, err)

	back, err := DecodeOpenAIChat(raw)
	require.NoError(t, err)

	require.Len(t, back.Messages, 4)
	assert.Equal(t, RoleSystem, back.Messages[0].Role)
	assert.Equal(t, RoleUser, back.Messages[1].Role)
	require.Len(t, back.Messages[2].ToolCalls, 1)
	assert.JSONEq(t, `{"city":"oslo"}`, back.Messages[2].ToolCalls[0].Arguments)
	require.Len(t, back.Messages[3].ToolResults, 1)
	assert.Equal(t, "4C", back.Messages[3].ToolResults[0].Content)
}

func TestParseOpenAICompletion(t *testing.T) {
	body := []byte(`{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "deepseek-reasoner",
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"reasoning_content": "thinking here",
				"content": "hello",
				"tool_calls": [{"id": "call_9", "type": "function", "function": {"name": "lookup", "arguments": "{}"}}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 6, "total_tokens": 18, "prompt_tokens_details": {"cached_tokens": 4}}
	}`)

	c, err := ParseOpenAICompletion(body)
	require.NoError(t, err)

	assert.Equal(t, "chatcmpl-1", c.ID)
	assert.Equal(t, StopToolUse, c.StopReason)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 6, CachedTokens: 4}, c.Usage)
	assert.Equal(t, "hello", c.Text())
	require.Len(t, c.Blocks, 3)
	assert.Equal(t, "thinking", c.Blocks[0].Type)
}

func TestEncodeOpenAICompletion(t *testing.T) {
	c := &Completion{
		ID:         "chatcmpl-7",
		Model:      "kimi-k2",
		StopReason: StopMaxTokens,
		Blocks:     []Block{{Type: "text", Text: "truncated answer"}},
		Usage:      Usage{InputTokens: 20, OutputTokens: 10},
	}

	raw, err := EncodeOpenAICompletion(c)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "chat.completion", resp["object"])

	choices := resp["choices"].([]any)
	require.Len(t, choices, 1)
	choice := choices[0].(map[string]any)
	assert.Equal(t, "length", choice["finish_reason"])
	assert.Equal(t, "truncated answer", choice["message"].(map[string]any)["content"])

	usage := resp["usage"].(map[string]any)
	assert.Equal(t, float64(30), usage["total_tokens"])
}
