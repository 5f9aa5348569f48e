package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccgw/cc-gw/types"
)

func TestDecodeResponsesStringInput(t *testing.T) {
	body := []byte(`{"model": "gpt-4o", "input": "hi there", "max_output_tokens": 128, "stream": true}`)

	p, err := DecodeResponses(body)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", p.Model)
	assert.Equal(t, 128, p.MaxTokens)
	assert.True(t, p.Stream)
	require.Len(t, p.Messages, 1)
	assert.Equal(t, RoleUser, p.Messages[0].Role)
	assert.Equal(t, "hi there", p.Messages[0].Text)
}

func TestDecodeResponsesItems(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"instructions": "be terse",
		"input": [
			{"role": "user", "content": [{"type": "input_text", "text": "weather?"}]},
			{"type": "function_call", "call_id": "call_1", "name": "get_weather", "arguments": "{\"city\":\"oslo\"}"},
			{"type": "function_call_output", "call_id": "call_1", "output": "4C"},
			{"type": "message", "role": "assistant", "content": [{"type": "output_text", "text": "4 degrees"}]}
		],
		"tools": [{"type": "function", "name": "get_weather", "parameters": {"type": "object"}}],
		"tool_choice": {"type": "function", "name": "get_weather"},
		"reasoning": {"effort": "medium"}
	}`)

	p, err := DecodeResponses(body)
	require.NoError(t, err)

	assert.True(t, p.Thinking)
	assert.Equal(t, "get_weather", p.ToolChoice)
	require.Len(t, p.Tools, 1)

	require.Len(t, p.Messages, 5)
	assert.Equal(t, RoleSystem, p.Messages[0].Role)
	assert.Equal(t, "be terse", p.Messages[0].Text)
	assert.Equal(t, "weather?", p.Messages[1].Text)

	asst := p.Messages[2]
	assert.Equal(t, RoleAssistant, asst.Role)
	require.Len(t, asst.ToolCalls, 1)
	assert.Equal(t, "call_1", asst.ToolCalls[0].ID)

	tool := p.Messages[3]
	assert.Equal(t, RoleTool, tool.Role)
	require.Len(t, tool.ToolResults, 1)
	assert.Equal(t, "4C", tool.ToolResults[0].Content)

	assert.Equal(t, "4 degrees", p.Messages[4].Text)
}

func TestDecodeResponsesRejects(t *testing.T) {
	_, err := DecodeResponses([]byte(`{"model":"m"}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrBadRequest, types.GetErrorCode(err))

	_, err = DecodeResponses([]byte(`{"model":"m","input":42}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrBadRequest, types.GetErrorCode(err))
}

func TestParseResponsesCompletion(t *testing.T) {
	body := []byte(`{
		"id": "resp_1",
		"object": "response",
		"status": "completed",
		"model": "gpt-4o",
		"output": [
			{"type": "reasoning", "summary": [{"type": "summary_text", "text": "ok"}]},
			{"type": "message", "id": "msg_1", "role": "assistant", "content": [{"type": "output_text", "text": "hello"}]},
			{"type": "function_call", "id": "fc_1", "call_id": "call_2", "name": "lookup", "arguments": "{}"}
		],
		"usage": {"input_tokens": 9, "output_tokens": 3, "total_tokens": 12, "input_tokens_details": {"cached_tokens": 1}}
	}`)

	c, err := ParseResponsesCompletion(body)
	require.NoError(t, err)

	assert.Equal(t, "resp_1", c.ID)
	assert.Equal(t, StopToolUse, c.StopReason)
	assert.Equal(t, Usage{InputTokens: 9, OutputTokens: 3, CachedTokens: 1}, c.Usage)
	assert.Equal(t, "hello", c.Text())
	require.Len(t, c.ToolCalls(), 1)
	assert.Equal(t, "call_2", c.ToolCalls()[0].ID)
}

func TestEncodeResponsesCompletion(t *testing.T) {
	c := &Completion{
		Model:      "gpt-4o",
		StopReason: StopToolUse,
		Blocks: []Block{
			{Type: "text", Text: "checking"},
			{Type: "tool_call", ToolCall: &ToolCall{ID: "call_3", Name: "lookup", Arguments: `{"q":"x"}`}},
		},
		Usage: Usage{InputTokens: 5, OutputTokens: 2},
	}

	raw, err := EncodeResponsesCompletion(c)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "response", resp["object"])
	assert.Equal(t, "completed", resp["status"])

	output := resp["output"].([]any)
	require.Len(t, output, 2)
	msg := output[0].(map[string]any)
	assert.Equal(t, "message", msg["type"])
	fc := output[1].(map[string]any)
	assert.Equal(t, "function_call", fc["type"])
	assert.Equal(t, "call_3", fc["call_id"])
	assert.Equal(t, "lookup", fc["name"])

	usage := resp["usage"].(map[string]any)
	assert.Equal(t, float64(7), usage["total_tokens"])
}

// The responses decoder and the chat encoder bridge a responses caller to
// an OpenAI-compatible upstream.
func TestResponsesToChatBridge(t *testing.T) {
	body := []byte(`{
		"model": "gpt-4o",
		"instructions": "short",
		"input": "summarize go routines"
	}`)

	p, err := DecodeResponses(body)
	require.NoError(t, err)
	p.Model = "deepseek-chat"

	raw, err := EncodeOpenAIChat(p)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(raw, &req))
	msgs := req["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "short", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}
