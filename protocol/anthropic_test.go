package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ccgw/cc-gw/types"
)

func TestDecodeAnthropicBasic(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"system": "be terse",
		"messages": [
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": [{"type": "text", "text": "hello"}]},
			{"role": "user", "content": [
				{"type": "text", "text": "look at "},
				{"type": "image", "source": {"type": "base64", "media_type": "image/png", "data": "AA=="}}
			]}
		],
		"max_tokens": 1024,
		"temperature": 0.2,
		"stop_sequences": ["END"],
		"stream": true
	}`)

	p, err := DecodeAnthropic(body)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5", p.Model)
	assert.True(t, p.Stream)
	assert.False(t, p.Thinking)
	assert.Equal(t, 1024, p.MaxTokens)
	assert.Equal(t, []string{"END"}, p.Stop)
	require.NotNil(t, p.Temperature)
	assert.InDelta(t, 0.2, *p.Temperature, 1e-9)

	require.Len(t, p.Messages, 4)
	assert.Equal(t, RoleSystem, p.Messages[0].Role)
	assert.Equal(t, "be terse", p.Messages[0].Text)
	assert.Equal(t, "hi", p.Messages[1].Text)
	assert.Equal(t, "hello", p.Messages[2].Text)
	assert.Equal(t, "look at [image]", p.Messages[3].Text)
}

func TestDecodeAnthropicToolsAndThinking(t *testing.T) {
	body := []byte(`{
		"model": "claude-sonnet-4-5",
		"messages": [
			{"role": "user", "content": "weather in oslo?"},
			{"role": "assistant", "content": [
				{"type": "thinking", "thinking": "user wants weather", "signature": "sig"},
				{"type": "text", "text": "checking"},
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "oslo"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": [{"type": "text", "text": "4C"}]}
			]}
		],
		"tools": [{"name": "get_weather", "description": "weather lookup", "input_schema": {"type": "object"}}],
		"tool_choice": {"type": "tool", "name": "get_weather"},
		"thinking": {"type": "enabled", "budget_tokens": 2048},
		"max_tokens": 512
	}`)

	p, err := DecodeAnthropic(body)
	require.NoError(t, err)

	assert.True(t, p.Thinking)
	assert.Equal(t, "get_weather", p.ToolChoice)
	require.Len(t, p.Tools, 1)
	assert.Equal(t, "get_weather", p.Tools[0].Name)

	require.Len(t, p.Messages, 3)
	asst := p.Messages[1]
	assert.Equal(t, "user wants weather", asst.Thinking)
	assert.Equal(t, "checking", asst.Text)
	require.Len(t, asst.ToolCalls, 1)
	assert.Equal(t, "toolu_1", asst.ToolCalls[0].ID)
	assert.JSONEq(t, `{"city":"oslo"}`, asst.ToolCalls[0].Arguments)

	result := p.Messages[2]
	require.Len(t, result.ToolResults, 1)
	assert.Equal(t, "toolu_1", result.ToolResults[0].CallID)
	assert.Equal(t, "4C", result.ToolResults[0].Content)
}

func TestDecodeAnthropicRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"model":`},
		{"empty messages", `{"model":"m","messages":[]}`},
		{"bad role", `{"model":"m","messages":[{"role":"robot","content":"x"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeAnthropic([]byte(tc.body))
			require.Error(t, err)
			assert.Equal(t, types.ErrBadRequest, types.GetErrorCode(err))
		})
	}
}

func TestEncodeAnthropicShape(t *testing.T) {
	temp := 0.5
	p := &Payload{
		Model:       "claude-sonnet-4-5",
		Temperature: &temp,
		MaxTokens:   800,
		Thinking:    true,
		Messages: []Message{
			{Role: RoleSystem, Text: "be terse"},
			{Role: RoleUser, Text: "weather?"},
			{Role: RoleAssistant, Thinking: "hm", ToolCalls: []ToolCall{{ID: "toolu_1", Name: "get_weather", Arguments: `{"city":"oslo"}`}}},
			{Role: RoleTool, ToolResults: []ToolResult{{CallID: "toolu_1", Content: "4C"}}},
			{Role: RoleUser, Text: "and tomorrow?"},
		},
		Tools: []Tool{{Name: "get_weather", Parameters: json.RawMessage(`{"type":"object"}`)}},
	}

	raw, err := EncodeAnthropic(p)
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(raw, &req))

	assert.Equal(t, "be terse", req["system"])
	assert.Equal(t, float64(800), req["max_tokens"])
	require.Contains(t, req, "thinking")

	msgs := req["messages"].([]any)
	// tool-role folds into the following user turn, so three wire messages.
	require.Len(t, msgs, 3)

	first := msgs[0].(map[string]any)
	assert.Equal(t, "user", first["role"])

	second := msgs[1].(map[string]any)
	assert.Equal(t, "assistant", second["role"])
	blocks := second["content"].([]any)
	require.Len(t, blocks, 2)
	assert.Equal(t, "thinking", blocks[0].(map[string]any)["type"])
	assert.Equal(t, "tool_use", blocks[1].(map[string]any)["type"])

	third := msgs[2].(map[string]any)
	assert.Equal(t, "user", third["role"])
	tblocks := third["content"].([]any)
	require.Len(t, tblocks, 2)
	assert.Equal(t, "tool_result", tblocks[0].(map[string]any)["type"])
	assert.Equal(t, "text", tblocks[1].(map[string]any)["type"])
}

// Decoding an encoded document must land on the same normalized payload.
func TestAnthropicRoundTrip(t *testing.T) {
	body := []byte(`{
		"model": "claude-opus-4-1",
		"system": "short answers",
		"messages": [
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": [
				{"type": "text", "text": "hello"},
				{"type": "tool_use", "id": "toolu_9", "name": "lookup", "input": {"q": "x"}}
			]},
			{"role": "user", "content": [{"type": "tool_result", "tool_use_id": "toolu_9", "content": "found"}]}
		],
		"max_tokens": 100
	}`)

	first, err := DecodeAnthropic(body)
	require.NoError(t, err)

	encoded, err := EncodeAnthropic(first)
	require.NoError(t, err)

	second, err := DecodeAnthropic(encoded)
	require.NoError(t, err)

	first.Raw, second.Raw = nil, nil
	assert.Equal(t, first, second)
}

func TestAnthropicRoundTripProperty(t *testing.T) {
	roleText := rapid.StringMatching(`[a-zA-Z0-9 .,!?]{1,80}`)

	rapid.Check(t, func(t *rapid.T) {
		p := &Payload{Model: "claude-sonnet-4-5", MaxTokens: rapid.IntRange(1, 8192).Draw(t, "max")}
		if rapid.Bool().Draw(t, "system") {
			p.Messages = append(p.Messages, Message{Role: RoleSystem, Text: roleText.Draw(t, "sys")})
		}
		turns := rapid.IntRange(1, 6).Draw(t, "turns")
		for i := 0; i < turns; i++ {
			role := RoleUser
			if i%2 == 1 {
				role = RoleAssistant
			}
			p.Messages = append(p.Messages, Message{Role: role, Text: roleText.Draw(t, "text")})
		}

		encoded, err := EncodeAnthropic(p)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		decoded, err := DecodeAnthropic(encoded)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		decoded.Raw = nil
		if !assert.ObjectsAreEqual(p.Messages, decoded.Messages) {
			t.Fatalf("messages diverged: %+v vs %+v", p.Messages, decoded.Messages)
		}
	})
}

func TestParseAnthropicCompletion(t *testing.T) {
	body := []byte(`{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-5",
		"content": [
			{"type": "thinking", "thinking": "ok"},
			{"type": "text", "text": "hello"},
			{"type": "tool_use", "id": "toolu_2", "name": "lookup", "input": {"q": "x"}}
		],
		"stop_reason": "tool_use",
		"stop_sequence": null,
		"usage": {"input_tokens": 10, "output_tokens": 5, "cache_read_input_tokens": 3}
	}`)

	c, err := ParseAnthropicCompletion(body)
	require.NoError(t, err)

	assert.Equal(t, "msg_01", c.ID)
	assert.Equal(t, StopToolUse, c.StopReason)
	assert.Equal(t, Usage{InputTokens: 10, OutputTokens: 5, CachedTokens: 3}, c.Usage)
	assert.Equal(t, "hello", c.Text())
	require.Len(t, c.ToolCalls(), 1)
	assert.Equal(t, "lookup", c.ToolCalls()[0].Name)
}

func TestEncodeAnthropicCompletion(t *testing.T) {
	c := &Completion{
		Model:      "claude-sonnet-4-5",
		StopReason: StopEndTurn,
		Blocks:     []Block{{Type: "text", Text: "hello"}},
		Usage:      Usage{InputTokens: 7, OutputTokens: 2},
	}

	raw, err := EncodeAnthropicCompletion(c)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "message", resp["type"])
	assert.Equal(t, "assistant", resp["role"])
	assert.Equal(t, "end_turn", resp["stop_reason"])
	assert.NotEmpty(t, resp["id"])

	content := resp["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "hello", content[0].(map[string]any)["text"])

	usage := resp["usage"].(map[string]any)
	assert.Equal(t, float64(7), usage["input_tokens"])
	assert.Equal(t, float64(2), usage["output_tokens"])
}
