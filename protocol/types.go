// Package protocol implements the normalization layer between the three
// caller protocols (Anthropic messages, OpenAI chat completions, OpenAI
// responses) and the upstream wire formats. Requests decode into a
// normalized payload, responses and streams encode back out in the caller's
// protocol, and a shared intermediate event alphabet carries streaming
// deltas between any parser/encoder pair.
package protocol

import "encoding/json"

// Endpoint identifies the wire protocol the caller is using.
type Endpoint string

const (
	EndpointAnthropic  Endpoint = "anthropic"
	EndpointOpenAIChat Endpoint = "openai-chat"
	EndpointResponses  Endpoint = "openai-responses"
)

// Family returns the metric/auth grouping for the endpoint
// ("anthropic" or "openai").
func (e Endpoint) Family() string {
	if e == EndpointAnthropic {
		return "anthropic"
	}
	return "openai"
}

// Role of a normalized message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Normalized stop reasons use the Anthropic vocabulary, which is the
// richer of the two.
const (
	StopEndTurn      = "end_turn"
	StopMaxTokens    = "max_tokens"
	StopSequence     = "stop_sequence"
	StopToolUse      = "tool_use"
	StopRefusal      = "refusal"
	StopContentBlock = "content_filter"
)

// ToolCall is an assistant-initiated function invocation. Arguments is the
// raw JSON argument string; it is never parsed while streaming.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolResult links a tool's output back to the call that produced it.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// Message is one normalized conversation turn. Content blocks are collapsed
// by role: text blocks join into Text, thinking blocks into Thinking,
// tool_use into ToolCalls, tool_result into ToolResults.
type Message struct {
	Role        Role
	Text        string
	Thinking    string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Tool is a normalized tool schema.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Payload is the normalized request every decoder produces and every
// encoder consumes. Raw preserves the original document for passthrough.
type Payload struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	ToolChoice  string // "", "auto", "any", "none", or a tool name
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	Stop        []string
	Stream      bool
	Thinking    bool
	Metadata    json.RawMessage
	Raw         json.RawMessage
}

// Usage carries normalized token counts.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
}

// Add accumulates counts from another usage report, treating input and
// cached counts as absolute (last wins) and output as cumulative max.
func (u *Usage) Add(delta Usage) {
	if delta.InputTokens > 0 {
		u.InputTokens = delta.InputTokens
	}
	if delta.CachedTokens > 0 {
		u.CachedTokens = delta.CachedTokens
	}
	if delta.OutputTokens > u.OutputTokens {
		u.OutputTokens = delta.OutputTokens
	}
}

// Block is one ordered content element in a completion.
type Block struct {
	Type     string // "text", "thinking", or "tool_call"
	Text     string
	ToolCall *ToolCall
}

// Completion is a normalized non-streaming model response.
type Completion struct {
	ID         string
	Model      string
	Blocks     []Block
	StopReason string
	Usage      Usage
}

// Text returns the concatenated text blocks.
func (c *Completion) Text() string {
	var out string
	for _, b := range c.Blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call blocks in order.
func (c *Completion) ToolCalls() []ToolCall {
	var out []ToolCall
	for _, b := range c.Blocks {
		if b.Type == "tool_call" && b.ToolCall != nil {
			out = append(out, *b.ToolCall)
		}
	}
	return out
}

// Stop reason translation tables between the normalized (Anthropic-shaped)
// vocabulary and OpenAI finish_reason values.

func stopReasonToOpenAI(reason string) string {
	switch reason {
	case StopMaxTokens:
		return "length"
	case StopToolUse:
		return "tool_calls"
	case StopRefusal, StopContentBlock:
		return "content_filter"
	case "":
		return "stop"
	default:
		return "stop"
	}
}

func finishReasonToNormalized(reason string) string {
	switch reason {
	case "length":
		return StopMaxTokens
	case "tool_calls", "function_call":
		return StopToolUse
	case "content_filter":
		return StopRefusal
	case "":
		return ""
	default:
		return StopEndTurn
	}
}
