package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ccgw/cc-gw/types"
)

// Anthropic messages wire format.
// https://docs.claude.com/en/api/messages

type anthropicRequest struct {
	Model         string               `json:"model"`
	System        json.RawMessage      `json:"system,omitempty"`
	Messages      []anthropicMessage   `json:"messages"`
	Tools         []anthropicTool      `json:"tools,omitempty"`
	ToolChoice    *anthropicToolChoice `json:"tool_choice,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
	TopP          *float64             `json:"top_p,omitempty"`
	StopSequences []string             `json:"stop_sequences,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	Thinking      *anthropicThinking   `json:"thinking,omitempty"`
	Metadata      json.RawMessage      `json:"metadata,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content anthropicContent `json:"content"`
}

// anthropicContent is either a bare string or a block list on the wire.
type anthropicContent struct {
	Text   string
	Blocks []anthropicBlock
	isText bool
}

func (c *anthropicContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.isText = true
		return nil
	}
	c.isText = false
	return json.Unmarshal(data, &c.Blocks)
}

func (c anthropicContent) MarshalJSON() ([]byte, error) {
	if c.isText {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

type anthropicBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	// image
	Source json.RawMessage `json:"source,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

type anthropicResponse struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Role         string           `json:"role"`
	Model        string           `json:"model"`
	Content      []anthropicBlock `json:"content"`
	StopReason   *string          `json:"stop_reason"`
	StopSequence *string          `json:"stop_sequence"`
	Usage        anthropicUsage   `json:"usage"`
}

// DecodeAnthropic parses an Anthropic messages request into the normalized
// payload. Content blocks are collapsed by role; tool_use becomes an
// assistant tool-call, tool_result a user-side tool-result, thinking blocks
// set the thinking flag and survive as tagged assistant text.
func DecodeAnthropic(body []byte) (*Payload, error) {
	var req anthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, types.NewError(types.ErrBadRequest, "malformed anthropic request").WithCause(err)
	}
	if len(req.Messages) == 0 {
		return nil, types.NewError(types.ErrBadRequest, "messages must not be empty")
	}

	p := &Payload{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.StopSequences,
		Stream:      req.Stream,
		Metadata:    req.Metadata,
		Raw:         json.RawMessage(body),
	}
	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		p.Thinking = true
	}

	if sys := decodeAnthropicSystem(req.System); sys != "" {
		p.Messages = append(p.Messages, Message{Role: RoleSystem, Text: sys})
	}

	for i, m := range req.Messages {
		msg, err := decodeAnthropicMessage(m)
		if err != nil {
			return nil, types.NewError(types.ErrBadRequest, fmt.Sprintf("messages[%d]: %v", i, err))
		}
		if msg.Thinking != "" {
			p.Thinking = true
		}
		p.Messages = append(p.Messages, msg)
	}

	for _, t := range req.Tools {
		p.Tools = append(p.Tools, Tool{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	if req.ToolChoice != nil {
		switch req.ToolChoice.Type {
		case "auto", "any", "none":
			p.ToolChoice = req.ToolChoice.Type
		case "tool":
			p.ToolChoice = req.ToolChoice.Name
		}
	}
	return p, nil
}

func decodeAnthropicSystem(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []anthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func decodeAnthropicMessage(m anthropicMessage) (Message, error) {
	role := Role(m.Role)
	if role != RoleUser && role != RoleAssistant {
		return Message{}, fmt.Errorf("role %q is not user|assistant", m.Role)
	}
	msg := Message{Role: role}

	if m.Content.isText {
		msg.Text = m.Content.Text
		return msg, nil
	}

	var texts []string
	for _, b := range m.Content.Blocks {
		switch b.Type {
		case "text":
			texts = append(texts, b.Text)
		case "thinking":
			msg.Thinking += b.Thinking
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: compactJSON(b.Input),
			})
		case "tool_result":
			msg.ToolResults = append(msg.ToolResults, ToolResult{
				CallID:  b.ToolUseID,
				Content: flattenResultContent(b.Content),
				IsError: b.IsError,
			})
		case "image":
			texts = append(texts, "[image]")
		}
	}
	msg.Text = strings.Join(texts, "")
	return msg, nil
}

// flattenResultContent turns a tool_result content value (string or block
// list) into plain text.
func flattenResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []anthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// EncodeAnthropic renders the normalized payload as an Anthropic messages
// request. System messages lift to the top-level field; tool roles fold
// into user tool_result blocks; consecutive same-role turns merge so the
// conversation alternates.
func EncodeAnthropic(p *Payload) ([]byte, error) {
	req := anthropicRequest{
		Model:         p.Model,
		MaxTokens:     p.MaxTokens,
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		StopSequences: p.Stop,
		Stream:        p.Stream,
		Metadata:      p.Metadata,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 4096
	}
	if p.Thinking {
		req.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: defaultThinkingBudget(p.MaxTokens)}
	}

	var systems []string
	for _, m := range p.Messages {
		if m.Role == RoleSystem {
			systems = append(systems, m.Text)
			continue
		}
		wire := encodeAnthropicMessage(m)
		if len(wire.Content.Blocks) == 0 {
			continue
		}
		// Merge with the previous turn when roles repeat.
		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == wire.Role {
			prev := &req.Messages[n-1]
			prev.Content.Blocks = append(prev.Content.Blocks, wire.Content.Blocks...)
			continue
		}
		req.Messages = append(req.Messages, wire)
	}
	if len(systems) > 0 {
		sys, err := json.Marshal(strings.Join(systems, "\n"))
		if err != nil {
			return nil, err
		}
		req.System = sys
	}

	for _, t := range p.Tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		req.Tools = append(req.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	switch p.ToolChoice {
	case "":
	case "auto", "any", "none":
		req.ToolChoice = &anthropicToolChoice{Type: p.ToolChoice}
	default:
		req.ToolChoice = &anthropicToolChoice{Type: "tool", Name: p.ToolChoice}
	}

	return json.Marshal(req)
}

func encodeAnthropicMessage(m Message) anthropicMessage {
	role := string(m.Role)
	if m.Role == RoleTool {
		role = "user"
	}
	wire := anthropicMessage{Role: role}

	if m.Thinking != "" && m.Role == RoleAssistant {
		wire.Content.Blocks = append(wire.Content.Blocks, anthropicBlock{Type: "thinking", Thinking: m.Thinking})
	}
	for _, tr := range m.ToolResults {
		content, _ := json.Marshal(tr.Content)
		wire.Content.Blocks = append(wire.Content.Blocks, anthropicBlock{
			Type:      "tool_result",
			ToolUseID: tr.CallID,
			Content:   content,
			IsError:   tr.IsError,
		})
	}
	if m.Text != "" {
		wire.Content.Blocks = append(wire.Content.Blocks, anthropicBlock{Type: "text", Text: m.Text})
	}
	for _, tc := range m.ToolCalls {
		wire.Content.Blocks = append(wire.Content.Blocks, anthropicBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: argumentsJSON(tc.Arguments),
		})
	}
	return wire
}

// ParseAnthropicCompletion decodes a non-streaming Anthropic response body.
func ParseAnthropicCompletion(body []byte) (*Completion, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}
	c := &Completion{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			CachedTokens: resp.Usage.CacheReadInputTokens,
		},
	}
	if resp.StopReason != nil {
		c.StopReason = *resp.StopReason
	}
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			c.Blocks = append(c.Blocks, Block{Type: "text", Text: b.Text})
		case "thinking":
			c.Blocks = append(c.Blocks, Block{Type: "thinking", Text: b.Thinking})
		case "tool_use":
			c.Blocks = append(c.Blocks, Block{Type: "tool_call", ToolCall: &ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: compactJSON(b.Input),
			}})
		}
	}
	return c, nil
}

// EncodeAnthropicCompletion renders a completion as an Anthropic response
// body.
func EncodeAnthropicCompletion(c *Completion) ([]byte, error) {
	resp := anthropicResponse{
		ID:    c.ID,
		Type:  "message",
		Role:  "assistant",
		Model: c.Model,
		Usage: anthropicUsage{
			InputTokens:          c.Usage.InputTokens,
			OutputTokens:         c.Usage.OutputTokens,
			CacheReadInputTokens: c.Usage.CachedTokens,
		},
	}
	if resp.ID == "" {
		resp.ID = NewMessageID()
	}
	stop := c.StopReason
	if stop == "" {
		stop = StopEndTurn
	}
	resp.StopReason = &stop

	for _, b := range c.Blocks {
		switch b.Type {
		case "text":
			resp.Content = append(resp.Content, anthropicBlock{Type: "text", Text: b.Text})
		case "thinking":
			resp.Content = append(resp.Content, anthropicBlock{Type: "thinking", Thinking: b.Text})
		case "tool_call":
			if b.ToolCall == nil {
				continue
			}
			resp.Content = append(resp.Content, anthropicBlock{
				Type:  "tool_use",
				ID:    b.ToolCall.ID,
				Name:  b.ToolCall.Name,
				Input: argumentsJSON(b.ToolCall.Arguments),
			})
		}
	}
	if resp.Content == nil {
		resp.Content = []anthropicBlock{}
	}
	return json.Marshal(resp)
}

// NewMessageID mints an Anthropic-style message id.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// NewToolCallID mints a tool-use id.
func NewToolCallID() string {
	return "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func defaultThinkingBudget(maxTokens int) int {
	if maxTokens > 2048 {
		return maxTokens / 2
	}
	return 1024
}

// compactJSON normalizes raw JSON to its compact form; empty input yields
// an empty object string.
func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// argumentsJSON converts a tool-call argument string to raw JSON, guarding
// against partially streamed or empty arguments.
func argumentsJSON(args string) json.RawMessage {
	trimmed := strings.TrimSpace(args)
	if trimmed == "" {
		return json.RawMessage(`{}`)
	}
	if !json.Valid([]byte(trimmed)) {
		quoted, _ := json.Marshal(trimmed)
		return json.RawMessage(fmt.Sprintf(`{"_raw":%s}`, quoted))
	}
	return json.RawMessage(trimmed)
}
