package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ccgw/cc-gw/types"
)

// OpenAI chat completions wire format.
// https://platform.openai.com/docs/api-reference/chat

type openaiRequest struct {
	Model               string               `json:"model"`
	Messages            []openaiMessage      `json:"messages"`
	Tools               []openaiToolDef      `json:"tools,omitempty"`
	ToolChoice          json.RawMessage      `json:"tool_choice,omitempty"`
	MaxTokens           int                  `json:"max_tokens,omitempty"`
	MaxCompletionTokens int                  `json:"max_completion_tokens,omitempty"`
	Temperature         *float64             `json:"temperature,omitempty"`
	TopP                *float64             `json:"top_p,omitempty"`
	Stop                json.RawMessage      `json:"stop,omitempty"`
	Stream              bool                 `json:"stream,omitempty"`
	StreamOptions       *openaiStreamOptions `json:"stream_options,omitempty"`
	ReasoningEffort     string               `json:"reasoning_effort,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role             string           `json:"role"`
	Content          json.RawMessage  `json:"content,omitempty"`
	Name             string           `json:"name,omitempty"`
	ToolCalls        []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string           `json:"tool_call_id,omitempty"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
}

type openaiToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiToolDef struct {
	Type     string            `json:"type"`
	Function openaiFunctionDef `json:"function"`
}

type openaiFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL json.RawMessage `json:"image_url,omitempty"`
}

type openaiUsage struct {
	PromptTokens        int                 `json:"prompt_tokens"`
	CompletionTokens    int                 `json:"completion_tokens"`
	TotalTokens         int                 `json:"total_tokens"`
	PromptTokensDetails *openaiUsageDetails `json:"prompt_tokens_details,omitempty"`
}

type openaiUsageDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
}

// DecodeOpenAIChat parses an OpenAI chat completions request into the
// normalized payload.
func DecodeOpenAIChat(body []byte) (*Payload, error) {
	var req openaiRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, types.NewError(types.ErrBadRequest, "malformed chat completions request").WithCause(err)
	}
	if len(req.Messages) == 0 {
		return nil, types.NewError(types.ErrBadRequest, "messages must not be empty")
	}

	p := &Payload{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
		Thinking:    req.ReasoningEffort != "",
		Raw:         json.RawMessage(body),
	}
	if req.MaxCompletionTokens > 0 {
		p.MaxTokens = req.MaxCompletionTokens
	}
	p.Stop = decodeStopValue(req.Stop)

	for i, m := range req.Messages {
		msg, err := decodeOpenAIMessage(m)
		if err != nil {
			return nil, types.NewError(types.ErrBadRequest, fmt.Sprintf("messages[%d]: %v", i, err))
		}
		p.Messages = append(p.Messages, msg)
	}

	for _, t := range req.Tools {
		if t.Type != "" && t.Type != "function" {
			continue
		}
		p.Tools = append(p.Tools, Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	p.ToolChoice = decodeOpenAIToolChoice(req.ToolChoice)
	return p, nil
}

func decodeStopValue(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

func decodeOpenAIToolChoice(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "auto", "none":
			return mode
		case "required":
			return "any"
		}
		return ""
	}
	var named struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &named); err == nil && named.Function.Name != "" {
		return named.Function.Name
	}
	return ""
}

func decodeOpenAIMessage(m openaiMessage) (Message, error) {
	switch m.Role {
	case "system", "developer":
		return Message{Role: RoleSystem, Text: flattenOpenAIContent(m.Content)}, nil
	case "user":
		return Message{Role: RoleUser, Text: flattenOpenAIContent(m.Content)}, nil
	case "assistant":
		msg := Message{
			Role:     RoleAssistant,
			Text:     flattenOpenAIContent(m.Content),
			Thinking: m.ReasoningContent,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		return msg, nil
	case "tool":
		return Message{Role: RoleTool, ToolResults: []ToolResult{{
			CallID:  m.ToolCallID,
			Content: flattenOpenAIContent(m.Content),
		}}}, nil
	default:
		return Message{}, fmt.Errorf("role %q is not supported", m.Role)
	}
}

// flattenOpenAIContent collapses a content value (string or part list) into
// plain text. Image parts degrade to a placeholder.
func flattenOpenAIContent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var parts []openaiContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return string(raw)
	}
	var out []string
	for _, part := range parts {
		switch part.Type {
		case "text":
			out = append(out, part.Text)
		case "image_url":
			out = append(out, "[image]")
		}
	}
	return strings.Join(out, "")
}

// EncodeOpenAIChat renders the normalized payload as an OpenAI chat
// completions request. Tool results become tool-role messages; thinking
// content has no chat representation and is dropped.
func EncodeOpenAIChat(p *Payload) ([]byte, error) {
	req := openaiRequest{
		Model:       p.Model,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		Stream:      p.Stream,
	}
	if p.Stream {
		req.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}
	if len(p.Stop) == 1 {
		req.Stop, _ = json.Marshal(p.Stop[0])
	} else if len(p.Stop) > 1 {
		req.Stop, _ = json.Marshal(p.Stop)
	}

	for _, m := range p.Messages {
		req.Messages = append(req.Messages, encodeOpenAIMessages(m)...)
	}

	for _, t := range p.Tools {
		req.Tools = append(req.Tools, openaiToolDef{
			Type: "function",
			Function: openaiFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	switch p.ToolChoice {
	case "":
	case "auto", "none":
		req.ToolChoice, _ = json.Marshal(p.ToolChoice)
	case "any":
		req.ToolChoice, _ = json.Marshal("required")
	default:
		req.ToolChoice, _ = json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": p.ToolChoice},
		})
	}

	return json.Marshal(req)
}

func encodeOpenAIMessages(m Message) []openaiMessage {
	var out []openaiMessage
	for _, tr := range m.ToolResults {
		content, _ := json.Marshal(tr.Content)
		out = append(out, openaiMessage{Role: "tool", ToolCallID: tr.CallID, Content: content})
	}
	switch m.Role {
	case RoleSystem:
		out = append(out, openaiMessage{Role: "system", Content: marshalString(m.Text)})
	case RoleUser:
		if m.Text != "" || len(m.ToolResults) == 0 {
			out = append(out, openaiMessage{Role: "user", Content: marshalString(m.Text)})
		}
	case RoleAssistant:
		wire := openaiMessage{Role: "assistant"}
		if m.Text != "" {
			wire.Content = marshalString(m.Text)
		}
		for _, tc := range m.ToolCalls {
			id := tc.ID
			if id == "" {
				id = NewToolCallID()
			}
			wire.ToolCalls = append(wire.ToolCalls, openaiToolCall{
				ID:   id,
				Type: "function",
				Function: openaiFunctionCall{
					Name:      tc.Name,
					Arguments: nonEmptyArguments(tc.Arguments),
				},
			})
		}
		if wire.Content != nil || len(wire.ToolCalls) > 0 {
			out = append(out, wire)
		}
	case RoleTool:
		// Tool results already emitted above.
	}
	return out
}

func marshalString(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

func nonEmptyArguments(args string) string {
	if strings.TrimSpace(args) == "" {
		return "{}"
	}
	return args
}

// ParseOpenAICompletion decodes a non-streaming chat completions response
// body.
func ParseOpenAICompletion(body []byte) (*Completion, error) {
	var resp openaiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse chat completions response: %w", err)
	}
	c := &Completion{ID: resp.ID, Model: resp.Model}
	if resp.Usage != nil {
		c.Usage.InputTokens = resp.Usage.PromptTokens
		c.Usage.OutputTokens = resp.Usage.CompletionTokens
		if resp.Usage.PromptTokensDetails != nil {
			c.Usage.CachedTokens = resp.Usage.PromptTokensDetails.CachedTokens
		}
	}
	if len(resp.Choices) == 0 {
		return c, nil
	}
	choice := resp.Choices[0]
	c.StopReason = finishReasonToNormalized(choice.FinishReason)
	if choice.Message.ReasoningContent != "" {
		c.Blocks = append(c.Blocks, Block{Type: "thinking", Text: choice.Message.ReasoningContent})
	}
	if text := flattenOpenAIContent(choice.Message.Content); text != "" {
		c.Blocks = append(c.Blocks, Block{Type: "text", Text: text})
	}
	for _, tc := range choice.Message.ToolCalls {
		c.Blocks = append(c.Blocks, Block{Type: "tool_call", ToolCall: &ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}})
	}
	return c, nil
}

// EncodeOpenAICompletion renders a completion as a chat completions
// response body.
func EncodeOpenAICompletion(c *Completion) ([]byte, error) {
	msg := openaiMessage{Role: "assistant"}
	if text := c.Text(); text != "" {
		msg.Content = marshalString(text)
	} else {
		msg.Content = json.RawMessage("null")
	}
	for _, tc := range c.ToolCalls() {
		id := tc.ID
		if id == "" {
			id = NewToolCallID()
		}
		msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
			ID:       id,
			Type:     "function",
			Function: openaiFunctionCall{Name: tc.Name, Arguments: nonEmptyArguments(tc.Arguments)},
		})
	}

	id := c.ID
	if id == "" {
		id = NewCompletionID()
	}
	resp := openaiResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   c.Model,
		Choices: []openaiChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: stopReasonToOpenAI(c.StopReason),
		}},
		Usage: &openaiUsage{
			PromptTokens:     c.Usage.InputTokens,
			CompletionTokens: c.Usage.OutputTokens,
			TotalTokens:      c.Usage.InputTokens + c.Usage.OutputTokens,
		},
	}
	if c.Usage.CachedTokens > 0 {
		resp.Usage.PromptTokensDetails = &openaiUsageDetails{CachedTokens: c.Usage.CachedTokens}
	}
	return json.Marshal(resp)
}

// NewCompletionID mints an OpenAI-style completion id.
func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
