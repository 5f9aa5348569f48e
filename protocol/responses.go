package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ccgw/cc-gw/types"
)

// OpenAI responses wire format.
// https://platform.openai.com/docs/api-reference/responses

type responsesRequest struct {
	Model           string          `json:"model"`
	Input           json.RawMessage `json:"input"`
	Instructions    string          `json:"instructions,omitempty"`
	Tools           []responsesTool `json:"tools,omitempty"`
	ToolChoice      json.RawMessage `json:"tool_choice,omitempty"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	Reasoning       json.RawMessage `json:"reasoning,omitempty"`
}

type responsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type responsesItem struct {
	Type    string          `json:"type,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`

	// function_call
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Status    string `json:"status,omitempty"`

	// function_call_output
	Output string `json:"output,omitempty"`

	// reasoning
	Summary []responsesSummaryPart `json:"summary,omitempty"`
}

type responsesSummaryPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responsesUsage struct {
	InputTokens        int                  `json:"input_tokens"`
	OutputTokens       int                  `json:"output_tokens"`
	TotalTokens        int                  `json:"total_tokens"`
	InputTokensDetails *responsesTokenCache `json:"input_tokens_details,omitempty"`
}

type responsesTokenCache struct {
	CachedTokens int `json:"cached_tokens"`
}

type responsesResponse struct {
	ID        string          `json:"id"`
	Object    string          `json:"object"`
	CreatedAt int64           `json:"created_at"`
	Status    string          `json:"status"`
	Model     string          `json:"model"`
	Output    []responsesItem `json:"output"`
	Usage     *responsesUsage `json:"usage,omitempty"`
}

// DecodeResponses parses an OpenAI responses request into the normalized
// payload. Input is either a bare string (one user turn) or a list of typed
// items; instructions become a leading system message.
func DecodeResponses(body []byte) (*Payload, error) {
	var req responsesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, types.NewError(types.ErrBadRequest, "malformed responses request").WithCause(err)
	}

	p := &Payload{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxOutputTokens,
		Stream:      req.Stream,
		Thinking:    len(req.Reasoning) > 0 && string(req.Reasoning) != "null",
		Raw:         json.RawMessage(body),
	}

	if req.Instructions != "" {
		p.Messages = append(p.Messages, Message{Role: RoleSystem, Text: req.Instructions})
	}

	if err := decodeResponsesInput(p, req.Input); err != nil {
		return nil, err
	}
	if len(p.Messages) == 0 {
		return nil, types.NewError(types.ErrBadRequest, "input must not be empty")
	}

	for _, t := range req.Tools {
		if t.Type != "" && t.Type != "function" {
			continue
		}
		p.Tools = append(p.Tools, Tool{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	p.ToolChoice = decodeResponsesToolChoice(req.ToolChoice)
	return p, nil
}

func decodeResponsesInput(p *Payload, raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		p.Messages = append(p.Messages, Message{Role: RoleUser, Text: text})
		return nil
	}
	var items []responsesItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return types.NewError(types.ErrBadRequest, "input must be a string or an item list").WithCause(err)
	}
	for i, item := range items {
		if err := decodeResponsesItem(p, item); err != nil {
			return types.NewError(types.ErrBadRequest, fmt.Sprintf("input[%d]: %v", i, err))
		}
	}
	return nil
}

func decodeResponsesItem(p *Payload, item responsesItem) error {
	kind := item.Type
	if kind == "" && item.Role != "" {
		kind = "message"
	}
	switch kind {
	case "message":
		role := Role(item.Role)
		switch item.Role {
		case "system", "developer":
			role = RoleSystem
		case "user", "assistant":
		default:
			return fmt.Errorf("role %q is not supported", item.Role)
		}
		p.Messages = append(p.Messages, Message{Role: role, Text: flattenResponsesContent(item.Content)})
	case "function_call":
		call := ToolCall{ID: item.CallID, Name: item.Name, Arguments: item.Arguments}
		if call.ID == "" {
			call.ID = item.ID
		}
		// Attach to the trailing assistant turn when one exists.
		if n := len(p.Messages); n > 0 && p.Messages[n-1].Role == RoleAssistant {
			p.Messages[n-1].ToolCalls = append(p.Messages[n-1].ToolCalls, call)
		} else {
			p.Messages = append(p.Messages, Message{Role: RoleAssistant, ToolCalls: []ToolCall{call}})
		}
	case "function_call_output":
		p.Messages = append(p.Messages, Message{Role: RoleTool, ToolResults: []ToolResult{{
			CallID:  item.CallID,
			Content: item.Output,
		}}})
	case "reasoning":
		p.Thinking = true
		var parts []string
		for _, s := range item.Summary {
			if s.Text != "" {
				parts = append(parts, s.Text)
			}
		}
		if text := strings.Join(parts, "\n"); text != "" {
			if n := len(p.Messages); n > 0 && p.Messages[n-1].Role == RoleAssistant {
				p.Messages[n-1].Thinking += text
			} else {
				p.Messages = append(p.Messages, Message{Role: RoleAssistant, Thinking: text})
			}
		}
	default:
		// Unknown item kinds are ignored rather than rejected.
	}
	return nil
}

func decodeResponsesToolChoice(raw json.RawMessage) string {
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
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &named); err == nil && named.Name != "" {
		return named.Name
	}
	return ""
}

// flattenResponsesContent collapses a responses content value (string or
// typed part list) into plain text.
func flattenResponsesContent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var parts []responsesContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return string(raw)
	}
	var out []string
	for _, part := range parts {
		switch part.Type {
		case "input_text", "output_text", "text":
			out = append(out, part.Text)
		case "input_image":
			out = append(out, "[image]")
		}
	}
	return strings.Join(out, "")
}

// ParseResponsesCompletion decodes a non-streaming responses body. Used
// both for caller-side re-encoding and for metering fast-path forwards.
func ParseResponsesCompletion(body []byte) (*Completion, error) {
	var resp responsesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse responses body: %w", err)
	}
	c := &Completion{ID: resp.ID, Model: resp.Model, StopReason: StopEndTurn}
	if resp.Usage != nil {
		c.Usage.InputTokens = resp.Usage.InputTokens
		c.Usage.OutputTokens = resp.Usage.OutputTokens
		if resp.Usage.InputTokensDetails != nil {
			c.Usage.CachedTokens = resp.Usage.InputTokensDetails.CachedTokens
		}
	}
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			if text := flattenResponsesContent(item.Content); text != "" {
				c.Blocks = append(c.Blocks, Block{Type: "text", Text: text})
			}
		case "function_call":
			id := item.CallID
			if id == "" {
				id = item.ID
			}
			c.Blocks = append(c.Blocks, Block{Type: "tool_call", ToolCall: &ToolCall{
				ID:        id,
				Name:      item.Name,
				Arguments: item.Arguments,
			}})
			c.StopReason = StopToolUse
		case "reasoning":
			var parts []string
			for _, s := range item.Summary {
				parts = append(parts, s.Text)
			}
			if text := strings.Join(parts, "\n"); text != "" {
				c.Blocks = append(c.Blocks, Block{Type: "thinking", Text: text})
			}
		}
	}
	if resp.Status == "incomplete" {
		c.StopReason = StopMaxTokens
	}
	return c, nil
}

// EncodeResponsesCompletion renders a completion as a responses body.
func EncodeResponsesCompletion(c *Completion) ([]byte, error) {
	id := c.ID
	if id == "" {
		id = NewResponseID()
	}
	resp := responsesResponse{
		ID:        id,
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    "completed",
		Model:     c.Model,
		Output:    []responsesItem{},
		Usage: &responsesUsage{
			InputTokens:  c.Usage.InputTokens,
			OutputTokens: c.Usage.OutputTokens,
			TotalTokens:  c.Usage.InputTokens + c.Usage.OutputTokens,
		},
	}
	if c.Usage.CachedTokens > 0 {
		resp.Usage.InputTokensDetails = &responsesTokenCache{CachedTokens: c.Usage.CachedTokens}
	}
	if c.StopReason == StopMaxTokens {
		resp.Status = "incomplete"
	}

	if text := c.Text(); text != "" {
		content, _ := json.Marshal([]responsesContentPart{{Type: "output_text", Text: text}})
		resp.Output = append(resp.Output, responsesItem{
			Type:    "message",
			ID:      NewMessageID(),
			Role:    "assistant",
			Status:  "completed",
			Content: content,
		})
	}
	for _, tc := range c.ToolCalls() {
		callID := tc.ID
		if callID == "" {
			callID = NewResponsesCallID()
		}
		resp.Output = append(resp.Output, responsesItem{
			Type:      "function_call",
			ID:        "fc_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
			CallID:    callID,
			Name:      tc.Name,
			Arguments: nonEmptyArguments(tc.Arguments),
			Status:    "completed",
		})
	}
	return json.Marshal(resp)
}

// NewResponseID mints a responses-style response id.
func NewResponseID() string {
	return "resp_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// NewResponsesCallID mints a responses-style function call id.
func NewResponsesCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
