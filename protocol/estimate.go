package protocol

import (
	"fmt"
	"strings"
)

// DefaultBytesPerToken is the average UTF-8 bytes per token used by the
// size heuristic when a family does not override it.
const DefaultBytesPerToken = 4

// EstimateTokens approximates the token cost of a payload as the total
// UTF-8 byte length of all message text divided by bytesPerToken. It is a
// routing heuristic, not a tokenizer.
func EstimateTokens(p *Payload, bytesPerToken int) int {
	if bytesPerToken <= 0 {
		bytesPerToken = DefaultBytesPerToken
	}
	total := 0
	for _, m := range p.Messages {
		total += len(m.Text) + len(m.Thinking)
		for _, tc := range m.ToolCalls {
			total += len(tc.Name) + len(tc.Arguments)
		}
		for _, tr := range m.ToolResults {
			total += len(tr.Content)
		}
	}
	for _, t := range p.Tools {
		total += len(t.Name) + len(t.Description) + len(t.Parameters)
	}
	return total / bytesPerToken
}

// StripTools rewrites the payload in place for targets that cannot accept
// tool definitions: tool-calls and tool-results flatten into readable text
// prefixed with the tool name, and the tool declarations are dropped.
func StripTools(p *Payload) {
	for i := range p.Messages {
		m := &p.Messages[i]
		var parts []string
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
		for _, tc := range m.ToolCalls {
			parts = append(parts, fmt.Sprintf("[tool call %s] %s", tc.Name, nonEmptyArguments(tc.Arguments)))
		}
		for _, tr := range m.ToolResults {
			label := tr.CallID
			if label == "" {
				label = "result"
			}
			if tr.IsError {
				parts = append(parts, fmt.Sprintf("[tool error %s] %s", label, tr.Content))
			} else {
				parts = append(parts, fmt.Sprintf("[tool result %s] %s", label, tr.Content))
			}
		}
		m.Text = strings.Join(parts, "\n")
		m.ToolCalls = nil
		m.ToolResults = nil
		if m.Role == RoleTool {
			m.Role = RoleUser
		}
	}
	p.Tools = nil
	p.ToolChoice = ""
}

// StripMetadata drops the caller's metadata object. Applied whenever the
// target family is not Anthropic, since other vendors reject the field.
func StripMetadata(p *Payload) {
	p.Metadata = nil
}
