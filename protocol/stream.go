package protocol

import "fmt"

// EventKind enumerates the intermediate streaming alphabet every upstream
// dialect is parsed into and every caller dialect is encoded from.
type EventKind string

const (
	EventMessageStart  EventKind = "message_start"
	EventTextDelta     EventKind = "text_delta"
	EventToolCallDelta EventKind = "tool_call_delta"
	EventThinkingDelta EventKind = "thinking_delta"
	EventUsage         EventKind = "usage"
	EventMessageStop   EventKind = "message_stop"
	EventError         EventKind = "error"
)

// StreamEvent is one intermediate event. Only the fields relevant to the
// kind are set.
type StreamEvent struct {
	Kind EventKind

	// message_start
	MessageID string
	Model     string

	// text_delta / thinking_delta
	Text string

	// tool_call_delta; the first delta for a call carries ID and Name,
	// later ones only ArgsChunk.
	ToolID    string
	ToolName  string
	ToolIndex int
	ArgsChunk string

	// usage
	Usage *Usage

	// message_stop
	StopReason string

	// error
	Err error
}

// StreamParser turns upstream SSE events into intermediate events. Feed is
// called once per complete SSE frame; Flush drains state at end of stream,
// emitting a trailing message_stop when the upstream never sent one.
type StreamParser interface {
	Feed(eventType string, data []byte) ([]StreamEvent, error)
	Flush() []StreamEvent
}

// StreamEncoder renders intermediate events as SSE frames in the caller's
// protocol. Encode may return multiple frames; Flush emits any terminal
// frames after the last event.
type StreamEncoder interface {
	Encode(ev StreamEvent) ([]byte, error)
	Flush() ([]byte, error)
}

// NewStreamParser selects the parser for an upstream wire protocol.
func NewStreamParser(wire Endpoint) (StreamParser, error) {
	switch wire {
	case EndpointAnthropic:
		return newAnthropicStreamParser(), nil
	case EndpointOpenAIChat:
		return newOpenAIStreamParser(), nil
	case EndpointResponses:
		return newResponsesStreamParser(), nil
	default:
		return nil, fmt.Errorf("no stream parser for %q", wire)
	}
}

// NewStreamEncoder selects the encoder for the caller's wire protocol.
// The model is stamped into frames for dialects that repeat it per chunk.
func NewStreamEncoder(wire Endpoint, model string) (StreamEncoder, error) {
	switch wire {
	case EndpointAnthropic:
		return newAnthropicStreamEncoder(model), nil
	case EndpointOpenAIChat:
		return newOpenAIStreamEncoder(model), nil
	case EndpointResponses:
		return newResponsesStreamEncoder(model), nil
	default:
		return nil, fmt.Errorf("no stream encoder for %q", wire)
	}
}
