// Package relay pumps upstream streaming responses back to the caller,
// translating event shape between protocols while a meter accumulates
// TTFT, TPOT, and token counts for the request log.
package relay

import (
	"time"

	"github.com/ccgw/cc-gw/protocol"
)

// heuristicBytesPerToken estimates output tokens from chunk bytes when the
// upstream sends no usage data.
const heuristicBytesPerToken = 4

// Meter accumulates per-request timing and token state. It is task-local:
// one meter per request, no locking.
type Meter struct {
	start      time.Time
	firstToken time.Time
	end        time.Time

	usage           protocol.Usage
	heuristicTokens int
	stopReason      string
	sawStop         bool

	now func() time.Time
}

// NewMeter starts metering at admission time.
func NewMeter() *Meter {
	m := &Meter{now: time.Now}
	m.start = m.now()
	return m
}

// Observe folds one intermediate event into the meter state.
func (m *Meter) Observe(ev protocol.StreamEvent) {
	switch ev.Kind {
	case protocol.EventTextDelta, protocol.EventToolCallDelta, protocol.EventThinkingDelta:
		if m.firstToken.IsZero() {
			m.firstToken = m.now()
		}
		chunk := ev.Text
		if ev.Kind == protocol.EventToolCallDelta {
			chunk = ev.ArgsChunk
		}
		tokens := len(chunk) / heuristicBytesPerToken
		if tokens == 0 && chunk != "" {
			tokens = 1
		}
		m.heuristicTokens += tokens
	case protocol.EventUsage:
		if ev.Usage != nil {
			m.usage.Add(*ev.Usage)
		}
	case protocol.EventMessageStop:
		m.sawStop = true
		m.stopReason = ev.StopReason
		m.end = m.now()
	}
}

// Result is the metered outcome of one request.
type Result struct {
	LatencyMs    int64
	TTFTMs       int64
	TPOTMs       float64
	InputTokens  int
	OutputTokens int
	CachedTokens int
	StopReason   string
}

// Finalize closes the meter and computes derived values. Output tokens
// come from upstream usage when reported, else from the byte heuristic;
// TPOT is averaged over the post-TTFT window.
func (m *Meter) Finalize() Result {
	end := m.end
	if end.IsZero() {
		end = m.now()
	}
	res := Result{
		LatencyMs:    end.Sub(m.start).Milliseconds(),
		InputTokens:  m.usage.InputTokens,
		OutputTokens: m.usage.OutputTokens,
		CachedTokens: m.usage.CachedTokens,
		StopReason:   m.stopReason,
	}
	if res.OutputTokens == 0 {
		res.OutputTokens = m.heuristicTokens
	}
	if !m.firstToken.IsZero() {
		res.TTFTMs = m.firstToken.Sub(m.start).Milliseconds()
		if res.OutputTokens > 0 {
			res.TPOTMs = float64(end.Sub(m.firstToken).Milliseconds()) / float64(res.OutputTokens)
		}
	}
	return res
}

// SetUsage records usage parsed from a non-streaming response body.
func (m *Meter) SetUsage(u protocol.Usage) {
	m.usage.Add(u)
}

// MarkFirstByte stamps TTFT for non-streamed responses where the whole
// body arrives at once.
func (m *Meter) MarkFirstByte() {
	if m.firstToken.IsZero() {
		m.firstToken = m.now()
	}
}
