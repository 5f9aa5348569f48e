package relay

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/protocol"
	"github.com/ccgw/cc-gw/types"
)

// Flusher pushes buffered bytes to the client immediately. http.Flusher
// satisfies it.
type Flusher interface {
	Flush()
}

// Relay couples an upstream stream parser with a caller-protocol encoder.
// In passthrough mode upstream frames are copied verbatim and the parser
// runs as a shadow for metering only.
type Relay struct {
	parser      protocol.StreamParser
	encoder     protocol.StreamEncoder
	meter       *Meter
	passthrough bool
	logger      *zap.Logger
}

// New builds a relay. Encoder frames are written to the caller unless
// passthrough is set.
func New(parser protocol.StreamParser, encoder protocol.StreamEncoder, meter *Meter, passthrough bool, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		parser:      parser,
		encoder:     encoder,
		meter:       meter,
		passthrough: passthrough,
		logger:      logger.With(zap.String("component", "relay")),
	}
}

// sseFrame is one upstream server-sent event block.
type sseFrame struct {
	event string
	data  []byte
	raw   []byte
}

// splitSSE is a bufio.SplitFunc yielding one SSE block per token,
// delimited by a blank line.
func splitSSE(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for _, sep := range [][]byte{[]byte("\n\n"), []byte("\r\n\r\n")} {
		if i := bytes.Index(data, sep); i >= 0 {
			return i + len(sep), data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// newScanner builds an SSE block scanner with room for large tool-call
// argument frames.
func newScanner(upstream io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	scanner.Split(splitSSE)
	return scanner
}

// parseFrame extracts the event name and joined data payload from a block.
// Comment lines are dropped; a frame with no data lines returns empty data.
func parseFrame(block []byte) sseFrame {
	frame := sseFrame{raw: append(append([]byte{}, block...), '\n', '\n')}
	var dataLines []string
	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			frame.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if len(dataLines) > 0 {
		frame.data = []byte(strings.Join(dataLines, "\n"))
	}
	return frame
}

// Pump reads upstream SSE until EOF or cancellation, translating and
// writing each event in order. Bytes reach the caller in the exact order
// derived from upstream events; the writer is flushed after every frame so
// a slow caller backpressures the upstream read.
func (r *Relay) Pump(ctx context.Context, upstream io.Reader, w io.Writer, flusher Flusher) error {
	scanner := newScanner(upstream)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return types.NewError(types.ErrStreamAborted, "client closed connection").WithCause(err)
		}
		frame := parseFrame(scanner.Bytes())
		if len(frame.data) == 0 && frame.event == "" {
			continue
		}

		events, err := r.parser.Feed(frame.event, frame.data)
		if err != nil {
			r.logger.Warn("unparsable upstream frame", zap.Error(err))
			continue
		}
		for _, ev := range events {
			r.meter.Observe(ev)
		}
		if r.passthrough {
			if _, err := w.Write(frame.raw); err != nil {
				return types.NewError(types.ErrStreamAborted, "client write failed").WithCause(err)
			}
		} else {
			if err := r.writeEvents(w, events); err != nil {
				return err
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return types.NewError(types.ErrStreamAborted, "client closed connection").WithCause(ctx.Err())
		}
		// Mid-stream upstream failure: surface a terminal error event in
		// the caller's protocol before closing.
		r.WriteError(w, flusher, types.NewError(types.ErrUpstreamError, "upstream stream failed").WithCause(err))
		return types.NewError(types.ErrUpstreamError, "upstream stream failed").WithCause(err)
	}

	// Drain parser state: a partially received tool-call chunk is flushed
	// as a trailing delta before message_stop.
	tail := r.parser.Flush()
	for _, ev := range tail {
		r.meter.Observe(ev)
	}
	if !r.passthrough {
		if err := r.writeEvents(w, tail); err != nil {
			return err
		}
		trailing, err := r.encoder.Flush()
		if err == nil && len(trailing) > 0 {
			if _, werr := w.Write(trailing); werr != nil {
				return types.NewError(types.ErrStreamAborted, "client write failed").WithCause(werr)
			}
		}
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}

func (r *Relay) writeEvents(w io.Writer, events []protocol.StreamEvent) error {
	for _, ev := range events {
		frame, err := r.encoder.Encode(ev)
		if err != nil {
			r.logger.Warn("encode stream event", zap.Error(err))
			continue
		}
		if len(frame) == 0 {
			continue
		}
		if _, err := w.Write(frame); err != nil {
			return types.NewError(types.ErrStreamAborted, "client write failed").WithCause(err)
		}
	}
	return nil
}

// WriteError emits a terminal error event in the caller's protocol. Used
// for mid-stream upstream failures; write errors here are ignored because
// the stream is already being torn down.
func (r *Relay) WriteError(w io.Writer, flusher Flusher, cause error) {
	ev := protocol.StreamEvent{Kind: protocol.EventError, Err: cause}
	r.meter.Observe(ev)
	frame, err := r.encoder.Encode(ev)
	if err != nil || len(frame) == 0 {
		return
	}
	if _, err := w.Write(frame); err != nil {
		return
	}
	if flusher != nil {
		flusher.Flush()
	}
}
