package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/config"
	"github.com/ccgw/cc-gw/internal/keys"
	"github.com/ccgw/cc-gw/internal/metrics"
	"github.com/ccgw/cc-gw/internal/store"
	"github.com/ccgw/cc-gw/protocol"
	"github.com/ccgw/cc-gw/providers"
	"github.com/ccgw/cc-gw/relay"
	"github.com/ccgw/cc-gw/router"
	"github.com/ccgw/cc-gw/types"
)

const (
	// maxErrorBody caps how much of an upstream error body is read before
	// mapping it.
	maxErrorBody = 1 << 20
	// maxBufferedResponse caps non-streaming upstream bodies.
	maxBufferedResponse = 32 << 20
	// maxCapturedResponse caps the streamed bytes kept for payload
	// persistence. The client still receives the full stream.
	maxCapturedResponse = 1 << 20

	// statusClientClosed is the internal status recorded when the caller
	// disconnected mid-request.
	statusClientClosed = 499
)

// Proxy serves the model endpoints: authenticate, normalize, route,
// dispatch, translate, meter, record.
type Proxy struct {
	config  *config.Store
	router  *router.Router
	conns   *providers.Registry
	keys    *keys.Registry
	store   *store.Store
	metrics *metrics.Collector
	logger  *zap.Logger

	active atomic.Int64
}

// NewProxy wires the proxy handler dependencies.
func NewProxy(cfg *config.Store, rt *router.Router, conns *providers.Registry, kr *keys.Registry, st *store.Store, mc *metrics.Collector, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		config:  cfg,
		router:  rt,
		conns:   conns,
		keys:    kr,
		store:   st,
		metrics: mc,
		logger:  logger.With(zap.String("component", "proxy")),
	}
}

// ActiveRequests reports model requests currently in flight, for /healthz.
func (p *Proxy) ActiveRequests() int64 { return p.active.Load() }

// Handler returns the http.HandlerFunc serving one caller protocol.
func (p *Proxy) Handler(endpoint protocol.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.serve(w, r, endpoint)
	}
}

// clientSecret extracts the presented API key from Authorization: Bearer
// or x-api-key.
func clientSecret(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}
	}
	return strings.TrimSpace(r.Header.Get("x-api-key"))
}

func (p *Proxy) serve(w http.ResponseWriter, r *http.Request, endpoint protocol.Endpoint) {
	cfg := p.config.Get()
	family := endpoint.Family()

	// Auth rejections are counted but never logged as requests.
	key, err := p.keys.Verify(clientSecret(r), family)
	if err != nil {
		p.metrics.RecordAuthFailure(family)
		writeError(w, p.logger, err)
		return
	}

	p.metrics.RequestStarted()
	defer p.metrics.RequestFinished()
	p.active.Add(1)
	defer p.active.Add(-1)

	meter := relay.NewMeter()
	rec := &store.RequestLog{
		Timestamp:    time.Now().UnixMilli(),
		SessionID:    r.Header.Get("x-session-id"),
		Endpoint:     family,
		APIKeyID:     key.ID,
		APIKeyName:   key.Name,
		APIKeyMasked: key.Masked(),
	}
	var prompt, response []byte
	finalized := false

	// finalize records the single terminal log row, the daily rollup, and
	// the Prometheus series for this request. Exactly one call wins.
	finalize := func(status int, errMsg string) {
		if finalized {
			return
		}
		finalized = true
		res := meter.Finalize()
		rec.Status = status
		rec.LatencyMs = res.LatencyMs
		rec.TTFTMs = res.TTFTMs
		rec.TPOTMs = res.TPOTMs
		rec.InputTokens = res.InputTokens
		rec.OutputTokens = res.OutputTokens
		rec.CachedTokens = res.CachedTokens
		if errMsg != "" {
			rec.Error = &errMsg
		}
		if !cfg.PersistPayloads {
			prompt, response = nil, nil
		}
		p.store.InsertLogAsync(rec, prompt, response)
		p.store.UpsertDailyAsync(time.Now().Format("2006-01-02"), family, store.DailyDelta{
			Requests:     1,
			InputTokens:  int64(res.InputTokens),
			OutputTokens: int64(res.OutputTokens),
			CachedTokens: int64(res.CachedTokens),
			LatencyMs:    res.LatencyMs,
		})
		p.metrics.RecordRequest(family, rec.ProviderID, status,
			time.Duration(res.LatencyMs)*time.Millisecond,
			time.Duration(res.TTFTMs)*time.Millisecond,
			res.InputTokens, res.OutputTokens, res.CachedTokens)
	}

	r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		ge := types.NewError(types.ErrBadRequest, "failed to read request body").WithCause(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ge = types.NewError(types.ErrPayloadTooLarge, "request body exceeds the configured limit")
		}
		finalize(ge.Status(), ge.Message)
		writeError(w, p.logger, ge)
		return
	}
	prompt = raw

	payload, err := decodePayload(endpoint, raw)
	if err != nil {
		ge := types.AsError(err)
		p.logger.Warn("request rejected", zap.String("endpoint", family), zap.Error(err))
		finalize(ge.Status(), ge.Message)
		writeError(w, p.logger, ge)
		return
	}
	rec.ClientModel = payload.Model
	rec.Stream = payload.Stream

	route, err := p.router.Resolve(cfg, family, payload)
	if err != nil {
		ge := types.AsError(err)
		finalize(ge.Status(), ge.Message)
		writeError(w, p.logger, ge)
		return
	}
	rec.ProviderID = route.Provider.ID
	rec.Model = route.Model

	clientModel := payload.Model
	payload.Model = route.Model
	wire := providers.Wire(route.Provider.Family, endpoint)

	toolsOK := route.Provider.SupportsTools(route.Model)
	if !toolsOK {
		protocol.StripTools(payload)
	}
	if route.Provider.Family != config.FamilyAnthropic {
		protocol.StripMetadata(payload)
	}

	// Passthrough: caller protocol matches the upstream wire and nothing in
	// the payload needed rewriting, so the original document is forwarded
	// with only model and stream substituted.
	passthrough := wire == endpoint && toolsOK && len(payload.Raw) > 0
	if !passthrough && wire == protocol.EndpointResponses {
		// The responses dialect is only spoken raw; a rewritten payload
		// goes out as chat completions, which every OpenAI provider serves.
		wire = protocol.EndpointOpenAIChat
	}

	var upstreamBody []byte
	if passthrough {
		upstreamBody, err = substituteRaw(payload.Raw, route.Model, payload.Stream)
	} else {
		upstreamBody, err = encodePayload(wire, payload)
	}
	if err != nil {
		ge := types.AsError(err)
		finalize(ge.Status(), ge.Message)
		writeError(w, p.logger, ge)
		return
	}

	conn, err := p.conns.Get(route.Provider.ID)
	if err != nil {
		ge := types.AsError(err)
		finalize(ge.Status(), ge.Message)
		writeError(w, p.logger, ge)
		return
	}

	resp, err := conn.Send(r.Context(), wire, upstreamBody, r.Header)
	if err != nil {
		ge := types.AsError(err)
		if ge.Code == types.ErrStreamAborted {
			finalize(statusClientClosed, "client_closed")
			return
		}
		finalize(ge.Status(), ge.Message)
		writeError(w, p.logger, ge)
		return
	}
	defer resp.Body.Close()

	if resp.Status >= 400 {
		upstream, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		mapped := providers.MapErrorBody(route.Provider.Family, resp.Status, upstream)
		response = mapped
		finalize(resp.Status, gjson.GetBytes(mapped, "error.message").String())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.Status)
		_, _ = w.Write(mapped)
		return
	}

	if payload.Stream {
		p.streamResponse(w, r, resp, wire, endpoint, clientModel, passthrough, meter, finalize, &response)
		return
	}
	p.bufferedResponse(w, r, resp, wire, endpoint, clientModel, passthrough, meter, finalize, &response)
}

// streamResponse relays upstream SSE to the caller, translating unless in
// passthrough mode. The 200 status commits before the first upstream event,
// so later failures surface as a terminal error event, not a status.
func (p *Proxy) streamResponse(w http.ResponseWriter, r *http.Request, resp *providers.Response, wire, endpoint protocol.Endpoint, clientModel string, passthrough bool, meter *relay.Meter, finalize func(int, string), response *[]byte) {
	parser, err := protocol.NewStreamParser(wire)
	if err != nil {
		ge := types.AsError(err)
		finalize(ge.Status(), ge.Message)
		writeError(w, p.logger, ge)
		return
	}
	encoder, err := protocol.NewStreamEncoder(endpoint, clientModel)
	if err != nil {
		ge := types.AsError(err)
		finalize(ge.Status(), ge.Message)
		writeError(w, p.logger, ge)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var flusher relay.Flusher
	if f, ok := w.(http.Flusher); ok {
		flusher = f
	}

	capture := newCaptureWriter(w, maxCapturedResponse)
	rl := relay.New(parser, encoder, meter, passthrough, p.logger)
	pumpErr := rl.Pump(r.Context(), resp.Body, capture, flusher)
	*response = capture.Bytes()

	switch {
	case pumpErr == nil:
		finalize(http.StatusOK, "")
	case types.GetErrorCode(pumpErr) == types.ErrStreamAborted:
		finalize(statusClientClosed, "client_closed")
	default:
		p.logger.Warn("upstream stream failed", zap.Error(pumpErr))
		finalize(http.StatusBadGateway, types.AsError(pumpErr).Message)
	}
}

// bufferedResponse reads a non-streaming upstream body once, meters its
// usage, and re-encodes it in the caller's protocol.
func (p *Proxy) bufferedResponse(w http.ResponseWriter, r *http.Request, resp *providers.Response, wire, endpoint protocol.Endpoint, clientModel string, passthrough bool, meter *relay.Meter, finalize func(int, string), response *[]byte) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBufferedResponse))
	if err != nil {
		if r.Context().Err() != nil {
			finalize(statusClientClosed, "client_closed")
			return
		}
		ge := types.NewError(types.ErrUpstreamError, "failed to read upstream response").WithCause(err)
		finalize(ge.Status(), ge.Message)
		writeError(w, p.logger, ge)
		return
	}
	meter.MarkFirstByte()

	completion, err := parseCompletion(wire, raw)
	if err != nil {
		ge := types.NewError(types.ErrUpstreamError, "unparsable upstream response").WithCause(err)
		finalize(ge.Status(), ge.Message)
		writeError(w, p.logger, ge)
		return
	}
	meter.SetUsage(completion.Usage)

	var out []byte
	if passthrough {
		// The document is already in the caller's protocol; only the model
		// id is restored to what the caller asked for.
		out, err = sjson.SetBytes(raw, "model", clientModel)
	} else {
		completion.Model = clientModel
		out, err = encodeCompletion(endpoint, completion)
	}
	if err != nil {
		ge := types.NewError(types.ErrInternalError, "encode response").WithCause(err)
		finalize(ge.Status(), ge.Message)
		writeError(w, p.logger, ge)
		return
	}

	*response = out
	finalize(http.StatusOK, "")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// substituteRaw rewrites model and stream on the original document without
// re-encoding anything else.
func substituteRaw(raw []byte, model string, stream bool) ([]byte, error) {
	out, err := sjson.SetBytes(raw, "model", model)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "rewrite passthrough body").WithCause(err)
	}
	out, err = sjson.SetBytes(out, "stream", stream)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "rewrite passthrough body").WithCause(err)
	}
	return out, nil
}

func decodePayload(endpoint protocol.Endpoint, body []byte) (*protocol.Payload, error) {
	switch endpoint {
	case protocol.EndpointAnthropic:
		return protocol.DecodeAnthropic(body)
	case protocol.EndpointOpenAIChat:
		return protocol.DecodeOpenAIChat(body)
	case protocol.EndpointResponses:
		return protocol.DecodeResponses(body)
	default:
		return nil, types.NewError(types.ErrInternalError, "unknown caller protocol")
	}
}

func encodePayload(wire protocol.Endpoint, p *protocol.Payload) ([]byte, error) {
	switch wire {
	case protocol.EndpointAnthropic:
		return protocol.EncodeAnthropic(p)
	case protocol.EndpointOpenAIChat:
		return protocol.EncodeOpenAIChat(p)
	default:
		return nil, types.NewError(types.ErrInternalError, "no encoder for wire protocol")
	}
}

func parseCompletion(wire protocol.Endpoint, body []byte) (*protocol.Completion, error) {
	switch wire {
	case protocol.EndpointAnthropic:
		return protocol.ParseAnthropicCompletion(body)
	case protocol.EndpointResponses:
		return protocol.ParseResponsesCompletion(body)
	default:
		return protocol.ParseOpenAICompletion(body)
	}
}

func encodeCompletion(endpoint protocol.Endpoint, c *protocol.Completion) ([]byte, error) {
	switch endpoint {
	case protocol.EndpointAnthropic:
		return protocol.EncodeAnthropicCompletion(c)
	case protocol.EndpointResponses:
		return protocol.EncodeResponsesCompletion(c)
	default:
		return protocol.EncodeOpenAICompletion(c)
	}
}

// captureWriter tees writes into a bounded buffer for payload persistence.
type captureWriter struct {
	w     io.Writer
	buf   []byte
	limit int
}

func newCaptureWriter(w io.Writer, limit int) *captureWriter {
	return &captureWriter{w: w, limit: limit}
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if room := c.limit - len(c.buf); room > 0 {
		chunk := p
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		c.buf = append(c.buf, chunk...)
	}
	return c.w.Write(p)
}

func (c *captureWriter) Bytes() []byte { return c.buf }
