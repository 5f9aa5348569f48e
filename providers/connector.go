package providers

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/config"
	"github.com/ccgw/cc-gw/internal/tlsutil"
	"github.com/ccgw/cc-gw/protocol"
	"github.com/ccgw/cc-gw/types"
)

// Timeouts are the per-connector network limits.
type Timeouts struct {
	Connect  time.Duration
	IdleRead time.Duration
}

// DefaultTimeouts returns the standard 30s connect / 120s idle-read pair.
func DefaultTimeouts() Timeouts {
	return Timeouts{Connect: 30 * time.Second, IdleRead: 120 * time.Second}
}

// Response is one upstream reply. Body is open until the caller closes it;
// for streaming responses it delivers SSE bytes as they arrive.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// Connector sends requests to one provider. It holds the provider snapshot
// it was built from and never consults live config.
type Connector struct {
	provider config.Provider
	client   *http.Client
	logger   *zap.Logger
}

// NewConnector builds a connector for a provider snapshot.
func NewConnector(p config.Provider, t Timeouts, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if t.Connect <= 0 {
		t.Connect = DefaultTimeouts().Connect
	}
	if t.IdleRead <= 0 {
		t.IdleRead = DefaultTimeouts().IdleRead
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   t.Connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsutil.ClientConfig(),
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.IdleRead,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &Connector{
		provider: p,
		// No overall client timeout: it would sever long streams. The
		// request context carries cancellation instead.
		client: &http.Client{Transport: transport},
		logger: logger.With(zap.String("component", "connector"), zap.String("provider", p.ID)),
	}
}

// Provider returns the provider snapshot this connector was built from.
func (c *Connector) Provider() *config.Provider { return &c.provider }

// Send POSTs the encoded body to the provider on the given wire protocol.
// Caller headers are forwarded minus hop-by-hop and credential headers.
// Responses with status >= 400 are returned, not errored; transport
// failures map to UPSTREAM_ERROR.
func (c *Connector) Send(ctx context.Context, wire protocol.Endpoint, body []byte, callerHeader http.Header) (*Response, error) {
	url := EndpointURL(c.provider.BaseURL, wire)
	if config.DebugEndpoints() {
		c.logger.Info("dispatch", zap.String("url", url), zap.String("wire", string(wire)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "build upstream request").
			WithCause(err).WithProvider(c.provider.ID)
	}
	forwardHeaders(req.Header, callerHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	setAuthHeaders(req.Header, &c.provider)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrStreamAborted, "client closed request").
				WithCause(ctx.Err()).WithProvider(c.provider.ID)
		}
		return nil, types.NewError(types.ErrUpstreamError, "upstream unreachable").
			WithCause(err).WithProvider(c.provider.ID)
	}
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   resp.Body,
	}, nil
}
