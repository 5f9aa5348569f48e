package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/config"
	"github.com/ccgw/cc-gw/protocol"
)

func TestWire(t *testing.T) {
	tests := []struct {
		family config.Family
		caller protocol.Endpoint
		want   protocol.Endpoint
	}{
		{config.FamilyAnthropic, protocol.EndpointAnthropic, protocol.EndpointAnthropic},
		{config.FamilyAnthropic, protocol.EndpointOpenAIChat, protocol.EndpointAnthropic},
		{config.FamilyOpenAI, protocol.EndpointResponses, protocol.EndpointResponses},
		{config.FamilyOpenAI, protocol.EndpointAnthropic, protocol.EndpointOpenAIChat},
		{config.FamilyDeepSeek, protocol.EndpointResponses, protocol.EndpointOpenAIChat},
		{config.FamilyKimi, protocol.EndpointOpenAIChat, protocol.EndpointOpenAIChat},
		{config.FamilyHuawei, protocol.EndpointAnthropic, protocol.EndpointOpenAIChat},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Wire(tc.family, tc.caller), "%s/%s", tc.family, tc.caller)
	}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		base string
		wire protocol.Endpoint
		want string
	}{
		{"https://api.anthropic.com", protocol.EndpointAnthropic, "https://api.anthropic.com/v1/messages"},
		{"https://api.anthropic.com/v1/messages", protocol.EndpointAnthropic, "https://api.anthropic.com/v1/messages"},
		{"https://api.deepseek.com/", protocol.EndpointOpenAIChat, "https://api.deepseek.com/v1/chat/completions"},
		{"https://api.moonshot.cn/v1", protocol.EndpointOpenAIChat, "https://api.moonshot.cn/v1/chat/completions"},
		{"https://api.openai.com/v1", protocol.EndpointResponses, "https://api.openai.com/v1/responses"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, EndpointURL(tc.base, tc.wire), tc.base)
	}
}

func TestSend_AnthropicAuthHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := config.Provider{
		ID:      "anthropic",
		Family:  config.FamilyAnthropic,
		BaseURL: srv.URL,
		APIKey:  "sk-ant-test",
		ExtraHeaders: map[string]string{
			"anthropic-beta": "prompt-caching-2024-07-31",
		},
	}
	c := NewConnector(p, DefaultTimeouts(), zap.NewNop())

	caller := http.Header{}
	caller.Set("Authorization", "Bearer sk-gw-caller-key")
	caller.Set("X-Session-Id", "sess-1")
	caller.Set("Content-Length", "999")

	resp, err := c.Send(context.Background(), protocol.EndpointAnthropic, []byte(`{}`), caller)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "sk-ant-test", got.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", got.Get("anthropic-version"))
	assert.Equal(t, "prompt-caching-2024-07-31", got.Get("anthropic-beta"))
	assert.Equal(t, "sess-1", got.Get("X-Session-Id"), "benign caller headers forwarded")
	assert.Empty(t, got.Get("Authorization"), "caller credential never forwarded")
}

func TestSend_AuthTokenMode(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := config.Provider{
		ID:             "claude-proxy",
		Family:         config.FamilyAnthropic,
		BaseURL:        srv.URL,
		APIKey:         "tok-123",
		CredentialMode: config.CredentialModeAuthToken,
	}
	c := NewConnector(p, DefaultTimeouts(), zap.NewNop())
	resp, err := c.Send(context.Background(), protocol.EndpointAnthropic, []byte(`{}`), nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "Bearer tok-123", got.Get("Authorization"))
	assert.Empty(t, got.Get("x-api-key"))
}

func TestSend_BearerForOpenAIVariants(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	for _, family := range []config.Family{config.FamilyOpenAI, config.FamilyDeepSeek, config.FamilyKimi} {
		p := config.Provider{ID: string(family), Family: family, BaseURL: srv.URL, APIKey: "k"}
		c := NewConnector(p, DefaultTimeouts(), zap.NewNop())
		resp, err := c.Send(context.Background(), protocol.EndpointOpenAIChat, []byte(`{}`), nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "Bearer k", got.Get("Authorization"), family)
	}
}

func TestSend_ErrorStatusPassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
		w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	p := config.Provider{ID: "p", Family: config.FamilyAnthropic, BaseURL: srv.URL, APIKey: "k"}
	c := NewConnector(p, DefaultTimeouts(), zap.NewNop())
	resp, err := c.Send(context.Background(), protocol.EndpointAnthropic, []byte(`{}`), nil)
	require.NoError(t, err, "4xx is a response, not a transport error")
	defer resp.Body.Close()
	assert.Equal(t, 429, resp.Status)

	body, _ := io.ReadAll(resp.Body)
	mapped := MapErrorBody(p.Family, resp.Status, body)
	assert.JSONEq(t, `{"error":{"code":"rate_limit_error","message":"slow down"}}`, string(mapped))
}

func TestMapErrorBody(t *testing.T) {
	tests := []struct {
		name    string
		family  config.Family
		status  int
		body    string
		code    string
		message string
	}{
		{
			"anthropic overloaded", config.FamilyAnthropic, 529,
			`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			"overloaded_error", "Overloaded",
		},
		{
			"openai shape", config.FamilyOpenAI, 401,
			`{"error":{"code":"invalid_api_key","message":"Incorrect API key provided"}}`,
			"invalid_api_key", "Incorrect API key provided",
		},
		{
			"deepseek flat message", config.FamilyDeepSeek, 400,
			`{"message":"model not found"}`,
			"invalid_request_error", "model not found",
		},
		{
			"unparsable body", config.FamilyKimi, 503,
			`<html>bad gateway</html>`,
			"overloaded_error", "the upstream is overloaded, try again later",
		},
		{
			"empty body unknown status", config.FamilyOpenAI, 418,
			``,
			"api_error", "upstream returned status 418",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out mappedError
			require.NoError(t, json.Unmarshal(MapErrorBody(tc.family, tc.status, []byte(tc.body)), &out))
			assert.Equal(t, tc.code, out.Error.Code)
			assert.Equal(t, tc.message, out.Error.Message)
		})
	}
}

func TestRegistry_RebuildOnConfigChange(t *testing.T) {
	cfg := &config.Config{Providers: []config.Provider{
		{ID: "a", Family: config.FamilyOpenAI, BaseURL: "https://a.example", APIKey: "k"},
	}}
	r := NewRegistry(cfg, DefaultTimeouts(), zap.NewNop())
	require.Equal(t, 1, r.Count())

	_, err := r.Get("a")
	require.NoError(t, err)
	_, err = r.Get("b")
	require.Error(t, err)

	next := &config.Config{Providers: []config.Provider{
		{ID: "a", Family: config.FamilyOpenAI, BaseURL: "https://a.example", APIKey: "k"},
		{ID: "b", Family: config.FamilyKimi, BaseURL: "https://b.example", APIKey: "k"},
	}}
	r.Rebuild(next)
	assert.Equal(t, 2, r.Count())
	_, err = r.Get("b")
	assert.NoError(t, err)
}
