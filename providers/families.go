// Package providers implements the upstream connectors: URL construction,
// per-family authentication, caller-header forwarding, error-body mapping,
// and the registry rebuilt on every config change.
package providers

import (
	"net/http"
	"strings"

	"github.com/ccgw/cc-gw/config"
	"github.com/ccgw/cc-gw/protocol"
)

// anthropicVersion is pinned; upstream treats it as a schema selector.
const anthropicVersion = "2023-06-01"

// Wire returns the wire protocol a provider family speaks for a given
// caller endpoint. Anthropic-family providers always speak the messages
// protocol; every other family is OpenAI-compatible, and only a true
// "openai" provider can serve the responses dialect natively.
func Wire(family config.Family, caller protocol.Endpoint) protocol.Endpoint {
	if family == config.FamilyAnthropic {
		return protocol.EndpointAnthropic
	}
	if caller == protocol.EndpointResponses && family == config.FamilyOpenAI {
		return protocol.EndpointResponses
	}
	return protocol.EndpointOpenAIChat
}

// endpointSuffix is the path each wire protocol is served under.
func endpointSuffix(wire protocol.Endpoint) string {
	switch wire {
	case protocol.EndpointAnthropic:
		return "/v1/messages"
	case protocol.EndpointResponses:
		return "/v1/responses"
	default:
		return "/v1/chat/completions"
	}
}

// EndpointURL joins the provider base URL with the wire suffix. A base that
// already carries the suffix is used as-is, and a base ending in /v1 does
// not get the version segment doubled.
func EndpointURL(baseURL string, wire protocol.Endpoint) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	suffix := endpointSuffix(wire)
	if strings.HasSuffix(base, suffix) {
		return base
	}
	if strings.HasSuffix(base, "/v1") {
		return base + strings.TrimPrefix(suffix, "/v1")
	}
	return base + suffix
}

// setAuthHeaders applies the family's credential header scheme.
func setAuthHeaders(h http.Header, p *config.Provider) {
	switch p.Family {
	case config.FamilyAnthropic:
		h.Set("anthropic-version", anthropicVersion)
		if p.CredentialMode == config.CredentialModeAuthToken {
			h.Set("Authorization", "Bearer "+p.APIKey)
		} else {
			h.Set("x-api-key", p.APIKey)
		}
	case config.FamilyHuawei:
		h.Set("X-Auth-Token", p.APIKey)
	default:
		h.Set("Authorization", "Bearer "+p.APIKey)
	}
	for name, value := range p.ExtraHeaders {
		h.Set(name, value)
	}
}

// droppedHeaders are never forwarded from caller to upstream. The caller's
// credentials are replaced with the provider's, and hop-by-hop headers
// belong to each leg separately.
var droppedHeaders = map[string]struct{}{
	"host":              {},
	"connection":        {},
	"content-length":    {},
	"transfer-encoding": {},
	"authorization":     {},
	"x-api-key":         {},
	"accept-encoding":   {},
	"cookie":            {},
}

// forwardHeaders copies caller headers onto the upstream request, minus the
// dropped set.
func forwardHeaders(dst http.Header, src http.Header) {
	for name, values := range src {
		if _, drop := droppedHeaders[strings.ToLower(name)]; drop {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
