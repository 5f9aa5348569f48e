// Package config owns the gateway configuration document: loading,
// validation, atomic persistence, and change notification. The Store hands
// out immutable snapshots; in-flight requests keep the snapshot they
// captured at admission and never observe mid-request changes.
package config

import "encoding/json"

// Family identifies the wire protocol of an upstream provider.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyDeepSeek  Family = "deepseek"
	FamilyKimi      Family = "kimi"
	FamilyHuawei    Family = "huawei"
	FamilyCustom    Family = "custom"
)

// KnownFamilies lists every accepted provider family.
var KnownFamilies = []Family{
	FamilyOpenAI, FamilyAnthropic, FamilyDeepSeek, FamilyKimi, FamilyHuawei, FamilyCustom,
}

// Credential modes for Anthropic-family providers.
const (
	CredentialModeAPIKey    = "apiKey"
	CredentialModeAuthToken = "authToken"
)

// Config is the on-disk configuration document (~/.cc-gw/config.json).
type Config struct {
	Listen          ListenConfig                `json:"listen"`
	TLS             *TLSConfig                  `json:"tls,omitempty"`
	Providers       []Provider                  `json:"providers"`
	Endpoints       map[string]*EndpointRouting `json:"endpoints"`
	CustomEndpoints []CustomEndpoint            `json:"customEndpoints,omitempty"`
	Auth            AuthConfig                  `json:"auth"`
	Log             LogConfig                   `json:"log"`
	PersistPayloads bool                        `json:"persistPayloads"`
	MaxBodySize     int64                       `json:"maxBodySize"`
	Telemetry       TelemetryConfig             `json:"telemetry"`
	RateLimit       RateLimitConfig             `json:"rateLimit"`
}

// ListenConfig is the cleartext listener address.
type ListenConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// TLSConfig enables a TLS listener when both paths are set. The files are
// configuration inputs only; the gateway never writes certificate material.
type TLSConfig struct {
	CertFile string `json:"certFile"`
	KeyFile  string `json:"keyFile"`
}

// Provider describes one upstream.
type Provider struct {
	ID             string            `json:"id"`
	Name           string            `json:"name,omitempty"`
	Family         Family            `json:"family"`
	BaseURL        string            `json:"baseUrl"`
	APIKey         string            `json:"apiKey,omitempty"`
	CredentialMode string            `json:"credentialMode,omitempty"`
	ExtraHeaders   map[string]string `json:"extraHeaders,omitempty"`
	DefaultModel   string            `json:"defaultModel,omitempty"`
	Models         []Model           `json:"models,omitempty"`
}

// Model is one model exposed by a provider. NoTools marks models that
// cannot accept tool definitions; requests to them get tool traffic
// flattened into plain text.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	NoTools bool   `json:"noTools,omitempty"`
}

// HasModel reports whether the provider exposes the given model id,
// either as its default model or in its model list.
func (p *Provider) HasModel(id string) bool {
	if id == "" {
		return false
	}
	if p.DefaultModel == id {
		return true
	}
	for _, m := range p.Models {
		if m.ID == id {
			return true
		}
	}
	return false
}

// SupportsTools reports whether the given model accepts tool definitions.
// Models absent from the list are assumed tool-capable.
func (p *Provider) SupportsTools(id string) bool {
	for _, m := range p.Models {
		if m.ID == id {
			return !m.NoTools
		}
	}
	return true
}

// EndpointRouting is the routing block for one endpoint family.
type EndpointRouting struct {
	Defaults RouteDefaults `json:"defaults"`
	// ModelRoutes preserves document order; wildcard ties break on the
	// earlier entry.
	ModelRoutes RouteMap `json:"modelRoutes,omitempty"`
}

// RouteDefaults are the tiered fallback targets for an endpoint.
type RouteDefaults struct {
	Completion           string `json:"completion,omitempty"`
	Reasoning            string `json:"reasoning,omitempty"`
	Background           string `json:"background,omitempty"`
	LongContextThreshold int    `json:"longContextThreshold,omitempty"`
}

// CustomEndpoint exposes an extra model-endpoint path speaking the given
// protocol ("anthropic", "openai-chat", or "openai-responses").
type CustomEndpoint struct {
	Path     string `json:"path"`
	Protocol string `json:"protocol"`
}

// AuthConfig controls admin authentication for the management API.
type AuthConfig struct {
	Enabled      bool   `json:"enabled"`
	Username     string `json:"username,omitempty"`
	PasswordHash string `json:"passwordHash,omitempty"`
	PasswordSalt string `json:"passwordSalt,omitempty"`
}

// LogConfig controls server logging and request-log retention.
type LogConfig struct {
	Level         string `json:"level"`
	Format        string `json:"format"`
	RetentionDays int    `json:"retentionDays"`
}

// TelemetryConfig controls the optional OpenTelemetry export. Disabled by
// default; when disabled no exporter is constructed.
type TelemetryConfig struct {
	Enabled      bool    `json:"enabled"`
	OTLPEndpoint string  `json:"otlpEndpoint,omitempty"`
	ServiceName  string  `json:"serviceName,omitempty"`
	SampleRate   float64 `json:"sampleRate,omitempty"`
}

// RateLimitConfig controls per-client admission limits on the management API.
type RateLimitConfig struct {
	Enabled bool    `json:"enabled"`
	RPS     float64 `json:"rps,omitempty"`
	Burst   int     `json:"burst,omitempty"`
}

// Clone returns a deep copy via a JSON round-trip. The document is plain
// data, so this is exact.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		cp := *c
		return &cp
	}
	var out Config
	if err := json.Unmarshal(raw, &out); err != nil {
		cp := *c
		return &cp
	}
	return &out
}

// FindProvider returns the provider with the given id, or nil.
func (c *Config) FindProvider(id string) *Provider {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i]
		}
	}
	return nil
}

// Routing returns the routing block for an endpoint family key
// ("anthropic" or "openai"), or nil when absent.
func (c *Config) Routing(endpoint string) *EndpointRouting {
	if c.Endpoints == nil {
		return nil
	}
	return c.Endpoints[endpoint]
}

// Sanitized returns a copy safe for API exposure: provider credentials and
// the admin password material are masked.
func (c *Config) Sanitized() *Config {
	out := c.Clone()
	for i := range out.Providers {
		out.Providers[i].APIKey = maskSecret(out.Providers[i].APIKey)
	}
	out.Auth.PasswordHash = ""
	out.Auth.PasswordSalt = ""
	return out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
