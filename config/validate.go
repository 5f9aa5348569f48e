package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ccgw/cc-gw/types"
)

var providerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Validate checks the document against the invariants the rest of the
// gateway relies on. It returns a CONFIG_INVALID error naming the first
// offending field.
func Validate(c *Config) error {
	if c == nil {
		return invalid("document is empty")
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return invalid("listen.port must be in 1..65535, got %d", c.Listen.Port)
	}
	if c.TLS != nil && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return invalid("tls requires both certFile and keyFile")
	}
	if c.MaxBodySize <= 0 {
		return invalid("maxBodySize must be positive")
	}
	if c.Log.RetentionDays < 1 {
		return invalid("log.retentionDays must be at least 1, got %d", c.Log.RetentionDays)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("log.level %q is not one of debug|info|warn|error", c.Log.Level)
	}

	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.ID == "" {
			return invalid("providers[%d].id is empty", i)
		}
		if !providerIDPattern.MatchString(p.ID) {
			return invalid("providers[%d].id %q is not URL-safe", i, p.ID)
		}
		if seen[p.ID] {
			return invalid("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		if !knownFamily(p.Family) {
			return invalid("provider %q: unknown family %q", p.ID, p.Family)
		}
		if err := validBaseURL(p.BaseURL); err != nil {
			return invalid("provider %q: %v", p.ID, err)
		}
		if p.DefaultModel == "" && len(p.Models) == 0 {
			return invalid("provider %q needs defaultModel or a non-empty model list", p.ID)
		}
		switch p.CredentialMode {
		case "", CredentialModeAPIKey, CredentialModeAuthToken:
		default:
			return invalid("provider %q: credentialMode %q is not apiKey|authToken", p.ID, p.CredentialMode)
		}
	}

	for endpoint, routing := range c.Endpoints {
		if routing == nil {
			continue
		}
		if routing.Defaults.LongContextThreshold < 0 {
			return invalid("endpoints.%s.defaults.longContextThreshold must not be negative", endpoint)
		}
		for _, target := range []string{
			routing.Defaults.Completion,
			routing.Defaults.Reasoning,
			routing.Defaults.Background,
		} {
			if err := validTarget(c, target); err != nil {
				return invalid("endpoints.%s.defaults: %v", endpoint, err)
			}
		}
		for _, e := range routing.ModelRoutes {
			if e.Pattern == "" {
				return invalid("endpoints.%s.modelRoutes has an empty pattern", endpoint)
			}
			if err := validTarget(c, e.Target); err != nil {
				return invalid("endpoints.%s.modelRoutes[%q]: %v", endpoint, e.Pattern, err)
			}
		}
	}

	for i, ce := range c.CustomEndpoints {
		if !strings.HasPrefix(ce.Path, "/") {
			return invalid("customEndpoints[%d].path must start with /", i)
		}
		switch ce.Protocol {
		case "anthropic", "openai-chat", "openai-responses":
		default:
			return invalid("customEndpoints[%d].protocol %q is not anthropic|openai-chat|openai-responses", i, ce.Protocol)
		}
	}

	if c.Auth.Enabled {
		if c.Auth.Username == "" || c.Auth.PasswordHash == "" || c.Auth.PasswordSalt == "" {
			return invalid("auth.enabled requires username, passwordHash, and passwordSalt")
		}
	}
	return nil
}

// validTarget checks a route target so typos are caught at write time
// instead of silently at routing time. `providerId:…` must reference a
// configured provider; a bare model id must be exposed by some provider.
func validTarget(c *Config, target string) error {
	if target == "" {
		return nil
	}
	providerID, modelID, ok := SplitTarget(target)
	if ok {
		if c.FindProvider(providerID) == nil {
			return fmt.Errorf("target %q references unknown provider %q", target, providerID)
		}
		return nil
	}
	for i := range c.Providers {
		if c.Providers[i].HasModel(modelID) {
			return nil
		}
	}
	return fmt.Errorf("target %q: model %q is not exposed by any provider", target, modelID)
}

// SplitTarget splits `providerId:modelId` into its halves. ok is false for
// bare model ids. Model ids may themselves contain colons (vendor ids do),
// so only the first separator splits.
func SplitTarget(target string) (providerID, modelID string, ok bool) {
	idx := strings.Index(target, ":")
	if idx <= 0 {
		return "", target, false
	}
	return target[:idx], target[idx+1:], true
}

func knownFamily(f Family) bool {
	for _, k := range KnownFamilies {
		if f == k {
			return true
		}
	}
	return false
}

func validBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("baseUrl is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("baseUrl %q is malformed: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("baseUrl %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("baseUrl %q has no host", raw)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return types.NewError(types.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
