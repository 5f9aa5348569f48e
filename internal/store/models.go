// Package store owns the embedded SQLite database: request logs, payload
// blobs, daily metric rollups, API keys, audit trails, and gateway events.
// All mutating writes from the request path go through an async queue so
// HTTP responses never wait on durability.
package store

import (
	"encoding/json"
	"strings"
)

// RequestLog is one completed (or terminally failed) model request.
type RequestLog struct {
	ID           int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp    int64   `gorm:"index;not null" json:"timestamp"`
	SessionID    string  `gorm:"index" json:"sessionId"`
	Endpoint     string  `gorm:"index;not null" json:"endpoint"`
	ProviderID   string  `gorm:"index" json:"providerId"`
	Model        string  `gorm:"index" json:"model"`
	ClientModel  string  `json:"clientModel"`
	Stream       bool    `json:"stream"`
	LatencyMs    int64   `json:"latencyMs"`
	Status       int     `gorm:"index" json:"status"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CachedTokens int     `json:"cachedTokens"`
	TTFTMs       int64   `json:"ttftMs"`
	TPOTMs       float64 `json:"tpotMs"`
	Error        *string `json:"error,omitempty"`
	APIKeyID     string  `gorm:"index" json:"apiKeyId"`
	APIKeyName   string  `json:"apiKeyName"`
	APIKeyMasked string  `json:"apiKeyMasked"`

	Payload *RequestPayload `gorm:"foreignKey:LogID;constraint:OnDelete:CASCADE" json:"-"`
}

// RequestPayload holds the brotli-compressed prompt and response for one
// log row. Deleted by cascade when the log row goes.
type RequestPayload struct {
	LogID    int64  `gorm:"primaryKey" json:"logId"`
	Prompt   []byte `json:"-"`
	Response []byte `json:"-"`
}

// DailyMetric is the per-day per-endpoint rollup, upserted on every
// completed request.
type DailyMetric struct {
	Date         string `gorm:"primaryKey;size:10" json:"date"`
	Endpoint     string `gorm:"primaryKey" json:"endpoint"`
	RequestCount int64  `json:"requestCount"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	CachedTokens int64  `json:"cachedTokens"`
	LatencySumMs int64  `json:"latencySumMs"`
}

// WildcardHash is the stored hash of the "Any Key" row. It can never
// collide with a real key hash (those are 64 hex chars).
const WildcardHash = "*"

// APIKey is one gateway credential. Only the SHA-256 hash of the secret is
// stored for lookup; the ciphertext exists solely for masked display.
type APIKey struct {
	ID               string `gorm:"primaryKey" json:"id"`
	Name             string `gorm:"not null" json:"name"`
	Description      string `json:"description"`
	Hash             string `gorm:"uniqueIndex;not null" json:"-"`
	Ciphertext       string `json:"-"`
	Prefix           string `json:"prefix"`
	Suffix           string `json:"suffix"`
	Wildcard         bool   `json:"wildcard"`
	Enabled          bool   `gorm:"default:true" json:"enabled"`
	CreatedAt        int64  `json:"createdAt"`
	UpdatedAt        int64  `json:"updatedAt"`
	LastUsedAt       *int64 `json:"lastUsedAt,omitempty"`
	RequestCount     int64  `json:"requestCount"`
	AllowedEndpoints string `json:"-"`
}

// Scopes returns the allowed endpoint families, nil when unrestricted.
func (k *APIKey) Scopes() []string {
	if strings.TrimSpace(k.AllowedEndpoints) == "" {
		return nil
	}
	var scopes []string
	if err := json.Unmarshal([]byte(k.AllowedEndpoints), &scopes); err != nil {
		return nil
	}
	return scopes
}

// SetScopes stores the allowed endpoint families, empty meaning unrestricted.
func (k *APIKey) SetScopes(scopes []string) {
	if len(scopes) == 0 {
		k.AllowedEndpoints = ""
		return
	}
	raw, err := json.Marshal(scopes)
	if err != nil {
		return
	}
	k.AllowedEndpoints = string(raw)
}

// AllowsEndpoint reports whether the key may call the given endpoint family.
func (k *APIKey) AllowsEndpoint(family string) bool {
	scopes := k.Scopes()
	if scopes == nil {
		return true
	}
	for _, s := range scopes {
		if s == family {
			return true
		}
	}
	return false
}

// Masked renders the key for display: prefix, ellipsis, suffix.
func (k *APIKey) Masked() string {
	if k.Wildcard {
		return "*"
	}
	return k.Prefix + "…" + k.Suffix
}

// APIKeyAuditLog records one mutation of the key table.
type APIKeyAuditLog struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp int64  `gorm:"index;not null" json:"timestamp"`
	KeyID     string `gorm:"index" json:"keyId"`
	KeyName   string `json:"keyName"`
	Action    string `gorm:"not null" json:"action"`
	Detail    string `json:"detail"`
}

// GatewayEvent is a structured audit entry surfaced on the management API.
type GatewayEvent struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp  int64  `gorm:"index;not null" json:"timestamp"`
	Level      string `gorm:"index" json:"level"`
	Type       string `gorm:"index" json:"type"`
	Source     string `json:"source"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	APIKeyID   string `json:"apiKeyId,omitempty"`
	APIKeyName string `json:"apiKeyName,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Event levels and types used across the gateway.
const (
	EventLevelInfo  = "info"
	EventLevelWarn  = "warn"
	EventLevelError = "error"

	EventTypeAPIKey      = "api_key"
	EventTypeConfig      = "config"
	EventTypeMaintenance = "maintenance"
	EventTypeStorage     = "storage"
)

// SchemaMigration tracks explicit migration steps that must run once.
type SchemaMigration struct {
	Version   string `gorm:"primaryKey"`
	AppliedAt int64
}
