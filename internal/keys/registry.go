// Package keys implements the gateway API-key registry: minting, cached
// verification, endpoint scoping, revocation, and auditing. Secrets are
// stored as SHA-256 hashes; ciphertext exists only so the UI can show a
// masked value.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/internal/store"
	"github.com/ccgw/cc-gw/internal/vault"
	"github.com/ccgw/cc-gw/types"
)

// SecretPrefix starts every minted gateway key.
const SecretPrefix = "sk-gw-"

// Registry verifies and manages gateway keys. The hot path reads an
// in-memory hash index; SQLite is touched only on mutation and via the
// store's async queue for usage counters.
type Registry struct {
	store  *store.Store
	vault  *vault.Vault
	logger *zap.Logger

	mu       sync.RWMutex
	byHash   map[string]store.APIKey
	wildcard *store.APIKey
}

// New builds a registry and loads the key cache.
func New(st *store.Store, v *vault.Vault, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		store:  st,
		vault:  v,
		logger: logger.With(zap.String("component", "keys")),
	}
	if err := r.refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) refresh() error {
	rows, err := r.store.ListKeys()
	if err != nil {
		return fmt.Errorf("load api keys: %w", err)
	}
	byHash := make(map[string]store.APIKey, len(rows))
	var wildcard *store.APIKey
	for i := range rows {
		k := rows[i]
		if k.Wildcard {
			wildcard = &k
			continue
		}
		byHash[k.Hash] = k
	}
	r.mu.Lock()
	r.byHash = byHash
	r.wildcard = wildcard
	r.mu.Unlock()
	return nil
}

// HashSecret returns the hex SHA-256 digest of a presented secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Verify authenticates a presented secret for an endpoint family. A named
// key that exists but is disabled or out of scope is rejected outright; the
// wildcard row only admits secrets with no named match.
func (r *Registry) Verify(secret, endpointFamily string) (*store.APIKey, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, types.NewError(types.ErrAuthRequired, "missing API key")
	}

	hash := HashSecret(secret)
	r.mu.RLock()
	named, ok := r.byHash[hash]
	wildcard := r.wildcard
	r.mu.RUnlock()

	if ok {
		if !named.Enabled {
			return nil, types.NewError(types.ErrAuthInvalid, "API key is disabled")
		}
		if !named.AllowsEndpoint(endpointFamily) {
			return nil, types.NewError(types.ErrAuthInvalid, "API key is not allowed on this endpoint")
		}
		r.store.TouchKeyAsync(named.ID)
		return &named, nil
	}

	if wildcard != nil && wildcard.Enabled {
		r.store.TouchKeyAsync(wildcard.ID)
		w := *wildcard
		return &w, nil
	}
	return nil, types.NewError(types.ErrAuthInvalid, "unknown API key")
}

// Minted is the one response that ever carries the plaintext secret.
type Minted struct {
	Key       store.APIKey
	Plaintext string
}

// Create mints a key and persists it. The plaintext is returned once and
// never stored.
func (r *Registry) Create(name, description string, endpointScopes []string) (*Minted, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, types.NewError(types.ErrBadRequest, "key name is required")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, types.NewError(types.ErrInternalError, "generate key secret").WithCause(err)
	}
	secret := SecretPrefix + base64.RawURLEncoding.EncodeToString(raw)

	ciphertext := ""
	if r.vault != nil {
		enc, err := r.vault.Encrypt(secret)
		if err != nil {
			r.logger.Warn("secret encryption failed, storing without ciphertext", zap.Error(err))
		} else {
			ciphertext = enc
		}
	}

	now := time.Now().UnixMilli()
	key := store.APIKey{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Hash:        HashSecret(secret),
		Ciphertext:  ciphertext,
		Prefix:      secret[:10],
		Suffix:      secret[len(secret)-4:],
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	key.SetScopes(endpointScopes)

	if err := r.store.CreateKey(&key); err != nil {
		return nil, types.NewError(types.ErrInternalError, "persist API key").WithCause(err)
	}
	if err := r.refresh(); err != nil {
		return nil, err
	}
	r.audit(&key, "create", "key minted")
	r.logger.Info("api key created", zap.String("id", key.ID), zap.String("name", key.Name))
	return &Minted{Key: key, Plaintext: secret}, nil
}

// Update patches mutable key fields. Nil fields are left untouched. The
// wildcard row only accepts the enabled toggle.
type Update struct {
	Name           *string
	Description    *string
	Enabled        *bool
	EndpointScopes []string
	ScopesSet      bool
}

// Apply updates the key and refreshes the cache.
func (r *Registry) Apply(id string, patch Update) (*store.APIKey, error) {
	key, err := r.store.GetKey(id)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "load API key").WithCause(err)
	}
	if key == nil {
		return nil, types.NewError(types.ErrNotFound, "API key not found")
	}

	if patch.Enabled != nil {
		key.Enabled = *patch.Enabled
	}
	if !key.Wildcard {
		if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
			key.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			key.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.ScopesSet {
			key.SetScopes(patch.EndpointScopes)
		}
	}

	if err := r.store.SaveKey(key); err != nil {
		return nil, types.NewError(types.ErrInternalError, "persist API key").WithCause(err)
	}
	if err := r.refresh(); err != nil {
		return nil, err
	}
	r.audit(key, "update", "key updated")
	return key, nil
}

// Revoke deletes a named key. The wildcard row cannot be revoked, only
// disabled through Apply.
func (r *Registry) Revoke(id string) error {
	key, err := r.store.GetKey(id)
	if err != nil {
		return types.NewError(types.ErrInternalError, "load API key").WithCause(err)
	}
	if key == nil {
		return types.NewError(types.ErrNotFound, "API key not found")
	}
	if key.Wildcard {
		return types.NewError(types.ErrBadRequest, "the wildcard key cannot be deleted")
	}
	if err := r.store.DeleteKey(id); err != nil {
		return types.NewError(types.ErrInternalError, "delete API key").WithCause(err)
	}
	if err := r.refresh(); err != nil {
		return err
	}
	r.audit(key, "revoke", "key revoked")
	r.logger.Info("api key revoked", zap.String("id", id), zap.String("name", key.Name))
	return nil
}

// View is the masked representation returned by every listing.
type View struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	MaskedValue    string   `json:"maskedValue"`
	Wildcard       bool     `json:"wildcard"`
	Enabled        bool     `json:"enabled"`
	CreatedAt      int64    `json:"createdAt"`
	UpdatedAt      int64    `json:"updatedAt"`
	LastUsedAt     *int64   `json:"lastUsedAt,omitempty"`
	RequestCount   int64    `json:"requestCount"`
	EndpointScopes []string `json:"endpointScopes,omitempty"`
}

// NewView masks a key row for API exposure.
func NewView(k *store.APIKey) View {
	return View{
		ID:             k.ID,
		Name:           k.Name,
		Description:    k.Description,
		MaskedValue:    k.Masked(),
		Wildcard:       k.Wildcard,
		Enabled:        k.Enabled,
		CreatedAt:      k.CreatedAt,
		UpdatedAt:      k.UpdatedAt,
		LastUsedAt:     k.LastUsedAt,
		RequestCount:   k.RequestCount,
		EndpointScopes: k.Scopes(),
	}
}

// List returns masked views, wildcard first, then newest first.
func (r *Registry) List() ([]View, error) {
	rows, err := r.store.ListKeys()
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "list API keys").WithCause(err)
	}
	views := make([]View, 0, len(rows))
	for i := range rows {
		if rows[i].Wildcard {
			views = append([]View{NewView(&rows[i])}, views...)
			continue
		}
		views = append(views, NewView(&rows[i]))
	}
	return views, nil
}

func (r *Registry) audit(key *store.APIKey, action, detail string) {
	r.store.InsertAuditAsync(&store.APIKeyAuditLog{
		KeyID:   key.ID,
		KeyName: key.Name,
		Action:  action,
		Detail:  detail,
	})
	r.store.InsertEventAsync(&store.GatewayEvent{
		Level:      store.EventLevelInfo,
		Type:       store.EventTypeAPIKey,
		Source:     "key-registry",
		Title:      "api key " + action,
		Message:    detail,
		APIKeyID:   key.ID,
		APIKeyName: key.Name,
	})
}
