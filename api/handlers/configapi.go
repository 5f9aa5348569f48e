package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/config"
	"github.com/ccgw/cc-gw/internal/store"
)

// GetConfig returns the current snapshot with credentials masked.
// GET /api/config
func (a *Admin) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.config.Get().Sanitized())
}

// PutConfig validates and installs a full replacement document. Masked
// credential values ("…****…") submitted unchanged are restored from the
// current snapshot so a round-tripped GET body stays valid input.
// PUT /api/config
func (a *Admin) PutConfig(w http.ResponseWriter, r *http.Request) {
	var next config.Config
	if err := decodeBody(r, &next); err != nil {
		writeError(w, a.logger, err)
		return
	}

	current := a.config.Get()
	restoreMaskedSecrets(&next, current)

	if err := a.config.Update(&next); err != nil {
		writeError(w, a.logger, err)
		return
	}

	a.store.InsertEventAsync(&store.GatewayEvent{
		Level:   store.EventLevelInfo,
		Type:    store.EventTypeConfig,
		Source:  "admin-api",
		Title:   "configuration updated",
		Message: "config document replaced via PUT /api/config",
	})
	a.logger.Info("config updated via api", zap.Int("providers", len(next.Providers)))
	writeJSON(w, http.StatusOK, a.config.Get().Sanitized())
}

// restoreMaskedSecrets copies real credentials back into providers whose
// submitted key still carries the mask produced by Sanitized, and restores
// the admin password material, which GET never exposes.
func restoreMaskedSecrets(next, current *config.Config) {
	for i := range next.Providers {
		submitted := next.Providers[i].APIKey
		if submitted == "" || !isMasked(submitted) {
			continue
		}
		if prev := current.FindProvider(next.Providers[i].ID); prev != nil {
			next.Providers[i].APIKey = prev.APIKey
		}
	}
	if next.Auth.PasswordHash == "" {
		next.Auth.PasswordHash = current.Auth.PasswordHash
		next.Auth.PasswordSalt = current.Auth.PasswordSalt
	}
}

func isMasked(s string) bool {
	for i := 0; i+4 <= len(s); i++ {
		if s[i:i+4] == "****" {
			return true
		}
	}
	return false
}
