package handlers

import (
	"net/http"

	"github.com/ccgw/cc-gw/internal/keys"
	"github.com/ccgw/cc-gw/types"
)

// ListKeys returns masked key views, wildcard first.
// GET /api/keys
func (a *Admin) ListKeys(w http.ResponseWriter, r *http.Request) {
	views, err := a.keys.List()
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": views})
}

// CreateKey mints a key. The response is the only place the plaintext
// secret ever appears.
// POST /api/keys
func (a *Admin) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string   `json:"name"`
		Description    string   `json:"description"`
		EndpointScopes []string `json:"endpointScopes"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}

	minted, err := a.keys.Create(req.Name, req.Description, req.EndpointScopes)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":    keys.NewView(&minted.Key),
		"secret": minted.Plaintext,
	})
}

// UpdateKey patches mutable fields. Absent fields are left untouched; the
// wildcard row only accepts the enabled toggle.
// PUT /api/keys/{id}
func (a *Admin) UpdateKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, a.logger, types.NewError(types.ErrBadRequest, "missing key id"))
		return
	}

	var req struct {
		Name           *string   `json:"name"`
		Description    *string   `json:"description"`
		Enabled        *bool     `json:"enabled"`
		EndpointScopes *[]string `json:"endpointScopes"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}

	patch := keys.Update{
		Name:        req.Name,
		Description: req.Description,
		Enabled:     req.Enabled,
	}
	if req.EndpointScopes != nil {
		patch.EndpointScopes = *req.EndpointScopes
		patch.ScopesSet = true
	}

	key, err := a.keys.Apply(id, patch)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": keys.NewView(key)})
}

// DeleteKey revokes a named key. The wildcard row refuses deletion.
// DELETE /api/keys/{id}
func (a *Admin) DeleteKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, a.logger, types.NewError(types.ErrBadRequest, "missing key id"))
		return
	}
	if err := a.keys.Revoke(id); err != nil {
		writeError(w, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
