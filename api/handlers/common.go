// Package handlers implements the gateway's HTTP surface: the three
// model-endpoint proxy handlers and the JSON management API under /api.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/types"
)

// errorBody is the wire shape of every gateway-originated error.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeJSON marshals v with the given status. Encoding failures at this
// point are unrecoverable mid-response and only logged.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err in the stable {"error":{code,message}} shape.
// Internal errors are replaced with an opaque reference id; the cause goes
// to the server log only.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	ge := types.AsError(err)
	var body errorBody
	body.Error.Code = string(ge.Code)
	body.Error.Message = ge.Message

	if ge.Code == types.ErrInternalError {
		ref := uuid.NewString()
		body.Error.Message = "internal error (ref " + ref + ")"
		if logger != nil {
			logger.Error("internal error", zap.String("ref", ref), zap.Error(err))
		}
	}
	writeJSON(w, ge.Status(), body)
}

// decodeBody unmarshals a JSON request body into dst, mapping failures to
// BAD_REQUEST.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return types.NewError(types.ErrBadRequest, "invalid JSON body").WithCause(err)
	}
	return nil
}
