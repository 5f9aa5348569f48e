package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/internal/store"
	"github.com/ccgw/cc-gw/types"
)

// Logs lists request logs newest first with keyset pagination.
// GET /api/logs
func (a *Admin) Logs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.LogFilter{
		SinceMs:  queryInt64(q.Get("since")),
		UntilMs:  queryInt64(q.Get("until")),
		Provider: q.Get("provider"),
		Model:    q.Get("model"),
		Endpoint: q.Get("endpoint"),
		APIKeyID: q.Get("apiKeyId"),
		Status:   int(queryInt64(q.Get("status"))),
		Limit:    int(queryInt64(q.Get("limit"))),
		Cursor:   queryInt64(q.Get("cursor")),
	}

	logs, next, err := a.store.QueryLogs(filter)
	if err != nil {
		writeError(w, a.logger, types.NewError(types.ErrInternalError, "query logs").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":       logs,
		"nextCursor": next,
	})
}

// LogByID returns one log row with decompressed payloads.
// GET /api/logs/{id}
func (a *Admin) LogByID(w http.ResponseWriter, r *http.Request) {
	id := queryInt64(r.PathValue("id"))
	if id <= 0 {
		writeError(w, a.logger, types.NewError(types.ErrBadRequest, "invalid log id"))
		return
	}
	detail, err := a.store.GetLog(id)
	if err != nil {
		writeError(w, a.logger, types.NewError(types.ErrInternalError, "load log").WithCause(err))
		return
	}
	if detail == nil {
		writeError(w, a.logger, types.NewError(types.ErrNotFound, "log not found"))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// CleanupLogs deletes logs older than the requested horizon, defaulting to
// the configured retention.
// POST /api/logs/cleanup
func (a *Admin) CleanupLogs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OlderThanDays int `json:"olderThanDays"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, a.logger, err)
			return
		}
	}
	days := req.OlderThanDays
	if days <= 0 {
		days = a.config.Get().Log.RetentionDays
	}

	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()
	deleted, err := a.store.DeleteLogsBefore(cutoff)
	if err != nil {
		writeError(w, a.logger, types.NewError(types.ErrInternalError, "delete logs").WithCause(err))
		return
	}

	a.store.InsertEventAsync(&store.GatewayEvent{
		Level:   store.EventLevelInfo,
		Type:    store.EventTypeMaintenance,
		Source:  "admin-api",
		Title:   "manual log cleanup",
		Message: "deleted " + strconv.FormatInt(deleted, 10) + " request logs",
	})
	a.logger.Info("manual log cleanup", zap.Int64("deleted", deleted), zap.Int("olderThanDays", days))
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func queryInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
