package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/internal/store"
	"github.com/ccgw/cc-gw/types"
)

// defaultEventLimit caps GET /api/events when the request does not.
const defaultEventLimit = 100

// Events returns recent gateway events, newest first.
// GET /api/events?limit=N
func (a *Admin) Events(w http.ResponseWriter, r *http.Request) {
	limit := int(queryInt64(r.URL.Query().Get("limit")))
	if limit <= 0 || limit > 500 {
		limit = defaultEventLimit
	}
	events, err := a.store.RecentEvents(limit)
	if err != nil {
		writeError(w, a.logger, types.NewError(types.ErrInternalError, "load events").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// DBInfo reports database file sizes and table row counts.
// GET /api/db/info
func (a *Admin) DBInfo(w http.ResponseWriter, r *http.Request) {
	info, err := a.store.Info()
	if err != nil {
		writeError(w, a.logger, types.NewError(types.ErrInternalError, "inspect database").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// CompactDB checkpoints the WAL and vacuums the database.
// POST /api/db/compact
func (a *Admin) CompactDB(w http.ResponseWriter, r *http.Request) {
	reclaimed, err := a.store.Compact(r.Context())
	if err != nil {
		writeError(w, a.logger, types.NewError(types.ErrInternalError, "compact database").WithCause(err))
		return
	}

	a.store.InsertEventAsync(&store.GatewayEvent{
		Level:   store.EventLevelInfo,
		Type:    store.EventTypeMaintenance,
		Source:  "admin-api",
		Title:   "database compacted",
		Message: "reclaimed " + strconv.FormatInt(reclaimed, 10) + " bytes",
	})
	a.logger.Info("database compacted", zap.Int64("reclaimedBytes", reclaimed))
	writeJSON(w, http.StatusOK, map[string]any{"reclaimedBytes": reclaimed})
}
