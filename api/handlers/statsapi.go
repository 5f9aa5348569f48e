package handlers

import (
	"net/http"

	"github.com/ccgw/cc-gw/types"
)

// defaultStatsDays is the window for daily and per-model stats when the
// request does not narrow it.
const defaultStatsDays = 30

// StatsOverview returns the lifetime and today rollups.
// GET /api/stats/overview
func (a *Admin) StatsOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := a.store.StatsOverview()
	if err != nil {
		writeError(w, a.logger, types.NewError(types.ErrInternalError, "load stats overview").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// StatsDaily returns the per-day per-endpoint rollups.
// GET /api/stats/daily?days=N
func (a *Admin) StatsDaily(w http.ResponseWriter, r *http.Request) {
	days := int(queryInt64(r.URL.Query().Get("days")))
	if days <= 0 {
		days = defaultStatsDays
	}
	rows, err := a.store.StatsDaily(days)
	if err != nil {
		writeError(w, a.logger, types.NewError(types.ErrInternalError, "load daily stats").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "metrics": rows})
}

// StatsByModel returns per provider+model aggregates over the window.
// GET /api/stats/model?days=N
func (a *Admin) StatsByModel(w http.ResponseWriter, r *http.Request) {
	days := int(queryInt64(r.URL.Query().Get("days")))
	if days <= 0 {
		days = defaultStatsDays
	}
	rows, err := a.store.StatsByModel(days)
	if err != nil {
		writeError(w, a.logger, types.NewError(types.ErrInternalError, "load model stats").WithCause(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "models": rows})
}
