package http

import (
	"fmt"
	"net/http"

	"expensedesk/internal/core"
)

// handleDashboard serves the summary cards for period (3m, 6m or 1y,
// default 3m).
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	period := core.Period(r.URL.Query().Get("period"))
	switch period {
	case "":
		period = core.PeriodThreeMonths
	case core.PeriodThreeMonths, core.PeriodSixMonths, core.PeriodOneYear:
	default:
		writeError(w, r, badRequest(fmt.Sprintf("Invalid period %q: must be 3m, 6m or 1y", period)))
		return
	}
	ov, err := s.expenses.Overview(r.Context(), period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOverviewResponse(ov))
}
